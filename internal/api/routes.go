package api

import (
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/semanticdata/voicemail-transcriber/internal/config"
	"github.com/semanticdata/voicemail-transcriber/internal/session"
	"github.com/semanticdata/voicemail-transcriber/internal/voicemail"
	"github.com/semanticdata/voicemail-transcriber/pkg/logger"
)

// Router is the HTTP router
type Router struct {
	handler    *Handler
	middleware *Middleware
	config     *config.Config
	logger     *logger.Logger
}

// NewRouter creates a new router
func NewRouter(service *voicemail.Service, sessions *session.Manager, health HealthChecker, config *config.Config, logger *logger.Logger) (*Router, error) {
	handler, err := NewHandler(service, sessions, health, config, logger)
	if err != nil {
		return nil, err
	}
	return &Router{
		handler:    handler,
		middleware: NewMiddleware(logger),
		config:     config,
		logger:     logger.Named("api-router"),
	}, nil
}

// Routes returns the HTTP routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.Server.CORSAllowedOrigins))

	// Web UI
	router.Get("/", r.handler.Index)
	router.Post("/transcribe", r.handler.Transcribe)
	router.Post("/annotation", r.handler.Annotate)
	router.Get("/draft/audio", r.handler.DraftAudio)
	router.Get("/records/export", r.handler.ExportAll)
	router.Get("/records/{id}/audio", r.handler.RecordAudio)
	router.Get("/records/{id}/export", r.handler.ExportRecord)

	// JSON API
	router.Route("/api/v1", func(router chi.Router) {
		router.Get("/records", r.handler.GetRecords)
		router.Get("/options", r.handler.GetOptions)
		router.Get("/health", r.handler.GetHealth)
	})

	// Embedded stylesheet
	static, _ := fs.Sub(assets, "static")
	router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	return router
}
