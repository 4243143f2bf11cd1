package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/semanticdata/voicemail-transcriber/internal/config"
	"github.com/semanticdata/voicemail-transcriber/internal/records"
	"github.com/semanticdata/voicemail-transcriber/internal/session"
	"github.com/semanticdata/voicemail-transcriber/internal/storage/sqlite"
	"github.com/semanticdata/voicemail-transcriber/internal/voicemail"
	"github.com/semanticdata/voicemail-transcriber/pkg/logger"
)

const (
	// multipartMemory is how much of an upload is held in memory before spilling to disk
	multipartMemory = 8 << 20
	// maxFormBytes bounds the annotation form
	maxFormBytes = 1 << 20

	flashTranscribed = "Transcription complete!"
	flashSaved       = "Entry saved!"
)

// HealthChecker reports whether an external dependency is usable
type HealthChecker interface {
	Available() error
}

// Handler serves the upload page, downloads and the JSON API
type Handler struct {
	service   *voicemail.Service
	sessions  *session.Manager
	health    HealthChecker
	config    *config.Config
	templates *template.Template
	logger    *logger.Logger
}

// NewHandler creates a new handler. health may be nil.
func NewHandler(service *voicemail.Service, sessions *session.Manager, health HealthChecker, config *config.Config, logger *logger.Logger) (*Handler, error) {
	tmpl, err := loadTemplates()
	if err != nil {
		return nil, err
	}
	return &Handler{
		service:   service,
		sessions:  sessions,
		health:    health,
		config:    config,
		templates: tmpl,
		logger:    logger.Named("api-handler"),
	}, nil
}

// pageData is the view model of index.html
type pageData struct {
	Title       string
	Flash       string
	Error       string
	Provider    string
	Models      []config.Option
	Languages   []config.Option
	Model       string
	Language    string
	MaxUploadMB int
	Draft       *session.Draft
	Annotation  voicemail.Annotation
	History     []*records.Record
}

// Index renders the upload form, the current draft and the session history
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	sid := h.sessions.Resolve(w, r)
	h.render(w, r, sid, http.StatusOK, pageData{Flash: h.sessions.TakeFlash(sid)})
}

// Transcribe handles POST /transcribe
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	sid := h.sessions.Resolve(w, r)
	log := h.requestLogger(r, sid)
	var view pageData

	r.Body = http.MaxBytesReader(w, r.Body, h.config.Server.MaxUploadBytes())
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			view.Error = fmt.Sprintf("The file is larger than the %d MB upload limit.", h.config.Server.MaxUploadMB)
			h.render(w, r, sid, http.StatusRequestEntityTooLarge, view)
			return
		}
		log.Warn("Failed to parse upload", logger.Error(err))
		view.Error = "The upload could not be read."
		h.render(w, r, sid, http.StatusBadRequest, view)
		return
	}
	defer r.MultipartForm.RemoveAll()

	view.Model = r.FormValue("model")
	view.Language = r.FormValue("language")

	file, header, err := r.FormFile("audio")
	if err != nil {
		view.Error = "Choose an audio file to upload."
		h.render(w, r, sid, http.StatusBadRequest, view)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		log.Warn("Failed to read upload", logger.Error(err))
		view.Error = "The upload could not be read."
		h.render(w, r, sid, http.StatusBadRequest, view)
		return
	}

	_, err = h.service.Transcribe(r.Context(), sid,
		voicemail.Upload{Data: data, Filename: header.Filename},
		voicemail.Options{Model: view.Model, Language: view.Language})
	if err != nil {
		status, message := userError(err)
		log.Warn("Transcription request failed",
			logger.String("filename", header.Filename),
			logger.Int("status", status),
			logger.Error(err))
		view.Error = message
		h.render(w, r, sid, status, view)
		return
	}

	h.sessions.SetFlash(sid, flashTranscribed)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Annotate handles POST /annotation: action=save stores the entry,
// action=download returns it as a text file without storing it
func (h *Handler) Annotate(w http.ResponseWriter, r *http.Request) {
	sid := h.sessions.Resolve(w, r)
	log := h.requestLogger(r, sid)

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.render(w, r, sid, http.StatusBadRequest, pageData{Error: "The form could not be read."})
		return
	}

	note := voicemail.Annotation{
		Transcript: r.PostFormValue("transcript"),
		Metadata: records.Metadata{
			Name:    r.PostFormValue("name"),
			Phone:   r.PostFormValue("phone"),
			Address: r.PostFormValue("address"),
			Notes:   r.PostFormValue("notes"),
		},
	}

	switch action := r.PostFormValue("action"); action {
	case "download":
		filename, text, err := h.service.Export(sid, note)
		if err != nil {
			status, message := userError(err)
			h.render(w, r, sid, status, pageData{Error: message, Annotation: note})
			return
		}
		writeAttachment(w, filename, text)

	case "save", "":
		rec, err := h.service.Save(r.Context(), sid, note)
		if err != nil {
			status, message := userError(err)
			if status >= http.StatusInternalServerError {
				log.Error("Failed to save entry", logger.Error(err))
			}
			h.render(w, r, sid, status, pageData{Error: message, Annotation: note})
			return
		}
		log.Debug("Entry saved", logger.Int("seq", rec.Seq))
		h.sessions.SetFlash(sid, flashSaved)
		http.Redirect(w, r, "/", http.StatusSeeOther)

	default:
		h.render(w, r, sid, http.StatusBadRequest, pageData{Error: fmt.Sprintf("Unknown action %q.", action), Annotation: note})
	}
}

// DraftAudio serves the audio of the current draft to the page's player
func (h *Handler) DraftAudio(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessions.Lookup(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	draft, ok := h.service.Draft(sid)
	if !ok {
		http.NotFound(w, r)
		return
	}
	serveAudio(w, r, draft.AudioName, draft.AudioMIME, draft.CreatedAt, draft.Audio)
}

// RecordAudio serves the audio of a saved record
func (h *Handler) RecordAudio(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookupRecord(w, r)
	if !ok {
		return
	}
	serveAudio(w, r, rec.AudioName, rec.AudioMIME, rec.CreatedAt, rec.Audio)
}

// ExportRecord returns a saved record as a text file
func (h *Handler) ExportRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookupRecord(w, r)
	if !ok {
		return
	}
	writeAttachment(w, records.Filename(rec.Metadata.Name), records.FormatText(rec.Transcript, rec.Metadata))
}

// ExportAll returns the whole session history as one text file
func (h *Handler) ExportAll(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessions.Lookup(r)
	if !ok {
		http.Error(w, "No saved entries yet.", http.StatusNotFound)
		return
	}
	history, err := h.service.History(r.Context(), sid)
	if err != nil {
		h.requestLogger(r, sid).Error("Failed to load history", logger.Error(err))
		http.Error(w, "Failed to load history", http.StatusInternalServerError)
		return
	}
	if len(history) == 0 {
		http.Error(w, "No saved entries yet.", http.StatusNotFound)
		return
	}
	writeAttachment(w, "transcriptions.txt", records.FormatAll(history))
}

// GetRecords returns the session history as JSON
func (h *Handler) GetRecords(w http.ResponseWriter, r *http.Request) {
	history := []*records.Record{}
	if sid, ok := h.sessions.Lookup(r); ok {
		recs, err := h.service.History(r.Context(), sid)
		if err != nil {
			h.requestLogger(r, sid).Error("Failed to load history", logger.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load history"})
			return
		}
		if recs != nil {
			history = recs
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(history),
		"records": history,
	})
}

// GetOptions returns the selectable models and languages
func (h *Handler) GetOptions(w http.ResponseWriter, r *http.Request) {
	t := h.config.Transcription
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider":         t.Provider,
		"models":           t.Models,
		"languages":        t.Languages,
		"default_model":    t.DefaultModel,
		"default_language": t.DefaultLanguage,
		"max_upload_mb":    h.config.Server.MaxUploadMB,
	})
}

// GetHealth reports service health
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	converter := "ok"
	if h.health != nil {
		if err := h.health.Available(); err != nil {
			status = "degraded"
			converter = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"provider":  h.config.Transcription.Provider,
		"converter": converter,
		"sessions":  h.sessions.Len(),
		"time":      time.Now().UTC().Format(time.RFC3339),
	})
}

// render writes index.html with the session's draft and history filled in
func (h *Handler) render(w http.ResponseWriter, r *http.Request, sid string, status int, data pageData) {
	t := h.config.Transcription
	data.Title = "Voicemail Transcriber"
	data.Provider = t.Provider
	data.Models = t.Models
	data.Languages = t.Languages
	data.MaxUploadMB = h.config.Server.MaxUploadMB
	if data.Model == "" {
		data.Model = t.DefaultModel
	}
	if data.Language == "" {
		data.Language = t.DefaultLanguage
	}
	if draft, ok := h.service.Draft(sid); ok {
		data.Draft = draft
		if data.Annotation.Transcript == "" {
			data.Annotation.Transcript = draft.Transcript
		}
	}

	history, err := h.service.History(r.Context(), sid)
	if err != nil {
		h.requestLogger(r, sid).Error("Failed to load history", logger.Error(err))
	}
	data.History = history

	var buf bytes.Buffer
	if err := h.templates.ExecuteTemplate(&buf, "index.html", data); err != nil {
		h.requestLogger(r, sid).Error("Template error", logger.Error(err))
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// lookupRecord resolves {id} within the caller's session, writing 404 when absent
func (h *Handler) lookupRecord(w http.ResponseWriter, r *http.Request) (*records.Record, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid record ID", http.StatusBadRequest)
		return nil, false
	}
	sid, ok := h.sessions.Lookup(r)
	if !ok {
		http.NotFound(w, r)
		return nil, false
	}

	rec, err := h.service.Record(r.Context(), sid, id)
	if errors.Is(err, sqlite.ErrRecordNotFound) {
		http.NotFound(w, r)
		return nil, false
	}
	if err != nil {
		h.requestLogger(r, sid).Error("Failed to load record", logger.Int64("id", id), logger.Error(err))
		http.Error(w, "Failed to load record", http.StatusInternalServerError)
		return nil, false
	}
	return rec, true
}

func (h *Handler) requestLogger(r *http.Request, sid string) *logger.Logger {
	return h.logger.WithRequestID(middleware.GetReqID(r.Context())).WithSession(sid)
}

func serveAudio(w http.ResponseWriter, r *http.Request, name, mimeType string, modTime time.Time, data []byte) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	http.ServeContent(w, r, name, modTime, bytes.NewReader(data))
}

func writeAttachment(w http.ResponseWriter, filename, text string) {
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": filename})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", disposition)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, text)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
