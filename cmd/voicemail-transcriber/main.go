package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/semanticdata/voicemail-transcriber/internal/api"
	"github.com/semanticdata/voicemail-transcriber/internal/audio"
	"github.com/semanticdata/voicemail-transcriber/internal/config"
	"github.com/semanticdata/voicemail-transcriber/internal/session"
	"github.com/semanticdata/voicemail-transcriber/internal/storage/sqlite"
	"github.com/semanticdata/voicemail-transcriber/internal/transcription"
	"github.com/semanticdata/voicemail-transcriber/internal/voicemail"
	"github.com/semanticdata/voicemail-transcriber/pkg/logger"
	"golang.org/x/net/netutil"
)

const version = "0.1.0"

type cli struct {
	Config   string           `help:"Path to the TOML configuration file." default:"config.toml" type:"path" short:"c"`
	Listen   string           `help:"Listen address, overrides server.listen."`
	LogLevel string           `help:"Log level (debug, info, warn, error), overrides logging.level."`
	Version  kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	var args cli
	kong.Parse(&args,
		kong.Name("voicemail-transcriber"),
		kong.Description("Upload voicemails, transcribe them with a cloud speech API and annotate the results."),
		kong.Vars{"version": version},
		kong.UsageOnError(),
	)

	if err := run(args); err != nil {
		fmt.Fprintf(os.Stderr, "voicemail-transcriber: %v\n", err)
		os.Exit(1)
	}
}

func run(args cli) error {
	cfg, err := config.Load(args.Config, ".env")
	if err != nil {
		return err
	}
	if args.Listen != "" {
		cfg.Server.Listen = args.Listen
	}
	if args.LogLevel != "" {
		cfg.Logging.Level = args.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting voicemail transcriber",
		logger.String("version", version),
		logger.String("provider", cfg.Transcription.Provider),
		logger.String("listen", cfg.Server.Listen))

	// Audio conversion
	converter := audio.NewFFmpegConverter(cfg.FFmpeg.Path, cfg.FFmpeg.SampleRate, cfg.FFmpeg.Channels, cfg.FFmpeg.Timeout())
	if err := converter.Available(); err != nil {
		log.Warn("ffmpeg not found - uploads will fail until it is installed", logger.Error(err))
	}
	decoder := audio.NewDecoder(converter, cfg.FFmpeg.TempDir, log)

	// Speech recognition
	provider, err := transcription.NewProvider(transcription.Config{
		Provider: cfg.Transcription.Provider,
		Timeout:  cfg.Transcription.Timeout(),
		OpenAI: transcription.OpenAIConfig{
			APIKey:  cfg.Transcription.OpenAI.APIKey,
			BaseURL: cfg.Transcription.OpenAI.BaseURL,
		},
		Google: transcription.GoogleConfig{
			APIKey:   cfg.Transcription.Google.APIKey,
			Endpoint: cfg.Transcription.Google.Endpoint,
		},
	}, log)
	if err != nil {
		return err
	}
	transcriber := transcription.NewService(provider, transcriptionOptions(cfg.Transcription), log)

	// Record store
	db, err := sqlite.Open(cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	store, err := sqlite.NewRecordStorage(db, log)
	if err != nil {
		return err
	}

	// Sessions
	sessions := session.NewManager(session.Config{
		CookieName:    cfg.Server.SessionCookieName,
		TTL:           cfg.Server.SessionTTL(),
		SweepInterval: cfg.Server.SessionSweepInterval(),
		Secure:        cfg.Server.SecureCookies,
	}, store, log)
	if err := sessions.Start(); err != nil {
		return fmt.Errorf("failed to start session sweeper: %w", err)
	}
	defer sessions.Stop()

	service := voicemail.NewService(decoder, transcriber, store, sessions, log)

	router, err := api.NewRouter(service, sessions, converter, cfg, log)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Listen, err)
	}
	if cfg.Server.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.Server.MaxConnections)
	}

	server := &http.Server{
		Handler:      router.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening",
			logger.String("addr", listener.Addr().String()),
			logger.Int("max_connections", cfg.Server.MaxConnections))
		serveErr <- server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	log.Info("Server stopped")
	return nil
}

func transcriptionOptions(t config.TranscriptionConfig) transcription.Options {
	opts := transcription.Options{
		DefaultModel:    t.DefaultModel,
		DefaultLanguage: t.DefaultLanguage,
	}
	for _, m := range t.Models {
		opts.Models = append(opts.Models, m.Value)
	}
	for _, l := range t.Languages {
		opts.Languages = append(opts.Languages, l.Value)
	}
	return opts
}
