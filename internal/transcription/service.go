package transcription

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/semanticdata/voicemail-transcriber/pkg/logger"
)

// Options restricts which models and languages a request may use
type Options struct {
	Models          []string
	Languages       []string
	DefaultModel    string
	DefaultLanguage string
}

// Service sends WAV audio to the configured provider and normalizes failures
type Service struct {
	provider  Provider
	options   Options
	models    map[string]bool
	languages map[string]bool
	logger    *logger.Logger
}

// NewService creates a new transcription service
func NewService(provider Provider, options Options, logger *logger.Logger) *Service {
	s := &Service{
		provider:  provider,
		options:   options,
		models:    make(map[string]bool, len(options.Models)),
		languages: make(map[string]bool, len(options.Languages)),
		logger:    logger.Named("transcriber"),
	}
	for _, m := range options.Models {
		s.models[m] = true
	}
	for _, l := range options.Languages {
		s.languages[l] = true
	}
	return s
}

// Provider returns the name of the active provider
func (s *Service) Provider() string {
	return s.provider.Name()
}

// Transcribe returns the transcript for req. Empty model or language fall back
// to the defaults. The returned error always wraps ErrNetwork, ErrRecognition or
// ErrConfiguration.
func (s *Service) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if req.Model == "" {
		req.Model = s.options.DefaultModel
	}
	if req.Language == "" {
		req.Language = s.options.DefaultLanguage
	}
	if len(s.models) > 0 && !s.models[req.Model] {
		return nil, fmt.Errorf("%w: model %q", ErrUnsupportedOption, req.Model)
	}
	if len(s.languages) > 0 && !s.languages[req.Language] {
		return nil, fmt.Errorf("%w: language %q", ErrUnsupportedOption, req.Language)
	}

	result, err := s.provider.Transcribe(ctx, req)
	if err != nil {
		err = classify(err)
		s.logger.Warn("Transcription failed",
			logger.String("provider", s.provider.Name()),
			logger.String("model", req.Model),
			logger.Error(err))
		return nil, err
	}

	result.Text = strings.TrimSpace(result.Text)
	if result.Text == "" {
		return nil, ErrNoSpeech
	}

	s.logger.Info("Transcription complete",
		logger.String("provider", result.Provider),
		logger.String("model", result.Model),
		logger.String("language", result.Language),
		logger.Int("chars", len(result.Text)),
		logger.Duration("elapsed", result.Elapsed))

	return result, nil
}

// classify makes sure err wraps one of the failure kinds
func classify(err error) error {
	if errors.Is(err, ErrNetwork) || errors.Is(err, ErrRecognition) || errors.Is(err, ErrConfiguration) {
		return err
	}
	return classifyTransportError("provider", err)
}

// classifyTransportError treats anything that never reached a response as a network failure
func classifyTransportError(provider string, err error) error {
	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		errors.As(err, &netErr), errors.As(err, &urlErr):
		return fmt.Errorf("%w: %s: %v", ErrNetwork, provider, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrRecognition, provider, err)
	}
}
