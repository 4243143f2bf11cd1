package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/semanticdata/voicemail-transcriber/pkg/logger"
)

// OpenAIProvider transcribes audio with the OpenAI audio transcription endpoint
type OpenAIProvider struct {
	client openai.Client
	apiKey string
	logger *logger.Logger
}

// NewOpenAIProvider creates a new OpenAI provider. SDK retries are disabled:
// failures go straight back to the user.
func NewOpenAIProvider(cfg OpenAIConfig, logger *logger.Logger) *OpenAIProvider {
	log := logger.Named("openai-stt")
	if cfg.APIKey == "" {
		log.Warn("OpenAI API key is empty - transcription requests will fail")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		apiKey: cfg.APIKey,
		logger: log,
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Transcribe uploads the WAV stream and returns the transcript text
func (p *OpenAIProvider) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if p.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(req.Audio), "voicemail.wav", "audio/wav"),
		Model: openai.AudioModel(req.Model),
	}
	if req.Language != "" {
		params.Language = openai.String(baseLanguage(req.Language))
	}

	p.logger.Debug("Sending audio to OpenAI",
		logger.String("model", req.Model),
		logger.String("language", req.Language),
		logger.Int("bytes", len(req.Audio)))

	start := time.Now()
	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, p.classify(err)
	}

	return &Result{
		Text:     resp.Text,
		Provider: p.Name(),
		Model:    req.Model,
		Language: req.Language,
		Elapsed:  time.Since(start),
	}, nil
}

// classify maps SDK errors onto the failure kinds
func (p *OpenAIProvider) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		p.logger.Warn("OpenAI transcription rejected",
			logger.Int("status", apiErr.StatusCode),
			logger.Error(err))
		status := apiErr.StatusCode
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return fmt.Errorf("%w: openai status %d", ErrConfiguration, status)
		case status == http.StatusTooManyRequests || status >= 500:
			return fmt.Errorf("%w: openai status %d", ErrNetwork, status)
		default:
			return fmt.Errorf("%w: openai status %d", ErrRecognition, status)
		}
	}
	return classifyTransportError("openai", err)
}
