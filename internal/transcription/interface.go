package transcription

import (
	"context"
	"fmt"

	"github.com/semanticdata/voicemail-transcriber/pkg/logger"
)

// Provider is a cloud speech-recognition backend
type Provider interface {
	Transcribe(ctx context.Context, req Request) (*Result, error)
	Name() string
}

// Ensure the providers implement the interface
var (
	_ Provider = (*OpenAIProvider)(nil)
	_ Provider = (*GoogleProvider)(nil)
)

// NewProvider creates the provider named in the configuration
func NewProvider(cfg Config, logger *logger.Logger) (Provider, error) {
	switch cfg.Provider {
	case "openai", "":
		openaiCfg := cfg.OpenAI
		if openaiCfg.Timeout == 0 {
			openaiCfg.Timeout = cfg.Timeout
		}
		return NewOpenAIProvider(openaiCfg, logger), nil
	case "google":
		googleCfg := cfg.Google
		if googleCfg.Timeout == 0 {
			googleCfg.Timeout = cfg.Timeout
		}
		return NewGoogleProvider(googleCfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrConfiguration, cfg.Provider)
	}
}
