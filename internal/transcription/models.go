package transcription

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Failure kinds surfaced to the user. Every error returned by Service wraps exactly one.
var (
	// ErrNetwork means the speech service could not be reached
	ErrNetwork = errors.New("speech service unreachable")
	// ErrRecognition means the service answered but produced no transcript
	ErrRecognition = errors.New("speech recognition failed")
	// ErrConfiguration means the service cannot be called as configured
	ErrConfiguration = errors.New("speech service misconfigured")

	// ErrNoSpeech is returned when the service found nothing to transcribe
	ErrNoSpeech = fmt.Errorf("%w: no speech recognized", ErrRecognition)
	// ErrMissingAPIKey is returned when a provider has no credentials
	ErrMissingAPIKey = fmt.Errorf("%w: missing API key", ErrConfiguration)
	// ErrUnsupportedOption is returned for a model or language outside the configured lists
	ErrUnsupportedOption = fmt.Errorf("%w: unsupported model or language", ErrConfiguration)
)

// Request is one WAV stream to transcribe
type Request struct {
	Audio      []byte // RIFF/WAVE bytes
	SampleRate int
	Channels   int
	Model      string
	Language   string // ISO 639-1 code, optionally with a region (en, en-US)
}

// Result is the transcript returned by a provider
type Result struct {
	Text     string
	Provider string
	Model    string
	Language string
	Elapsed  time.Duration
}

// Config represents the configuration for the transcription service
type Config struct {
	Provider string
	Timeout  time.Duration
	OpenAI   OpenAIConfig
	Google   GoogleConfig
}

// OpenAIConfig holds OpenAI audio transcription settings
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty uses the SDK default
	Timeout time.Duration
}

// GoogleConfig holds Google Cloud Speech-to-Text settings
type GoogleConfig struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

// regionalLanguages maps bare language codes to the BCP-47 tags Google expects
var regionalLanguages = map[string]string{
	"en": "en-US",
	"es": "es-ES",
	"fr": "fr-FR",
}

// baseLanguage strips any region suffix: "en-US" -> "en"
func baseLanguage(lang string) string {
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		return strings.ToLower(lang[:i])
	}
	return strings.ToLower(lang)
}

// regionalLanguage expands a bare code to a regional tag when one is known
func regionalLanguage(lang string) string {
	if strings.ContainsAny(lang, "-_") {
		return strings.ReplaceAll(lang, "_", "-")
	}
	if tag, ok := regionalLanguages[strings.ToLower(lang)]; ok {
		return tag
	}
	return lang
}
