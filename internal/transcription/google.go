package transcription

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/semanticdata/voicemail-transcriber/pkg/logger"
)

// GoogleProvider transcribes audio with the Google Cloud Speech-to-Text REST API
type GoogleProvider struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewGoogleProvider creates a new Google Cloud provider
func NewGoogleProvider(cfg GoogleConfig, logger *logger.Logger) *GoogleProvider {
	log := logger.Named("google-stt")
	if cfg.APIKey == "" {
		log.Warn("Google API key is empty - transcription requests will fail")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://speech.googleapis.com/v1/speech:recognize"
	}

	return &GoogleProvider{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log,
	}
}

// Name returns the provider name
func (p *GoogleProvider) Name() string {
	return "google"
}

type googleRecognizeRequest struct {
	Config googleRecognitionConfig `json:"config"`
	Audio  googleRecognitionAudio  `json:"audio"`
}

type googleRecognitionConfig struct {
	Encoding                   string `json:"encoding"`
	SampleRateHertz            int    `json:"sampleRateHertz,omitempty"`
	AudioChannelCount          int    `json:"audioChannelCount,omitempty"`
	LanguageCode               string `json:"languageCode"`
	Model                      string `json:"model,omitempty"`
	EnableAutomaticPunctuation bool   `json:"enableAutomaticPunctuation"`
}

type googleRecognitionAudio struct {
	Content string `json:"content"`
}

type googleRecognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
}

type googleErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Transcribe sends LINEAR16 audio and joins the top alternative of every result
func (p *GoogleProvider) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if p.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	body, err := json.Marshal(googleRecognizeRequest{
		Config: googleRecognitionConfig{
			Encoding:                   "LINEAR16",
			SampleRateHertz:            req.SampleRate,
			AudioChannelCount:          req.Channels,
			LanguageCode:               regionalLanguage(req.Language),
			Model:                      req.Model,
			EnableAutomaticPunctuation: true,
		},
		Audio: googleRecognitionAudio{
			Content: base64.StdEncoding.EncodeToString(req.Audio),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recognize request: %w", err)
	}

	endpoint, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid google endpoint: %v", ErrConfiguration, err)
	}
	query := endpoint.Query()
	query.Set("key", p.apiKey)
	endpoint.RawQuery = query.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	p.logger.Debug("Sending audio to Google",
		logger.String("model", req.Model),
		logger.String("language", regionalLanguage(req.Language)),
		logger.Int("sample_rate", req.SampleRate))

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError("google", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError("google", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError(resp.StatusCode, respBody)
	}

	var parsed googleRecognizeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to parse google response: %v", ErrRecognition, err)
	}

	var parts []string
	for _, r := range parsed.Results {
		if len(r.Alternatives) > 0 {
			parts = append(parts, strings.TrimSpace(r.Alternatives[0].Transcript))
		}
	}

	return &Result{
		Text:     strings.Join(parts, " "),
		Provider: p.Name(),
		Model:    req.Model,
		Language: req.Language,
		Elapsed:  time.Since(start),
	}, nil
}

func (p *GoogleProvider) statusError(status int, body []byte) error {
	message := fmt.Sprintf("status %d", status)
	var errResp googleErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	p.logger.Warn("Google transcription rejected",
		logger.Int("status", status),
		logger.String("message", message))

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: google: %s", ErrConfiguration, message)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: google: %s", ErrNetwork, message)
	default:
		return fmt.Errorf("%w: google: %s", ErrRecognition, message)
	}
}
