// Package voicemail runs the upload, convert, transcribe and save pipeline for one session.
package voicemail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/semanticdata/voicemail-transcriber/internal/audio"
	"github.com/semanticdata/voicemail-transcriber/internal/records"
	"github.com/semanticdata/voicemail-transcriber/internal/session"
	"github.com/semanticdata/voicemail-transcriber/internal/transcription"
	"github.com/semanticdata/voicemail-transcriber/pkg/logger"
)

// ErrNoDraft is returned when saving before anything was transcribed
var ErrNoDraft = errors.New("no transcription to save")

// Decoder converts an upload to WAV
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*audio.WAV, error)
}

// Transcriber turns WAV audio into text
type Transcriber interface {
	Transcribe(ctx context.Context, req transcription.Request) (*transcription.Result, error)
}

// RecordStore is the session-scoped list of saved records
type RecordStore interface {
	Append(ctx context.Context, rec *records.Record) (*records.Record, error)
	ListBySession(ctx context.Context, sessionID string) ([]*records.Record, error)
	Get(ctx context.Context, sessionID string, id int64) (*records.Record, error)
}

// DraftStore keeps the in-progress item of each session
type DraftStore interface {
	SetDraft(sessionID string, draft *session.Draft)
	Draft(sessionID string) (*session.Draft, bool)
}

// Upload is one audio file submitted through the form
type Upload struct {
	Data     []byte
	Filename string
}

// Options selects the speech model and language for a transcription
type Options struct {
	Model    string
	Language string
}

// Annotation is the metadata form submitted for the current draft
type Annotation struct {
	Transcript string // edited transcript; empty keeps the draft's text
	Metadata   records.Metadata
}

// Service owns the voicemail pipeline
type Service struct {
	decoder     Decoder
	transcriber Transcriber
	store       RecordStore
	drafts      DraftStore
	logger      *logger.Logger
}

// NewService creates a new voicemail service
func NewService(decoder Decoder, transcriber Transcriber, store RecordStore, drafts DraftStore, logger *logger.Logger) *Service {
	return &Service{
		decoder:     decoder,
		transcriber: transcriber,
		store:       store,
		drafts:      drafts,
		logger:      logger.Named("voicemail"),
	}
}

// Transcribe converts and transcribes an upload and makes it the session's
// draft. Errors wrap audio.ErrConversion or one of the transcription kinds.
func (s *Service) Transcribe(ctx context.Context, sessionID string, upload Upload, opts Options) (*session.Draft, error) {
	log := s.logger.WithSession(sessionID)
	start := time.Now()

	if len(upload.Data) == 0 {
		return nil, audio.ErrEmptyAudio
	}

	wav, err := s.decoder.Decode(ctx, upload.Data)
	if err != nil {
		log.Warn("Conversion failed",
			logger.String("filename", upload.Filename),
			logger.Error(err))
		return nil, err
	}

	result, err := s.transcriber.Transcribe(ctx, transcription.Request{
		Audio:      wav.Data,
		SampleRate: wav.SampleRate,
		Channels:   wav.Channels,
		Model:      opts.Model,
		Language:   opts.Language,
	})
	if err != nil {
		return nil, err
	}

	mimeType := wav.Source.MIME
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	draft := &session.Draft{
		Audio:      upload.Data,
		AudioName:  upload.Filename,
		AudioMIME:  mimeType,
		Transcript: result.Text,
		Model:      result.Model,
		Language:   result.Language,
		Duration:   wav.Duration,
		CreatedAt:  time.Now().UTC(),
	}
	s.drafts.SetDraft(sessionID, draft)

	log.Info("Voicemail transcribed",
		logger.String("filename", upload.Filename),
		logger.Duration("audio", wav.Duration),
		logger.Duration("elapsed", time.Since(start)))

	return draft, nil
}

// Draft returns the session's current draft
func (s *Service) Draft(sessionID string) (*session.Draft, bool) {
	return s.drafts.Draft(sessionID)
}

// Save appends the current draft, annotated, to the session history. The
// draft stays in place so the form can be downloaded or saved again.
func (s *Service) Save(ctx context.Context, sessionID string, note Annotation) (*records.Record, error) {
	draft, ok := s.drafts.Draft(sessionID)
	if !ok {
		return nil, ErrNoDraft
	}

	rec, err := s.store.Append(ctx, &records.Record{
		SessionID:  sessionID,
		Transcript: annotatedText(draft, note),
		Metadata:   note.Metadata,
		Audio:      draft.Audio,
		AudioName:  draft.AudioName,
		AudioMIME:  draft.AudioMIME,
		Model:      draft.Model,
		Language:   draft.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save record: %w", err)
	}

	s.logger.WithSession(sessionID).Info("Saved record",
		logger.Int64("id", rec.ID),
		logger.Int("seq", rec.Seq))

	return rec, nil
}

// Export renders the current draft with the given annotation without saving it
func (s *Service) Export(sessionID string, note Annotation) (filename, text string, err error) {
	draft, ok := s.drafts.Draft(sessionID)
	if !ok {
		return "", "", ErrNoDraft
	}
	return records.Filename(note.Metadata.Name), records.FormatText(annotatedText(draft, note), note.Metadata), nil
}

// History returns the session's saved records in insertion order
func (s *Service) History(ctx context.Context, sessionID string) ([]*records.Record, error) {
	recs, err := s.store.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return recs, nil
}

// Record returns one saved record of the session, including its audio
func (s *Service) Record(ctx context.Context, sessionID string, id int64) (*records.Record, error) {
	return s.store.Get(ctx, sessionID, id)
}

// annotatedText is the edited transcript, or the draft's text when the field was left blank
func annotatedText(draft *session.Draft, note Annotation) string {
	if strings.TrimSpace(note.Transcript) == "" {
		return draft.Transcript
	}
	return note.Transcript
}
