package api

import (
	"errors"
	"net/http"

	"github.com/semanticdata/voicemail-transcriber/internal/audio"
	"github.com/semanticdata/voicemail-transcriber/internal/transcription"
	"github.com/semanticdata/voicemail-transcriber/internal/voicemail"
)

// userError maps a pipeline error to the status code and message shown in the page.
// Error details stay in the log.
func userError(err error) (int, string) {
	switch {
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "Unsupported audio file. Upload an MP3, WAV, M4A, OGG, FLAC or WebM recording."
	case errors.Is(err, audio.ErrEmptyAudio):
		return http.StatusUnprocessableEntity, "The uploaded file contains no audio."
	case errors.Is(err, audio.ErrConversion):
		return http.StatusUnprocessableEntity, "The audio file could not be converted. Check that it is a valid recording."
	case errors.Is(err, transcription.ErrUnsupportedOption):
		return http.StatusBadRequest, "The selected model or language is not available."
	case errors.Is(err, transcription.ErrConfiguration):
		return http.StatusInternalServerError, "The speech recognition service is not configured. Check the API key."
	case errors.Is(err, transcription.ErrNetwork):
		return http.StatusBadGateway, "The speech recognition service could not be reached. Check your connection and try again."
	case errors.Is(err, transcription.ErrNoSpeech):
		return http.StatusBadGateway, "No speech was recognized in the recording."
	case errors.Is(err, transcription.ErrRecognition):
		return http.StatusBadGateway, "The speech recognition service could not transcribe the recording."
	case errors.Is(err, voicemail.ErrNoDraft):
		return http.StatusBadRequest, "Upload and transcribe a voicemail first."
	default:
		return http.StatusInternalServerError, "An error occurred during transcription."
	}
}
