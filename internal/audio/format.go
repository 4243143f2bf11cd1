package audio

import (
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrConversion is the failure kind for malformed or unconvertible input
	ErrConversion = errors.New("audio conversion failed")
	// ErrUnsupportedFormat is returned for uploads that are not a known audio container
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported audio format", ErrConversion)
	// ErrEmptyAudio is returned for zero-length uploads or conversions
	ErrEmptyAudio = fmt.Errorf("%w: empty audio", ErrConversion)
)

// Format describes a detected upload container
type Format struct {
	Name      string // mp3, wav, m4a, ogg, flac, webm
	MIME      string // MIME type served back to the browser
	Extension string // file extension including the dot
}

// supportedFormats maps detected MIME types to formats. Detection walks the
// mimetype parent chain so children such as audio/webm resolve too.
var supportedFormats = map[string]Format{
	"audio/mpeg":      {Name: "mp3", MIME: "audio/mpeg", Extension: ".mp3"},
	"audio/wav":       {Name: "wav", MIME: "audio/wav", Extension: ".wav"},
	"audio/x-m4a":     {Name: "m4a", MIME: "audio/mp4", Extension: ".m4a"},
	"audio/mp4":       {Name: "m4a", MIME: "audio/mp4", Extension: ".m4a"},
	"audio/ogg":       {Name: "ogg", MIME: "audio/ogg", Extension: ".ogg"},
	"application/ogg": {Name: "ogg", MIME: "audio/ogg", Extension: ".ogg"},
	"audio/flac":      {Name: "flac", MIME: "audio/flac", Extension: ".flac"},
	"audio/webm":      {Name: "webm", MIME: "audio/webm", Extension: ".webm"},
	"video/webm":      {Name: "webm", MIME: "audio/webm", Extension: ".webm"},
}

// DetectFormat identifies the audio container from magic bytes
func DetectFormat(data []byte) (Format, error) {
	if len(data) == 0 {
		return Format{}, ErrEmptyAudio
	}

	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		for mime, format := range supportedFormats {
			if m.Is(mime) {
				return format, nil
			}
		}
	}

	return Format{}, fmt.Errorf("%w: detected %s", ErrUnsupportedFormat, detected.String())
}
