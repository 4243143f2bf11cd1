package audio

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-audio/wav"
)

// WAV is a validated RIFF/WAVE byte stream and its header facts
type WAV struct {
	Data       []byte
	SampleRate int
	Channels   int
	BitDepth   int
	DataSize   int // bytes of PCM payload
	Duration   time.Duration
	Source     Format // detected upload format, set by Decoder
}

// ReadWAV validates a WAV byte stream and reads its format chunk
func ReadWAV(data []byte) (*WAV, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		if err := dec.Err(); err != nil {
			return nil, fmt.Errorf("%w: invalid wav: %v", ErrConversion, err)
		}
		return nil, fmt.Errorf("%w: invalid wav header", ErrConversion)
	}

	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w: wav has no data chunk: %v", ErrConversion, err)
	}
	if dec.PCMSize <= 0 {
		return nil, fmt.Errorf("%w: wav has no audio data", ErrEmptyAudio)
	}
	if dec.AvgBytesPerSec == 0 {
		return nil, fmt.Errorf("%w: wav header has no byte rate", ErrConversion)
	}

	// Duration of the PCM payload only; the RIFF size also counts header chunks
	duration := time.Duration(float64(dec.PCMSize) / float64(dec.AvgBytesPerSec) * float64(time.Second))

	return &WAV{
		Data:       data,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		DataSize:   dec.PCMSize,
		Duration:   duration,
	}, nil
}
