// Package audiotest provides audio fixtures and a fake converter for tests.
package audiotest

import (
	"context"
	"io"
	"math"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

// MP3 returns bytes that sniff as audio/mpeg (an ID3v2 tag followed by padding)
func MP3() []byte {
	data := []byte("ID3\x03\x00\x00\x00\x00\x00\x0a")
	return append(data, make([]byte, 64)...)
}

// WAV encodes a mono 16-bit tone of the given length as RIFF/WAVE bytes
func WAV(sampleRate int, samples int) ([]byte, error) {
	ws := &writerseeker.WriterSeeker{}
	enc := wav.NewEncoder(ws, sampleRate, 16, 1, 1)

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, samples),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = int(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}

	if err := enc.Write(buf); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return io.ReadAll(ws.Reader())
}

// Converter is a fake audio converter that writes a fixed output
type Converter struct {
	Output []byte // written to the output path on success
	Err    error  // returned instead of converting when set

	mu    sync.Mutex
	calls []Call
}

// Call records one conversion request
type Call struct {
	InputPath   string
	OutputPath  string
	InputExists bool
}

// Convert implements audio.Converter
func (c *Converter) Convert(ctx context.Context, inputPath, outputPath string) error {
	_, statErr := os.Stat(inputPath)

	c.mu.Lock()
	c.calls = append(c.calls, Call{InputPath: inputPath, OutputPath: outputPath, InputExists: statErr == nil})
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Err != nil {
		return c.Err
	}
	return os.WriteFile(outputPath, c.Output, 0o600)
}

// Calls returns the recorded conversions
func (c *Converter) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}
