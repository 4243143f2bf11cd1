package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Converter turns an audio file of any supported container into a PCM WAV file
type Converter interface {
	Convert(ctx context.Context, inputPath, outputPath string) error
}

// FFmpegConverter converts audio by running the ffmpeg binary
type FFmpegConverter struct {
	Path       string
	SampleRate int
	Channels   int
	Timeout    time.Duration
}

// NewFFmpegConverter creates a converter producing 16-bit PCM at the given rate and channel count
func NewFFmpegConverter(path string, sampleRate, channels int, timeout time.Duration) *FFmpegConverter {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegConverter{
		Path:       path,
		SampleRate: sampleRate,
		Channels:   channels,
		Timeout:    timeout,
	}
}

// Available reports whether the ffmpeg binary can be found
func (f *FFmpegConverter) Available() error {
	if _, err := exec.LookPath(f.Path); err != nil {
		return fmt.Errorf("ffmpeg not found at %q: %w", f.Path, err)
	}
	return nil
}

// Args returns the ffmpeg command line for a conversion
func (f *FFmpegConverter) Args(inputPath, outputPath string) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", inputPath,
		"-ac", strconv.Itoa(f.Channels),
		"-ar", strconv.Itoa(f.SampleRate),
		"-acodec", "pcm_s16le",
		"-f", "wav",
		outputPath,
	}
}

// Convert runs ffmpeg, overwriting outputPath
func (f *FFmpegConverter) Convert(ctx context.Context, inputPath, outputPath string) error {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	// #nosec G204 - paths are temp files created by the decoder
	cmd := exec.CommandContext(ctx, f.Path, f.Args(inputPath, outputPath)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("ffmpeg failed: %w", err)
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, msg)
	}
	return nil
}
