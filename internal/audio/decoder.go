package audio

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/semanticdata/voicemail-transcriber/pkg/logger"
)

// Decoder turns uploaded voicemail bytes into a validated WAV stream.
// Temporary files never outlive a Decode call.
type Decoder struct {
	converter Converter
	tempDir   string
	logger    *logger.Logger
}

// NewDecoder creates a new decoder. An empty tempDir uses the OS default.
func NewDecoder(converter Converter, tempDir string, logger *logger.Logger) *Decoder {
	return &Decoder{
		converter: converter,
		tempDir:   tempDir,
		logger:    logger.Named("decoder"),
	}
}

// Decode converts the upload to WAV. Failures wrap ErrConversion.
func (d *Decoder) Decode(ctx context.Context, data []byte) (*WAV, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return nil, err
	}

	inputPath, err := d.writeTemp("vmt-input-*"+format.Extension, data)
	if err != nil {
		return nil, err
	}
	defer d.remove(inputPath)

	outputPath, err := d.writeTemp("vmt-output-*.wav", nil)
	if err != nil {
		return nil, err
	}
	defer d.remove(outputPath)

	d.logger.Debug("Converting upload",
		logger.String("format", format.Name),
		logger.Int("bytes", len(data)))

	if err := d.converter.Convert(ctx, inputPath, outputPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversion, err)
	}

	out, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read converted audio: %v", ErrConversion, err)
	}

	result, err := ReadWAV(out)
	if err != nil {
		return nil, err
	}
	result.Source = format

	d.logger.Debug("Converted upload",
		logger.String("format", format.Name),
		logger.Int("wav_bytes", len(result.Data)),
		logger.Int("sample_rate", result.SampleRate),
		logger.Duration("duration", result.Duration))

	return result, nil
}

// writeTemp creates a temp file holding data and returns its path
func (d *Decoder) writeTemp(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp(d.tempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	path := f.Name()

	if len(data) > 0 {
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("failed to write temp file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return path, nil
}

func (d *Decoder) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("Failed to remove temp file", logger.String("path", path), logger.Error(err))
	}
}
