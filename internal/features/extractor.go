package features

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"voxguard/internal/config"
	"voxguard/internal/logging"
	"voxguard/internal/services"
)

// minSamples is the smallest decoded chunk considered audio at all.
const minSamples = 3

// Extractor converts WAV chunks into per-frame MFCC sequences.
type Extractor struct {
	frameSize int
	mfcc      *MFCC
	logger    *slog.Logger
}

// NewExtractor builds an extractor from the audio section of the config.
func NewExtractor(cfg *config.Config, logger *slog.Logger) (*Extractor, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "features", "init", "config is nil", nil)
	}
	mfcc, err := NewMFCC(cfg.Audio.FrameSize, cfg.Audio.SampleRate, cfg.Audio.MelBands, cfg.Audio.Coefficients)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "features", "init", "", err)
	}
	return &Extractor{
		frameSize: cfg.Audio.FrameSize,
		mfcc:      mfcc,
		logger:    logging.NewComponentLogger(logger, "features"),
	}, nil
}

// Extract decodes the WAV file at path and returns its coefficient frames in
// time order. A chunk with fewer than three samples yields nil without error.
// Decode failures are wrapped with services.ErrValidation so callers can skip
// the one file.
func (e *Extractor) Extract(path string) ([][]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "features", "open chunk", path, err)
	}
	defer file.Close()

	samples, err := decodeChannel(file)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "features", "decode chunk", path, err)
	}
	if len(samples) < minSamples {
		e.logger.Debug("chunk too short; skipped",
			logging.String(logging.FieldPath, path),
			logging.Int("samples", len(samples)),
		)
		return nil, nil
	}
	frames := e.FromSamples(samples)
	e.logger.Debug("chunk extracted",
		logging.String(logging.FieldPath, path),
		logging.Int("samples", len(samples)),
		logging.Int("frames", len(frames)),
	)
	return frames, nil
}

// FromSamples computes coefficients for every frame fully contained in
// samples. Silent or non-finite frames are omitted, so the result may be
// empty; no padding happens here.
func (e *Extractor) FromSamples(samples []float64) [][]float64 {
	var frames [][]float64
	for i := 0; i+e.frameSize <= len(samples); i += e.frameSize {
		if coeffs, ok := e.mfcc.Compute(samples[i : i+e.frameSize]); ok {
			frames = append(frames, coeffs)
		}
	}
	return frames
}

// decodeChannel reads the first channel of a PCM WAV stream scaled to [-1, 1].
func decodeChannel(r io.ReadSeeker) ([]float64, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("not a valid wav file")
	}
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read pcm buffer: %w", err)
	}
	return firstChannel(buf), nil
}

func firstChannel(buf *audio.IntBuffer) []float64 {
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil
	}
	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = 16
	}
	scale := float64(int64(1) << (depth - 1))

	out := make([]float64, 0, len(buf.Data)/channels)
	for i := 0; i < len(buf.Data); i += channels {
		out = append(out, float64(buf.Data[i])/scale)
	}
	return out
}
