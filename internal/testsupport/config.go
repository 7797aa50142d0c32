package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"voxguard/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The pool directories are created so claims and moves work immediately.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.TempDir = filepath.Join(base, "temp")
	cfgVal.Paths.StatsDir = filepath.Join(base, "stats")
	cfgVal.Paths.ModelDir = filepath.Join(base, "model")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Model.Seed = 7

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithMaxLen overrides the feature vector length.
func WithMaxLen(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Audio.MaxLen = n
	}
}

// WithSmallModel shrinks training so network tests finish quickly.
func WithSmallModel(epochs, batchSize int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Model.Epochs = epochs
		b.cfg.Model.BatchSize = batchSize
	}
}

// WithPerClassCap overrides the per-label claim limit.
func WithPerClassCap(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Dataset.PerClassCap = n
	}
}

// WithAudio overrides frame size and sample rate.
func WithAudio(frameSize, sampleRate int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Audio.FrameSize = frameSize
		b.cfg.Audio.SampleRate = sampleRate
	}
}

// WithStubbedBinary writes a shell script under the test bin dir and points
// the ffmpeg binary at it. body is the script after the shebang line.
func WithStubbedBinary(name, body string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, name)
		if err := os.WriteFile(target, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
			b.t.Fatalf("write stub %s: %v", name, err)
		}
		switch name {
		case "ffprobe":
			b.cfg.Audio.FFprobeBinary = target
		default:
			b.cfg.Audio.FFmpegBinary = target
		}
	}
}
