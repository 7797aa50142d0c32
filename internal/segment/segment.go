package segment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-audio/wav"

	"voxguard/internal/config"
	"voxguard/internal/fileutil"
	"voxguard/internal/logging"
	"voxguard/internal/media/ffprobe"
)

// Segmenter produces time-ordered chunk paths for one source file.
type Segmenter interface {
	Segment(ctx context.Context, src, name string, seconds int, outDir string) ([]string, error)
}

type commandRunner func(ctx context.Context, name string, args ...string) error

type probeFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// FFmpeg segments audio with `ffmpeg -f segment`.
type FFmpeg struct {
	binary     string
	sampleRate int
	logger     *slog.Logger
	run        commandRunner

	probeBinary string
	probe       probeFunc
}

// Option configures an FFmpeg segmenter.
type Option func(*FFmpeg)

// WithProbe runs ffprobe before each source and skips sources without an
// audio stream.
func WithProbe(binary string) Option {
	return func(f *FFmpeg) {
		f.probeBinary = binary
		f.probe = ffprobe.Inspect
	}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func WithCommandRunner(r commandRunner) Option {
	return func(f *FFmpeg) {
		if r != nil {
			f.run = r
		}
	}
}

// New constructs an ffmpeg segmenter from the audio config section.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *FFmpeg {
	f := &FFmpeg{
		binary:     "ffmpeg",
		sampleRate: 44100,
		logger:     logging.NewComponentLogger(logger, "segment"),
		run:        defaultCommandRunner,
	}
	if cfg != nil {
		f.binary = cfg.Audio.FFmpegBinary
		f.sampleRate = cfg.Audio.SampleRate
		if cfg.Audio.ProbeSources {
			WithProbe(cfg.Audio.FFprobeBinary)(f)
		}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Segment writes <outDir>/<name>_NNN.wav chunks of at most seconds each,
// mono at the configured sample rate, and returns their paths in time order.
func (f *FFmpeg) Segment(ctx context.Context, src, name string, seconds int, outDir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := f.logger.With(logging.String(logging.FieldPath, src))
	if seconds <= 0 {
		logging.WarnWithContext(logger, "invalid chunk duration; source skipped", "segment_skipped",
			logging.Int("seconds", seconds),
			logging.String(logging.FieldImpact, "source produces no chunks"),
		)
		return nil, nil
	}

	if f.probe != nil {
		result, err := f.probe(ctx, f.probeBinary, src)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.WarnWithContext(logger, "ffprobe failed; source skipped", "segment_skipped",
				logging.Error(err),
				logging.String(logging.FieldImpact, "source produces no chunks"),
			)
			return nil, nil
		}
		if result.AudioStreamCount() == 0 {
			logging.WarnWithContext(logger, "source has no audio stream; skipped", "segment_skipped",
				logging.String(logging.FieldImpact, "source produces no chunks"),
			)
			return nil, nil
		}
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	prefix := name + "_"
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", src,
		"-ac", "1",
		"-ar", strconv.Itoa(f.sampleRate),
		"-f", "segment",
		"-segment_time", strconv.Itoa(seconds),
		"-c:a", "pcm_s16le",
		filepath.Join(outDir, prefix+"%03d.wav"),
	}
	if err := f.run(ctx, f.binary, args...); err != nil {
		removeChunks(outDir, prefix)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logging.WarnWithContext(logger, "ffmpeg segmenting failed; source skipped", "segment_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "source produces no chunks"),
		)
		return nil, nil
	}

	chunks, err := collectChunks(outDir, prefix)
	if err != nil {
		return nil, err
	}
	valid := chunks[:0]
	for _, chunk := range chunks {
		if validWAV(chunk) {
			valid = append(valid, chunk)
			continue
		}
		_ = os.Remove(chunk)
		logging.WarnWithContext(logger, "invalid chunk removed", "chunk_invalid",
			logging.String("chunk", chunk),
			logging.String(logging.FieldImpact, "chunk excluded from features"),
		)
	}
	logger.Debug("source segmented", logging.Int("chunks", len(valid)))
	return valid, nil
}

// SanitizeName turns a source path into a flat chunk name prefix by
// replacing path separators with '-'.
func SanitizeName(path string) string {
	path = filepath.ToSlash(strings.TrimSpace(path))
	path = strings.TrimLeft(path, "/")
	return strings.ReplaceAll(path, "/", "-")
}

func collectChunks(dir, prefix string) ([]string, error) {
	files, err := fileutil.ListFiles(dir, ".wav")
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	var chunks []string
	for _, file := range files {
		if strings.HasPrefix(filepath.Base(file), prefix) {
			chunks = append(chunks, file)
		}
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunkIndex(chunks[i], prefix) < chunkIndex(chunks[j], prefix)
	})
	return chunks, nil
}

// chunkIndex parses NNN from <prefix>NNN.wav; ffmpeg widens the counter past
// 999 so lexical order is not time order.
func chunkIndex(path, prefix string) int {
	base := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), prefix), filepath.Ext(path))
	n, err := strconv.Atoi(base)
	if err != nil {
		return -1
	}
	return n
}

func removeChunks(dir, prefix string) {
	chunks, err := collectChunks(dir, prefix)
	if err != nil {
		return
	}
	for _, chunk := range chunks {
		_ = os.Remove(chunk)
	}
}

func validWAV(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()
	return wav.NewDecoder(file).IsValidFile()
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
