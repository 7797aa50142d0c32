// Package ingest turns raw source audio into labelled feature files: every
// supported file under the raw folder is segmented into fixed-length chunks
// and each chunk becomes one JSON feature vector in the label's pending pool.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"voxguard/internal/config"
	"voxguard/internal/dataset"
	"voxguard/internal/features"
	"voxguard/internal/fileutil"
	"voxguard/internal/logging"
	"voxguard/internal/segment"
	"voxguard/internal/staging"
)

// Result counts what one ingest run did.
type Result struct {
	Sources int
	Chunks  int
	Written int
	Skipped int
}

// Ingester runs the raw → chunk → feature pipeline.
type Ingester struct {
	cfg       *config.Config
	segmenter segment.Segmenter
	extractor *features.Extractor
	logger    *slog.Logger
	progress  *mpb.Progress
}

// Option customises an Ingester.
type Option func(*Ingester)

// WithProgress renders a per-source bar while ingesting.
func WithProgress(progress *mpb.Progress) Option {
	return func(i *Ingester) {
		i.progress = progress
	}
}

// New constructs an ingester around the given segmenter.
func New(cfg *config.Config, segmenter segment.Segmenter, logger *slog.Logger, opts ...Option) (*Ingester, error) {
	logger = logging.NewComponentLogger(logger, "ingest")
	extractor, err := features.NewExtractor(cfg, logger)
	if err != nil {
		return nil, err
	}
	ing := &Ingester{
		cfg:       cfg,
		segmenter: segmenter,
		extractor: extractor,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing, nil
}

// Run ingests every supported file under the raw folder as label. Failures of
// one source or chunk are logged and counted; they never stop the others.
// When the run completes the temp and raw folders are emptied.
func (i *Ingester) Run(ctx context.Context, label dataset.Label) (Result, error) {
	logger := logging.WithContext(ctx, i.logger).With(logging.String(logging.FieldLabel, string(label)))
	var result Result

	sources, err := i.discover()
	if err != nil {
		return result, err
	}
	result.Sources = len(sources)
	if len(sources) == 0 {
		logger.Info("no supported audio in raw folder", logging.String("dir", i.cfg.RawDir()))
		return result, nil
	}

	outDir := filepath.Join(i.cfg.Paths.DataDir, string(label))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return result, fmt.Errorf("create %s pool: %w", label, err)
	}
	workDir, err := staging.NewWorkDir(i.cfg.Paths.TempDir, staging.KindIngest)
	if err != nil {
		return result, err
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn("remove chunk dir failed", logging.String("dir", workDir), logging.Error(err))
		}
	}()

	bar := i.addBar(len(sources))
	defer func() {
		if bar != nil && !bar.Completed() {
			bar.Abort(false)
		}
	}()
	sampler := logging.NewProgressSampler(25)

	for n, src := range sources {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		written, chunks, skipped, err := i.ingestSource(ctx, src, workDir, outDir)
		if err != nil {
			return result, err
		}
		result.Chunks += chunks
		result.Written += written
		result.Skipped += skipped
		if bar != nil {
			bar.Increment()
		}
		if sampler.ShouldLog(n+1, len(sources), "ingest") {
			logger.Info("ingest progress",
				logging.Int("done", n+1),
				logging.Int("total", len(sources)),
				logging.Int("written", result.Written),
			)
		}
	}

	if err := fileutil.ClearDir(i.cfg.RawDir()); err != nil {
		return result, fmt.Errorf("clear raw folder: %w", err)
	}
	logger.Info("ingest finished",
		logging.Int("sources", result.Sources),
		logging.Int("chunks", result.Chunks),
		logging.Int("written", result.Written),
		logging.Int("skipped", result.Skipped),
	)
	return result, nil
}

// ingestSource segments one source and writes a feature file per chunk. The
// returned error is non-nil only for cancellation.
func (i *Ingester) ingestSource(ctx context.Context, src, workDir, outDir string) (written, chunks, skipped int, err error) {
	logger := logging.WithContext(ctx, i.logger).With(logging.String(logging.FieldPath, src))
	name := segment.SanitizeName(i.relativeName(src))

	paths, err := i.segmenter.Segment(ctx, src, name, i.cfg.Audio.ChunkSeconds, workDir)
	if err != nil {
		if ctx.Err() != nil {
			return 0, 0, 0, ctx.Err()
		}
		logging.WarnWithContext(logger, "segmentation failed", "source_skipped",
			logging.Error(err),
			logging.String(logging.FieldImpact, "source contributes no features"),
		)
		return 0, 0, 1, nil
	}
	if len(paths) == 0 {
		return 0, 0, 1, nil
	}
	defer func() {
		for _, path := range paths {
			_ = os.Remove(path)
		}
	}()

	for _, chunk := range paths {
		if err := ctx.Err(); err != nil {
			return written, len(paths), skipped, err
		}
		frames, err := i.extractor.Extract(chunk)
		if err != nil {
			skipped++
			logging.WarnWithContext(logger, "chunk extraction failed", "chunk_skipped",
				logging.String("chunk", chunk),
				logging.Error(err),
				logging.String(logging.FieldImpact, "chunk excluded from the dataset"),
			)
			continue
		}
		target := filepath.Join(outDir, filepath.Base(chunk)+".json")
		if err := features.WriteFeatureFile(target, features.Vectorize(frames, i.cfg.Audio.MaxLen)); err != nil {
			skipped++
			logger.Error("write feature file failed", logging.String("target", target), logging.Error(err))
			continue
		}
		written++
	}
	logger.Debug("source ingested", logging.Int("chunks", len(paths)), logging.Int("written", written))
	return written, len(paths), skipped, nil
}

// discover lists supported files under the raw folder in lexical order.
func (i *Ingester) discover() ([]string, error) {
	root := i.cfg.RawDir()
	var sources []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if d.Type().IsRegular() && i.cfg.IsSupportedAudio(path) {
			sources = append(sources, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan raw folder: %w", err)
	}
	sort.Strings(sources)
	return sources, nil
}

func (i *Ingester) relativeName(src string) string {
	rel, err := filepath.Rel(i.cfg.RawDir(), src)
	if err != nil {
		return filepath.Base(src)
	}
	return rel
}

func (i *Ingester) addBar(total int) *mpb.Bar {
	if i.progress == nil || total == 0 {
		return nil
	}
	return i.progress.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name("Processing sources: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.AverageETA(decor.ET_STYLE_GO),
		),
	)
}
