package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"voxguard/internal/config"
	"voxguard/internal/features"
	"voxguard/internal/fileutil"
	"voxguard/internal/logging"
	"voxguard/internal/services"
)

// Label identifies a class. The index order is the one-hot column order.
type Label string

const (
	LabelReal Label = "real"
	LabelFake Label = "fake"
)

// Labels lists the classes in claim and one-hot order.
var Labels = []Label{LabelReal, LabelFake}

// Index returns the class column for the label, or -1 when unknown.
func (l Label) Index() int {
	for i, label := range Labels {
		if label == l {
			return i
		}
	}
	return -1
}

// ParseLabel validates a user supplied label.
func ParseLabel(value string) (Label, error) {
	label := Label(value)
	if label.Index() < 0 {
		return "", services.Wrap(services.ErrValidation, "dataset", "parse label",
			fmt.Sprintf("unknown label %q (want real or fake)", value), nil)
	}
	return label, nil
}

const featureExt = ".json"

// Pool is the on-disk dataset rooted at the configured data directory.
type Pool struct {
	root        string
	maxLen      int
	perClassCap int
	logger      *slog.Logger
	rng         *rand.Rand
	progress    *mpb.Progress
}

// PoolOption customises a Pool.
type PoolOption func(*Pool)

// WithRand sets the shuffle source.
func WithRand(r *rand.Rand) PoolOption {
	return func(p *Pool) {
		if r != nil {
			p.rng = r
		}
	}
}

// WithProgress renders one bar per label while claiming.
func WithProgress(progress *mpb.Progress) PoolOption {
	return func(p *Pool) {
		p.progress = progress
	}
}

// NewPool constructs a pool from config. A non-zero model seed makes the
// shuffle deterministic.
func NewPool(cfg *config.Config, logger *slog.Logger, opts ...PoolOption) *Pool {
	seed := uint64(cfg.Model.Seed)
	var src rand.Source
	if seed != 0 {
		src = rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	p := &Pool{
		root:        cfg.Paths.DataDir,
		maxLen:      cfg.Audio.MaxLen,
		perClassCap: cfg.Dataset.PerClassCap,
		logger:      logging.NewComponentLogger(logger, "dataset"),
		rng:         rand.New(src),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PendingDir is where not-yet-trained feature files for label live.
func (p *Pool) PendingDir(label Label) string {
	return filepath.Join(p.root, string(label))
}

func (p *Pool) claimedDir(label Label) string {
	return filepath.Join(p.root, "claimed", string(label))
}

func (p *Pool) trainedDir(label Label) string {
	return filepath.Join(p.root, "trained", string(label))
}

// ListPending returns how many feature files remain untrained for label.
func (p *Pool) ListPending(label Label) (int, error) {
	files, err := fileutil.ListFiles(p.PendingDir(label), featureExt)
	if err != nil {
		return 0, fmt.Errorf("list pending %s: %w", label, err)
	}
	return len(files), nil
}

// Counts reports pending, claimed and trained file counts per label.
func (p *Pool) Counts() (map[Label]Counts, error) {
	out := make(map[Label]Counts, len(Labels))
	for _, label := range Labels {
		var c Counts
		for _, target := range []struct {
			dir string
			n   *int
		}{
			{p.PendingDir(label), &c.Pending},
			{p.claimedDir(label), &c.Claimed},
			{p.trainedDir(label), &c.Trained},
		} {
			files, err := fileutil.ListFiles(target.dir, featureExt)
			if err != nil {
				return nil, fmt.Errorf("count %s: %w", target.dir, err)
			}
			*target.n = len(files)
		}
		out[label] = c
	}
	return out, nil
}

// Counts is the per-label state of the pool.
type Counts struct {
	Pending int
	Claimed int
	Trained int
}

// Claim moves up to the per-class cap of pending files per label into the
// claim directories and returns them as a shuffled batch. A file whose vector
// length differs from the configured length aborts the claim with
// services.ErrMalformedRecord; files claimed before it are released.
func (p *Pool) Claim(ctx context.Context) (*Batch, error) {
	batch := &Batch{}
	for _, label := range Labels {
		if err := p.claimLabel(ctx, label, batch); err != nil {
			if releaseErr := p.Release(batch); releaseErr != nil {
				p.logger.Error("release after failed claim", logging.Error(releaseErr))
			}
			return nil, err
		}
	}
	shuffle(p.rng, batch.Records)
	p.logger.Info("batch claimed",
		logging.Int("real", batch.Count(LabelReal)),
		logging.Int("fake", batch.Count(LabelFake)),
	)
	return batch, nil
}

func (p *Pool) claimLabel(ctx context.Context, label Label, batch *Batch) error {
	files, err := fileutil.ListFiles(p.PendingDir(label), featureExt)
	if err != nil {
		return fmt.Errorf("list %s pool: %w", label, err)
	}
	if len(files) > p.perClassCap {
		files = files[:p.perClassCap]
	}
	bar := p.addBar(label, len(files))
	defer func() {
		if bar != nil && !bar.Completed() {
			bar.Abort(false)
		}
	}()

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec, err := features.ReadFeatureFile(file)
		if err != nil {
			return err
		}
		if len(vec) != p.maxLen {
			return services.Wrap(services.ErrMalformedRecord, "dataset", "claim",
				fmt.Sprintf("%s has %d values, want %d", file, len(vec), p.maxLen), nil)
		}
		claimed := filepath.Join(p.claimedDir(label), filepath.Base(file))
		if err := fileutil.MoveFile(file, claimed); err != nil {
			return fmt.Errorf("claim %s: %w", file, err)
		}
		batch.Records = append(batch.Records, Record{
			Name:   filepath.Base(file),
			Label:  label,
			Vector: vec,
		})
		if bar != nil {
			bar.Increment()
		}
	}
	if bar != nil {
		bar.SetTotal(int64(len(files)), true)
	}
	return nil
}

func (p *Pool) addBar(label Label, total int) *mpb.Bar {
	if p.progress == nil || total == 0 {
		return nil
	}
	return p.progress.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name(fmt.Sprintf("Loading %s: ", label)),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.AverageETA(decor.ET_STYLE_GO),
		),
	)
}

// Commit archives every record of the batch into the trained directories.
func (p *Pool) Commit(batch *Batch) error {
	return p.moveBatch(batch, p.trainedDir, "commit")
}

// Release returns every record of the batch to the pending pool.
func (p *Pool) Release(batch *Batch) error {
	return p.moveBatch(batch, p.PendingDir, "release")
}

func (p *Pool) moveBatch(batch *Batch, target func(Label) string, op string) error {
	if batch == nil {
		return nil
	}
	var firstErr error
	for _, record := range batch.Records {
		src := filepath.Join(p.claimedDir(record.Label), record.Name)
		if err := fileutil.MoveFile(src, filepath.Join(target(record.Label), record.Name)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s %s: %w", op, record.Name, err)
		}
	}
	return firstErr
}

// RecoverClaims moves files left in the claim directories back to the
// pending pool and returns how many were restored.
func (p *Pool) RecoverClaims() (int, error) {
	restored := 0
	for _, label := range Labels {
		files, err := fileutil.ListFiles(p.claimedDir(label), featureExt)
		if err != nil {
			return restored, fmt.Errorf("list claimed %s: %w", label, err)
		}
		for _, file := range files {
			if err := fileutil.MoveFile(file, filepath.Join(p.PendingDir(label), filepath.Base(file))); err != nil {
				return restored, fmt.Errorf("recover %s: %w", file, err)
			}
			restored++
		}
	}
	if restored > 0 {
		logging.WarnWithContext(p.logger, "recovered orphaned claims", "claims_recovered",
			logging.Int("files", restored),
			logging.String(logging.FieldImpact, "files from an interrupted run return to the pending pool"),
		)
	}
	return restored, nil
}
