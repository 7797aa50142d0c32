// Package trainer drives training runs: it drains the pending feature pools
// one capped batch at a time, fitting normalisation stats and a fresh
// network on the first batch of an override run and continuing from the
// persisted artifacts otherwise.
package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"voxguard/internal/config"
	"voxguard/internal/dataset"
	"voxguard/internal/fileutil"
	"voxguard/internal/ledger"
	"voxguard/internal/logging"
	"voxguard/internal/model"
	"voxguard/internal/normalize"
	"voxguard/internal/services"
)

// Options controls one training run.
type Options struct {
	// Override discards existing stats and model and starts from scratch.
	Override bool
}

// Summary describes a finished run. FinalLoss and FinalAccuracy come from
// evaluating the last batch's own training data and are diagnostic only.
type Summary struct {
	RunID         string
	Batches       int
	Records       int
	Recovered     int
	FinalLoss     float64
	FinalAccuracy float64
	Duration      time.Duration
}

// Trainer owns the training loop.
type Trainer struct {
	cfg    *config.Config
	pool   *dataset.Pool
	ledger *ledger.Store
	stats  *normalize.Store
	logger *slog.Logger
	newID  func() string
}

// New constructs a trainer. The ledger is required; it records every run.
func New(cfg *config.Config, pool *dataset.Pool, store *ledger.Store, logger *slog.Logger) *Trainer {
	return &Trainer{
		cfg:    cfg,
		pool:   pool,
		ledger: store,
		stats:  normalize.NewStore(cfg.Paths.StatsDir),
		logger: logging.NewComponentLogger(logger, "trainer"),
		newID:  uuid.NewString,
	}
}

// Run trains until both pending pools are empty.
func (t *Trainer) Run(ctx context.Context, opts Options) (Summary, error) {
	started := time.Now()
	bookkeeping := context.WithoutCancel(ctx)
	if _, err := t.ledger.AbandonStaleRuns(bookkeeping); err != nil {
		return Summary{}, err
	}
	runID := t.newID()
	ctx = services.WithRunID(ctx, runID)
	if err := t.ledger.BeginRun(bookkeeping, runID, opts.Override); err != nil {
		return Summary{}, err
	}

	summary := Summary{RunID: runID}
	err := t.run(ctx, opts, &summary)
	summary.Duration = time.Since(started)

	result := ledger.RunResult{
		Status:  ledger.RunCompleted,
		Batches: summary.Batches,
		Records: summary.Records,
	}
	if summary.Batches > 0 {
		result.FinalLoss = &summary.FinalLoss
		result.FinalAccuracy = &summary.FinalAccuracy
	}
	if err != nil {
		result.Status = ledger.RunFailed
		result.FailureKind = services.FailureKind(err)
		result.ErrorMessage = err.Error()
	}
	if finishErr := t.ledger.FinishRun(bookkeeping, runID, result); finishErr != nil {
		logging.WithContext(ctx, t.logger).Error("record run result failed", logging.Error(finishErr))
	}
	return summary, err
}

func (t *Trainer) run(ctx context.Context, opts Options, summary *Summary) error {
	logger := logging.WithContext(ctx, t.logger)
	if err := ctx.Err(); err != nil {
		return err
	}

	if released, err := t.ledger.ReleaseStaleClaims(ctx, summary.RunID); err != nil {
		return err
	} else if released > 0 {
		logger.Info("stale ledger batches released", logging.Int64("batches", released))
	}
	recovered, err := t.pool.RecoverClaims()
	if err != nil {
		return err
	}
	summary.Recovered = recovered

	if opts.Override {
		for _, dir := range []string{t.cfg.Paths.StatsDir, t.cfg.Paths.ModelDir} {
			if err := fileutil.ClearDir(dir); err != nil {
				return fmt.Errorf("clear %s: %w", dir, err)
			}
		}
		logger.Info("override requested; stats and model cleared")
	}

	resetRequested := opts.Override
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pending := 0
		for _, label := range dataset.Labels {
			n, err := t.pool.ListPending(label)
			if err != nil {
				return err
			}
			pending += n
		}
		if pending == 0 {
			break
		}
		if err := t.trainBatch(ctx, resetRequested, summary); err != nil {
			return err
		}
		resetRequested = false
	}

	if summary.Batches == 0 {
		logger.Info("no pending feature files; nothing to train")
		return nil
	}
	logger.Info("all pending data trained",
		logging.Int("batches", summary.Batches),
		logging.Int("records", summary.Records),
	)
	return nil
}

func (t *Trainer) trainBatch(ctx context.Context, reset bool, summary *Summary) (err error) {
	ctx = services.WithStage(ctx, "claim")
	batch, err := t.pool.Claim(ctx)
	if err != nil {
		return err
	}
	if batch.Len() == 0 {
		return services.Wrap(services.ErrValidation, "trainer", "claim", "pending files exist but none could be claimed", nil)
	}

	batchID, err := t.ledger.RecordClaim(ctx, summary.RunID, batch.Count(dataset.LabelReal), batch.Count(dataset.LabelFake))
	if err != nil {
		t.release(ctx, batch, 0)
		return err
	}
	ctx = services.WithBatchID(ctx, batchID)
	logger := logging.WithContext(ctx, t.logger)

	committed := false
	defer func() {
		if err != nil && !committed {
			t.release(ctx, batch, batchID)
		}
	}()

	x := batch.Features()
	y := batch.OneHot()
	net, stats, err := t.prepare(services.WithStage(ctx, "prepare"), reset, x)
	if err != nil {
		return err
	}
	xNorm, err := stats.ApplyBatch(x)
	if err != nil {
		return err
	}
	if nonFinite := countNonFinite(xNorm); nonFinite > 0 {
		logging.WarnWithContext(logger, "normalised features contain non-finite values", "normalization_nan",
			logging.Int("values", nonFinite),
			logging.String(logging.FieldImpact, "training on this batch may diverge"),
		)
	}

	fitCtx := services.WithStage(ctx, "fit")
	fitLogger := logging.WithContext(fitCtx, t.logger)
	sampler := logging.NewProgressSampler(10)
	epochs := t.cfg.Model.Epochs
	if _, err = net.Fit(fitCtx, xNorm, y, model.FitOptions{
		Epochs:          epochs,
		BatchSize:       t.cfg.Model.BatchSize,
		ValidationSplit: t.cfg.Model.ValidationSplit,
		Shuffle:         true,
		OnEpoch: func(s model.EpochStats) {
			attrs := []logging.Attr{
				logging.Int("epoch", s.Epoch),
				logging.Int("epochs", epochs),
				logging.Float64("loss", s.Loss),
				logging.Float64("acc", s.Acc),
			}
			if s.HasValidation() {
				attrs = append(attrs, logging.Float64("val_loss", s.ValLoss), logging.Float64("val_acc", s.ValAcc))
			}
			if sampler.ShouldLog(s.Epoch, epochs, "fit") {
				fitLogger.Info("epoch finished", logging.Args(attrs...)...)
				return
			}
			fitLogger.Debug("epoch finished", logging.Args(attrs...)...)
		},
	}); err != nil {
		return err
	}

	if err = net.Save(t.cfg.Paths.ModelDir); err != nil {
		return err
	}
	if err = t.pool.Commit(batch); err != nil {
		return err
	}
	committed = true

	loss, acc, err := net.Evaluate(xNorm, y)
	if err != nil {
		return err
	}
	logger.Info("batch trained; evaluation is diagnostic, computed on training data",
		logging.Int("records", batch.Len()),
		logging.Float64("loss", loss),
		logging.Float64("accuracy", acc),
	)
	if err := t.ledger.MarkCommitted(ctx, batchID, loss, acc); err != nil {
		logger.Error("record batch result failed", logging.Error(err))
	}

	summary.Batches++
	summary.Records += batch.Len()
	summary.FinalLoss = loss
	summary.FinalAccuracy = acc
	return nil
}

// prepare returns the network and stats for a batch: freshly fitted and
// persisted on reset, loaded from disk otherwise.
func (t *Trainer) prepare(ctx context.Context, reset bool, x [][]float64) (*model.Network, normalize.Stats, error) {
	logger := logging.WithContext(ctx, t.logger)
	maxLen := t.cfg.Audio.MaxLen

	var (
		net   *model.Network
		stats normalize.Stats
		err   error
	)
	if reset {
		stats, err = normalize.Fit(x, t.cfg.Normalization.Epsilon)
		if err != nil {
			return nil, normalize.Stats{}, err
		}
		if err := t.stats.Save(stats); err != nil {
			return nil, normalize.Stats{}, err
		}
		net, err = model.NewClassifier(maxLen, model.Options{
			L2:      t.cfg.Model.L2,
			Dropout: t.cfg.Model.Dropout,
			Seed:    t.cfg.Model.Seed,
		})
		if err != nil {
			return nil, normalize.Stats{}, err
		}
		logger.Info("normalisation stats fitted; new network built",
			logging.Int("dimensions", stats.Dim()),
			logging.Int("params", net.ParamCount()),
		)
	} else {
		stats, err = t.stats.Load(maxLen)
		if err != nil {
			return nil, normalize.Stats{}, err
		}
		net, err = model.Load(t.cfg.Paths.ModelDir, t.cfg.Model.Seed)
		if err != nil {
			return nil, normalize.Stats{}, err
		}
		if net.InputDim() != maxLen {
			return nil, normalize.Stats{}, services.Wrap(services.ErrValidation, "trainer", "load model",
				fmt.Sprintf("model expects %d values, feature length is %d; retrain with --override", net.InputDim(), maxLen), nil)
		}
		logger.Info("continuing from persisted stats and model")
	}
	net.Compile(t.cfg.Model.LearningRate)
	return net, stats, nil
}

func (t *Trainer) release(ctx context.Context, batch *dataset.Batch, batchID int64) {
	logger := logging.WithContext(ctx, t.logger)
	if err := t.pool.Release(batch); err != nil {
		logger.Error("release batch failed; files stay claimed until the next run", logging.Error(err))
	}
	if batchID == 0 {
		return
	}
	if err := t.ledger.MarkReleased(context.WithoutCancel(ctx), batchID); err != nil {
		logger.Error("record batch release failed", logging.Error(err))
	}
}

func countNonFinite(rows [][]float64) int {
	n := 0
	for _, row := range rows {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				n++
			}
		}
	}
	return n
}
