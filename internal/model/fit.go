package model

import (
	"context"
	"math"

	"voxguard/internal/services"
)

// FitOptions controls a training call.
type FitOptions struct {
	Epochs    int
	BatchSize int
	// ValidationSplit is the fraction of samples, taken from the end of the
	// data before any shuffling, held out for validation metrics.
	ValidationSplit float64
	Shuffle         bool
	// OnEpoch receives the metrics of every finished epoch.
	OnEpoch func(EpochStats)
}

// EpochStats are the metrics of one epoch. Validation fields are NaN when
// there is no validation split.
type EpochStats struct {
	Epoch   int
	Loss    float64
	Acc     float64
	ValLoss float64
	ValAcc  float64
}

// HasValidation reports whether validation metrics were computed.
func (s EpochStats) HasValidation() bool {
	return !math.IsNaN(s.ValLoss)
}

// Fit trains the network on x with one-hot targets y. The context is checked
// between mini-batches.
func (n *Network) Fit(ctx context.Context, x, y [][]float64, opts FitOptions) ([]EpochStats, error) {
	if n.optimizer == nil {
		return nil, services.Wrap(services.ErrConfiguration, "model", "fit", "network is not compiled", nil)
	}
	if err := n.checkPairs(x, y); err != nil {
		return nil, err
	}
	if opts.Epochs <= 0 || opts.BatchSize <= 0 {
		return nil, services.Wrap(services.ErrValidation, "model", "fit", "epochs and batch size must be positive", nil)
	}
	if opts.ValidationSplit < 0 || opts.ValidationSplit >= 1 {
		return nil, services.Wrap(services.ErrValidation, "model", "fit", "validation split must be in [0, 1)", nil)
	}

	splitAt := len(x)
	if opts.ValidationSplit > 0 {
		splitAt = int(math.Floor(float64(len(x)) * (1 - opts.ValidationSplit)))
	}
	if splitAt == 0 {
		return nil, services.Wrap(services.ErrValidation, "model", "fit", "validation split leaves no training samples", nil)
	}
	train := indexRange(0, splitAt)
	val := indexRange(splitAt, len(x))

	history := make([]EpochStats, 0, opts.Epochs)
	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		if opts.Shuffle {
			n.rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
		}
		var (
			lossSum float64
			correct int
		)
		for start := 0; start < len(train); start += opts.BatchSize {
			if err := ctx.Err(); err != nil {
				return history, err
			}
			part := train[start:min(start+opts.BatchSize, len(train))]
			loss, c := n.trainStep(toDense(x, part, n.inputDim), toDense(y, part, Classes))
			lossSum += loss * float64(len(part))
			correct += c
		}

		stats := EpochStats{
			Epoch:   epoch,
			Loss:    lossSum / float64(len(train)),
			Acc:     float64(correct) / float64(len(train)),
			ValLoss: math.NaN(),
			ValAcc:  math.NaN(),
		}
		if len(val) > 0 {
			valLoss, valAcc, err := n.evaluate(x, y, val)
			if err != nil {
				return history, err
			}
			stats.ValLoss, stats.ValAcc = valLoss, valAcc
		}
		history = append(history, stats)
		if opts.OnEpoch != nil {
			opts.OnEpoch(stats)
		}
	}
	return history, nil
}
