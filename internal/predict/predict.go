// Package predict classifies a single audio file by segmenting it, scoring
// every chunk with the persisted model and averaging the per-chunk scores.
package predict

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"voxguard/internal/config"
	"voxguard/internal/dataset"
	"voxguard/internal/features"
	"voxguard/internal/logging"
	"voxguard/internal/model"
	"voxguard/internal/normalize"
	"voxguard/internal/segment"
	"voxguard/internal/services"
	"voxguard/internal/staging"
)

// Scores holds the class probabilities for one chunk.
type Scores struct {
	Real float64
	Fake float64
}

// Verdict is the aggregated classification of a file.
type Verdict struct {
	Label   dataset.Label
	AvgReal float64
	AvgFake float64
	Chunks  int
	// Skipped counts chunks that could not be decoded.
	Skipped int
}

// Aggregate averages per-chunk scores. REAL wins only when its average is
// strictly higher; ties go to FAKE.
func Aggregate(scores []Scores) (Verdict, error) {
	if len(scores) == 0 {
		return Verdict{}, services.Wrap(services.ErrNoAudioData, "predict", "aggregate", "no chunks produced", nil)
	}
	var sumReal, sumFake float64
	for _, s := range scores {
		sumReal += s.Real
		sumFake += s.Fake
	}
	n := float64(len(scores))
	v := Verdict{
		AvgReal: sumReal / n,
		AvgFake: sumFake / n,
		Chunks:  len(scores),
		Label:   dataset.LabelFake,
	}
	if v.AvgReal > v.AvgFake {
		v.Label = dataset.LabelReal
	}
	return v, nil
}

// Predictor runs the inference pipeline.
type Predictor struct {
	cfg       *config.Config
	segmenter segment.Segmenter
	extractor *features.Extractor
	stats     *normalize.Store
	logger    *slog.Logger
}

// New builds a predictor around the given segmenter.
func New(cfg *config.Config, segmenter segment.Segmenter, logger *slog.Logger) (*Predictor, error) {
	logger = logging.NewComponentLogger(logger, "predict")
	extractor, err := features.NewExtractor(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Predictor{
		cfg:       cfg,
		segmenter: segmenter,
		extractor: extractor,
		stats:     normalize.NewStore(cfg.Paths.StatsDir),
		logger:    logger,
	}, nil
}

// Predict classifies the audio file at path. Stats and model must exist.
func (p *Predictor) Predict(ctx context.Context, path string) (Verdict, error) {
	logger := logging.WithContext(ctx, p.logger).With(logging.String(logging.FieldPath, path))

	if _, err := os.Stat(path); err != nil {
		return Verdict{}, services.Wrap(services.ErrNotFound, "predict", "open input", path, err)
	}
	maxLen := p.cfg.Audio.MaxLen
	stats, err := p.stats.Load(maxLen)
	if err != nil {
		return Verdict{}, err
	}
	net, err := model.Load(p.cfg.Paths.ModelDir, p.cfg.Model.Seed)
	if err != nil {
		return Verdict{}, err
	}
	if net.InputDim() != maxLen {
		return Verdict{}, services.Wrap(services.ErrValidation, "predict", "load model",
			fmt.Sprintf("model expects %d values, feature length is %d", net.InputDim(), maxLen), nil)
	}

	workDir, err := staging.NewWorkDir(p.cfg.Paths.TempDir, staging.KindPredict)
	if err != nil {
		return Verdict{}, err
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn("remove chunk dir failed", logging.String("dir", workDir), logging.Error(err))
		}
	}()

	chunks, err := p.segmenter.Segment(ctx, path, segment.SanitizeName(path), p.cfg.Audio.ChunkSeconds, workDir)
	if err != nil {
		return Verdict{}, err
	}

	inputs := make([][]float64, 0, len(chunks))
	skipped := 0
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return Verdict{}, err
		}
		frames, err := p.extractor.Extract(chunk)
		if err != nil {
			skipped++
			logging.WarnWithContext(logger, "chunk extraction failed", "chunk_skipped",
				logging.String("chunk", chunk),
				logging.Error(err),
				logging.String(logging.FieldImpact, "chunk excluded from the verdict"),
			)
			continue
		}
		normalized, err := stats.Apply(features.Vectorize(frames, maxLen))
		if err != nil {
			return Verdict{}, err
		}
		inputs = append(inputs, normalized)
	}
	if len(inputs) == 0 {
		return Verdict{}, services.Wrap(services.ErrNoAudioData, "predict", "segment",
			fmt.Sprintf("%s produced no usable chunks", path), nil)
	}

	probs, err := net.Predict(inputs)
	if err != nil {
		return Verdict{}, err
	}
	scores := make([]Scores, len(probs))
	realCol, fakeCol := dataset.LabelReal.Index(), dataset.LabelFake.Index()
	for i, row := range probs {
		scores[i] = Scores{Real: row[realCol], Fake: row[fakeCol]}
		logger.Debug("chunk scored",
			logging.Int("chunk", i),
			logging.Float64("real", scores[i].Real),
			logging.Float64("fake", scores[i].Fake),
		)
	}

	verdict, err := Aggregate(scores)
	if err != nil {
		return Verdict{}, err
	}
	verdict.Skipped = skipped
	logger.Info("prediction finished",
		logging.String("verdict", string(verdict.Label)),
		logging.Float64("avg_real", verdict.AvgReal),
		logging.Float64("avg_fake", verdict.AvgFake),
		logging.Int("chunks", verdict.Chunks),
		logging.Int("skipped", verdict.Skipped),
	)
	return verdict, nil
}
