package predict_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"voxguard/internal/config"
	"voxguard/internal/dataset"
	"voxguard/internal/logging"
	"voxguard/internal/model"
	"voxguard/internal/normalize"
	"voxguard/internal/predict"
	"voxguard/internal/services"
	"voxguard/internal/testsupport"
)

const (
	testMaxLen = 16
	testRate   = 8000
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name    string
		scores  []predict.Scores
		real    float64
		fake    float64
		label   dataset.Label
		wantErr error
	}{
		{
			name:   "mean of chunks",
			scores: []predict.Scores{{Real: 0.9, Fake: 0.1}, {Real: 0.7, Fake: 0.3}},
			real:   0.8,
			fake:   0.2,
			label:  dataset.LabelReal,
		},
		{
			name:   "fake majority",
			scores: []predict.Scores{{Real: 0.2, Fake: 0.8}},
			real:   0.2,
			fake:   0.8,
			label:  dataset.LabelFake,
		},
		{
			name:   "tie goes to fake",
			scores: []predict.Scores{{Real: 0.5, Fake: 0.5}},
			real:   0.5,
			fake:   0.5,
			label:  dataset.LabelFake,
		},
		{
			name:    "no chunks",
			wantErr: services.ErrNoAudioData,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, err := predict.Aggregate(tc.scores)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Aggregate: %v", err)
			}
			if math.Abs(v.AvgReal-tc.real) > 1e-12 || math.Abs(v.AvgFake-tc.fake) > 1e-12 {
				t.Fatalf("averages = (%v, %v), want (%v, %v)", v.AvgReal, v.AvgFake, tc.real, tc.fake)
			}
			if v.Label != tc.label || v.Chunks != len(tc.scores) {
				t.Fatalf("unexpected verdict %+v", v)
			}
		})
	}
}

// stubSegmenter writes pre-rendered chunks into the output directory.
type stubSegmenter struct {
	chunks map[string][]byte
	calls  int
	outDir string
}

func (s *stubSegmenter) Segment(_ context.Context, _, name string, _ int, outDir string) ([]string, error) {
	s.calls++
	s.outDir = outDir
	var paths []string
	for suffix, data := range s.chunks {
		path := filepath.Join(outDir, name+suffix)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func newConfig(t *testing.T) *config.Config {
	t.Helper()
	return testsupport.NewConfig(t,
		testsupport.WithMaxLen(testMaxLen),
		testsupport.WithAudio(512, testRate),
	)
}

func writeArtifacts(t *testing.T, cfg *config.Config) {
	t.Helper()
	stats := normalize.Stats{Mean: make([]float64, testMaxLen), Std: make([]float64, testMaxLen)}
	for i := range stats.Std {
		stats.Std[i] = 1
	}
	if err := normalize.NewStore(cfg.Paths.StatsDir).Save(stats); err != nil {
		t.Fatalf("save stats: %v", err)
	}
	net, err := model.NewClassifier(testMaxLen, model.Options{L2: 0.001, Dropout: 0.3, Seed: 5})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	if err := net.Save(cfg.Paths.ModelDir); err != nil {
		t.Fatalf("save model: %v", err)
	}
}

func wavBytes(t *testing.T, freq float64) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	testsupport.WriteWAV(t, path, testRate, testsupport.Tone(testRate, 0.5, freq, 0.5))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return data
}

func inputFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp3")
	testsupport.WriteFile(t, path, []byte("not really audio"))
	return path
}

func TestPredictAveragesChunksAndSkipsBrokenOnes(t *testing.T) {
	cfg := newConfig(t)
	writeArtifacts(t, cfg)
	seg := &stubSegmenter{chunks: map[string][]byte{
		"_000.wav": wavBytes(t, 440),
		"_001.wav": wavBytes(t, 880),
		"_002.wav": []byte("garbage"),
	}}
	p, err := predict.New(cfg, seg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	v, err := p.Predict(context.Background(), inputFile(t))
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if v.Chunks != 2 || v.Skipped != 1 {
		t.Fatalf("unexpected chunk counts %+v", v)
	}
	if math.Abs(v.AvgReal+v.AvgFake-1) > 1e-6 {
		t.Fatalf("averages should sum to one: %+v", v)
	}
	wantLabel := dataset.LabelFake
	if v.AvgReal > v.AvgFake {
		wantLabel = dataset.LabelReal
	}
	if v.Label != wantLabel {
		t.Fatalf("label %s does not match averages %+v", v.Label, v)
	}
	if _, err := os.Stat(seg.outDir); !os.IsNotExist(err) {
		t.Fatalf("chunk dir should be removed, stat err = %v", err)
	}
}

func TestPredictWithoutChunksReportsNoAudioData(t *testing.T) {
	cfg := newConfig(t)
	writeArtifacts(t, cfg)
	p, err := predict.New(cfg, &stubSegmenter{}, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Predict(context.Background(), inputFile(t)); !errors.Is(err, services.ErrNoAudioData) {
		t.Fatalf("expected ErrNoAudioData, got %v", err)
	}
}

func TestPredictRequiresArtifacts(t *testing.T) {
	cfg := newConfig(t)
	seg := &stubSegmenter{}
	p, err := predict.New(cfg, seg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Predict(context.Background(), inputFile(t))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if seg.calls != 0 {
		t.Fatal("segmenter should not run without stats and model")
	}
}

func TestPredictMissingInput(t *testing.T) {
	cfg := newConfig(t)
	writeArtifacts(t, cfg)
	p, err := predict.New(cfg, &stubSegmenter{}, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Predict(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
