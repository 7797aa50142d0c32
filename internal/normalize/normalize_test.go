package normalize_test

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"voxguard/internal/normalize"
	"voxguard/internal/services"
)

func TestFitPopulationMoments(t *testing.T) {
	features := [][]float64{{1, 5}, {3, 5}}
	stats, err := normalize.Fit(features, 1e-8)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if stats.Mean[0] != 2 || stats.Mean[1] != 5 {
		t.Fatalf("unexpected mean %v", stats.Mean)
	}
	if math.Abs(stats.Std[0]-(1+1e-8)) > 1e-15 {
		t.Fatalf("expected population std 1+eps, got %v", stats.Std[0])
	}
	if stats.Std[1] != 1e-8 {
		t.Fatalf("expected constant column std to equal eps, got %v", stats.Std[1])
	}
}

func TestApplyCentresTrainingData(t *testing.T) {
	features := [][]float64{{1, 10, -4}, {2, 20, -4}, {6, 60, -4}, {7, 30, -4}}
	stats, err := normalize.Fit(features, 1e-8)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	norm, err := stats.ApplyBatch(features)
	if err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	for j := 0; j < 3; j++ {
		var sum float64
		for i := range norm {
			sum += norm[i][j]
			if math.IsNaN(norm[i][j]) {
				t.Fatalf("NaN at %d,%d", i, j)
			}
		}
		if mean := sum / float64(len(norm)); math.Abs(mean) > 1e-9 {
			t.Fatalf("column %d mean %v, want ~0", j, mean)
		}
	}
	if features[0][0] != 1 {
		t.Fatal("ApplyBatch must not modify its input")
	}
}

func TestApplyRejectsWrongLength(t *testing.T) {
	stats := normalize.Stats{Mean: []float64{0, 0}, Std: []float64{1, 1}}
	if _, err := stats.Apply([]float64{1}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFitRejectsEmptyAndRagged(t *testing.T) {
	if _, err := normalize.Fit(nil, 1e-8); err == nil {
		t.Fatal("expected error for empty input")
	}
	if _, err := normalize.Fit([][]float64{{1, 2}, {1}}, 1e-8); err == nil {
		t.Fatal("expected error for ragged input")
	}
}

func TestStoreSaveLoadIsStable(t *testing.T) {
	store := normalize.NewStore(filepath.Join(t.TempDir(), "stats"))
	want := normalize.Stats{Mean: []float64{0.1, 1.0 / 3.0, -2e-7}, Std: []float64{1e-8, 2.5, math.Pi}}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !store.Exists() {
		t.Fatal("expected stats to exist after save")
	}
	first, err := store.Load(3)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	second, err := store.Load(3)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for i := range want.Mean {
		if first.Mean[i] != want.Mean[i] || first.Std[i] != want.Std[i] {
			t.Fatalf("round trip changed values: %v vs %v", first, want)
		}
		if math.Float64bits(first.Mean[i]) != math.Float64bits(second.Mean[i]) ||
			math.Float64bits(first.Std[i]) != math.Float64bits(second.Std[i]) {
			t.Fatal("loading twice produced different values")
		}
	}
	if _, err := store.Load(4); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected length mismatch error, got %v", err)
	}
}

func TestStoreLoadMissing(t *testing.T) {
	store := normalize.NewStore(t.TempDir())
	_, err := store.Load(0)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !strings.Contains(err.Error(), normalize.MeanFile) || !strings.Contains(err.Error(), "--override") {
		t.Fatalf("expected error to name the artifact and remedy, got %v", err)
	}
}
