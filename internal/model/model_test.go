package model

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"voxguard/internal/services"
)

// separable returns n samples whose first feature decides the class.
func separable(n, dim int, seed uint64) ([][]float64, [][]float64) {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	x := make([][]float64, n)
	y := make([][]float64, n)
	for i := range x {
		class := i % 2
		row := make([]float64, dim)
		for j := range row {
			row[j] = rng.NormFloat64() * 0.1
		}
		if class == 0 {
			row[0] += 2
		} else {
			row[0] -= 2
		}
		x[i] = row
		y[i] = []float64{1 - float64(class), float64(class)}
	}
	return x, y
}

func TestClassifierTopology(t *testing.T) {
	net, err := NewClassifier(20, Options{L2: 0.001, Dropout: 0.3, Seed: 1})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	layers := net.Layers()
	want := []struct {
		typ   string
		units int
		act   string
	}{
		{layerDense, 512, activationReLU},
		{layerBatchNorm, 512, ""},
		{layerDropout, 512, ""},
		{layerDense, 256, activationReLU},
		{layerBatchNorm, 256, ""},
		{layerDropout, 256, ""},
		{layerDense, 64, activationReLU},
		{layerDense, 2, activationSoftmax},
	}
	if len(layers) != len(want) {
		t.Fatalf("expected %d layers, got %d", len(want), len(layers))
	}
	for i, w := range want {
		if layers[i].Type != w.typ || layers[i].Units != w.units || layers[i].Activation != w.act {
			t.Fatalf("layer %d = %+v, want %+v", i, layers[i], w)
		}
	}
	if layers[0].L2 != 0.001 || layers[3].L2 != 0 {
		t.Fatalf("expected L2 only on the first dense layer, got %v / %v", layers[0].L2, layers[3].L2)
	}
	if layers[2].Rate != 0.3 {
		t.Fatalf("unexpected dropout rate %v", layers[2].Rate)
	}
}

func TestPredictRowsAreDistributions(t *testing.T) {
	net, err := NewClassifier(8, Options{Dropout: 0.3, Seed: 3})
	if err != nil {
		t.Fatal(err)
	}
	x, _ := separable(5, 8, 1)
	probs, err := net.Predict(x)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for i, row := range probs {
		if len(row) != Classes {
			t.Fatalf("row %d has %d columns", i, len(row))
		}
		if sum := row[0] + row[1]; math.Abs(sum-1) > 1e-9 {
			t.Fatalf("row %d sums to %v", i, sum)
		}
	}
	if _, err := net.Predict([][]float64{{1, 2}}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for wrong width, got %v", err)
	}
}

func TestFitLearnsSeparableData(t *testing.T) {
	x, y := separable(128, 6, 42)
	net, err := NewClassifier(6, Options{L2: 0.001, Dropout: 0.3, Seed: 11})
	if err != nil {
		t.Fatal(err)
	}
	net.Compile(1e-3)

	var epochs []int
	history, err := net.Fit(context.Background(), x, y, FitOptions{
		Epochs:          40,
		BatchSize:       16,
		ValidationSplit: 0.2,
		Shuffle:         true,
		OnEpoch:         func(s EpochStats) { epochs = append(epochs, s.Epoch) },
	})
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if len(history) != 40 || len(epochs) != 40 || epochs[39] != 40 {
		t.Fatalf("unexpected history length %d / callbacks %v", len(history), epochs)
	}
	if !history[0].HasValidation() {
		t.Fatal("expected validation metrics with a split")
	}
	if history[39].Loss >= history[0].Loss {
		t.Fatalf("expected loss to decrease: first %v last %v", history[0].Loss, history[39].Loss)
	}

	loss, acc, err := net.Evaluate(x, y)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if acc < 0.9 {
		t.Fatalf("expected high accuracy on separable data, got %v (loss %v)", acc, loss)
	}
}

func TestFitRequiresCompile(t *testing.T) {
	net, _ := NewClassifier(4, Options{Seed: 1})
	x, y := separable(4, 4, 1)
	if _, err := net.Fit(context.Background(), x, y, FitOptions{Epochs: 1, BatchSize: 2}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestFitHonoursCancellation(t *testing.T) {
	net, _ := NewClassifier(4, Options{Seed: 1})
	net.Compile(1e-3)
	x, y := separable(8, 4, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := net.Fit(ctx, x, y, FitOptions{Epochs: 3, BatchSize: 4}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestFitValidationSplitTooLarge(t *testing.T) {
	net, _ := NewClassifier(4, Options{Seed: 1})
	net.Compile(1e-3)
	x, y := separable(1, 4, 1)
	if _, err := net.Fit(context.Background(), x, y, FitOptions{Epochs: 1, BatchSize: 4, ValidationSplit: 0.5}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	x, y := separable(32, 5, 9)
	net, _ := NewClassifier(5, Options{L2: 0.001, Dropout: 0.3, Seed: 5})
	net.Compile(1e-3)
	if _, err := net.Fit(context.Background(), x, y, FitOptions{Epochs: 2, BatchSize: 8, Shuffle: true}); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "model")
	if err := net.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !Exists(dir) {
		t.Fatal("expected manifest after save")
	}
	loaded, err := Load(dir, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.InputDim() != 5 || loaded.ParamCount() != net.ParamCount() {
		t.Fatalf("topology changed: dim %d params %d vs %d", loaded.InputDim(), loaded.ParamCount(), net.ParamCount())
	}

	want, _ := net.Predict(x)
	got, err := loaded.Predict(x)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for i := range want {
		for j := range want[i] {
			// Weights are stored as float32.
			if math.Abs(want[i][j]-got[i][j]) > 1e-4 {
				t.Fatalf("prediction %d,%d changed: %v vs %v", i, j, want[i][j], got[i][j])
			}
		}
	}

	loaded.Compile(1e-3)
	if _, err := loaded.Fit(context.Background(), x, y, FitOptions{Epochs: 1, BatchSize: 8}); err != nil {
		t.Fatalf("continued training failed: %v", err)
	}
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir, 0); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	net, _ := NewClassifier(3, Options{Seed: 1})
	if err := net.Save(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, WeightsFile), []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir, 0); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for truncated weights, got %v", err)
	}
}

func TestBatchNormGradientMatchesNumeric(t *testing.T) {
	bn := newBatchNorm("bn", 3, 1e-3, 0.99)
	bn.gamma.Value.SetRow(0, []float64{1.5, 0.5, 2})
	x := mat.NewDense(4, 3, []float64{
		0.1, 2, -1,
		0.4, 1, 0,
		-0.3, 0.5, 3,
		0.9, -1, 1,
	})
	weights := mat.NewDense(4, 3, []float64{
		1, -2, 0.5,
		0.3, 1, -1,
		2, 0.2, 0.7,
		-1, 0.4, 1.1,
	})
	objective := func(in *mat.Dense) float64 {
		out := bn.forward(in, true)
		var e mat.Dense
		e.MulElem(out, weights)
		return mat.Sum(&e)
	}

	objective(x)
	analytic := bn.backward(weights, true)

	const h = 1e-6
	for i := 0; i < 4; i++ {
		for j := 0; j < 3; j++ {
			plus := mat.DenseCopyOf(x)
			plus.Set(i, j, x.At(i, j)+h)
			minus := mat.DenseCopyOf(x)
			minus.Set(i, j, x.At(i, j)-h)
			numeric := (objective(plus) - objective(minus)) / (2 * h)
			if math.Abs(numeric-analytic.At(i, j)) > 1e-4 {
				t.Fatalf("dx[%d][%d] analytic %v numeric %v", i, j, analytic.At(i, j), numeric)
			}
		}
	}
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	p := newParam("w", 1, 2, []float64{1, 1}, true)
	p.Grad.SetRow(0, []float64{0.5, -3})
	NewAdam(0.01).apply([]*Param{p})
	got := p.Value.RawRowView(0)
	// The bias-corrected first step is lr * sign(g) up to epsilon.
	if math.Abs(got[0]-0.99) > 1e-6 || math.Abs(got[1]-1.01) > 1e-6 {
		t.Fatalf("unexpected first step %v", got)
	}
}
