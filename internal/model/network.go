package model

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"voxguard/internal/services"
)

// Classes is the width of the softmax output: column 0 real, column 1 fake.
const Classes = 2

const (
	batchNormEpsilon  = 1e-3
	batchNormMomentum = 0.99
	inferenceBatch    = 256
)

// Options are the hyperparameters of the classifier.
type Options struct {
	L2      float64
	Dropout float64
	// Seed fixes weight initialisation and dropout masks when non-zero.
	Seed int64
}

// Network is a sequential stack of layers.
type Network struct {
	inputDim  int
	layers    []layer
	rng       *rand.Rand
	optimizer *Adam
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	s := uint64(seed)
	return rand.New(rand.NewPCG(s, s*0x9e3779b97f4a7c15+1))
}

// NewClassifier builds the detector topology:
//
//	dense(512, relu, L2) → batchnorm → dropout
//	dense(256, relu)     → batchnorm → dropout
//	dense(64, relu)      → dense(2, softmax)
func NewClassifier(inputDim int, opts Options) (*Network, error) {
	if inputDim <= 0 {
		return nil, services.Wrap(services.ErrValidation, "model", "build", "input dimension must be positive", nil)
	}
	if opts.Dropout < 0 || opts.Dropout >= 1 {
		return nil, services.Wrap(services.ErrValidation, "model", "build", "dropout must be in [0, 1)", nil)
	}
	rng := newRand(opts.Seed)
	layers := []layer{
		newDense("dense_1", inputDim, 512, activationReLU, opts.L2, rng),
		newBatchNorm("batch_normalization_1", 512, batchNormEpsilon, batchNormMomentum),
		newDropout("dropout_1", 512, opts.Dropout, rng),
		newDense("dense_2", 512, 256, activationReLU, 0, rng),
		newBatchNorm("batch_normalization_2", 256, batchNormEpsilon, batchNormMomentum),
		newDropout("dropout_2", 256, opts.Dropout, rng),
		newDense("dense_3", 256, 64, activationReLU, 0, rng),
		newDense("dense_4", 64, Classes, activationSoftmax, 0, rng),
	}
	return &Network{inputDim: inputDim, layers: layers, rng: rng}, nil
}

// InputDim returns the feature vector length the network accepts.
func (n *Network) InputDim() int { return n.inputDim }

// Compile attaches a fresh Adam optimiser and discards any moment estimates.
func (n *Network) Compile(learningRate float64) {
	n.optimizer = NewAdam(learningRate)
	for _, p := range n.params() {
		p.m, p.v = nil, nil
	}
}

// ParamCount returns the number of scalar weights, trainable or not.
func (n *Network) ParamCount() int {
	total := 0
	for _, p := range n.params() {
		r, c := p.Value.Dims()
		total += r * c
	}
	return total
}

// Layers describes the topology in order.
func (n *Network) Layers() []LayerConfig {
	out := make([]LayerConfig, len(n.layers))
	for i, l := range n.layers {
		out[i] = l.config()
	}
	return out
}

func (n *Network) params() []*Param {
	var out []*Param
	for _, l := range n.layers {
		out = append(out, l.params()...)
	}
	return out
}

func (n *Network) forward(x *mat.Dense, training bool) *mat.Dense {
	out := x
	for _, l := range n.layers {
		out = l.forward(out, training)
	}
	return out
}

func (n *Network) penalty() float64 {
	var total float64
	for _, l := range n.layers {
		total += l.penalty()
	}
	return total
}

// trainStep runs one forward/backward pass and an optimiser update. It
// returns the batch loss including regularisation and the correct count.
func (n *Network) trainStep(x, y *mat.Dense) (float64, int) {
	probs := n.forward(x, true)
	loss, correct := crossEntropy(probs, y)
	grad := logitGradient(probs, y)
	for i := len(n.layers) - 1; i >= 0; i-- {
		grad = n.layers[i].backward(grad, i > 0)
	}
	n.optimizer.apply(n.params())
	return loss + n.penalty(), correct
}

// Predict returns one softmax row per input vector.
func (n *Network) Predict(x [][]float64) ([][]float64, error) {
	if err := n.checkInputs(x); err != nil {
		return nil, err
	}
	out := make([][]float64, 0, len(x))
	for start := 0; start < len(x); start += inferenceBatch {
		end := min(start+inferenceBatch, len(x))
		probs := n.forward(toDense(x, indexRange(start, end), n.inputDim), false)
		for i := 0; i < end-start; i++ {
			out = append(out, append([]float64(nil), probs.RawRowView(i)...))
		}
	}
	return out, nil
}

// Evaluate returns the regularised loss and accuracy in inference mode.
func (n *Network) Evaluate(x, y [][]float64) (loss, accuracy float64, err error) {
	if err := n.checkPairs(x, y); err != nil {
		return 0, 0, err
	}
	return n.evaluate(x, y, indexRange(0, len(x)))
}

func (n *Network) evaluate(x, y [][]float64, idx []int) (float64, float64, error) {
	if len(idx) == 0 {
		return 0, 0, services.Wrap(services.ErrValidation, "model", "evaluate", "no samples", nil)
	}
	var (
		lossSum float64
		correct int
	)
	for start := 0; start < len(idx); start += inferenceBatch {
		end := min(start+inferenceBatch, len(idx))
		part := idx[start:end]
		probs := n.forward(toDense(x, part, n.inputDim), false)
		loss, c := crossEntropy(probs, toDense(y, part, Classes))
		lossSum += loss * float64(len(part))
		correct += c
	}
	total := float64(len(idx))
	return lossSum/total + n.penalty(), float64(correct) / total, nil
}

func (n *Network) checkInputs(x [][]float64) error {
	if len(x) == 0 {
		return services.Wrap(services.ErrValidation, "model", "input", "no samples", nil)
	}
	for i, row := range x {
		if len(row) != n.inputDim {
			return services.Wrap(services.ErrValidation, "model", "input",
				fmt.Sprintf("row %d has %d values, want %d", i, len(row), n.inputDim), nil)
		}
	}
	return nil
}

func (n *Network) checkPairs(x, y [][]float64) error {
	if err := n.checkInputs(x); err != nil {
		return err
	}
	if len(y) != len(x) {
		return services.Wrap(services.ErrValidation, "model", "input",
			fmt.Sprintf("%d samples but %d labels", len(x), len(y)), nil)
	}
	for i, row := range y {
		if len(row) != Classes {
			return services.Wrap(services.ErrValidation, "model", "input",
				fmt.Sprintf("label row %d has %d columns, want %d", i, len(row), Classes), nil)
		}
	}
	return nil
}

// toDense copies the selected rows into a new matrix.
func toDense(rows [][]float64, idx []int, cols int) *mat.Dense {
	data := make([]float64, 0, len(idx)*cols)
	for _, i := range idx {
		data = append(data, rows[i]...)
	}
	return mat.NewDense(len(idx), cols, data)
}

func indexRange(start, end int) []int {
	idx := make([]int, end-start)
	for i := range idx {
		idx[i] = start + i
	}
	return idx
}
