package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	activationReLU    = "relu"
	activationSoftmax = "softmax"
	activationLinear  = "linear"

	layerDense     = "dense"
	layerBatchNorm = "batch_norm"
	layerDropout   = "dropout"
)

// Param is one weight tensor with its gradient and optimiser state.
type Param struct {
	Name      string
	Value     *mat.Dense
	Grad      *mat.Dense
	Trainable bool

	m, v []float64
}

func newParam(name string, rows, cols int, data []float64, trainable bool) *Param {
	p := &Param{Name: name, Value: mat.NewDense(rows, cols, data), Trainable: trainable}
	if trainable {
		p.Grad = mat.NewDense(rows, cols, nil)
	}
	return p
}

// LayerConfig is the serialised description of one layer.
type LayerConfig struct {
	Type       string  `json:"type"`
	Name       string  `json:"name"`
	Units      int     `json:"units,omitempty"`
	Activation string  `json:"activation,omitempty"`
	L2         float64 `json:"l2,omitempty"`
	Rate       float64 `json:"rate,omitempty"`
	Epsilon    float64 `json:"epsilon,omitempty"`
	Momentum   float64 `json:"momentum,omitempty"`
}

type layer interface {
	forward(x *mat.Dense, training bool) *mat.Dense
	// backward consumes dL/d(output) and returns dL/d(input) when needInput
	// is set. Gradients of the layer's own params are overwritten.
	backward(grad *mat.Dense, needInput bool) *mat.Dense
	params() []*Param
	config() LayerConfig
	outputDim() int
	// penalty returns the regularisation term added to the loss.
	penalty() float64
}

type dense struct {
	name       string
	in, units  int
	activation string
	l2         float64
	kernel     *Param
	bias       *Param

	input  *mat.Dense
	output *mat.Dense
}

// newDense uses Glorot-uniform kernels and zero biases.
func newDense(name string, in, units int, activation string, l2 float64, rng *rand.Rand) *dense {
	limit := math.Sqrt(6 / float64(in+units))
	weights := make([]float64, in*units)
	for i := range weights {
		weights[i] = (rng.Float64()*2 - 1) * limit
	}
	return &dense{
		name:       name,
		in:         in,
		units:      units,
		activation: activation,
		l2:         l2,
		kernel:     newParam(name+"/kernel", in, units, weights, true),
		bias:       newParam(name+"/bias", 1, units, nil, true),
	}
}

func (d *dense) forward(x *mat.Dense, training bool) *mat.Dense {
	rows, _ := x.Dims()
	out := mat.NewDense(rows, d.units, nil)
	out.Mul(x, d.kernel.Value)
	bias := d.bias.Value.RawRowView(0)
	for i := 0; i < rows; i++ {
		row := out.RawRowView(i)
		floats.Add(row, bias)
		switch d.activation {
		case activationReLU:
			for j, v := range row {
				if v < 0 {
					row[j] = 0
				}
			}
		case activationSoftmax:
			softmax(row)
		}
	}
	if training {
		d.input = x
		d.output = out
	}
	return out
}

// backward treats grad as the logit gradient for a softmax layer; the loss
// folds the softmax Jacobian into (p - y).
func (d *dense) backward(grad *mat.Dense, needInput bool) *mat.Dense {
	rows, _ := grad.Dims()
	delta := mat.DenseCopyOf(grad)
	if d.activation == activationReLU {
		for i := 0; i < rows; i++ {
			out := d.output.RawRowView(i)
			row := delta.RawRowView(i)
			for j := range row {
				if out[j] <= 0 {
					row[j] = 0
				}
			}
		}
	}

	d.kernel.Grad.Mul(d.input.T(), delta)
	if d.l2 > 0 {
		floats.AddScaled(d.kernel.Grad.RawMatrix().Data, 2*d.l2, d.kernel.Value.RawMatrix().Data)
	}
	biasGrad := d.bias.Grad.RawRowView(0)
	for j := range biasGrad {
		biasGrad[j] = 0
	}
	for i := 0; i < rows; i++ {
		floats.Add(biasGrad, delta.RawRowView(i))
	}

	if !needInput {
		return nil
	}
	dx := mat.NewDense(rows, d.in, nil)
	dx.Mul(delta, d.kernel.Value.T())
	return dx
}

func (d *dense) params() []*Param { return []*Param{d.kernel, d.bias} }

func (d *dense) outputDim() int { return d.units }

func (d *dense) penalty() float64 {
	if d.l2 == 0 {
		return 0
	}
	w := d.kernel.Value.RawMatrix().Data
	return d.l2 * floats.Dot(w, w)
}

func (d *dense) config() LayerConfig {
	return LayerConfig{Type: layerDense, Name: d.name, Units: d.units, Activation: d.activation, L2: d.l2}
}

type batchNorm struct {
	name     string
	dim      int
	epsilon  float64
	momentum float64

	gamma      *Param
	beta       *Param
	movingMean *Param
	movingVar  *Param

	xhat   *mat.Dense
	invStd []float64
}

func newBatchNorm(name string, dim int, epsilon, momentum float64) *batchNorm {
	ones := make([]float64, dim)
	for i := range ones {
		ones[i] = 1
	}
	return &batchNorm{
		name:       name,
		dim:        dim,
		epsilon:    epsilon,
		momentum:   momentum,
		gamma:      newParam(name+"/gamma", 1, dim, append([]float64(nil), ones...), true),
		beta:       newParam(name+"/beta", 1, dim, nil, true),
		movingMean: newParam(name+"/moving_mean", 1, dim, nil, false),
		movingVar:  newParam(name+"/moving_variance", 1, dim, ones, false),
	}
}

func (b *batchNorm) forward(x *mat.Dense, training bool) *mat.Dense {
	rows, _ := x.Dims()
	gamma := b.gamma.Value.RawRowView(0)
	beta := b.beta.Value.RawRowView(0)
	out := mat.NewDense(rows, b.dim, nil)

	if !training {
		mean := b.movingMean.Value.RawRowView(0)
		variance := b.movingVar.Value.RawRowView(0)
		for i := 0; i < rows; i++ {
			in, row := x.RawRowView(i), out.RawRowView(i)
			for j := range row {
				row[j] = gamma[j]*(in[j]-mean[j])/math.Sqrt(variance[j]+b.epsilon) + beta[j]
			}
		}
		return out
	}

	mean := make([]float64, b.dim)
	variance := make([]float64, b.dim)
	for i := 0; i < rows; i++ {
		floats.Add(mean, x.RawRowView(i))
	}
	floats.Scale(1/float64(rows), mean)
	for i := 0; i < rows; i++ {
		in := x.RawRowView(i)
		for j := range variance {
			d := in[j] - mean[j]
			variance[j] += d * d
		}
	}
	floats.Scale(1/float64(rows), variance)

	b.invStd = make([]float64, b.dim)
	for j := range b.invStd {
		b.invStd[j] = 1 / math.Sqrt(variance[j]+b.epsilon)
	}
	b.xhat = mat.NewDense(rows, b.dim, nil)
	for i := 0; i < rows; i++ {
		in, xh, row := x.RawRowView(i), b.xhat.RawRowView(i), out.RawRowView(i)
		for j := range row {
			xh[j] = (in[j] - mean[j]) * b.invStd[j]
			row[j] = gamma[j]*xh[j] + beta[j]
		}
	}

	movingMean := b.movingMean.Value.RawRowView(0)
	movingVar := b.movingVar.Value.RawRowView(0)
	for j := range movingMean {
		movingMean[j] = movingMean[j]*b.momentum + mean[j]*(1-b.momentum)
		movingVar[j] = movingVar[j]*b.momentum + variance[j]*(1-b.momentum)
	}
	return out
}

func (b *batchNorm) backward(grad *mat.Dense, needInput bool) *mat.Dense {
	rows, _ := grad.Dims()
	gamma := b.gamma.Value.RawRowView(0)
	dGamma := b.gamma.Grad.RawRowView(0)
	dBeta := b.beta.Grad.RawRowView(0)
	for j := range dGamma {
		dGamma[j], dBeta[j] = 0, 0
	}
	for i := 0; i < rows; i++ {
		g, xh := grad.RawRowView(i), b.xhat.RawRowView(i)
		for j := range g {
			dGamma[j] += g[j] * xh[j]
			dBeta[j] += g[j]
		}
	}
	if !needInput {
		return nil
	}

	// dx = invStd/N * (N*dxhat - sum(dxhat) - xhat*sum(dxhat*xhat)), with
	// dxhat = grad*gamma, so the two sums are gamma*dBeta and gamma*dGamma.
	n := float64(rows)
	dx := mat.NewDense(rows, b.dim, nil)
	for i := 0; i < rows; i++ {
		g, xh, row := grad.RawRowView(i), b.xhat.RawRowView(i), dx.RawRowView(i)
		for j := range row {
			dxhat := g[j] * gamma[j]
			row[j] = b.invStd[j] / n * (n*dxhat - gamma[j]*dBeta[j] - xh[j]*gamma[j]*dGamma[j])
		}
	}
	return dx
}

func (b *batchNorm) params() []*Param {
	return []*Param{b.gamma, b.beta, b.movingMean, b.movingVar}
}

func (b *batchNorm) outputDim() int { return b.dim }

func (b *batchNorm) penalty() float64 { return 0 }

func (b *batchNorm) config() LayerConfig {
	return LayerConfig{Type: layerBatchNorm, Name: b.name, Units: b.dim, Epsilon: b.epsilon, Momentum: b.momentum}
}

type dropout struct {
	name string
	dim  int
	rate float64
	rng  *rand.Rand
	mask *mat.Dense
}

func newDropout(name string, dim int, rate float64, rng *rand.Rand) *dropout {
	return &dropout{name: name, dim: dim, rate: rate, rng: rng}
}

// forward applies inverted dropout: kept units are scaled by 1/(1-rate) so
// inference is the identity.
func (d *dropout) forward(x *mat.Dense, training bool) *mat.Dense {
	if !training || d.rate == 0 {
		d.mask = nil
		return x
	}
	rows, cols := x.Dims()
	keep := 1 / (1 - d.rate)
	d.mask = mat.NewDense(rows, cols, nil)
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		in, m, row := x.RawRowView(i), d.mask.RawRowView(i), out.RawRowView(i)
		for j := range row {
			if d.rng.Float64() >= d.rate {
				m[j] = keep
				row[j] = in[j] * keep
			}
		}
	}
	return out
}

func (d *dropout) backward(grad *mat.Dense, needInput bool) *mat.Dense {
	if !needInput {
		return nil
	}
	if d.mask == nil {
		return grad
	}
	var dx mat.Dense
	dx.MulElem(grad, d.mask)
	return &dx
}

func (d *dropout) params() []*Param { return nil }

func (d *dropout) outputDim() int { return d.dim }

func (d *dropout) penalty() float64 { return 0 }

func (d *dropout) config() LayerConfig {
	return LayerConfig{Type: layerDropout, Name: d.name, Units: d.dim, Rate: d.rate}
}

func softmax(row []float64) {
	maxV := floats.Max(row)
	var sum float64
	for j, v := range row {
		e := math.Exp(v - maxV)
		row[j] = e
		sum += e
	}
	floats.Scale(1/sum, row)
}

func checkConfig(cfg LayerConfig) error {
	switch cfg.Type {
	case layerDense:
		switch cfg.Activation {
		case activationReLU, activationSoftmax, activationLinear, "":
		default:
			return fmt.Errorf("layer %s: unsupported activation %q", cfg.Name, cfg.Activation)
		}
		if cfg.Units <= 0 {
			return fmt.Errorf("layer %s: units must be positive", cfg.Name)
		}
	case layerBatchNorm:
		if cfg.Epsilon <= 0 || cfg.Momentum <= 0 || cfg.Momentum >= 1 {
			return fmt.Errorf("layer %s: invalid batch norm settings", cfg.Name)
		}
	case layerDropout:
		if cfg.Rate < 0 || cfg.Rate >= 1 {
			return fmt.Errorf("layer %s: dropout rate must be in [0, 1)", cfg.Name)
		}
	default:
		return fmt.Errorf("layer %s: unknown type %q", cfg.Name, cfg.Type)
	}
	return nil
}
