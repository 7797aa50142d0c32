package model

import "math"

// Adam is the Adam optimiser with bias-corrected step size.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	step int
}

// NewAdam returns Adam with the usual defaults (β1 0.9, β2 0.999, ε 1e-7).
func NewAdam(learningRate float64) *Adam {
	return &Adam{LearningRate: learningRate, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-7}
}

func (a *Adam) apply(params []*Param) {
	a.step++
	t := float64(a.step)
	lr := a.LearningRate * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))
	for _, p := range params {
		if !p.Trainable {
			continue
		}
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		if p.m == nil {
			p.m = make([]float64, len(w))
			p.v = make([]float64, len(w))
		}
		for i, grad := range g {
			p.m[i] = a.Beta1*p.m[i] + (1-a.Beta1)*grad
			p.v[i] = a.Beta2*p.v[i] + (1-a.Beta2)*grad*grad
			w[i] -= lr * p.m[i] / (math.Sqrt(p.v[i]) + a.Epsilon)
		}
	}
}
