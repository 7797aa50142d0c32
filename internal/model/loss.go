package model

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// probabilityClip bounds probabilities away from 0 and 1 before the log.
const probabilityClip = 1e-7

// crossEntropy returns the mean categorical cross-entropy of probs against
// one-hot targets and the number of rows whose argmax matches.
func crossEntropy(probs, targets *mat.Dense) (loss float64, correct int) {
	rows, _ := probs.Dims()
	for i := 0; i < rows; i++ {
		p, y := probs.RawRowView(i), targets.RawRowView(i)
		for j, target := range y {
			if target == 0 {
				continue
			}
			clipped := math.Min(math.Max(p[j], probabilityClip), 1-probabilityClip)
			loss -= target * math.Log(clipped)
		}
		if floats.MaxIdx(p) == floats.MaxIdx(y) {
			correct++
		}
	}
	return loss / float64(rows), correct
}

// logitGradient is dL/dz for softmax followed by mean cross-entropy.
func logitGradient(probs, targets *mat.Dense) *mat.Dense {
	rows, _ := probs.Dims()
	var grad mat.Dense
	grad.Sub(probs, targets)
	grad.Scale(1/float64(rows), &grad)
	return &grad
}
