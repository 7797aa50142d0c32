package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// MFCC computes mel-frequency cepstral coefficients for fixed-size frames.
// An MFCC value is not safe for concurrent use; the FFT plan and scratch
// buffers are reused between calls.
type MFCC struct {
	frameSize    int
	coefficients int
	window       []float64
	filters      [][]float64
	dct          [][]float64
	fft          *fourier.FFT

	windowed []float64
	power    []float64
	logMel   []float64
	spectrum []complex128
}

// NewMFCC prepares the window, filterbank and DCT tables.
func NewMFCC(frameSize, sampleRate, melBands, coefficients int) (*MFCC, error) {
	switch {
	case frameSize < 4 || frameSize&(frameSize-1) != 0:
		return nil, fmt.Errorf("mfcc: frame size %d must be a power of two >= 4", frameSize)
	case sampleRate <= 0:
		return nil, fmt.Errorf("mfcc: sample rate must be positive")
	case melBands <= 0 || melBands > frameSize/2:
		return nil, fmt.Errorf("mfcc: mel bands %d out of range", melBands)
	case coefficients <= 0 || coefficients > melBands:
		return nil, fmt.Errorf("mfcc: coefficients %d must be within 1..%d", coefficients, melBands)
	}
	bins := frameSize / 2
	return &MFCC{
		frameSize:    frameSize,
		coefficients: coefficients,
		window:       hannWindow(frameSize),
		filters:      melFilterBank(melBands, frameSize, sampleRate),
		dct:          dctTable(melBands, coefficients),
		fft:          fourier.NewFFT(frameSize),
		windowed:     make([]float64, frameSize),
		power:        make([]float64, bins),
		logMel:       make([]float64, melBands),
		spectrum:     make([]complex128, bins+1),
	}, nil
}

// Coefficients returns the number of values Compute produces per frame.
func (m *MFCC) Coefficients() int { return m.coefficients }

// Compute returns the coefficients for one frame of exactly frameSize
// samples. ok is false for a silent frame or when any coefficient is not
// finite; such frames carry no usable signal and are dropped by callers.
func (m *MFCC) Compute(frame []float64) (coeffs []float64, ok bool) {
	if len(frame) != m.frameSize {
		return nil, false
	}
	for i, sample := range frame {
		m.windowed[i] = sample * m.window[i]
	}
	m.spectrum = m.fft.Coefficients(m.spectrum, m.windowed)

	var total float64
	for k := range m.power {
		c := m.spectrum[k]
		p := real(c)*real(c) + imag(c)*imag(c)
		m.power[k] = p
		total += p
	}
	if total == 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return nil, false
	}

	for b, filter := range m.filters {
		var energy float64
		for k, weight := range filter {
			if weight != 0 {
				energy += weight * m.power[k]
			}
		}
		m.logMel[b] = math.Log1p(energy)
	}

	coeffs = make([]float64, m.coefficients)
	for k, basis := range m.dct {
		var sum float64
		for n, cos := range basis {
			sum += m.logMel[n] * cos
		}
		v := 2 * sum
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		coeffs[k] = v
	}
	return coeffs, true
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melFilterBank builds triangular filters spanning 0 Hz to Nyquist over the
// frameSize/2 power-spectrum bins. Returns [bands][frameSize/2].
func melFilterBank(bands, frameSize, sampleRate int) [][]float64 {
	bins := frameSize / 2
	highMel := hzToMel(float64(sampleRate) / 2)

	edges := make([]int, bands+2)
	step := highMel / float64(bands+1)
	for i := range edges {
		hz := melToHz(float64(i) * step)
		bin := int(math.Floor(float64(frameSize+1) * hz / float64(sampleRate)))
		if bin >= bins {
			bin = bins - 1
		}
		edges[i] = bin
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			edges[i] = edges[i-1] + 1
		}
	}

	bank := make([][]float64, bands)
	for b := range bank {
		filter := make([]float64, bins)
		left, center, right := edges[b], edges[b+1], edges[b+2]
		for k := left; k < center && k < bins; k++ {
			filter[k] = float64(k-left) / float64(center-left)
		}
		for k := center; k <= right && k < bins; k++ {
			filter[k] = float64(right-k) / float64(right-center)
		}
		bank[b] = filter
	}
	return bank
}

// dctTable holds cos(pi*(2n+1)*k / 2N) for the first count output terms.
func dctTable(n, count int) [][]float64 {
	table := make([][]float64, count)
	for k := range table {
		row := make([]float64, n)
		for i := range row {
			row[i] = math.Cos(math.Pi * float64(k) * float64(2*i+1) / float64(2*n))
		}
		table[k] = row
	}
	return table
}
