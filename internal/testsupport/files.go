package testsupport

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"voxguard/internal/fileutil"
)

// WriteWAV encodes mono 16-bit PCM samples in [-1, 1] to path.
func WriteWAV(t testing.TB, path string, sampleRate int, samples []float64) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	data := make([]int, len(samples))
	for i, sample := range samples {
		sample = math.Max(-1, math.Min(1, sample))
		data[i] = int(sample * 32767.0)
	}
	encoder := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := encoder.Write(buf); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	if err := encoder.Close(); err != nil {
		t.Fatalf("close encoder %s: %v", path, err)
	}
}

// Tone returns seconds of a sine wave at freq Hz with the given amplitude.
func Tone(sampleRate int, seconds, freq, amplitude float64) []float64 {
	n := int(float64(sampleRate) * seconds)
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

// WriteFeatureFile writes a feature vector of length n filled with value into
// the active pool for label and returns its path.
func WriteFeatureFile(t testing.TB, dataDir, label, name string, n int, value float64) string {
	t.Helper()

	vec := make([]float64, n)
	for i := range vec {
		vec[i] = value
	}
	path := filepath.Join(dataDir, label, name)
	if err := fileutil.WriteJSONAtomic(path, vec); err != nil {
		t.Fatalf("write feature file %s: %v", path, err)
	}
	return path
}

// WriteFile writes raw bytes to path, creating parent directories.
func WriteFile(t testing.TB, path string, content []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
