package features

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"voxguard/internal/fileutil"
	"voxguard/internal/services"
)

// Vectorize flattens frames in time-then-coefficient order into a vector of
// exactly maxLen values. Excess values are dropped and missing ones are
// zero-filled; a non-finite value is stored as 0.
func Vectorize(frames [][]float64, maxLen int) []float64 {
	if maxLen <= 0 {
		return []float64{}
	}
	vec := make([]float64, maxLen)
	pos := 0
	for _, frame := range frames {
		for _, v := range frame {
			if pos == maxLen {
				return vec
			}
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				vec[pos] = v
			}
			pos++
		}
	}
	return vec
}

// WriteFeatureFile persists one vector as a JSON array.
func WriteFeatureFile(path string, vec []float64) error {
	if err := fileutil.WriteJSONAtomic(path, vec); err != nil {
		return fmt.Errorf("write feature file %s: %w", path, err)
	}
	return nil
}

// ReadFeatureFile loads a vector written by WriteFeatureFile. A file that is
// not a JSON number array is reported as services.ErrMalformedRecord.
func ReadFeatureFile(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature file %s: %w", path, err)
	}
	var vec []float64
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, services.Wrap(services.ErrMalformedRecord, "features", "decode", path, err)
	}
	return vec, nil
}
