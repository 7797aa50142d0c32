// Package normalize computes, persists and applies per-dimension z-score
// statistics for feature vectors.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"

	"voxguard/internal/fileutil"
	"voxguard/internal/services"
)

const (
	MeanFile = "mean.json"
	StdFile  = "std.json"
)

// Stats holds the per-dimension mean and epsilon-adjusted standard deviation.
type Stats struct {
	Mean []float64
	Std  []float64
}

// Dim returns the vector length the stats apply to.
func (s Stats) Dim() int { return len(s.Mean) }

// Fit computes the population mean and standard deviation of every column of
// features and adds eps to each deviation so constant columns stay divisible.
func Fit(features [][]float64, eps float64) (Stats, error) {
	if len(features) == 0 {
		return Stats{}, services.Wrap(services.ErrValidation, "normalize", "fit", "no feature vectors", nil)
	}
	dim := len(features[0])
	column := make([]float64, len(features))
	stats := Stats{Mean: make([]float64, dim), Std: make([]float64, dim)}
	for j := 0; j < dim; j++ {
		for i, row := range features {
			if len(row) != dim {
				return Stats{}, services.Wrap(services.ErrValidation, "normalize", "fit",
					fmt.Sprintf("row %d has %d values, want %d", i, len(row), dim), nil)
			}
			column[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(column, nil)
		stats.Mean[j] = mean
		stats.Std[j] = std + eps
	}
	return stats, nil
}

// Apply returns (x - mean) / std as a new slice.
func (s Stats) Apply(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, services.Wrap(services.ErrValidation, "normalize", "apply",
			fmt.Sprintf("vector has %d values, stats expect %d", len(x), len(s.Mean)), nil)
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - s.Mean[i]) / s.Std[i]
	}
	return out, nil
}

// ApplyBatch normalises every row into new slices.
func (s Stats) ApplyBatch(xs [][]float64) ([][]float64, error) {
	out := make([][]float64, len(xs))
	for i, x := range xs {
		row, err := s.Apply(x)
		if err != nil {
			return nil, err
		}
		out[i] = row
	}
	return out, nil
}

// Store persists stats as two JSON arrays in a directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save writes mean.json and std.json.
func (s *Store) Save(stats Stats) error {
	if len(stats.Mean) != len(stats.Std) {
		return services.Wrap(services.ErrValidation, "normalize", "save", "mean and std lengths differ", nil)
	}
	if err := fileutil.WriteJSONAtomic(filepath.Join(s.dir, MeanFile), stats.Mean); err != nil {
		return fmt.Errorf("save %s: %w", MeanFile, err)
	}
	if err := fileutil.WriteJSONAtomic(filepath.Join(s.dir, StdFile), stats.Std); err != nil {
		return fmt.Errorf("save %s: %w", StdFile, err)
	}
	return nil
}

// Load reads the persisted stats verbatim. A missing file is reported as
// services.ErrNotFound. When dim is positive both arrays must have that length.
func (s *Store) Load(dim int) (Stats, error) {
	mean, err := s.read(MeanFile)
	if err != nil {
		return Stats{}, err
	}
	std, err := s.read(StdFile)
	if err != nil {
		return Stats{}, err
	}
	if len(mean) != len(std) {
		return Stats{}, services.Wrap(services.ErrValidation, "normalize", "load",
			fmt.Sprintf("%s has %d values but %s has %d", MeanFile, len(mean), StdFile, len(std)), nil)
	}
	if dim > 0 && len(mean) != dim {
		return Stats{}, services.Wrap(services.ErrValidation, "normalize", "load",
			fmt.Sprintf("stats have %d values, feature length is %d; retrain with `voxguard train --override`", len(mean), dim), nil)
	}
	return Stats{Mean: mean, Std: std}, nil
}

// Exists reports whether both stats files are present.
func (s *Store) Exists() bool {
	for _, name := range []string{MeanFile, StdFile} {
		if _, err := os.Stat(filepath.Join(s.dir, name)); err != nil {
			return false
		}
	}
	return true
}

func (s *Store) read(name string) ([]float64, error) {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "normalize", "load",
				fmt.Sprintf("%s is missing; run `voxguard train --override` first", path), nil)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var values []float64
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, services.Wrap(services.ErrValidation, "normalize", "load", path, err)
	}
	return values, nil
}
