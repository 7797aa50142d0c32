package model

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"

	"voxguard/internal/fileutil"
	"voxguard/internal/services"
)

const (
	ManifestFile = "model.json"
	WeightsFile  = "weights.bin"

	artifactFormat  = "voxguard-layers-model"
	artifactVersion = 1
)

type manifest struct {
	Format          string         `json:"format"`
	Version         int            `json:"version"`
	InputDim        int            `json:"input_dim"`
	Layers          []LayerConfig  `json:"layers"`
	WeightsManifest []weightsGroup `json:"weights_manifest"`
}

type weightsGroup struct {
	Paths   []string     `json:"paths"`
	Weights []weightSpec `json:"weights"`
}

type weightSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
}

// Save writes model.json and weights.bin into dir. The weights are written
// first so a present manifest always points at complete weights.
func (n *Network) Save(dir string) error {
	params := n.params()
	specs := make([]weightSpec, 0, len(params))
	var buf bytes.Buffer
	for _, p := range params {
		r, c := p.Value.Dims()
		specs = append(specs, weightSpec{Name: p.Name, Shape: []int{r, c}, DType: "float32"})
		values := p.Value.RawMatrix().Data
		raw := make([]float32, len(values))
		for i, v := range values {
			raw[i] = float32(v)
		}
		if err := binary.Write(&buf, binary.LittleEndian, raw); err != nil {
			return fmt.Errorf("encode %s: %w", p.Name, err)
		}
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(dir, WeightsFile), buf.Bytes()); err != nil {
		return fmt.Errorf("save %s: %w", WeightsFile, err)
	}

	doc := manifest{
		Format:   artifactFormat,
		Version:  artifactVersion,
		InputDim: n.inputDim,
		Layers:   n.Layers(),
		WeightsManifest: []weightsGroup{{
			Paths:   []string{WeightsFile},
			Weights: specs,
		}},
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", ManifestFile, err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(dir, ManifestFile), data); err != nil {
		return fmt.Errorf("save %s: %w", ManifestFile, err)
	}
	return nil
}

// Exists reports whether dir holds a saved manifest.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ManifestFile))
	return err == nil
}

// Load rebuilds a network saved by Save. A missing manifest is reported as
// services.ErrNotFound. The returned network must be compiled before Fit.
func Load(dir string, seed int64) (*Network, error) {
	manifestPath := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "model", "load",
				fmt.Sprintf("%s is missing; run `voxguard train --override` first", manifestPath), nil)
		}
		return nil, fmt.Errorf("read %s: %w", manifestPath, err)
	}
	var doc manifest
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, services.Wrap(services.ErrValidation, "model", "load", manifestPath, err)
	}
	if doc.Format != artifactFormat || doc.Version != artifactVersion {
		return nil, services.Wrap(services.ErrValidation, "model", "load",
			fmt.Sprintf("%s: unsupported format %q version %d", manifestPath, doc.Format, doc.Version), nil)
	}

	net, err := fromLayers(doc.InputDim, doc.Layers, newRand(seed))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "model", "load", manifestPath, err)
	}
	if err := net.readWeights(dir, doc.WeightsManifest); err != nil {
		return nil, services.Wrap(services.ErrValidation, "model", "load weights", dir, err)
	}
	return net, nil
}

func fromLayers(inputDim int, configs []LayerConfig, rng *rand.Rand) (*Network, error) {
	if inputDim <= 0 || len(configs) == 0 {
		return nil, fmt.Errorf("empty topology")
	}
	net := &Network{inputDim: inputDim, rng: rng}
	width := inputDim
	for _, cfg := range configs {
		if err := checkConfig(cfg); err != nil {
			return nil, err
		}
		var l layer
		switch cfg.Type {
		case layerDense:
			activation := cfg.Activation
			if activation == "" {
				activation = activationLinear
			}
			l = newDense(cfg.Name, width, cfg.Units, activation, cfg.L2, rng)
		case layerBatchNorm:
			l = newBatchNorm(cfg.Name, width, cfg.Epsilon, cfg.Momentum)
		case layerDropout:
			l = newDropout(cfg.Name, width, cfg.Rate, rng)
		}
		net.layers = append(net.layers, l)
		width = l.outputDim()
	}
	if width != Classes {
		return nil, fmt.Errorf("output width %d, want %d", width, Classes)
	}
	return net, nil
}

func (n *Network) readWeights(dir string, groups []weightsGroup) error {
	params := n.params()
	var specs []weightSpec
	var paths []string
	for _, g := range groups {
		specs = append(specs, g.Weights...)
		paths = append(paths, g.Paths...)
	}
	if len(specs) != len(params) {
		return fmt.Errorf("manifest lists %d weights, topology needs %d", len(specs), len(params))
	}

	readers := make([]io.Reader, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(filepath.Join(dir, filepath.Base(p)))
		if err != nil {
			return err
		}
		defer f.Close()
		readers = append(readers, f)
	}
	r := io.MultiReader(readers...)

	for i, spec := range specs {
		p := params[i]
		rows, cols := p.Value.Dims()
		if spec.Name != p.Name || len(spec.Shape) != 2 || spec.Shape[0] != rows || spec.Shape[1] != cols {
			return fmt.Errorf("weight %d: manifest %s%v does not match %s[%d %d]", i, spec.Name, spec.Shape, p.Name, rows, cols)
		}
		if spec.DType != "float32" {
			return fmt.Errorf("weight %s: unsupported dtype %q", spec.Name, spec.DType)
		}
		raw := make([]float32, rows*cols)
		if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
			return fmt.Errorf("weight %s: %w", spec.Name, err)
		}
		dst := p.Value.RawMatrix().Data
		for j, v := range raw {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return fmt.Errorf("weight %s: non-finite value", spec.Name)
			}
			dst[j] = float64(v)
		}
	}
	if extra, _ := io.Copy(io.Discard, r); extra != 0 {
		return fmt.Errorf("%d trailing bytes after weights", extra)
	}
	return nil
}
