package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAudio(); err != nil {
		return err
	}
	if err := c.validateModel(); err != nil {
		return err
	}
	if c.Normalization.Epsilon <= 0 {
		return errors.New("normalization.epsilon must be positive")
	}
	return nil
}

func (c *Config) validateAudio() error {
	if err := ensurePositiveMap(map[string]int{
		"audio.frame_size":    c.Audio.FrameSize,
		"audio.sample_rate":   c.Audio.SampleRate,
		"audio.chunk_seconds": c.Audio.ChunkSeconds,
		"audio.max_len":       c.Audio.MaxLen,
		"audio.coefficients":  c.Audio.Coefficients,
		"audio.mel_bands":     c.Audio.MelBands,
	}); err != nil {
		return err
	}
	if c.Audio.FrameSize&(c.Audio.FrameSize-1) != 0 {
		return fmt.Errorf("audio.frame_size must be a power of two (got %d)", c.Audio.FrameSize)
	}
	if c.Audio.Coefficients > c.Audio.MelBands {
		return fmt.Errorf("audio.coefficients (%d) cannot exceed audio.mel_bands (%d)", c.Audio.Coefficients, c.Audio.MelBands)
	}
	if c.Audio.MelBands > c.Audio.FrameSize/2 {
		return fmt.Errorf("audio.mel_bands (%d) must not exceed half of audio.frame_size", c.Audio.MelBands)
	}
	return nil
}

func (c *Config) validateModel() error {
	if err := ensurePositiveMap(map[string]int{
		"model.epochs":     c.Model.Epochs,
		"model.batch_size": c.Model.BatchSize,
	}); err != nil {
		return err
	}
	if c.Model.ValidationSplit < 0 || c.Model.ValidationSplit >= 1 {
		return errors.New("model.validation_split must be in [0, 1)")
	}
	if c.Model.LearningRate <= 0 {
		return errors.New("model.learning_rate must be positive")
	}
	if c.Model.L2 < 0 {
		return errors.New("model.l2 must not be negative")
	}
	if c.Model.Dropout < 0 || c.Model.Dropout >= 1 {
		return errors.New("model.dropout must be in [0, 1)")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
