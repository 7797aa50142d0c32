package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the working directories used by the pipeline.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	TempDir  string `toml:"temp_dir"`
	StatsDir string `toml:"stats_dir"`
	ModelDir string `toml:"model_dir"`
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Audio contains segmentation and feature extraction settings.
type Audio struct {
	FrameSize           int      `toml:"frame_size"`
	SampleRate          int      `toml:"sample_rate"`
	ChunkSeconds        int      `toml:"chunk_seconds"`
	MaxLen              int      `toml:"max_len"`
	Coefficients        int      `toml:"coefficients"`
	MelBands            int      `toml:"mel_bands"`
	SupportedExtensions []string `toml:"supported_extensions"`
	FFmpegBinary        string   `toml:"ffmpeg_binary"`
	FFprobeBinary       string   `toml:"ffprobe_binary"`
	// ProbeSources runs ffprobe before segmenting so sources without an audio
	// stream are skipped without spawning ffmpeg.
	ProbeSources bool `toml:"probe_sources"`
}

// Dataset contains dataset assembly limits.
type Dataset struct {
	PerClassCap int `toml:"per_class_cap"`
}

// Model contains network training hyperparameters.
type Model struct {
	Epochs          int     `toml:"epochs"`
	BatchSize       int     `toml:"batch_size"`
	ValidationSplit float64 `toml:"validation_split"`
	LearningRate    float64 `toml:"learning_rate"`
	L2              float64 `toml:"l2"`
	Dropout         float64 `toml:"dropout"`
	// Seed fixes weight initialisation, dropout masks and shuffling when non-zero.
	Seed int64 `toml:"seed"`
}

// Normalization contains feature normalisation settings.
type Normalization struct {
	Epsilon float64 `toml:"epsilon"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for voxguard.
//
// Configuration sections by subsystem:
//   - Paths: data pools, temp chunks, stats, model artifact, ledger state, logs
//   - Audio: segmentation, MFCC extraction and feature vector length
//   - Dataset: per-class streaming cap for each training batch
//   - Model: epochs, batch size, validation split and optimiser settings
//   - Normalization: epsilon added to the standard deviation
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Audio         Audio         `toml:"audio"`
	Dataset       Dataset       `toml:"dataset"`
	Model         Model         `toml:"model"`
	Normalization Normalization `toml:"normalization"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/voxguard/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("voxguard.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the pipeline reads from and writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.TempDir,
		c.Paths.StatsDir,
		c.Paths.ModelDir,
		c.Paths.StateDir,
		c.Paths.LogDir,
		c.RawDir(),
	}
	for _, label := range []string{"real", "fake"} {
		dirs = append(dirs,
			filepath.Join(c.Paths.DataDir, label),
			filepath.Join(c.Paths.DataDir, "claimed", label),
			filepath.Join(c.Paths.DataDir, "trained", label),
		)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RawDir returns the folder that holds unprocessed source audio for ingestion.
func (c *Config) RawDir() string {
	return filepath.Join(c.Paths.DataDir, "raw")
}

// LedgerPath returns the sqlite database recording training runs.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.StateDir, "ledger.db")
}

// LockPath returns the workspace lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "voxguard.lock")
}

// IsSupportedAudio reports whether the file extension is accepted for ingestion.
func (c *Config) IsSupportedAudio(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, candidate := range c.Audio.SupportedExtensions {
		if ext == candidate {
			return true
		}
	}
	return false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Marshal renders the effective configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
