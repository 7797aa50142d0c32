package config

const (
	defaultDataDir          = "data"
	defaultTempDir          = "temp"
	defaultStatsDir         = "stats"
	defaultModelDir         = "model"
	defaultStateDir         = ".voxguard"
	defaultLogDir           = ".voxguard/logs"
	defaultFrameSize        = 512
	defaultSampleRate       = 44100
	defaultChunkSeconds     = 5
	defaultMaxLen           = 5000
	defaultCoefficients     = 40
	defaultMelBands         = 40
	defaultFFmpegBinary     = "ffmpeg"
	defaultFFprobeBinary    = "ffprobe"
	defaultPerClassCap      = 10000
	defaultEpochs           = 50
	defaultBatchSize        = 64
	defaultValidationSplit  = 0.2
	defaultLearningRate     = 1e-3
	defaultL2               = 0.001
	defaultDropout          = 0.3
	defaultEpsilon          = 1e-8
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 30
)

var defaultSupportedExtensions = []string{".flac", ".mp3", ".m4a", ".ogg", ".wav"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			TempDir:  defaultTempDir,
			StatsDir: defaultStatsDir,
			ModelDir: defaultModelDir,
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Audio: Audio{
			FrameSize:           defaultFrameSize,
			SampleRate:          defaultSampleRate,
			ChunkSeconds:        defaultChunkSeconds,
			MaxLen:              defaultMaxLen,
			Coefficients:        defaultCoefficients,
			MelBands:            defaultMelBands,
			SupportedExtensions: append([]string(nil), defaultSupportedExtensions...),
			FFmpegBinary:        defaultFFmpegBinary,
			FFprobeBinary:       defaultFFprobeBinary,
			ProbeSources:        true,
		},
		Dataset: Dataset{
			PerClassCap: defaultPerClassCap,
		},
		Model: Model{
			Epochs:          defaultEpochs,
			BatchSize:       defaultBatchSize,
			ValidationSplit: defaultValidationSplit,
			LearningRate:    defaultLearningRate,
			L2:              defaultL2,
			Dropout:         defaultDropout,
		},
		Normalization: Normalization{
			Epsilon: defaultEpsilon,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
