package core

import (
	"fmt"
	"strconv"
	"time"
)

// Environment variable names read by LoadConfig.
const (
	EnvHuggingFaceToken = "HUGGINGFACE_TOKEN"
	EnvStylesFile       = "SDSTUDIO_STYLES"
	EnvModelsDir        = "SDSTUDIO_MODELS_DIR"
	EnvDBPath           = "SDSTUDIO_DB_PATH"
	EnvRedisURL         = "SDSTUDIO_REDIS_URL"
	EnvPipelineCache    = "SDSTUDIO_CACHE_ENTRIES"
	EnvResultCacheSize  = "SDSTUDIO_RESULT_CACHE_SIZE"
	EnvResultCacheTTL   = "SDSTUDIO_RESULT_CACHE_TTL"
	EnvListen           = "SDSTUDIO_LISTEN"
	EnvLogFile          = "SDSTUDIO_LOG_FILE"
	EnvDevMode          = "DEV_MODE"

	EnvDefaultSteps    = "SD_DEFAULT_STEPS"
	EnvGuidanceScale   = "SD_GUIDANCE_SCALE"
	EnvDefaultStrength = "SD_DEFAULT_STRENGTH"
	EnvDefaultSeed     = "SD_DEFAULT_SEED"
	EnvImageSize       = "SD_IMAGE_SIZE"
)

// GenerationDefaults fill request fields the caller left unset.
type GenerationDefaults struct {
	Seed          int64
	Steps         int
	GuidanceScale float64
	Strength      float64
	ImageSize     int
}

// DefaultGenerationDefaults mirrors the values the studio forms start with.
func DefaultGenerationDefaults() GenerationDefaults {
	return GenerationDefaults{
		Seed:          123,
		Steps:         30,
		GuidanceScale: 7.5,
		Strength:      0.75,
		ImageSize:     512,
	}
}

// Config holds everything main needs to assemble the studio.
type Config struct {
	HuggingFaceToken string

	StylesFile string // empty selects the built-in catalogue
	ModelsDir  string

	DBPath string // empty disables run history

	RedisURL        string // empty selects the in-memory result cache
	ResultCacheSize int    // 0 disables result caching
	ResultCacheTTL  time.Duration

	// PipelineCacheEntries bounds the number of built pipelines kept resident.
	// 0 keeps every pipeline for the life of the process.
	PipelineCacheEntries int

	Listen  string
	LogFile string
	DevMode bool

	Defaults GenerationDefaults
}

// LoadConfig reads the environment. It assumes .env has already been loaded
// by the caller. A missing HUGGINGFACE_TOKEN is reported as a *ConfigError
// with code ErrCodeMissingAuth.
func LoadConfig() (*Config, error) {
	defs := DefaultGenerationDefaults()

	cfg := &Config{
		HuggingFaceToken:     GetEnvOrDefault(EnvHuggingFaceToken, ""),
		StylesFile:           GetEnvOrDefault(EnvStylesFile, ""),
		ModelsDir:            GetEnvOrDefault(EnvModelsDir, "./models"),
		DBPath:               GetEnvOrDefault(EnvDBPath, "./data/history.db"),
		RedisURL:             GetEnvOrDefault(EnvRedisURL, ""),
		ResultCacheSize:      ParseIntEnv(EnvResultCacheSize, 64),
		ResultCacheTTL:       ParseDurationEnv(EnvResultCacheTTL, 24*time.Hour),
		PipelineCacheEntries: ParseIntEnv(EnvPipelineCache, 0),
		Listen:               GetEnvOrDefault(EnvListen, ":8080"),
		LogFile:              GetEnvOrDefault(EnvLogFile, "sdstudio.log"),
		DevMode:              ParseBoolEnv(EnvDevMode, false),
		Defaults: GenerationDefaults{
			Seed:          ParseInt64Env(EnvDefaultSeed, defs.Seed),
			Steps:         ParseIntEnv(EnvDefaultSteps, defs.Steps),
			GuidanceScale: ParseFloat64Env(EnvGuidanceScale, defs.GuidanceScale),
			Strength:      ParseFloat64Env(EnvDefaultStrength, defs.Strength),
			ImageSize:     ParseIntEnv(EnvImageSize, defs.ImageSize),
		},
	}

	if cfg.HuggingFaceToken == "" {
		return nil, ErrMissingAuth(EnvHuggingFaceToken)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges. It is separate from LoadConfig so tests can build
// a Config by hand.
func (c *Config) Validate() error {
	d := c.Defaults
	switch {
	case c.ModelsDir == "":
		return ErrMissingConfig(EnvModelsDir)
	case c.PipelineCacheEntries < 0:
		return ErrInvalidValue(EnvPipelineCache, strconv.Itoa(c.PipelineCacheEntries), "must be 0 (unbounded) or positive")
	case c.ResultCacheSize < 0:
		return ErrInvalidValue(EnvResultCacheSize, strconv.Itoa(c.ResultCacheSize), "must not be negative")
	case d.Steps < 1 || d.Steps > 150:
		return ErrInvalidValue(EnvDefaultSteps, strconv.Itoa(d.Steps), "must be between 1 and 150")
	case d.GuidanceScale < 1 || d.GuidanceScale > 20:
		return ErrInvalidValue(EnvGuidanceScale, fmt.Sprint(d.GuidanceScale), "must be between 1 and 20")
	case d.Strength < 0 || d.Strength > 1:
		return ErrInvalidValue(EnvDefaultStrength, fmt.Sprint(d.Strength), "must be between 0 and 1")
	case d.ImageSize < 256 || d.ImageSize > 1024 || d.ImageSize%8 != 0:
		return ErrInvalidValue(EnvImageSize, strconv.Itoa(d.ImageSize), "must be a multiple of 8 between 256 and 1024")
	}
	return nil
}
