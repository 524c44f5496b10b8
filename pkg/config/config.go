// Package config loads historian's run configuration: where zip snapshots
// live, which binary extensions to skip, which LLM models and fallback
// chains to use per task, and retry/output settings.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrNoZipDirectory    = errors.New("zip_directory is required")
	ErrNoCurrentEngine   = errors.New("current_engine is required")
	ErrUnknownEngine     = errors.New("current_engine not found in models configuration")
	ErrInvalidMaxRetries = errors.New("retry.max_retries_per_model must be positive")
)

// Default configuration values.
const (
	DefaultOutputDirectory    = "./output"
	DefaultMaxRetriesPerModel = 3
	DefaultBaseDelaySeconds   = 2
	DefaultModelMaxTokens     = 8000
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
)

// Config holds all configuration for a historian run.
type Config struct {
	ZipDirectory     string                 `mapstructure:"zip_directory"`
	BinaryExtensions []string               `mapstructure:"binary_extensions"`
	CurrentEngine    string                 `mapstructure:"current_engine"`
	Output           OutputConfig           `mapstructure:"output"`
	Models           map[string]ModelConfig `mapstructure:"models"`
	Retry            RetryConfig            `mapstructure:"retry"`
	Logging          LoggingConfig          `mapstructure:"logging"`
}

// OutputConfig controls where reports and run state are written.
type OutputConfig struct {
	Directory string `mapstructure:"directory"`
}

// ModelConfig describes one named model entry: which platform/provider
// adapter serves it, the underlying model identifier, and its token budget.
type ModelConfig struct {
	Platform  string `mapstructure:"platform"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// RetryConfig controls the retry/fallback engine. TaskFallbackModels maps a
// task name (e.g. "analyze_major") to a model-name fallback chain tried, in
// order, after CurrentEngine exhausts its attempts; tasks absent from this
// map fall back to FallbackModels. This nested-map shape is the idiomatic-Go
// equivalent of the original's flat "<task>.fallback_models" dict keys.
type RetryConfig struct {
	MaxRetriesPerModel int                 `mapstructure:"max_retries_per_model"`
	FallbackModels     []string            `mapstructure:"fallback_models"`
	TaskFallbackModels map[string][]string `mapstructure:"task_fallback_models"`
}

// FallbackModelsForTask returns the task-specific fallback chain if
// configured, else the global fallback chain.
func (r RetryConfig) FallbackModelsForTask(task string) []string {
	if models, ok := r.TaskFallbackModels[task]; ok {
		return models
	}
	return r.FallbackModels
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig loads configuration from file and environment variables. A
// missing default-named config file is not an error (defaults apply); an
// explicitly-named missing file is.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("historian")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/historian")
	}

	viperCfg.SetEnvPrefix("HISTORIAN")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if readErr := viperCfg.ReadInConfig(); readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config
	if err := viperCfg.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("zip_directory", "")
	viperCfg.SetDefault("output.directory", DefaultOutputDirectory)
	viperCfg.SetDefault("retry.max_retries_per_model", DefaultMaxRetriesPerModel)
	viperCfg.SetDefault("logging.level", DefaultLoggingLevel)
	viperCfg.SetDefault("logging.format", DefaultLoggingFormat)
}

// validateConfig checks the fields that must be valid in every loaded
// config; currently that is only retry.max_retries_per_model, which must be
// positive. zip_directory and current_engine are allowed to be empty here and
// supplied later via CLI flags (LoadConfig is also used by --list-projects,
// which needs neither); callers that need a fully-resolved config call
// RequireRunnable after applying overrides.
func validateConfig(config *Config) error {
	if config.Retry.MaxRetriesPerModel <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxRetries, config.Retry.MaxRetriesPerModel)
	}
	return nil
}

// RequireRunnable validates that config has enough to start an analysis
// run: a zip directory, a current engine, and a models entry for it.
func RequireRunnable(config *Config) error {
	if config.ZipDirectory == "" {
		return ErrNoZipDirectory
	}
	if config.CurrentEngine == "" {
		return ErrNoCurrentEngine
	}
	if _, ok := config.Models[config.CurrentEngine]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEngine, config.CurrentEngine)
	}
	return nil
}
