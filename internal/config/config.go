package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ksamirdev/unai/pkg/classifier"
	"github.com/ksamirdev/unai/pkg/generator"
	"github.com/ksamirdev/unai/pkg/postprocess"
	"github.com/ksamirdev/unai/pkg/preprocess"
	"github.com/ksamirdev/unai/pkg/resolver"
)

// Environment variables read by ApplyEnv
const (
	EnvModelsDir   = "UNAI_MODELS_DIR"
	EnvProjectRoot = "UNAI_PROJECT_ROOT"
	EnvLogLevel    = "UNAI_LOG_LEVEL"
	EnvLogFormat   = "UNAI_LOG_FORMAT"
	EnvRejectMock  = "UNAI_REJECT_MOCK"
	EnvRuntimeLib  = "ONNXRUNTIME_SHARED_LIBRARY_PATH"
)

// Config holds the application configuration
type Config struct {
	Models       ModelsConfig      `json:"models"`
	Detection    preprocess.Config `json:"detection"`
	Regeneration preprocess.Config `json:"regeneration"`
	Classifier   ClassifierConfig  `json:"classifier"`
	Generator    GeneratorConfig   `json:"generator"`
	Output       OutputConfig      `json:"output"`
	Log          LogConfig         `json:"log"`
}

// ModelsConfig holds where model artifacts live
type ModelsConfig struct {
	// Dir is the provisioned models directory, probed before the fallbacks
	Dir string `json:"dir"`
}

// ClassifierConfig holds configuration for the detection stage
type ClassifierConfig struct {
	Names          []string `json:"names"`
	Fallbacks      []string `json:"fallbacks"`
	MockSeed       int64    `json:"mock_seed"`
	RejectMock     bool     `json:"reject_mock"`
	RuntimeLibrary string   `json:"runtime_library"`
}

// GeneratorConfig holds configuration for the regeneration stage
type GeneratorConfig struct {
	Names     []string          `json:"names"`
	Fallbacks []string          `json:"fallbacks"`
	Variant   generator.Variant `json:"variant"`
	// PlainPreprocess is used instead of Regeneration for the plain variant
	PlainPreprocess preprocess.Config `json:"plain_preprocess"`
}

// OutputConfig holds configuration for regenerated images
type OutputConfig struct {
	ProjectRoot string `json:"project_root"`
	Dir         string `json:"dir"`
	Suffix      string `json:"suffix"`
	Format      string `json:"format"`
	Quality     int    `json:"quality"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	cls := resolver.ClassifierSearch("")
	gen := generator.DefaultConfig("", "")
	return &Config{
		Models:       ModelsConfig{Dir: "models"},
		Detection:    preprocess.DetectionConfig(),
		Regeneration: preprocess.RegenerationConfig(),
		Classifier: ClassifierConfig{
			Names:     cls.Names,
			Fallbacks: cls.Fallbacks,
			MockSeed:  classifier.DefaultMockSeed,
		},
		Generator: GeneratorConfig{
			Names:           gen.Search.Names,
			Fallbacks:       gen.Search.Fallbacks,
			Variant:         generator.VariantAuto,
			PlainPreprocess: gen.PlainPreprocess,
		},
		Output: OutputConfig{
			ProjectRoot: ".",
			Dir:         gen.Output.Dir,
			Suffix:      gen.Output.Suffix,
			Format:      gen.Output.Encode.Format,
			Quality:     gen.Output.Encode.Quality,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides settings from environment variables
func (c *Config) ApplyEnv() error {
	c.Models.Dir = getEnv(EnvModelsDir, c.Models.Dir)
	c.Output.ProjectRoot = getEnv(EnvProjectRoot, c.Output.ProjectRoot)
	c.Log.Level = getEnv(EnvLogLevel, c.Log.Level)
	c.Log.Format = getEnv(EnvLogFormat, c.Log.Format)
	c.Classifier.RuntimeLibrary = getEnv(EnvRuntimeLib, c.Classifier.RuntimeLibrary)

	if v := os.Getenv(EnvRejectMock); v != "" {
		reject, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRejectMock, err)
		}
		c.Classifier.RejectMock = reject
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Detection.Validate(); err != nil {
		return fmt.Errorf("detection: %w", err)
	}

	if err := c.Regeneration.Validate(); err != nil {
		return fmt.Errorf("regeneration: %w", err)
	}

	if err := c.Generator.PlainPreprocess.Validate(); err != nil {
		return fmt.Errorf("generator.plain_preprocess: %w", err)
	}

	switch c.Generator.Variant {
	case "", generator.VariantAuto, generator.VariantResidualAttention, generator.VariantPlain:
	default:
		return fmt.Errorf("generator.variant must be auto, %s or %s", generator.VariantResidualAttention, generator.VariantPlain)
	}

	if len(c.Classifier.Names) == 0 && len(c.Classifier.Fallbacks) == 0 {
		return fmt.Errorf("classifier search list cannot be empty")
	}

	if len(c.Generator.Names) == 0 && len(c.Generator.Fallbacks) == 0 {
		return fmt.Errorf("generator search list cannot be empty")
	}

	if err := c.OutputSettings().Validate(); err != nil {
		return fmt.Errorf("output: %w", err)
	}

	return nil
}

// ClassifierSettings builds the classifier configuration
func (c *Config) ClassifierSettings() classifier.Config {
	return classifier.Config{
		Search: resolver.Search{
			BaseDir:   c.Models.Dir,
			Names:     c.Classifier.Names,
			Fallbacks: c.Classifier.Fallbacks,
		},
		Preprocess:     c.Detection,
		MockSeed:       c.Classifier.MockSeed,
		RuntimeLibrary: c.Classifier.RuntimeLibrary,
	}
}

// GeneratorSettings builds the regeneration configuration
func (c *Config) GeneratorSettings() generator.Config {
	return generator.Config{
		Search: resolver.Search{
			BaseDir:   c.Models.Dir,
			Names:     c.Generator.Names,
			Fallbacks: c.Generator.Fallbacks,
		},
		Variant:         c.Generator.Variant,
		Preprocess:      c.Regeneration,
		PlainPreprocess: c.Generator.PlainPreprocess,
		Output:          c.OutputSettings(),
	}
}

// OutputSettings builds the postprocessing configuration
func (c *Config) OutputSettings() postprocess.Config {
	out := postprocess.DefaultConfig(c.Output.ProjectRoot)
	out.Dir = c.Output.Dir
	out.Suffix = c.Output.Suffix
	out.Encode.Format = c.Output.Format
	out.Encode.Quality = c.Output.Quality
	return out
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "unai", "config.json")
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}
