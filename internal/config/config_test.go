package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksamirdev/unai/pkg/generator"
	"github.com/ksamirdev/unai/pkg/preprocess"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, preprocess.Unit, cfg.Detection.Normalization)
	assert.Equal(t, preprocess.ImageNet, cfg.Regeneration.Normalization)
	assert.Equal(t, 95, cfg.Output.Quality)
	assert.Equal(t, "jpg", cfg.Output.Format)
}

func TestSettingsUseModelsDir(t *testing.T) {
	cfg := Default()
	cfg.Models.Dir = "/opt/unai/models"

	cls := cfg.ClassifierSettings()
	assert.Equal(t, filepath.Join("/opt/unai/models", "DeepFake.onnx"), cls.Search.Candidates()[0])
	assert.Equal(t, cfg.Detection, cls.Preprocess)

	gen := cfg.GeneratorSettings()
	assert.Equal(t, filepath.Join("/opt/unai/models", "regenerator_model.safetensors"), gen.Search.Candidates()[0])
	assert.Equal(t, generator.VariantAuto, gen.Variant)
	assert.Equal(t, ".", gen.Output.Root)
	assert.Equal(t, filepath.Join("uploads", "regenerated", "x_regenerated.jpg"), gen.Output.Destination("x.png"))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvModelsDir, "/srv/models")
	t.Setenv(EnvProjectRoot, "/srv/unai")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvRejectMock, "true")
	t.Setenv(EnvRuntimeLib, "/usr/lib/libonnxruntime.so")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "/srv/models", cfg.Models.Dir)
	assert.Equal(t, "/srv/unai", cfg.Output.ProjectRoot)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Classifier.RejectMock)
	assert.Equal(t, "/usr/lib/libonnxruntime.so", cfg.ClassifierSettings().RuntimeLibrary)

	t.Setenv(EnvRejectMock, "maybe")
	require.Error(t, Default().ApplyEnv())
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Models.Dir = "/models"
	cfg.Regeneration.Width, cfg.Regeneration.Height = 256, 256
	cfg.Generator.Variant = generator.VariantPlain
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"models":{"dir":"/m"},"log":{"level":"warn"}}`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/m", cfg.Models.Dir)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, Default().Classifier.Names, cfg.Classifier.Names)
	require.NoError(t, cfg.Validate())

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero detection size", func(c *Config) { c.Detection.Width = 0 }},
		{"bad regeneration filter", func(c *Config) { c.Regeneration.Resample = "cubic-ish" }},
		{"bad variant", func(c *Config) { c.Generator.Variant = "vae" }},
		{"empty classifier search", func(c *Config) { c.Classifier.Names, c.Classifier.Fallbacks = nil, nil }},
		{"empty generator search", func(c *Config) { c.Generator.Names, c.Generator.Fallbacks = nil, nil }},
		{"bad quality", func(c *Config) { c.Output.Quality = 101 }},
		{"bad format", func(c *Config) { c.Output.Format = "tga" }},
		{"bad normalization", func(c *Config) { c.Detection.Normalization.Mode = "minmax" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
