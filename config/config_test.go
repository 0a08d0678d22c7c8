package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodevel/procstudio/model"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, ".", cfg.Workspace.Dir)
	assert.NotEmpty(t, cfg.Workspace.RulesGlobs)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.False(t, cfg.Watch.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "procstudio.yaml")

	content := `
workspace:
  dir: /srv/procedures
  rules_globs:
    - "style/*.md"
model:
  temperature: 0.1
  timeout: 2m
  endpoints:
    local:
      provider: ollama
      url: http://localhost:11434/v1
      model: qwen2.5-coder:14b
  capabilities:
    coding:
      preferred: [local]
nats:
  url: nats://localhost:4222
watch:
  enabled: true
  debounce_delay: 500ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/srv/procedures", cfg.Workspace.Dir)
	assert.Equal(t, []string{"style/*.md"}, cfg.Workspace.RulesGlobs)
	assert.Equal(t, 0.1, cfg.Model.Temperature)
	assert.Equal(t, 2*time.Minute, cfg.Model.Timeout)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.DebounceDelay)

	// Defaults survive partial files
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestConfig_Registry(t *testing.T) {
	cfg := DefaultConfig()

	// No endpoints configured: local default registry
	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.NotEmpty(t, reg.FallbackChain(model.CapabilityCoding))

	cfg.Model.Endpoints = map[string]*model.EndpointConfig{
		"claude": {Provider: "anthropic", Model: "claude-sonnet-4"},
	}
	cfg.Model.Capabilities = map[string]*model.CapabilityConfig{
		"reviewing": {Preferred: []string{"claude"}},
	}

	reg, err = cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, []string{"claude"}, reg.FallbackChain(model.CapabilityReviewing))

	cfg.Model.Capabilities["planning"] = &model.CapabilityConfig{Preferred: []string{"claude"}}
	_, err = cfg.Registry()
	assert.Error(t, err, "unknown capability should be rejected")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing workspace dir", func(c *Config) { c.Workspace.Dir = "" }},
		{"temperature out of range", func(c *Config) { c.Model.Temperature = 1.5 }},
		{"zero retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"endpoint without provider", func(c *Config) {
			c.Model.Endpoints = map[string]*model.EndpointConfig{"bad": {Model: "m"}}
		}},
		{"endpoint without model", func(c *Config) {
			c.Model.Endpoints = map[string]*model.EndpointConfig{"bad": {Provider: "ollama"}}
		}},
		{"capability references unknown endpoint", func(c *Config) {
			c.Model.Capabilities = map[string]*model.CapabilityConfig{
				"fast": {Preferred: []string{"ghost"}},
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_Merge(t *testing.T) {
	base := DefaultConfig()

	other := &Config{}
	other.Workspace.Dir = "/elsewhere"
	other.NATS.URL = "nats://remote:4222"
	other.Retry.MaxAttempts = 5

	base.Merge(other)

	assert.Equal(t, "/elsewhere", base.Workspace.Dir)
	assert.Equal(t, "nats://remote:4222", base.NATS.URL)
	assert.Equal(t, 5, base.Retry.MaxAttempts)

	// Zero values in other don't clobber defaults
	assert.Equal(t, 0.2, base.Model.Temperature)
	assert.NotEmpty(t, base.Workspace.RulesGlobs)
}

func TestConfig_SaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Workspace.Dir = "/srv/procedures"
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/procedures", loaded.Workspace.Dir)
}
