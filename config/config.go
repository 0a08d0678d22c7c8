// Package config provides configuration loading and management for procstudio.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lodevel/procstudio/artifact"
	"github.com/lodevel/procstudio/llm"
	"github.com/lodevel/procstudio/model"
)

// Config represents the complete procstudio configuration
type Config struct {
	Workspace WorkspaceConfig      `yaml:"workspace"`
	Model     ModelConfig          `yaml:"model"`
	Retry     llm.RetryConfig      `yaml:"retry"`
	NATS      NATSConfig           `yaml:"nats"`
	Watch     artifact.WatchConfig `yaml:"watch"`
}

// WorkspaceConfig configures the artifact workspace
type WorkspaceConfig struct {
	// Dir is the workspace root holding the artifact files (default: current directory)
	Dir string `yaml:"dir"`
	// RulesGlobs are glob patterns, relative to Dir, selecting rules files
	// whose content is injected into prompts
	RulesGlobs []string `yaml:"rules_globs"`
	// ContractsFile optionally overrides the built-in task contract table
	ContractsFile string `yaml:"contracts_file"`
}

// ModelConfig configures the LLM model registry
type ModelConfig struct {
	// Capabilities maps capability names to model preferences
	Capabilities map[string]*model.CapabilityConfig `yaml:"capabilities"`
	// Endpoints maps endpoint names to provider settings
	Endpoints map[string]*model.EndpointConfig `yaml:"endpoints"`
	// Temperature controls randomness (0.0-1.0, default: 0.2)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
}

// NATSConfig configures the NATS connection used for LLM call records
type NATSConfig struct {
	// URL is the NATS server URL (empty = call recording disabled)
	URL string `yaml:"url"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Dir:        ".",
			RulesGlobs: []string{"rules/**/*.md", "RULES.md"},
		},
		Model: ModelConfig{
			Temperature: 0.2,
			Timeout:     5 * time.Minute,
		},
		Retry: llm.DefaultRetryConfig(),
		NATS:  NATSConfig{URL: ""},
		Watch: artifact.DefaultWatchConfig(),
	}
}

// Registry builds a model registry from the configuration.
// Falls back to the local default registry when no endpoints are configured.
func (c *Config) Registry() (*model.Registry, error) {
	if len(c.Model.Endpoints) == 0 {
		return model.NewDefaultRegistry(), nil
	}

	caps := make(map[model.Capability]*model.CapabilityConfig, len(c.Model.Capabilities))
	for name, cfg := range c.Model.Capabilities {
		capVal := model.ParseCapability(name)
		if capVal == "" {
			return nil, fmt.Errorf("unknown capability %q in model config", name)
		}
		caps[capVal] = cfg
	}

	return model.NewRegistry(caps, c.Model.Endpoints), nil
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Workspace.Dir == "" {
		return fmt.Errorf("workspace.dir is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	for name, ep := range c.Model.Endpoints {
		if ep == nil || ep.Provider == "" {
			return fmt.Errorf("endpoint %q: provider is required", name)
		}
		if ep.Model == "" {
			return fmt.Errorf("endpoint %q: model is required", name)
		}
	}
	for name, cap := range c.Model.Capabilities {
		if cap == nil {
			continue
		}
		for _, ep := range append(append([]string{}, cap.Preferred...), cap.Fallback...) {
			if _, ok := c.Model.Endpoints[ep]; !ok {
				return fmt.Errorf("capability %q references unknown endpoint %q", name, ep)
			}
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Workspace.Dir != "" && other.Workspace.Dir != "." {
		c.Workspace.Dir = other.Workspace.Dir
	}
	if len(other.Workspace.RulesGlobs) > 0 {
		c.Workspace.RulesGlobs = other.Workspace.RulesGlobs
	}
	if other.Workspace.ContractsFile != "" {
		c.Workspace.ContractsFile = other.Workspace.ContractsFile
	}

	if len(other.Model.Capabilities) > 0 {
		c.Model.Capabilities = other.Model.Capabilities
	}
	if len(other.Model.Endpoints) > 0 {
		c.Model.Endpoints = other.Model.Endpoints
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	if other.Retry.MaxAttempts != 0 {
		c.Retry.MaxAttempts = other.Retry.MaxAttempts
	}
	if other.Retry.BackoffBase != 0 {
		c.Retry.BackoffBase = other.Retry.BackoffBase
	}
	if other.Retry.BackoffMultiplier != 0 {
		c.Retry.BackoffMultiplier = other.Retry.BackoffMultiplier
	}
	if other.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = other.Retry.MaxBackoff
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}

	if other.Watch.Enabled {
		c.Watch.Enabled = true
	}
	if other.Watch.DebounceDelay != 0 {
		c.Watch.DebounceDelay = other.Watch.DebounceDelay
	}
	if len(other.Watch.ExcludeGlobs) > 0 {
		c.Watch.ExcludeGlobs = other.Watch.ExcludeGlobs
	}
}
