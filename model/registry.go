package model

import "sync"

// CapabilityConfig defines model preferences for a capability.
type CapabilityConfig struct {
	// Description explains what this capability is for.
	Description string `json:"description" yaml:"description"`

	// Preferred lists endpoint names in order of preference.
	Preferred []string `json:"preferred" yaml:"preferred"`

	// Fallback lists backup endpoints if all preferred fail.
	Fallback []string `json:"fallback" yaml:"fallback"`
}

// EndpointConfig defines an available model endpoint.
type EndpointConfig struct {
	// Provider is the model provider (anthropic, ollama, openai).
	Provider string `json:"provider" yaml:"provider"`

	// URL is the API endpoint URL, empty for the provider default.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Model is the actual model identifier sent to the provider.
	Model string `json:"model" yaml:"model"`

	// MaxTokens is the context window size.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// Registry maps capabilities to endpoints with fallback chains.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[Capability]*CapabilityConfig
	endpoints    map[string]*EndpointConfig
}

// NewRegistry creates a registry from explicit configuration.
func NewRegistry(caps map[Capability]*CapabilityConfig, endpoints map[string]*EndpointConfig) *Registry {
	if caps == nil {
		caps = make(map[Capability]*CapabilityConfig)
	}
	if endpoints == nil {
		endpoints = make(map[string]*EndpointConfig)
	}
	return &Registry{capabilities: caps, endpoints: endpoints}
}

// NewDefaultRegistry creates a registry pointing everything at a local
// OpenAI-compatible endpoint. Used when no configuration is provided.
func NewDefaultRegistry() *Registry {
	local := &EndpointConfig{
		Provider:  "ollama",
		URL:       "http://localhost:11434/v1",
		Model:     "qwen2.5-coder:14b",
		MaxTokens: 128000,
	}
	caps := make(map[Capability]*CapabilityConfig)
	for _, c := range []Capability{CapabilityStructuring, CapabilityCoding, CapabilityReviewing, CapabilityWriting, CapabilityFast} {
		caps[c] = &CapabilityConfig{Preferred: []string{"local"}}
	}
	return &Registry{
		capabilities: caps,
		endpoints:    map[string]*EndpointConfig{"local": local},
	}
}

// GetEndpoint returns the endpoint configuration by name, or nil.
func (r *Registry) GetEndpoint(name string) *EndpointConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endpoints[name]
}

// FallbackChain returns endpoint names for a capability: preferred endpoints
// first, then fallbacks, deduplicated, keeping only names that resolve to a
// configured endpoint.
func (r *Registry) FallbackChain(c Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg := r.capabilities[c]
	if cfg == nil {
		return nil
	}

	seen := make(map[string]bool)
	var chain []string
	for _, name := range append(append([]string{}, cfg.Preferred...), cfg.Fallback...) {
		if seen[name] || r.endpoints[name] == nil {
			continue
		}
		seen[name] = true
		chain = append(chain, name)
	}
	return chain
}

// SetEndpoint adds or replaces an endpoint.
func (r *Registry) SetEndpoint(name string, cfg *EndpointConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[name] = cfg
}

// SetCapability adds or replaces a capability configuration.
func (r *Registry) SetCapability(c Capability, cfg *CapabilityConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[c] = cfg
}
