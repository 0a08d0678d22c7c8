package llm

import (
	"net/http"
	"sync"
)

// Provider adapts the neutral request shape to one vendor's wire format.
// Implementations register themselves from an init() in llm/providers and
// are looked up by the endpoint config's provider name.
type Provider interface {
	// Name is the identifier endpoints reference ("anthropic", "ollama").
	Name() string

	// BuildURL turns the configured base URL (possibly empty, meaning
	// the provider default) into the full completion endpoint.
	BuildURL(baseURL string) string

	// SetHeaders adds auth and version headers to the outgoing request.
	SetHeaders(req *http.Request)

	// BuildRequestBody serializes the messages into the provider's
	// request JSON. A nil temperature and a zero maxTokens leave the
	// provider defaults in place.
	BuildRequestBody(model string, messages []Message, temperature *float64, maxTokens int) ([]byte, error)

	// ParseResponse extracts content and usage from the reply JSON.
	ParseResponse(body []byte, model string) (*Response, error)
}

var (
	providerMu       sync.RWMutex
	providerRegistry = make(map[string]Provider)
)

// RegisterProvider makes p available under its name, replacing any
// previous registration.
func RegisterProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[p.Name()] = p
}

// GetProvider returns the provider registered under name, or nil.
func GetProvider(name string) Provider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return providerRegistry[name]
}

// ListProviders returns the registered provider names.
func ListProviders() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()

	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	return names
}
