package llm

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// Provider adapts one backend's wire format: URL layout, auth headers, and
// request/response bodies. Implementations must be stateless and safe for
// concurrent use.
type Provider interface {
	// Name returns the registry key, e.g. "openai".
	Name() string

	// BuildURL returns the completion endpoint for the given base URL. An
	// empty base URL selects the provider's default.
	BuildURL(baseURL string) string

	// SetHeaders adds auth and content headers to the request. An empty
	// apiKey falls back to the provider's conventional environment
	// variable.
	SetHeaders(req *http.Request, apiKey string)

	// BuildRequestBody marshals a single-prompt completion request. A nil
	// temperature omits the field; maxTokens <= 0 selects the provider
	// default.
	BuildRequestBody(model, prompt string, temperature *float64, maxTokens int) ([]byte, error)

	// ParseResponse extracts the generated text from a 2xx response body.
	ParseResponse(body []byte) (string, error)
}

var (
	providersMu sync.RWMutex
	providers   = make(map[string]Provider)
)

// RegisterProvider adds a provider to the registry. Providers register
// themselves in init; registering a duplicate name panics.
func RegisterProvider(p Provider) {
	providersMu.Lock()
	defer providersMu.Unlock()
	name := p.Name()
	if _, dup := providers[name]; dup {
		panic(fmt.Sprintf("llm: provider %q registered twice", name))
	}
	providers[name] = p
}

// GetProvider looks up a registered provider by name.
func GetProvider(name string) (Provider, error) {
	providersMu.RLock()
	defer providersMu.RUnlock()
	p, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (registered: %v)", name, listProvidersLocked())
	}
	return p, nil
}

// ListProviders returns the registered provider names, sorted.
func ListProviders() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()
	return listProvidersLocked()
}

func listProvidersLocked() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
