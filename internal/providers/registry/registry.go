package registry

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"personabot/internal/providers"
	"personabot/internal/providers/anthropic_messages"
	"personabot/internal/providers/custom_http"
	"personabot/internal/providers/openai_compat"
)

type BuildOptions struct {
	Endpoint    string
	APIKey      string
	Headers     map[string]string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
	Logger      zerolog.Logger
}

// Factory builds a provider adapter from the configured options.
type Factory func(opts BuildOptions) (providers.Provider, error)

// Registry maps provider names to adapter factories. New backends are added
// with Register without touching the generator.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func New() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Default returns a registry with grok, openai, anthropic and custom registered.
func Default() *Registry {
	r := New()
	r.Register("grok", openAICompat("grok", openai_compat.DefaultGrokEndpoint))
	r.Register("openai", openAICompat("openai", openai_compat.DefaultOpenAIEndpoint))
	r.Register("anthropic", func(opts BuildOptions) (providers.Provider, error) {
		return anthropic_messages.New(anthropic_messages.Config{
			Endpoint:    opts.Endpoint,
			APIKey:      opts.APIKey,
			Headers:     opts.Headers,
			HTTPClient:  opts.HTTPClient,
			MaxRetries:  opts.MaxRetries,
			BackoffBase: opts.BackoffBase,
			Logger:      opts.Logger,
		}), nil
	})
	r.Register("custom", func(opts BuildOptions) (providers.Provider, error) {
		return custom_http.New(custom_http.Config{
			URL:         opts.Endpoint,
			APIKey:      opts.APIKey,
			Headers:     opts.Headers,
			HTTPClient:  opts.HTTPClient,
			MaxRetries:  opts.MaxRetries,
			BackoffBase: opts.BackoffBase,
			Logger:      opts.Logger,
		}), nil
	})
	return r
}

func openAICompat(name, defaultEndpoint string) Factory {
	return func(opts BuildOptions) (providers.Provider, error) {
		endpoint := opts.Endpoint
		if strings.TrimSpace(endpoint) == "" {
			endpoint = defaultEndpoint
		}
		return openai_compat.New(openai_compat.Config{
			Name:        name,
			Endpoint:    endpoint,
			APIKey:      opts.APIKey,
			Headers:     opts.Headers,
			HTTPClient:  opts.HTTPClient,
			MaxRetries:  opts.MaxRetries,
			BackoffBase: opts.BackoffBase,
			Logger:      opts.Logger,
		}), nil
	}
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(strings.TrimSpace(name))] = f
}

func (r *Registry) Build(name string, opts BuildOptions) (providers.Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(strings.TrimSpace(name))]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported provider %q", name)
	}
	return f(opts)
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
