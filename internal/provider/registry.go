package provider

import (
	"fmt"

	"fabrick/internal/config"
)

// Registry holds constructed providers keyed by name and resolves the
// ordered fallback chain for each worker pool.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a client for every configured provider.
func NewRegistry(cfg *config.Config) *Registry {
	reg := &Registry{providers: make(map[string]Provider, len(cfg.Providers))}
	for _, pc := range cfg.Providers {
		reg.providers[pc.Name] = NewHTTPClient(pc)
	}
	return reg
}

// Register replaces or adds a provider by name. Tests use this to install
// stub providers without touching configuration.
func (r *Registry) Register(p Provider) {
	if r.providers == nil {
		r.providers = make(map[string]Provider)
	}
	r.providers[p.Name()] = p
}

// Get returns the provider with the given name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Chain resolves the ordered fallback chain for a worker pool. Every name
// must resolve; configuration validation guarantees this for loaded configs.
func (r *Registry) Chain(names []string) ([]Provider, error) {
	chain := make([]Provider, 0, len(names))
	for _, name := range names {
		p, ok := r.providers[name]
		if !ok {
			return nil, fmt.Errorf("provider %q is not configured", name)
		}
		chain = append(chain, p)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("empty provider chain")
	}
	return chain, nil
}
