package providers

import (
	"fmt"

	"github.com/Davincible/claude-code-open/internal/config"
)

// Registry resolves a client-supplied "<provider>:<model>" string (or
// alias) to a Descriptor. Built once at startup from config and never
// mutated afterward, so lookups need no locking.
type Registry struct {
	byName        map[string]Descriptor
	aliasToName   map[string]string
	defaultName   string
	defaultSource string // "config" or "fallback"
}

// NewRegistryFromConfig validates cfg.Providers and builds a Registry.
// ErrConfigInvalid is returned if the provider list is empty after
// validation; otherwise, if no default router provider is configured,
// the first provider becomes the default and DefaultSource reports
// "fallback".
func NewRegistryFromConfig(cfg *config.Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", config.ErrConfigInvalid)
	}

	r := &Registry{
		byName:      make(map[string]Descriptor, len(cfg.Providers)),
		aliasToName: make(map[string]string),
	}
	for _, p := range cfg.Providers {
		d := FromConfig(p)
		r.byName[d.Name] = d
		for _, alias := range d.Aliases {
			r.aliasToName[alias] = d.Name
		}
	}

	defaultProvider, _ := SplitModel(cfg.Router.Default)
	if defaultProvider != "" {
		if _, ok := r.resolveName(defaultProvider); ok {
			r.defaultName = r.canonicalName(defaultProvider)
			r.defaultSource = "config"
		}
	}
	if r.defaultName == "" {
		r.defaultName = cfg.Providers[0].Name
		r.defaultSource = "fallback"
	}

	return r, nil
}

func (r *Registry) canonicalName(name string) string {
	if canon, ok := r.aliasToName[name]; ok {
		return canon
	}
	return name
}

func (r *Registry) resolveName(name string) (Descriptor, bool) {
	d, ok := r.byName[r.canonicalName(name)]
	return d, ok
}

// Get returns the descriptor for a provider name or alias.
func (r *Registry) Get(name string) (Descriptor, bool) {
	return r.resolveName(name)
}

// Default returns the router's default descriptor and whether it came
// from explicit config or was chosen as a fallback.
func (r *Registry) Default() (Descriptor, string) {
	d := r.byName[r.defaultName]
	return d, r.defaultSource
}

// List returns every registered descriptor.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	return out
}

// Resolve splits a client-facing model string into (descriptor, model)
// per spec.md §4.1: "<provider>:<model>" selects explicitly, a bare
// model name uses the router's default provider.
func (r *Registry) Resolve(raw string) (Descriptor, string, error) {
	providerName, model := SplitModel(raw)
	if providerName == "" {
		d, _ := r.Default()
		return d, model, nil
	}
	d, ok := r.resolveName(providerName)
	if !ok {
		return Descriptor{}, "", fmt.Errorf("%w: %q", ErrUnknownProvider, providerName)
	}
	return d, model, nil
}
