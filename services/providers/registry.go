package providers

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownProvider is returned when a provider is not registered
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrProviderAlreadyRegistered is returned when trying to register a duplicate provider
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
)

type entry struct {
	descriptor ProviderDescriptor
	adapter    Adapter
}

// Registry holds the configured providers and the adapter bound to each.
//
// Register is only called while the application is being wired; after that the
// registry is read concurrently without locking.
type Registry struct {
	order   []string
	entries map[string]entry
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// Register adds a provider and binds its adapter
func (r *Registry) Register(desc ProviderDescriptor, adapter Adapter) error {
	if desc.Name == "" {
		return errors.New("provider name cannot be empty")
	}
	if adapter == nil {
		return fmt.Errorf("provider %s: adapter cannot be nil", desc.Name)
	}
	if _, exists := r.entries[desc.Name]; exists {
		return fmt.Errorf("%w: %s", ErrProviderAlreadyRegistered, desc.Name)
	}

	desc.SupportedModels = uniq(desc.SupportedModels)
	desc.Capabilities = uniq(desc.Capabilities)

	r.entries[desc.Name] = entry{descriptor: desc, adapter: adapter}
	r.order = append(r.order, desc.Name)
	return nil
}

// Get retrieves a provider descriptor by name
func (r *Registry) Get(name string) (ProviderDescriptor, error) {
	e, exists := r.entries[name]
	if !exists {
		return ProviderDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return e.descriptor.clone(), nil
}

// Adapter returns the adapter bound to name
func (r *Registry) Adapter(name string) (Adapter, error) {
	e, exists := r.entries[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return e.adapter, nil
}

// Has reports whether name is registered
func (r *Registry) Has(name string) bool {
	_, exists := r.entries[name]
	return exists
}

// List returns all descriptors in registration order
func (r *Registry) List() []ProviderDescriptor {
	out := make([]ProviderDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].descriptor.clone())
	}
	return out
}

// Names returns registered provider names in registration order
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of registered providers
func (r *Registry) Len() int {
	return len(r.order)
}

// RequestsPerWindow returns the request budget for name, or 0 when unknown.
// It satisfies ratelimit.BudgetFunc.
func (r *Registry) RequestsPerWindow(name string) int {
	e, exists := r.entries[name]
	if !exists {
		return 0
	}
	return e.descriptor.RateLimit.RequestsPerWindow
}

// clone copies the slice fields so callers cannot reach registry storage
func (d ProviderDescriptor) clone() ProviderDescriptor {
	d.SupportedModels = append([]string(nil), d.SupportedModels...)
	d.Capabilities = append([]string(nil), d.Capabilities...)
	return d
}

// uniq copies values without duplicates, keeping first occurrences in order
func uniq(values []string) []string {
	if values == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
