package elevation

import (
	"fmt"
)

// ProviderDescriptor is the registry's immutable view of a provider.
type ProviderDescriptor struct {
	Name               string                `json:"name"`
	Endpoint           string                `json:"endpoint"`
	Covers             func(Coordinate) bool `json:"-"`
	RequiresCredential bool                  `json:"requiresCredential"`
	CredentialPresent  bool                  `json:"credentialPresent"`
	RateLimit          string                `json:"rateLimit,omitempty"` // informational
	VerticalDatum      string                `json:"verticalDatum,omitempty"`
}

// Available reports whether the provider can be called at all.
func (d ProviderDescriptor) Available() bool {
	return !d.RequiresCredential || d.CredentialPresent
}

// Covering reports whether the provider expects usable data at c. A nil predicate covers
// everything.
func (d ProviderDescriptor) Covering(c Coordinate) bool {
	return d.Covers == nil || d.Covers(c)
}

// Registration pairs a descriptor with its implementation.
type Registration struct {
	Descriptor ProviderDescriptor
	Provider   Provider
}

// Registry maintains the registered providers in registration order. It is read-only
// after construction.
type Registry struct {
	order   []string
	entries map[string]Registration
}

// NewRegistry validates and indexes regs.
func NewRegistry(regs ...Registration) (*Registry, error) {
	r := &Registry{entries: make(map[string]Registration, len(regs))}
	for _, reg := range regs {
		name := reg.Descriptor.Name
		if name == "" {
			return nil, fmt.Errorf("provider descriptor has no name")
		}
		if reg.Provider == nil {
			return nil, fmt.Errorf("provider %s has no implementation", name)
		}
		if reg.Provider.Name() != name {
			return nil, fmt.Errorf("provider %s registered under name %s", reg.Provider.Name(), name)
		}
		if _, exists := r.entries[name]; exists {
			return nil, fmt.Errorf("provider %s already registered", name)
		}
		r.order = append(r.order, name)
		r.entries[name] = reg
	}
	return r, nil
}

// Lookup returns the registration for name.
func (r *Registry) Lookup(name string) (Registration, bool) {
	reg, ok := r.entries[name]
	return reg, ok
}

// Descriptors returns every registered descriptor in registration order.
func (r *Registry) Descriptors() []ProviderDescriptor {
	out := make([]ProviderDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].Descriptor)
	}
	return out
}

// AvailableProviders drops providers that need a credential they do not have.
func (r *Registry) AvailableProviders() []ProviderDescriptor {
	out := make([]ProviderDescriptor, 0, len(r.order))
	for _, d := range r.Descriptors() {
		if d.Available() {
			out = append(out, d)
		}
	}
	return out
}

// WithCredentials returns a copy of the registry with credential presence replaced for
// the named providers. The receiver is left untouched, so a registry in use by a running
// fetch never changes underneath it.
func (r *Registry) WithCredentials(present map[string]bool) *Registry {
	next := &Registry{
		order:   append([]string(nil), r.order...),
		entries: make(map[string]Registration, len(r.entries)),
	}
	for name, reg := range r.entries {
		if v, ok := present[name]; ok {
			reg.Descriptor.CredentialPresent = v
		}
		next.entries[name] = reg
	}
	return next
}
