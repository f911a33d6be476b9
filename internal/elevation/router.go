package elevation

import (
	"slices"
)

// PriorityTable maps each classification to its provider order.
type PriorityTable map[Classification][]string

// DefaultPriorityTable puts the authoritative provider first at home, the global
// commercial provider first elsewhere, and the authoritative provider last over water.
func DefaultPriorityTable() PriorityTable {
	return PriorityTable{
		ClassDomestic:      {ProviderUSGS, ProviderGoogle, ProviderOpenTopoData, ProviderOSM},
		ClassInternational: {ProviderGoogle, ProviderOpenTopoData, ProviderOSM},
		ClassOcean:         {ProviderGoogle, ProviderOpenTopoData, ProviderOSM, ProviderUSGS},
	}
}

// Router turns a classification into an ordered fallback list.
type Router struct {
	registry *Registry
	table    PriorityTable
}

// NewRouter copies table; classes missing from it use the default order.
func NewRouter(registry *Registry, table PriorityTable) *Router {
	merged := DefaultPriorityTable()
	for class, names := range table {
		merged[class] = slices.Clone(names)
	}
	return &Router{registry: registry, table: merged}
}

// Registry returns the registry the router reads from.
func (r *Router) Registry() *Registry { return r.registry }

// Table returns a copy of the effective priority table.
func (r *Router) Table() PriorityTable {
	out := make(PriorityTable, len(r.table))
	for class, names := range r.table {
		out[class] = slices.Clone(names)
	}
	return out
}

// Route returns the available providers for class in table order. Unavailable or
// unregistered providers are skipped, never substituted.
func (r *Router) Route(class Classification) []ProviderDescriptor {
	return r.resolve(r.table[class])
}

// Restrict resolves an explicit provider override in caller order. Unknown names are a
// validation error; known but unavailable providers are skipped.
func (r *Router) Restrict(names []string) ([]ProviderDescriptor, error) {
	for _, name := range names {
		if _, ok := r.registry.Lookup(name); !ok {
			return nil, &ValidationError{Field: "providers", Value: name, Reason: "unknown provider"}
		}
	}
	return r.resolve(names), nil
}

func (r *Router) resolve(names []string) []ProviderDescriptor {
	out := make([]ProviderDescriptor, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		reg, ok := r.registry.Lookup(name)
		if !ok || !reg.Descriptor.Available() {
			continue
		}
		out = append(out, reg.Descriptor)
	}
	return out
}

// OrderByCoverage moves providers that do not cover c behind those that do, keeping the
// relative order inside each group.
func OrderByCoverage(list []ProviderDescriptor, c Coordinate) []ProviderDescriptor {
	out := make([]ProviderDescriptor, 0, len(list))
	var rest []ProviderDescriptor
	for _, d := range list {
		if d.Covering(c) {
			out = append(out, d)
		} else {
			rest = append(rest, d)
		}
	}
	return append(out, rest...)
}
