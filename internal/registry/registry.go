// Package registry implements the Provider Registry of spec §4.8: one
// static handle for the local NSA, plus lazily-constructed dynamic
// handles for peers discovered from topology or configuration, grounded
// on the per-agent-id map in managers/agent.go (agents, keyed by name,
// each wrapping a connection the rest of the system only ever reaches
// through the map, never by dialing directly).
package registry

import (
	"fmt"
	"sync"

	"github.com/BandwidthOnDemand/opennsa-go/internal/provider"
)

// Factory builds a Provider for a peer NSA on first use. Implementations
// typically dial the peer's SOAP/REST endpoint; dialing is deferred to
// first Lookup so a peer listed in topology but never reserved against
// never opens a connection.
type Factory func(nsaID string) (provider.Provider, error)

// Registry maps an NSA URN to the Provider that speaks for it.
type Registry struct {
	mu      sync.Mutex
	static  map[string]provider.Provider
	dynamic map[string]provider.Provider
	factory Factory
}

// New builds an empty Registry. factory may be nil if only static
// handles (e.g. a single local backend, no peering) will ever be used.
func New(factory Factory) *Registry {
	return &Registry{
		static:  make(map[string]provider.Provider),
		dynamic: make(map[string]provider.Provider),
		factory: factory,
	}
}

// RegisterStatic binds nsaID to p permanently; Lookup never reconstructs
// or evicts a static entry. Used for the local NSA at startup (spec
// §4.8: "the agent's own NSA identity always resolves to the Local
// Backend or the Aggregator that owns it").
func (r *Registry) RegisterStatic(nsaID string, p provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.static[nsaID] = p
}

// Lookup resolves nsaID to a Provider: a static registration wins if
// present, otherwise a dynamic handle is built (and cached) via the
// configured Factory.
func (r *Registry) Lookup(nsaID string) (provider.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.static[nsaID]; ok {
		return p, nil
	}
	if p, ok := r.dynamic[nsaID]; ok {
		return p, nil
	}
	if r.factory == nil {
		return nil, fmt.Errorf("registry: no provider registered for %q and no dynamic factory configured", nsaID)
	}
	p, err := r.factory(nsaID)
	if err != nil {
		return nil, fmt.Errorf("registry: building dynamic provider for %q: %w", nsaID, err)
	}
	r.dynamic[nsaID] = p
	return p, nil
}

// Forget evicts a dynamic handle (e.g. after repeated dispatch failures)
// so the next Lookup rebuilds it. Static registrations are never
// forgotten.
func (r *Registry) Forget(nsaID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dynamic, nsaID)
}
