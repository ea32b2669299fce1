// Package registry is the FQDN-keyed node registry described in spec §9:
// cross-node references are FQDN strings resolved lazily through here
// rather than raw ownership cycles between controller, subarray, FSP, VCC
// and LRU.
package registry

import (
	"fmt"
	"sync"

	"github.com/skyvane-array/mcs/types"
)

// Node is the minimal capability every registered node exposes to the
// registry and to its peers. Callers that need node-kind-specific
// methods type-assert the handle returned by Lookup to the concrete node
// type (for example *vcc.VCC).
type Node interface {
	FQDN() types.FQDN
}

// Registry owns every node handle in the tree.
type Registry struct {
	mu    sync.RWMutex
	nodes map[types.FQDN]Node
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{nodes: make(map[types.FQDN]Node)}
}

// Register adds a node, failing if its FQDN is already taken.
func (r *Registry) Register(n Node) error {
	if err := n.FQDN().Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[n.FQDN()]; exists {
		return fmt.Errorf("registry: %s already registered", n.FQDN())
	}
	r.nodes[n.FQDN()] = n
	return nil
}

// Lookup resolves an FQDN to its node handle.
func (r *Registry) Lookup(fqdn types.FQDN) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[fqdn]
	return n, ok
}

// MustLookup resolves an FQDN or returns an error, for callers in command
// bodies where a missing child is a programming error rather than a
// recoverable condition.
func (r *Registry) MustLookup(fqdn types.FQDN) (Node, error) {
	n, ok := r.Lookup(fqdn)
	if !ok {
		return nil, fmt.Errorf("registry: %s not found", fqdn)
	}
	return n, nil
}

// All returns every FQDN matching a predicate, used by parents to
// enumerate children by family (e.g. all "vcc" nodes).
func (r *Registry) All(match func(types.FQDN) bool) []types.FQDN {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.FQDN
	for fqdn := range r.nodes {
		if match(fqdn) {
			out = append(out, fqdn)
		}
	}
	return out
}
