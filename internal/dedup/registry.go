// Package dedup tracks known content identities so byte-identical media
// is ingested at most once. The registry is a rebuildable cache over the
// metadata store's identity column; on disagreement the store wins.
package dedup

import (
	"fmt"
	"sync"

	"github.com/tomo/mnemo/internal/hashing"
)

// Registry is an in-memory set of known identities with an atomic
// check-and-register operation. Construct one per deployment and inject it;
// all mutation is serialized by an internal mutex.
type Registry struct {
	mu    sync.Mutex
	known map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		known: make(map[string]struct{}),
	}
}

// Load bootstraps the registry from identities persisted in the metadata
// store. Entries that do not look like valid identities are skipped.
// Parameters:
//   - identities: identity values read from the metadata store.
// Returns:
//   - int: number of identities loaded.
func (r *Registry) Load(identities []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := 0
	for _, id := range identities {
		if !hashing.IsValidIdentity(id) {
			continue
		}
		if _, ok := r.known[id]; !ok {
			r.known[id] = struct{}{}
			loaded++
		}
	}
	return loaded
}

// CheckAndRegister computes the identity of data and registers it if new.
// The hash lookup and insert happen under one lock hold, so concurrent
// callers presenting identical bytes see exactly one duplicate=false result.
// Parameters:
//   - data: raw bytes of the final normalized image.
// Returns:
//   - string: content identity.
//   - bool: true when the identity was already known (duplicate).
//   - error: non-nil if the identity cannot be computed.
func (r *Registry) CheckAndRegister(data []byte) (string, bool, error) {
	identity, err := hashing.Identify(data)
	if err != nil {
		return "", false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.known[identity]; ok {
		return identity, true, nil
	}
	r.known[identity] = struct{}{}
	return identity, false, nil
}

// Register adds an already-computed identity to the set.
// Parameters:
//   - identity: 64-char lowercase hex identity.
// Returns:
//   - error: non-nil if the identity is malformed.
func (r *Registry) Register(identity string) error {
	if !hashing.IsValidIdentity(identity) {
		return fmt.Errorf("invalid identity format: %q", identity)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.known[identity] = struct{}{}
	return nil
}

// Contains reports whether an identity is already registered.
func (r *Registry) Contains(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.known[identity]
	return ok
}

// KnownCount returns the number of registered identities.
func (r *Registry) KnownCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.known)
}
