// Package solo implements the non-replicated single-node mode: a
// degenerate wrapper over internal/store with no peer traffic.
package solo

import "github.com/distkv/chainkv/internal/store"

// Solo exposes the same Get/Put/GetAll surface as chain.Chain, backed
// directly by a Store with no replication whatsoever.
type Solo struct {
	store *store.Store
}

// New creates an empty Solo node.
func New() *Solo {
	return &Solo{store: store.New()}
}

// Get reads a single entry.
func (s *Solo) Get(key string) (string, bool) {
	return s.store.Get(key)
}

// Put stores a new entry.
func (s *Solo) Put(key, value string) {
	s.store.Put(key, value)
}

// GetAll returns every entry currently stored.
func (s *Solo) GetAll() []store.Entry {
	return s.store.Snapshot()
}
