// Package memory provides the non-durable library store: the plain
// in-memory library behind the same constructor shape as the durable
// backends, for tests and ephemeral deployments.
package memory

import (
	"patterncore/internal/core"
)

// Store is the in-memory library with no snapshot persistence.
type Store struct {
	*core.Library
}

// NewStore constructs an empty in-memory store.
func NewStore(gate core.GateConfig, drift core.DriftConfig, embeddingDim int) *Store {
	return &Store{Library: core.NewLibrary(gate, drift, embeddingDim)}
}
