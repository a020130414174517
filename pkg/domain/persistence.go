package domain

import (
	"context"
	"fmt"
	"time"
)

// StateView provides read-only access to a stable snapshot of the pattern
// library for manager evaluation and query paths. Implementations must be
// immutable for the lifetime of the view: two managers handed the same view
// observe identical state.
type StateView interface {
	// Version is the monotonically increasing library version the view was
	// taken at. Proposals are stamped with it and votes echo it back.
	Version() uint64
	// EmbeddingDim is the globally agreed episode embedding dimensionality.
	EmbeddingDim() int
	FindPattern(id string) (Pattern, bool)
	ListPatterns() []Pattern
	EnabledPatterns() []Pattern
	ListRegimes() []Regime
	// IsCommitted reports whether a proposal id has already been applied,
	// making repeat commits idempotent.
	IsCommitted(proposalID string) bool
}

// EpisodeFilter scopes k-NN and listing reads over the episodic store.
// Zero-valued fields do not constrain.
type EpisodeFilter struct {
	RegimeTag      string
	OwnerAgent     string
	ProfitableOnly bool
	RecordedAfter  time.Time
}

// Accepts reports whether an episode passes the filter.
func (f EpisodeFilter) Accepts(e Episode) bool {
	if f.RegimeTag != "" && e.RegimeTag != f.RegimeTag {
		return false
	}
	if f.OwnerAgent != "" && e.OwnerAgent != f.OwnerAgent {
		return false
	}
	if f.ProfitableOnly && !e.Profitable() {
		return false
	}
	if !f.RecordedAfter.IsZero() && e.RecordedAt.Before(f.RecordedAfter) {
		return false
	}
	return true
}

// ScoredEpisode pairs an episode with its cosine similarity to a query.
type ScoredEpisode struct {
	Episode    Episode
	Similarity float64
}

// EpisodeStore is the vector-capable persistence collaborator. Put is only
// ever invoked by the coordinator after a committed add_episode proposal,
// preserving the single-writer-after-consensus invariant; every other
// component reads only.
type EpisodeStore interface {
	Put(ctx context.Context, e Episode) (string, error)
	Get(ctx context.Context, id string) (Episode, error)
	// Delete removes an episode by id, reporting whether it existed. The
	// coordinator uses it to compensate an episodic write whose library
	// commit failed; episodes are otherwise immutable until expiry.
	Delete(ctx context.Context, id string) (bool, error)
	// KNN returns up to k episodes ordered by descending cosine similarity
	// to the query vector. Ties break by most-recent RecordedAt.
	KNN(ctx context.Context, query []float32, k int, filter EpisodeFilter) ([]ScoredEpisode, error)
	// List returns episodes passing the filter, most recent first.
	List(ctx context.Context, filter EpisodeFilter) ([]Episode, error)
	// SweepExpired removes episodes whose ExpiresAt has passed.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	Len(ctx context.Context) (int, error)
}

// ErrNotFound is returned when a referenced record does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ErrStoreUnavailable wraps a persistence failure during commit. The
// coordinator converts it into a REJECTED broadcast rather than leaving the
// proposal silently open.
type ErrStoreUnavailable struct {
	Op  string
	Err error
}

func (e ErrStoreUnavailable) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e ErrStoreUnavailable) Unwrap() error { return e.Err }
