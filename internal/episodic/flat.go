// Package episodic implements the vector-capable episode store: immutable
// episode records with exact k-NN cosine retrieval, scoped filtering, and
// expiry sweeps. Two drivers are provided behind a factory: a flat in-memory
// index (default) and an embedded chromem-go collection.
package episodic

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"patterncore/pkg/domain"
)

// FlatStore is an exact cosine-similarity index over an in-memory episode
// arena. Linear scan keeps retrieval single-digit-millisecond well past the
// ten-thousand-entry scale and stays exact, which the consensus tests rely
// on.
type FlatStore struct {
	mu       sync.RWMutex
	dim      int
	episodes map[string]domain.Episode
}

// NewFlatStore constructs an empty index for embeddings of the given
// dimensionality.
func NewFlatStore(dim int) *FlatStore {
	if dim <= 0 {
		dim = 16
	}
	return &FlatStore{dim: dim, episodes: make(map[string]domain.Episode)}
}

// Put stores an episode. Only the coordinator calls this, after a committed
// add_episode proposal; a repeated put for the same id overwrites with
// identical content, keeping commit idempotent.
func (s *FlatStore) Put(_ context.Context, e domain.Episode) (string, error) {
	if len(e.StateEmbedding) != s.dim {
		return "", fmt.Errorf("embedding dimensionality %d, expected %d", len(e.StateEmbedding), s.dim)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.mu.Lock()
	s.episodes[e.ID] = e.Clone()
	s.mu.Unlock()
	return e.ID, nil
}

// Get retrieves an episode by id.
func (s *FlatStore) Get(_ context.Context, id string) (domain.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.episodes[id]
	if !ok {
		return domain.Episode{}, domain.ErrNotFound{Entity: domain.EntityEpisode, ID: id}
	}
	return e.Clone(), nil
}

// KNN returns up to k episodes ordered by descending cosine similarity to
// the query. Ties break by most-recent RecordedAt.
func (s *FlatStore) KNN(_ context.Context, query []float32, k int, filter domain.EpisodeFilter) ([]domain.ScoredEpisode, error) {
	if len(query) != s.dim {
		return nil, fmt.Errorf("query dimensionality %d, expected %d", len(query), s.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	scored := make([]domain.ScoredEpisode, 0, len(s.episodes))
	for _, e := range s.episodes {
		if !filter.Accepts(e) {
			continue
		}
		scored = append(scored, domain.ScoredEpisode{
			Episode:    e.Clone(),
			Similarity: cosineSimilarity(query, e.StateEmbedding),
		})
	}
	s.mu.RUnlock()

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Episode.RecordedAt.After(scored[j].Episode.RecordedAt)
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// List returns episodes passing the filter, most recent first.
func (s *FlatStore) List(_ context.Context, filter domain.EpisodeFilter) ([]domain.Episode, error) {
	s.mu.RLock()
	out := make([]domain.Episode, 0, len(s.episodes))
	for _, e := range s.episodes {
		if filter.Accepts(e) {
			out = append(out, e.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.After(out[j].RecordedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Delete removes an episode by id, reporting whether it existed.
func (s *FlatStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.episodes[id]; !ok {
		return false, nil
	}
	delete(s.episodes, id)
	return true, nil
}

// SweepExpired removes episodes whose ExpiresAt has passed.
func (s *FlatStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.episodes {
		if e.Expired(now) {
			delete(s.episodes, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored episodes.
func (s *FlatStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.episodes), nil
}

func cosineSimilarity(a []float32, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
