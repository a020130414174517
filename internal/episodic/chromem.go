package episodic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"patterncore/pkg/domain"
)

// ChromemStore backs the episode index with chromem-go, a pure Go embedded
// vector database. Embeddings are precomputed upstream, so the collection
// is created without an embedding function. A sidecar arena keeps the full
// episode records for Get/List/Sweep, which the collection API does not
// cover.
type ChromemStore struct {
	mu       sync.RWMutex
	dim      int
	col      *chromem.Collection
	episodes map[string]domain.Episode
}

// NewChromemStore constructs an empty chromem-backed store.
func NewChromemStore(dim int) (*ChromemStore, error) {
	if dim <= 0 {
		dim = 16
	}
	db := chromem.NewDB()
	col, err := db.CreateCollection("episodes", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create episode collection: %w", err)
	}
	return &ChromemStore{dim: dim, col: col, episodes: make(map[string]domain.Episode)}, nil
}

// Put stores an episode and indexes its embedding.
func (s *ChromemStore) Put(ctx context.Context, e domain.Episode) (string, error) {
	if len(e.StateEmbedding) != s.dim {
		return "", fmt.Errorf("embedding dimensionality %d, expected %d", len(e.StateEmbedding), s.dim)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.episodes[e.ID]; exists {
		// Repeat put for a committed id: content is identical, nothing to do.
		return e.ID, nil
	}
	doc := chromem.Document{
		ID:        e.ID,
		Content:   e.ActionTaken,
		Embedding: append([]float32(nil), e.StateEmbedding...),
		Metadata: map[string]string{
			"regime_tag":  e.RegimeTag,
			"owner_agent": e.OwnerAgent,
		},
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("add episode document: %w", err)
	}
	s.episodes[e.ID] = e.Clone()
	return e.ID, nil
}

// Get retrieves an episode by id.
func (s *ChromemStore) Get(_ context.Context, id string) (domain.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.episodes[id]
	if !ok {
		return domain.Episode{}, domain.ErrNotFound{Entity: domain.EntityEpisode, ID: id}
	}
	return e.Clone(), nil
}

// KNN queries the collection and applies the remaining filter terms that
// chromem's metadata equality cannot express. Ties break by most-recent
// RecordedAt, matching the flat driver.
func (s *ChromemStore) KNN(ctx context.Context, query []float32, k int, filter domain.EpisodeFilter) ([]domain.ScoredEpisode, error) {
	if len(query) != s.dim {
		return nil, fmt.Errorf("query dimensionality %d, expected %d", len(query), s.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	total := len(s.episodes)
	s.mu.RUnlock()
	if total == 0 {
		return nil, nil
	}

	var where map[string]string
	if filter.RegimeTag != "" {
		where = map[string]string{"regime_tag": filter.RegimeTag}
	}

	// Over-fetch so post-filtering on profitability and recency still fills
	// k results. chromem rejects nResults above the candidate count, so
	// step the limit down on that specific error.
	var results []chromem.Result
	for limit := min(total, k*4); limit >= 1; limit-- {
		var err error
		results, err = s.col.QueryEmbedding(ctx, query, limit, where, nil)
		if err == nil {
			break
		}
		if strings.Contains(err.Error(), "nResults") {
			continue
		}
		return nil, fmt.Errorf("query episode collection: %w", err)
	}

	s.mu.RLock()
	scored := make([]domain.ScoredEpisode, 0, len(results))
	for _, r := range results {
		e, ok := s.episodes[r.ID]
		if !ok || !filter.Accepts(e) {
			continue
		}
		scored = append(scored, domain.ScoredEpisode{
			Episode:    e.Clone(),
			Similarity: float64(r.Similarity),
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
func (s *ChromemStore) List(_ context.Context, filter domain.EpisodeFilter) ([]domain.Episode, error) {
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

// Delete removes an episode from the arena and the collection, reporting
// whether it existed.
func (s *ChromemStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.episodes[id]; !ok {
		return false, nil
	}
	if err := s.col.Delete(ctx, nil, nil, id); err != nil {
		return false, fmt.Errorf("delete episode document: %w", err)
	}
	delete(s.episodes, id)
	return true, nil
}

// SweepExpired removes expired episodes from both the arena and the
// collection.
func (s *ChromemStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []string
	for id, e := range s.episodes {
		if e.Expired(now) {
			expired = append(expired, id)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if err := s.col.Delete(ctx, nil, nil, expired...); err != nil {
		return 0, fmt.Errorf("delete expired documents: %w", err)
	}
	for _, id := range expired {
		delete(s.episodes, id)
	}
	return len(expired), nil
}

// Len returns the number of stored episodes.
func (s *ChromemStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.episodes), nil
}
