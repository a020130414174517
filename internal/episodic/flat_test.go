package episodic

import (
	"context"
	"testing"
	"time"

	"patterncore/pkg/domain"
)

func episodeAt(embedding []float32, recorded time.Time) domain.Episode {
	return domain.Episode{
		OwnerAgent:     "agent-1",
		StateEmbedding: embedding,
		ActionTaken:    "buy",
		RealizedReturn: 0.01,
		RegimeTag:      "high_vol",
		RecordedAt:     recorded,
		ExpiresAt:      recorded.Add(90 * 24 * time.Hour),
	}
}

func TestFlatStore_PutGet(t *testing.T) {
	s := NewFlatStore(2)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	id, err := s.Put(ctx, episodeAt([]float32{1, 0}, now))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, id)
	if err != nil || got.ID != id {
		t.Fatalf("get: %v %+v", err, got)
	}
	if _, err := s.Get(ctx, "missing"); err == nil {
		t.Fatalf("expected not-found error")
	}
	if _, err := s.Put(ctx, episodeAt([]float32{1, 0, 0}, now)); err == nil {
		t.Fatalf("dimensionality mismatch must fail")
	}
}

func TestFlatStore_PutIdempotentByID(t *testing.T) {
	s := NewFlatStore(2)
	ctx := context.Background()
	now := time.Now().UTC()

	e := episodeAt([]float32{1, 0}, now)
	e.ID = "fixed-id"
	if _, err := s.Put(ctx, e); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Put(ctx, e); err != nil {
		t.Fatalf("repeat put: %v", err)
	}
	n, _ := s.Len(ctx)
	if n != 1 {
		t.Fatalf("repeat put must not duplicate: %d entries", n)
	}
}

func TestFlatStore_KNNOrderAndCount(t *testing.T) {
	s := NewFlatStore(2)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	exact, _ := s.Put(ctx, episodeAt([]float32{1, 0}, now))
	near, _ := s.Put(ctx, episodeAt([]float32{0.9, 0.1}, now))
	if _, err := s.Put(ctx, episodeAt([]float32{0, 1}, now)); err != nil {
		t.Fatalf("put: %v", err)
	}

	scored, err := s.KNN(ctx, []float32{1, 0}, 2, domain.EpisodeFilter{})
	if err != nil {
		t.Fatalf("knn: %v", err)
	}
	if len(scored) != 2 {
		t.Fatalf("expected 2 neighbors, got %d", len(scored))
	}
	if scored[0].Episode.ID != exact || scored[1].Episode.ID != near {
		t.Fatalf("neighbors out of similarity order: %s, %s", scored[0].Episode.ID, scored[1].Episode.ID)
	}
	if scored[0].Similarity < scored[1].Similarity {
		t.Fatalf("similarities must be descending")
	}

	if got, _ := s.KNN(ctx, []float32{1, 0}, 0, domain.EpisodeFilter{}); got != nil {
		t.Fatalf("k=0 must return nil")
	}
	if _, err := s.KNN(ctx, []float32{1}, 1, domain.EpisodeFilter{}); err == nil {
		t.Fatalf("query dimensionality mismatch must fail")
	}
}

func TestFlatStore_KNNTieBreaksByRecency(t *testing.T) {
	s := NewFlatStore(2)
	ctx := context.Background()
	older := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	if _, err := s.Put(ctx, episodeAt([]float32{1, 0}, older)); err != nil {
		t.Fatalf("put: %v", err)
	}
	recent, _ := s.Put(ctx, episodeAt([]float32{1, 0}, newer))

	scored, err := s.KNN(ctx, []float32{1, 0}, 2, domain.EpisodeFilter{})
	if err != nil || len(scored) != 2 {
		t.Fatalf("knn: %v %d", err, len(scored))
	}
	if scored[0].Episode.ID != recent {
		t.Fatalf("equal similarity must prefer the more recent episode")
	}
}

func TestFlatStore_KNNFilter(t *testing.T) {
	s := NewFlatStore(2)
	ctx := context.Background()
	now := time.Now().UTC()

	inRegime := episodeAt([]float32{1, 0}, now)
	out := episodeAt([]float32{1, 0}, now)
	out.RegimeTag = "low_vol"
	loser := episodeAt([]float32{1, 0}, now)
	loser.RealizedReturn = -0.05

	want, _ := s.Put(ctx, inRegime)
	if _, err := s.Put(ctx, out); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Put(ctx, loser); err != nil {
		t.Fatalf("put: %v", err)
	}

	scored, err := s.KNN(ctx, []float32{1, 0}, 10, domain.EpisodeFilter{RegimeTag: "high_vol", ProfitableOnly: true})
	if err != nil {
		t.Fatalf("knn: %v", err)
	}
	if len(scored) != 1 || scored[0].Episode.ID != want {
		t.Fatalf("filter failed: %+v", scored)
	}
}

func TestFlatStore_ListRecentFirst(t *testing.T) {
	s := NewFlatStore(2)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if _, err := s.Put(ctx, episodeAt([]float32{1, 0}, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	out, err := s.List(ctx, domain.EpisodeFilter{})
	if err != nil || len(out) != 3 {
		t.Fatalf("list: %v %d", err, len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].RecordedAt.After(out[i-1].RecordedAt) {
			t.Fatalf("list must be most recent first")
		}
	}
	filtered, _ := s.List(ctx, domain.EpisodeFilter{RecordedAfter: base.Add(90 * time.Minute)})
	if len(filtered) != 1 {
		t.Fatalf("recorded-after filter failed: %d", len(filtered))
	}
}

func TestFlatStore_Delete(t *testing.T) {
	s := NewFlatStore(2)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := s.Put(ctx, episodeAt([]float32{1, 0}, now))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	removed, err := s.Delete(ctx, id)
	if err != nil || !removed {
		t.Fatalf("delete: %v removed=%v", err, removed)
	}
	if _, err := s.Get(ctx, id); err == nil {
		t.Fatalf("deleted episode must not be retrievable")
	}
	removed, err = s.Delete(ctx, id)
	if err != nil || removed {
		t.Fatalf("repeat delete must report not found: %v %v", err, removed)
	}
}

func TestFlatStore_SweepExpired(t *testing.T) {
	s := NewFlatStore(2)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	e := episodeAt([]float32{1, 0}, now)
	e.ExpiresAt = now.Add(time.Hour)
	if _, err := s.Put(ctx, e); err != nil {
		t.Fatalf("put: %v", err)
	}
	keep := episodeAt([]float32{0, 1}, now)
	keep.ExpiresAt = now.Add(48 * time.Hour)
	if _, err := s.Put(ctx, keep); err != nil {
		t.Fatalf("put: %v", err)
	}

	removed, err := s.SweepExpired(ctx, now.Add(2*time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("sweep: %v removed=%d", err, removed)
	}
	n, _ := s.Len(ctx)
	if n != 1 {
		t.Fatalf("expected 1 survivor, got %d", n)
	}
}

func TestFactory_UnknownDriver(t *testing.T) {
	if _, err := Open("bogus", 4); err == nil {
		t.Fatalf("unknown driver must error")
	}
	s, err := Open("", 4)
	if err != nil || s == nil {
		t.Fatalf("empty driver must default to flat: %v", err)
	}
}
