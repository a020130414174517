package extract

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"patterncore/internal/episodic"
	"patterncore/pkg/domain"
)

type capturingProposer struct {
	drafts []domain.PatternDraft
}

func (c *capturingProposer) ProposePattern(_ context.Context, draft domain.PatternDraft, _, _ string) (domain.CommitRecord, error) {
	c.drafts = append(c.drafts, draft)
	return domain.CommitRecord{Outcome: domain.OutcomeCommitted}, nil
}

// seedWindow loads two well-separated behaviors: profitable oversold buys
// and losing overbought buys.
func seedWindow(t *testing.T, store *episodic.FlatStore, now time.Time) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 40; i++ {
		ep := domain.Episode{
			ID:             fmt.Sprintf("win-%03d", i),
			OwnerAgent:     "agent-1",
			StateEmbedding: []float32{1, 0},
			Features: map[string]float64{
				"rsi":          24 + float64(i%5),
				"volume_ratio": 1.5 + 0.02*float64(i%7),
			},
			TrendCategory:  "downtrend",
			ActionTaken:    "buy",
			RealizedReturn: 0.02 + 0.001*float64(i%4),
			HoldDuration:   time.Hour,
			RegimeTag:      "high_vol",
			RecordedAt:     now.Add(-time.Duration(i+1) * time.Hour),
			ExpiresAt:      now.Add(24 * time.Hour),
		}
		if _, err := store.Put(ctx, ep); err != nil {
			t.Fatalf("put winner: %v", err)
		}
	}
	for i := 0; i < 20; i++ {
		ep := domain.Episode{
			ID:             fmt.Sprintf("loss-%03d", i),
			OwnerAgent:     "agent-1",
			StateEmbedding: []float32{0, 1},
			Features: map[string]float64{
				"rsi":          72 + float64(i%5),
				"volume_ratio": 0.8,
			},
			TrendCategory:  "uptrend",
			ActionTaken:    "buy",
			RealizedReturn: -0.02,
			HoldDuration:   time.Hour,
			RegimeTag:      "high_vol",
			RecordedAt:     now.Add(-time.Duration(i+1) * time.Hour),
			ExpiresAt:      now.Add(24 * time.Hour),
		}
		if _, err := store.Put(ctx, ep); err != nil {
			t.Fatalf("put loser: %v", err)
		}
	}
}

func TestEngine_ExtractsPatternFromProfitableCluster(t *testing.T) {
	store := episodic.NewFlatStore(2)
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	seedWindow(t, store, now)

	proposer := &capturingProposer{}
	cfg := DefaultConfig()
	cfg.MinValidatedTrades = 8
	engine := NewEngine("extractor-1", cfg, store, proposer)
	n, err := engine.RunCycle(context.Background(), now)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if n == 0 || len(proposer.drafts) == 0 {
		t.Fatalf("expected at least one extracted pattern")
	}

	draft := proposer.drafts[0]
	rng, ok := draft.Condition.NumericRanges["rsi"]
	if !ok {
		t.Fatalf("extracted condition must constrain rsi: %+v", draft.Condition)
	}
	// Clusters are drawn from profitable episodes with rsi in [24,28]; the
	// percentile range must sit inside that band, far from the losers.
	if rng.Low < 23 || rng.High > 29 {
		t.Fatalf("rsi range [%v,%v] outside the profitable cluster", rng.Low, rng.High)
	}
	if got := draft.Condition.Categorical["action"]; got != "buy" {
		t.Fatalf("action mode = %q", got)
	}
	if draft.SampleSize < cfg.MinValidatedTrades {
		t.Fatalf("validated sample %d below floor", draft.SampleSize)
	}
	if draft.WinRate < cfg.MinClusterWinRate {
		t.Fatalf("validated win rate %v below floor", draft.WinRate)
	}
	if draft.RegimeTag != "high_vol" {
		t.Fatalf("regime mode = %q", draft.RegimeTag)
	}
}

func TestEngine_ExtractionDeterministic(t *testing.T) {
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	run := func() []domain.PatternDraft {
		store := episodic.NewFlatStore(2)
		seedWindow(t, store, now)
		proposer := &capturingProposer{}
		engine := NewEngine("extractor-1", DefaultConfig(), store, proposer)
		if _, err := engine.RunCycle(context.Background(), now); err != nil {
			t.Fatalf("cycle: %v", err)
		}
		return proposer.drafts
	}

	first := run()
	for i := 0; i < 3; i++ {
		if got := run(); !reflect.DeepEqual(got, first) {
			t.Fatalf("extraction must be deterministic for a fixed window and seed")
		}
	}
}

func TestEngine_TooFewProfitableEpisodes(t *testing.T) {
	store := episodic.NewFlatStore(2)
	now := time.Now().UTC()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ep := domain.Episode{
			OwnerAgent:     "agent-1",
			StateEmbedding: []float32{1, 0},
			Features:       map[string]float64{"rsi": 25},
			ActionTaken:    "buy",
			RealizedReturn: 0.01,
			RecordedAt:     now.Add(-time.Hour),
			ExpiresAt:      now.Add(24 * time.Hour),
		}
		if _, err := store.Put(ctx, ep); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	proposer := &capturingProposer{}
	engine := NewEngine("extractor-1", DefaultConfig(), store, proposer)
	n, err := engine.RunCycle(ctx, now)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if n != 0 {
		t.Fatalf("below the cluster floor nothing should be proposed")
	}
}

func TestKmeans_DeterministicAssignment(t *testing.T) {
	points := [][]float64{
		{0, 0}, {0.1, 0}, {0, 0.1},
		{5, 5}, {5.1, 5}, {5, 5.1},
	}
	first := kmeans(points, 2, 1, 50)
	for i := 0; i < 5; i++ {
		if got := kmeans(points, 2, 1, 50); !reflect.DeepEqual(got, first) {
			t.Fatalf("fixed seed must give stable assignments")
		}
	}
	if first[0] != first[1] || first[0] != first[2] {
		t.Fatalf("near points must share a cluster: %v", first)
	}
	if first[0] == first[3] {
		t.Fatalf("distant points must split: %v", first)
	}
}

func TestFeatureMatrix_Standardizes(t *testing.T) {
	rows, names := featureMatrix([]map[string]float64{
		{"a": 1, "b": 10},
		{"a": 3, "b": 30},
	})
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names must be sorted: %v", names)
	}
	// Standardized two-point columns land at -1 and +1.
	for col := 0; col < 2; col++ {
		if rows[0][col] != -1 || rows[1][col] != 1 {
			t.Fatalf("column %d not standardized: %v %v", col, rows[0][col], rows[1][col])
		}
	}
}

func TestPercentileAndMode(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(values, 10); got != 1 {
		t.Fatalf("p10 = %v", got)
	}
	if got := percentile(values, 90); got != 9 {
		t.Fatalf("p90 = %v", got)
	}
	if got := mode([]string{"buy", "sell", "buy", ""}); got != "buy" {
		t.Fatalf("mode = %q", got)
	}
	if got := mode(nil); got != "" {
		t.Fatalf("empty mode = %q", got)
	}
}
