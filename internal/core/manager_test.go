package core

import (
	"math"
	"reflect"
	"testing"
	"time"

	"patterncore/pkg/domain"
)

func testLibrary(t *testing.T) *Library {
	t.Helper()
	return NewLibrary(DefaultGateConfig(), DefaultDriftConfig(), 4)
}

func testEvalConfig() EvalConfig {
	cfg := DefaultEvalConfig()
	cfg.EmbeddingDim = 4
	return cfg
}

func validEpisode() Episode {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return Episode{
		OwnerAgent:     "agent-1",
		StateEmbedding: []float32{0.1, 0.2, 0.3, 0.4},
		Features:       map[string]float64{"rsi": 27},
		TrendCategory:  "downtrend",
		ActionTaken:    "buy",
		RealizedReturn: 0.02,
		HoldDuration:   time.Hour,
		RegimeTag:      "high_vol",
		RecordedAt:     now,
		ExpiresAt:      now.Add(90 * 24 * time.Hour),
	}
}

func validDraft() domain.PatternDraft {
	return domain.PatternDraft{
		Name:                 "oversold-bounce",
		Condition:            ConditionPredicate{NumericRanges: map[string]domain.Range{"rsi": {Low: 20, High: 30}}},
		ExpectedReturn:       0.015,
		ExpectedHoldDuration: 2 * time.Hour,
		SampleSize:           150,
		WinRate:              0.62,
		SharpeEstimate:       1.8,
		MaxDrawdownEstimate:  0.08,
		PositionFraction:     0.10,
		StopLossPct:          0.05,
	}
}

func episodeProposal(e Episode) Proposal {
	return Proposal{ID: "p-ep", Kind: KindAddEpisode, Payload: domain.Payload{Episode: &e}, Submitter: "agent-1"}
}

func patternProposal(d domain.PatternDraft) Proposal {
	return Proposal{ID: "p-pat", Kind: KindAddPattern, Payload: domain.Payload{Pattern: &d}, Submitter: "agent-1"}
}

func TestManager_EvaluateDeterministic(t *testing.T) {
	lib := testLibrary(t)
	m := NewManager("manager-1", testEvalConfig())
	p := episodeProposal(validEpisode())
	view := lib.View()

	first := m.Evaluate(p, view)
	for i := 0; i < 10; i++ {
		if got := m.Evaluate(p, view); !reflect.DeepEqual(got, first) {
			t.Fatalf("evaluation must be pure: %+v vs %+v", got, first)
		}
	}
	if first.Decision != DecisionAccept {
		t.Fatalf("valid episode should be accepted: %+v", first)
	}
	if !first.CastAt.IsZero() {
		t.Fatalf("Evaluate must not stamp CastAt")
	}
	if first.ContentHash != p.ContentHash() {
		t.Fatalf("vote must carry the proposal content hash")
	}
}

func TestManager_RejectsUnknownKind(t *testing.T) {
	m := NewManager("manager-1", testEvalConfig())
	p := Proposal{ID: "p-x", Kind: "drop_table"}
	vote := m.Evaluate(p, testLibrary(t).View())
	if vote.Decision != DecisionReject {
		t.Fatalf("unknown kind must be rejected")
	}
	if len(vote.Reasons) == 0 {
		t.Fatalf("rejection must carry a reason")
	}
}

func TestManager_EpisodeShapeChecks(t *testing.T) {
	m := NewManager("manager-1", testEvalConfig())
	view := testLibrary(t).View()

	cases := []struct {
		name   string
		mutate func(*Episode)
	}{
		{"wrong dimensionality", func(e *Episode) { e.StateEmbedding = []float32{1, 2} }},
		{"nan embedding", func(e *Episode) { e.StateEmbedding[0] = float32(math.NaN()) }},
		{"missing owner", func(e *Episode) { e.OwnerAgent = "" }},
		{"missing action", func(e *Episode) { e.ActionTaken = "" }},
		{"missing recorded_at", func(e *Episode) { e.RecordedAt = time.Time{} }},
		{"expiry before record", func(e *Episode) { e.ExpiresAt = e.RecordedAt.Add(-time.Hour) }},
		{"non-finite return", func(e *Episode) { e.RealizedReturn = math.Inf(1) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := validEpisode()
			tc.mutate(&e)
			if vote := m.Evaluate(episodeProposal(e), view); vote.Decision != DecisionReject {
				t.Fatalf("expected rejection, got %+v", vote)
			}
		})
	}
}

func TestManager_EpisodeSafety(t *testing.T) {
	m := NewManager("manager-1", testEvalConfig())
	e := validEpisode()
	e.RealizedReturn = -0.60
	vote := m.Evaluate(episodeProposal(e), testLibrary(t).View())
	if vote.Decision != DecisionReject {
		t.Fatalf("loss beyond the per-trade limit must be rejected: %+v", vote)
	}
}

func TestManager_PatternSoundness(t *testing.T) {
	m := NewManager("manager-1", testEvalConfig())
	view := testLibrary(t).View()

	cases := []struct {
		name   string
		mutate func(*domain.PatternDraft)
		reject bool
	}{
		{"valid", func(d *domain.PatternDraft) {}, false},
		{"small sample", func(d *domain.PatternDraft) { d.SampleSize = 50 }, true},
		{"sharpe too low", func(d *domain.PatternDraft) { d.SharpeEstimate = 0.1 }, true},
		{"sharpe implausibly high", func(d *domain.PatternDraft) { d.SharpeEstimate = 6.0 }, true},
		{"drawdown too deep", func(d *domain.PatternDraft) { d.MaxDrawdownEstimate = 0.30 }, true},
		{"drawdown at ceiling", func(d *domain.PatternDraft) { d.MaxDrawdownEstimate = 0.25 }, true},
		{"drawdown just below ceiling", func(d *domain.PatternDraft) { d.MaxDrawdownEstimate = 0.24 }, false},
		{"win rate out of range", func(d *domain.PatternDraft) { d.WinRate = 1.4 }, true},
		{"empty condition", func(d *domain.PatternDraft) { d.Condition = ConditionPredicate{} }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := validDraft()
			tc.mutate(&d)
			vote := m.Evaluate(patternProposal(d), view)
			if tc.reject && vote.Decision != DecisionReject {
				t.Fatalf("expected rejection, got %+v", vote)
			}
			if !tc.reject && vote.Decision != DecisionAccept {
				t.Fatalf("expected acceptance, got %+v", vote)
			}
		})
	}
}

func TestManager_PatternSafety(t *testing.T) {
	m := NewManager("manager-1", testEvalConfig())
	view := testLibrary(t).View()

	d := validDraft()
	d.PositionFraction = 0.40
	if vote := m.Evaluate(patternProposal(d), view); vote.Decision != DecisionReject {
		t.Fatalf("oversized position fraction must be rejected")
	}

	d = validDraft()
	d.StopLossPct = 0.25
	if vote := m.Evaluate(patternProposal(d), view); vote.Decision != DecisionReject {
		t.Fatalf("oversized stop loss must be rejected")
	}
}

func TestManager_UpdateRequiresExistingTarget(t *testing.T) {
	m := NewManager("manager-1", testEvalConfig())
	d := validDraft()
	d.TargetID = "nope"
	p := Proposal{ID: "p-up", Kind: KindUpdatePattern, Payload: domain.Payload{Pattern: &d}}
	if vote := m.Evaluate(p, testLibrary(t).View()); vote.Decision != DecisionReject {
		t.Fatalf("update against a missing target must be rejected")
	}
}

func TestManager_DeprecationChecks(t *testing.T) {
	lib := testLibrary(t)
	m := NewManager("manager-1", testEvalConfig())

	dep := domain.Deprecation{PatternID: "missing"}
	p := Proposal{ID: "p-dep", Kind: KindDeprecatePattern, Payload: domain.Payload{Deprecation: &dep}}
	if vote := m.Evaluate(p, lib.View()); vote.Decision != DecisionReject {
		t.Fatalf("deprecating a missing pattern must be rejected")
	}

	// Commit a pattern, then deprecation of it is accepted.
	record := CommitRecord{ProposalID: "c-1", Kind: KindAddPattern, Outcome: OutcomeCommitted}
	draft := validDraft()
	commit := Proposal{ID: "c-1", Kind: KindAddPattern, Payload: domain.Payload{Pattern: &draft}}
	if err := lib.ApplyCommit(commit, record); err != nil {
		t.Fatalf("apply commit: %v", err)
	}
	patterns := lib.View().ListPatterns()
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(patterns))
	}
	dep2 := domain.Deprecation{PatternID: patterns[0].ID, Reason: "drift"}
	p2 := Proposal{ID: "p-dep2", Kind: KindDeprecatePattern, Payload: domain.Payload{Deprecation: &dep2}}
	if vote := m.Evaluate(p2, lib.View()); vote.Decision != DecisionAccept {
		t.Fatalf("deprecating an enabled pattern should be accepted: %+v", vote)
	}
}
