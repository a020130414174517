package domain

import "testing"

func sampleEpisode() Episode {
	return Episode{
		Features:      map[string]float64{"rsi": 28, "volume_ratio": 1.8},
		TrendCategory: "downtrend",
		ActionTaken:   "buy",
		RegimeTag:     "high_vol",
	}
}

func TestConditionPredicate_Matches(t *testing.T) {
	cond := ConditionPredicate{
		NumericRanges: map[string]Range{"rsi": {Low: 20, High: 30}},
		Categorical:   map[string]string{"trend_category": "downtrend"},
	}
	ep := sampleEpisode()
	if !cond.Matches(ep) {
		t.Fatalf("expected match")
	}

	ep.Features["rsi"] = 55
	if cond.Matches(ep) {
		t.Fatalf("out-of-range feature should not match")
	}

	ep.Features["rsi"] = 25
	ep.TrendCategory = "uptrend"
	if cond.Matches(ep) {
		t.Fatalf("categorical mismatch should not match")
	}
}

func TestConditionPredicate_MissingFeatureFails(t *testing.T) {
	cond := ConditionPredicate{NumericRanges: map[string]Range{"macd": {Low: -1, High: 1}}}
	if cond.Matches(sampleEpisode()) {
		t.Fatalf("episode without the feature must not match")
	}
}

func TestConditionPredicate_UnknownCategoricalKeyFails(t *testing.T) {
	cond := ConditionPredicate{Categorical: map[string]string{"weather": "sunny"}}
	if cond.Matches(sampleEpisode()) {
		t.Fatalf("unknown categorical key must fail the predicate")
	}
}

func TestConditionPredicate_Intersect(t *testing.T) {
	a := ConditionPredicate{
		NumericRanges: map[string]Range{"rsi": {Low: 20, High: 40}},
		Categorical:   map[string]string{"action": "buy"},
	}
	b := ConditionPredicate{
		NumericRanges: map[string]Range{"rsi": {Low: 30, High: 50}, "volume_ratio": {Low: 1, High: 2}},
		Categorical:   map[string]string{"action": "buy"},
	}
	merged, ok := a.Intersect(b)
	if !ok {
		t.Fatalf("overlapping ranges should intersect")
	}
	rng := merged.NumericRanges["rsi"]
	if rng.Low != 30 || rng.High != 40 {
		t.Fatalf("expected narrowed range [30,40], got %+v", rng)
	}
	if _, ok := merged.NumericRanges["volume_ratio"]; !ok {
		t.Fatalf("non-overlapping keys should carry over")
	}

	c := ConditionPredicate{NumericRanges: map[string]Range{"rsi": {Low: 60, High: 80}}}
	if _, ok := a.Intersect(c); ok {
		t.Fatalf("disjoint ranges must not intersect")
	}

	d := ConditionPredicate{Categorical: map[string]string{"action": "sell"}}
	if _, ok := a.Intersect(d); ok {
		t.Fatalf("conflicting categorical terms must not intersect")
	}
}

func TestConditionPredicate_StringStable(t *testing.T) {
	cond := ConditionPredicate{
		NumericRanges: map[string]Range{"b": {Low: 1, High: 2}, "a": {Low: 0, High: 1}},
		Categorical:   map[string]string{"action": "buy"},
	}
	first := cond.String()
	for i := 0; i < 20; i++ {
		if got := cond.String(); got != first {
			t.Fatalf("render must be deterministic: %q vs %q", got, first)
		}
	}
}

func TestResult_BlockingAndMerge(t *testing.T) {
	var r Result
	r.Merge(Result{Violations: []Violation{{Rule: "x", Severity: SeverityWarn, Message: "w"}}})
	if r.HasBlocking() {
		t.Fatalf("warn must not block")
	}
	r.Merge(Result{Violations: []Violation{{Rule: "y", Severity: SeverityBlock, Message: "b"}}})
	if !r.HasBlocking() {
		t.Fatalf("block severity must block")
	}
	if len(r.Reasons()) != 2 {
		t.Fatalf("expected both reasons rendered, got %v", r.Reasons())
	}
}

func TestProposal_ContentHash(t *testing.T) {
	ep := sampleEpisode()
	p := Proposal{Kind: KindAddEpisode, Payload: Payload{Episode: &ep}}
	h1 := p.ContentHash()
	h2 := p.ContentHash()
	if h1 == "" || h1 != h2 {
		t.Fatalf("hash must be stable, got %q and %q", h1, h2)
	}

	other := ep.Clone()
	other.RealizedReturn = 0.42
	q := Proposal{Kind: KindAddEpisode, Payload: Payload{Episode: &other}}
	if q.ContentHash() == h1 {
		t.Fatalf("different payloads must hash differently")
	}

	// Metadata outside the payload must not change the hash.
	p.Submitter = "agent-7"
	p.StateVersion = 99
	if p.ContentHash() != h1 {
		t.Fatalf("submitter and version must not affect the content hash")
	}
}
