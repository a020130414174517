// Package extract implements the pattern extraction engine: it clusters
// recent profitable episodes by their feature vectors, distills each
// viable cluster into a condition predicate, validates the predicate
// against the full episode window, and submits the survivors as
// add_pattern proposals. Extraction never touches the library directly.
package extract

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"patterncore/internal/optimize"
	"patterncore/pkg/domain"
)

// Proposer is the propose-only surface the extractor drives.
type Proposer interface {
	ProposePattern(ctx context.Context, draft domain.PatternDraft, submitter, justification string) (domain.CommitRecord, error)
}

// Config controls the extraction cycle.
type Config struct {
	// Lookback scopes the episode window read each cycle.
	Lookback time.Duration
	// MinClusterSize is the smallest cluster worth distilling.
	MinClusterSize int
	// MinClusterWinRate filters clusters before validation; the validated
	// win rate over the full window is what managers actually judge.
	MinClusterWinRate float64
	// MinValidatedTrades is the floor on backtest sample size for a
	// candidate to be proposed.
	MinValidatedTrades int
	// Seed fixes the clustering RNG so a window extracts deterministically.
	Seed int64
	// MaxIterations bounds the k-means loop.
	MaxIterations int
	// RangeLowPct / RangeHighPct are the percentile bounds used to turn a
	// cluster's feature distribution into numeric ranges.
	RangeLowPct  float64
	RangeHighPct float64
}

// DefaultConfig returns the documented extraction parameters.
func DefaultConfig() Config {
	return Config{
		Lookback:           30 * 24 * time.Hour,
		MinClusterSize:     10,
		MinClusterWinRate:  0.55,
		MinValidatedTrades: 10,
		Seed:               1,
		MaxIterations:      50,
		RangeLowPct:        10,
		RangeHighPct:       90,
	}
}

// Engine runs the periodic extraction cycle.
type Engine struct {
	id       string
	cfg      Config
	episodes domain.EpisodeStore
	proposer Proposer
}

// NewEngine constructs an extraction engine.
func NewEngine(id string, cfg Config, episodes domain.EpisodeStore, proposer Proposer) *Engine {
	if cfg.MinClusterSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{id: id, cfg: cfg, episodes: episodes, proposer: proposer}
}

// RunCycle performs one extraction pass and returns the number of pattern
// proposals submitted. Manager rejection of a candidate is normal
// operation; only store failures surface as errors.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) (int, error) {
	window, err := e.episodes.List(ctx, domain.EpisodeFilter{RecordedAfter: now.Add(-e.cfg.Lookback)})
	if err != nil {
		return 0, fmt.Errorf("list episode window: %w", err)
	}

	profitable := make([]domain.Episode, 0, len(window))
	for _, ep := range window {
		if ep.Profitable() {
			profitable = append(profitable, ep)
		}
	}
	if len(profitable) < e.cfg.MinClusterSize {
		return 0, nil
	}

	// Stable input order so the seeded clustering is reproducible.
	sort.Slice(profitable, func(i, j int) bool { return profitable[i].ID < profitable[j].ID })

	features := make([]map[string]float64, len(profitable))
	for i, ep := range profitable {
		features[i] = ep.Features
	}
	rows, names := featureMatrix(features)
	if len(names) == 0 {
		return 0, nil
	}

	k := clusterCount(len(profitable))
	assign := kmeans(rows, k, e.cfg.Seed, e.cfg.MaxIterations)

	clusters := make(map[int][]domain.Episode)
	for i, c := range assign {
		clusters[c] = append(clusters[c], profitable[i])
	}
	clusterIDs := make([]int, 0, len(clusters))
	for c := range clusters {
		clusterIDs = append(clusterIDs, c)
	}
	sort.Ints(clusterIDs)

	proposed := 0
	for _, c := range clusterIDs {
		members := clusters[c]
		if len(members) < e.cfg.MinClusterSize {
			continue
		}
		draft, ok := e.distill(members, names, window)
		if !ok {
			continue
		}
		justification := fmt.Sprintf("extracted from cluster of %d profitable episodes: validated win rate %.2f, sharpe %.2f over %d window trades",
			len(members), draft.WinRate, draft.SharpeEstimate, draft.SampleSize)
		if _, err := e.proposer.ProposePattern(ctx, draft, e.id, justification); err != nil {
			log.Printf("[EXTRACT] pattern proposal %s failed: %v", draft.Name, err)
			continue
		}
		proposed++
	}
	return proposed, nil
}

// distill turns one cluster into a candidate draft. Numeric ranges come
// from the cluster's percentile spread per feature; categorical terms come
// from the cluster's modal trend category and action. The candidate is
// validated against the full window (wins and losses both) before it is
// worth proposing.
func (e *Engine) distill(members []domain.Episode, names []string, window []domain.Episode) (domain.PatternDraft, bool) {
	condition := domain.ConditionPredicate{
		NumericRanges: make(map[string]domain.Range),
		Categorical:   make(map[string]string),
	}
	for _, name := range names {
		values := make([]float64, 0, len(members))
		for _, ep := range members {
			if v, ok := ep.Features[name]; ok {
				values = append(values, v)
			}
		}
		if len(values) < len(members)/2 {
			continue
		}
		low := percentile(values, e.cfg.RangeLowPct)
		high := percentile(values, e.cfg.RangeHighPct)
		if low >= high {
			continue
		}
		condition.NumericRanges[name] = domain.Range{Low: low, High: high}
	}

	trends := make([]string, len(members))
	actions := make([]string, len(members))
	regimes := make([]string, len(members))
	for i, ep := range members {
		trends[i] = ep.TrendCategory
		actions[i] = ep.ActionTaken
		regimes[i] = ep.RegimeTag
	}
	if trend := mode(trends); trend != "" {
		condition.Categorical["trend_category"] = trend
	}
	if action := mode(actions); action != "" {
		condition.Categorical["action"] = action
	}
	if condition.Empty() {
		return domain.PatternDraft{}, false
	}

	report := optimize.Backtest(condition, window)
	if report.Trades < e.cfg.MinValidatedTrades || report.WinRate < e.cfg.MinClusterWinRate {
		return domain.PatternDraft{}, false
	}

	var holdSum time.Duration
	for _, ep := range members {
		holdSum += ep.HoldDuration
	}

	draft := domain.PatternDraft{
		Name:                 fmt.Sprintf("extracted-%s-%s", condition.Categorical["action"], condition.Categorical["trend_category"]),
		Condition:            condition,
		ExpectedReturn:       report.MeanReturn,
		ExpectedHoldDuration: holdSum / time.Duration(len(members)),
		SampleSize:           report.Trades,
		WinRate:              report.WinRate,
		SharpeEstimate:       report.Sharpe,
		MaxDrawdownEstimate:  report.MaxDrawdown,
		RegimeTag:            mode(regimes),
	}
	return draft, true
}

// clusterCount uses the sqrt(n/2) heuristic, capped at 10 clusters.
func clusterCount(n int) int {
	k := int(math.Sqrt(float64(n) / 2))
	if k < 1 {
		k = 1
	}
	if k > 10 {
		k = 10
	}
	return k
}
