package optimize

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"patterncore/pkg/domain"
)

// Proposer is the propose-only surface the optimizer drives. Every
// candidate flows through the vote/commit path; the optimizer holds no
// write access to the library.
type Proposer interface {
	ProposePattern(ctx context.Context, draft domain.PatternDraft, submitter, justification string) (domain.CommitRecord, error)
	ProposeDeprecation(ctx context.Context, dep domain.Deprecation, submitter, justification string) (domain.CommitRecord, error)
}

// ViewSource supplies the current library snapshot.
type ViewSource interface {
	View() domain.StateView
}

// Config controls the optimization cycle.
type Config struct {
	// MinLiveTrades and DriftTolerance gate the prune pass: an enabled
	// pattern with at least MinLiveTrades live trades whose live win rate
	// sits below DriftTolerance x backtested win rate is proposed for
	// deprecation.
	MinLiveTrades  int
	DriftTolerance float64
	// JaccardThreshold is the minimum triggering-set overlap for the
	// combine pass.
	JaccardThreshold float64
	// MutationStep is the fractional range-width step for the mutate pass.
	MutationStep float64
	// TopPatterns bounds how many top performers the mutate pass touches.
	TopPatterns int
	// Lookback scopes the historical window read for backtests.
	Lookback time.Duration
}

// DefaultConfig returns the documented optimization parameters.
func DefaultConfig() Config {
	return Config{
		MinLiveTrades:    20,
		DriftTolerance:   0.7,
		JaccardThreshold: 0.5,
		MutationStep:     0.10,
		TopPatterns:      5,
		Lookback:         30 * 24 * time.Hour,
	}
}

// Engine runs the periodic optimization cycle.
type Engine struct {
	id       string
	cfg      Config
	views    ViewSource
	episodes domain.EpisodeStore
	proposer Proposer
}

// NewEngine constructs an optimization engine.
func NewEngine(id string, cfg Config, views ViewSource, episodes domain.EpisodeStore, proposer Proposer) *Engine {
	if cfg.MinLiveTrades <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{id: id, cfg: cfg, views: views, episodes: episodes, proposer: proposer}
}

// CycleStats counts the proposals emitted by one optimization cycle.
type CycleStats struct {
	Pruned   int
	Combined int
	Mutated  int
}

// RunCycle executes the prune, combine, and mutate passes once. Proposal
// rejections are expected operation, not errors: managers are the gate, the
// engine only nominates.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) (CycleStats, error) {
	var stats CycleStats

	view := e.views.View()
	enabled := view.EnabledPatterns()
	window, err := e.episodes.List(ctx, domain.EpisodeFilter{RecordedAfter: now.Add(-e.cfg.Lookback)})
	if err != nil {
		return stats, fmt.Errorf("list episode window: %w", err)
	}

	stats.Pruned = e.prunePass(ctx, enabled)
	stats.Combined = e.combinePass(ctx, enabled, window)
	stats.Mutated = e.mutatePass(ctx, enabled, window)
	return stats, nil
}

// prunePass proposes deprecation for enabled patterns whose live
// performance drifted materially below their backtested expectation.
func (e *Engine) prunePass(ctx context.Context, enabled []domain.Pattern) int {
	proposed := 0
	for _, p := range enabled {
		if p.LiveTradeCount < e.cfg.MinLiveTrades {
			continue
		}
		threshold := e.cfg.DriftTolerance * p.WinRate
		if p.LiveWinRate() >= threshold {
			continue
		}
		dep := domain.Deprecation{
			PatternID:       p.ID,
			Reason:          fmt.Sprintf("live win rate %.2f below %.2f (%.1f%% of backtested %.2f) after %d trades", p.LiveWinRate(), threshold, e.cfg.DriftTolerance*100, p.WinRate, p.LiveTradeCount),
			LiveWinRate:     p.LiveWinRate(),
			BacktestWinRate: p.WinRate,
		}
		if _, err := e.proposer.ProposeDeprecation(ctx, dep, e.id, dep.Reason); err != nil {
			log.Printf("[OPTIMIZE] deprecation proposal for %s failed: %v", p.ID, err)
			continue
		}
		proposed++
	}
	return proposed
}

// combinePass builds weighted-ensemble candidates from pairs of enabled
// patterns whose triggering-episode sets overlap strongly, proposing the
// ensemble only when its backtested Sharpe beats both components.
func (e *Engine) combinePass(ctx context.Context, enabled []domain.Pattern, window []domain.Episode) int {
	triggers := make([]map[string]bool, len(enabled))
	for i, p := range enabled {
		set := make(map[string]bool)
		for _, ep := range window {
			if p.Condition.Matches(ep) {
				set[ep.ID] = true
			}
		}
		triggers[i] = set
	}

	proposed := 0
	for i := 0; i < len(enabled); i++ {
		for j := i + 1; j < len(enabled); j++ {
			if jaccard(triggers[i], triggers[j]) < e.cfg.JaccardThreshold {
				continue
			}
			a, b := enabled[i], enabled[j]
			condition, ok := a.Condition.Intersect(b.Condition)
			if !ok {
				continue
			}
			report := Backtest(condition, window)
			if report.Trades == 0 || report.Sharpe <= a.SharpeEstimate || report.Sharpe <= b.SharpeEstimate {
				continue
			}
			wa, wb := a.SharpeEstimate, b.SharpeEstimate
			if wa+wb <= 0 {
				continue
			}
			draft := domain.PatternDraft{
				Name:                 fmt.Sprintf("%s+%s", a.Name, b.Name),
				Condition:            condition,
				ExpectedReturn:       (a.ExpectedReturn*wa + b.ExpectedReturn*wb) / (wa + wb),
				ExpectedHoldDuration: time.Duration((float64(a.ExpectedHoldDuration)*wa + float64(b.ExpectedHoldDuration)*wb) / (wa + wb)),
				SampleSize:           report.Trades,
				WinRate:              report.WinRate,
				SharpeEstimate:       report.Sharpe,
				MaxDrawdownEstimate:  report.MaxDrawdown,
				PositionFraction:     minFloat(a.PositionFraction, b.PositionFraction),
				StopLossPct:          minFloat(a.StopLossPct, b.StopLossPct),
				ParentIDs:            []string{a.ID, b.ID},
				RegimeTag:            a.RegimeTag,
			}
			justification := fmt.Sprintf("ensemble of %s and %s: jaccard overlap met, sharpe %.2f beats components (%.2f, %.2f) over %d trades",
				a.ID, b.ID, report.Sharpe, a.SharpeEstimate, b.SharpeEstimate, report.Trades)
			if _, err := e.proposer.ProposePattern(ctx, draft, e.id, justification); err != nil {
				log.Printf("[OPTIMIZE] ensemble proposal %s failed: %v", draft.Name, err)
				continue
			}
			proposed++
		}
	}
	return proposed
}

// mutatePass perturbs the numeric ranges of top performers and proposes any
// mutation whose backtested Sharpe beats the parent, preserving lineage via
// ParentIDs.
func (e *Engine) mutatePass(ctx context.Context, enabled []domain.Pattern, window []domain.Episode) int {
	top := append([]domain.Pattern(nil), enabled...)
	sort.Slice(top, func(i, j int) bool {
		if top[i].SharpeEstimate != top[j].SharpeEstimate {
			return top[i].SharpeEstimate > top[j].SharpeEstimate
		}
		return top[i].ID < top[j].ID
	})
	if e.cfg.TopPatterns > 0 && len(top) > e.cfg.TopPatterns {
		top = top[:e.cfg.TopPatterns]
	}

	proposed := 0
	for _, parent := range top {
		for _, mutated := range e.mutations(parent.Condition) {
			report := Backtest(mutated.condition, window)
			if report.Trades == 0 || report.Sharpe <= parent.SharpeEstimate {
				continue
			}
			draft := domain.PatternDraft{
				Name:                 fmt.Sprintf("%s/%s", parent.Name, mutated.label),
				Condition:            mutated.condition,
				ExpectedReturn:       report.MeanReturn,
				ExpectedHoldDuration: parent.ExpectedHoldDuration,
				SampleSize:           report.Trades,
				WinRate:              report.WinRate,
				SharpeEstimate:       report.Sharpe,
				MaxDrawdownEstimate:  report.MaxDrawdown,
				PositionFraction:     parent.PositionFraction,
				StopLossPct:          parent.StopLossPct,
				ParentIDs:            []string{parent.ID},
				RegimeTag:            parent.RegimeTag,
			}
			justification := fmt.Sprintf("mutation %s of %s: sharpe %.2f beats parent %.2f over %d trades",
				mutated.label, parent.ID, report.Sharpe, parent.SharpeEstimate, report.Trades)
			if _, err := e.proposer.ProposePattern(ctx, draft, e.id, justification); err != nil {
				log.Printf("[OPTIMIZE] mutation proposal %s failed: %v", draft.Name, err)
				continue
			}
			proposed++
		}
	}
	return proposed
}

type mutation struct {
	label     string
	condition domain.ConditionPredicate
}

// mutations yields a widened and a narrowed variant per numeric range,
// stepping each bound by MutationStep of the range width. Feature names are
// iterated in sorted order so the cycle is deterministic.
func (e *Engine) mutations(condition domain.ConditionPredicate) []mutation {
	names := make([]string, 0, len(condition.NumericRanges))
	for name := range condition.NumericRanges {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []mutation
	for _, name := range names {
		rng := condition.NumericRanges[name]
		width := rng.High - rng.Low
		if width <= 0 {
			continue
		}
		step := width * e.cfg.MutationStep

		widened := condition.Clone()
		widened.NumericRanges[name] = domain.Range{Low: rng.Low - step, High: rng.High + step}
		out = append(out, mutation{label: "widen_" + name, condition: widened})

		narrowed := condition.Clone()
		narrowed.NumericRanges[name] = domain.Range{Low: rng.Low + step, High: rng.High - step}
		out = append(out, mutation{label: "narrow_" + name, condition: narrowed})
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for id := range a {
		if b[id] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
