// Package domain defines the persistent entities, value types, and
// evaluation primitives shared by the patterncore memory engine.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the type of record referenced in audit entries and
// persistence buckets.
type EntityType string

// Supported entity type identifiers.
const (
	// EntityEpisode identifies a recorded trading episode.
	EntityEpisode EntityType = "episode"
	// EntityPattern identifies a versioned decision pattern.
	EntityPattern EntityType = "pattern"
	// EntityRegime identifies a market regime record.
	EntityRegime EntityType = "regime"
	// EntityProposal identifies a transient change proposal.
	EntityProposal EntityType = "proposal"
)

// Severity captures evaluation outcomes.
type Severity string

// Evaluation severities determine vote behavior and audit logging.
const (
	// SeverityBlock forces a REJECT vote.
	SeverityBlock Severity = "block"
	// SeverityWarn is recorded in the vote reasons but does not block.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for durable records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Episode is a recorded (state, action, outcome) triple from past trading
// activity. Episodes are immutable once committed and expire via the
// background sweep when ExpiresAt passes.
type Episode struct {
	ID             string             `json:"id"`
	OwnerAgent     string             `json:"owner_agent"`
	StateEmbedding []float32          `json:"state_embedding"`
	Features       map[string]float64 `json:"features"`
	TrendCategory  string             `json:"trend_category"`
	ActionTaken    string             `json:"action_taken"`
	RealizedReturn float64            `json:"realized_return"`
	HoldDuration   time.Duration      `json:"hold_duration"`
	RegimeTag      string             `json:"regime_tag"`
	PatternRefs    []string           `json:"pattern_refs"`
	RecordedAt     time.Time          `json:"recorded_at"`
	ExpiresAt      time.Time          `json:"expires_at"`
}

// Profitable reports whether the episode closed with a positive realized return.
func (e Episode) Profitable() bool { return e.RealizedReturn > 0 }

// Expired reports whether the episode should be removed by the sweep.
func (e Episode) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Clone returns a deep copy so callers can never alias committed state.
func (e Episode) Clone() Episode {
	cp := e
	cp.StateEmbedding = append([]float32(nil), e.StateEmbedding...)
	cp.PatternRefs = append([]string(nil), e.PatternRefs...)
	if e.Features != nil {
		cp.Features = make(map[string]float64, len(e.Features))
		for k, v := range e.Features {
			cp.Features[k] = v
		}
	}
	return cp
}

// Pattern is a validated, named condition predicate with backtested
// performance statistics. Patterns are mutated only through committed
// proposals; a mutation appends a new version referencing its parents,
// it never edits a committed record in place.
type Pattern struct {
	Base
	Name                 string             `json:"name"`
	Condition            ConditionPredicate `json:"condition"`
	ExpectedReturn       float64            `json:"expected_return"`
	ExpectedHoldDuration time.Duration      `json:"expected_hold_duration"`
	SampleSize           int                `json:"sample_size"`
	WinRate              float64            `json:"win_rate"`
	SharpeEstimate       float64            `json:"sharpe_estimate"`
	MaxDrawdownEstimate  float64            `json:"max_drawdown_estimate"`
	PositionFraction     float64            `json:"position_fraction"`
	StopLossPct          float64            `json:"stop_loss_pct"`
	Version              int                `json:"version"`
	// ParentIDs records lineage. Mutations carry one parent, ensembles two;
	// the chains form a DAG reconstructed by id lookup.
	ParentIDs      []string        `json:"parent_ids,omitempty"`
	Enabled        bool            `json:"enabled"`
	DeprecatedAt   *time.Time      `json:"deprecated_at,omitempty"`
	LiveTradeCount int             `json:"live_trade_count"`
	LiveWinCount   int             `json:"live_win_count"`
	LivePnL        decimal.Decimal `json:"live_pnl"`
	RegimeTag      string          `json:"regime_tag,omitempty"`
}

// LiveWinRate returns the observed win rate across live trades, or 0 when
// the pattern has not traded yet.
func (p Pattern) LiveWinRate() float64 {
	if p.LiveTradeCount == 0 {
		return 0
	}
	return float64(p.LiveWinCount) / float64(p.LiveTradeCount)
}

// Clone returns a deep copy of the pattern.
func (p Pattern) Clone() Pattern {
	cp := p
	cp.Condition = p.Condition.Clone()
	cp.ParentIDs = append([]string(nil), p.ParentIDs...)
	if p.DeprecatedAt != nil {
		t := *p.DeprecatedAt
		cp.DeprecatedAt = &t
	}
	return cp
}

// Regime labels a market-condition context used to scope episodes and
// patterns. Read-mostly.
type Regime struct {
	Base
	VolatilityBand string     `json:"volatility_band"`
	TrendDirection string     `json:"trend_direction"`
	LiquidityBand  string     `json:"liquidity_band"`
	ActiveFrom     time.Time  `json:"active_from"`
	ActiveTo       *time.Time `json:"active_to,omitempty"`
}

// Clone returns a copy of the regime record.
func (r Regime) Clone() Regime {
	cp := r
	if r.ActiveTo != nil {
		t := *r.ActiveTo
		cp.ActiveTo = &t
	}
	return cp
}

// Violation reports a failed evaluation check.
type Violation struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Entity   EntityType `json:"entity,omitempty"`
	EntityID string     `json:"entity_id,omitempty"`
}

// Result aggregates violations from an evaluation pass.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Reasons renders the blocking and warning violations as human-readable
// strings for vote and commit broadcasts.
func (r Result) Reasons() []string {
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, v.Rule+": "+v.Message)
	}
	return out
}
