package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// ProposalKind enumerates the mutations a submitter may request. The kind is
// the tag of the payload union and selects the evaluation function applied
// by memory managers.
type ProposalKind string

// Supported proposal kinds.
const (
	// KindAddEpisode appends an immutable episode after trade settlement.
	KindAddEpisode ProposalKind = "add_episode"
	// KindAddPattern introduces a new pattern version.
	KindAddPattern ProposalKind = "add_pattern"
	// KindUpdatePattern appends a new version of an existing pattern.
	KindUpdatePattern ProposalKind = "update_pattern"
	// KindDeprecatePattern disables a pattern that drifted from its backtest.
	KindDeprecatePattern ProposalKind = "deprecate_pattern"
)

// Valid reports whether the kind is one of the supported mutations.
func (k ProposalKind) Valid() bool {
	switch k {
	case KindAddEpisode, KindAddPattern, KindUpdatePattern, KindDeprecatePattern:
		return true
	}
	return false
}

// PatternDraft carries the statistics and predicate of a proposed pattern
// version. TargetID is set for update_pattern and names the version being
// superseded.
type PatternDraft struct {
	Name                 string             `json:"name"`
	TargetID             string             `json:"target_id,omitempty"`
	Condition            ConditionPredicate `json:"condition"`
	ExpectedReturn       float64            `json:"expected_return"`
	ExpectedHoldDuration time.Duration      `json:"expected_hold_duration"`
	SampleSize           int                `json:"sample_size"`
	WinRate              float64            `json:"win_rate"`
	SharpeEstimate       float64            `json:"sharpe_estimate"`
	MaxDrawdownEstimate  float64            `json:"max_drawdown_estimate"`
	PositionFraction     float64            `json:"position_fraction"`
	StopLossPct          float64            `json:"stop_loss_pct"`
	ParentIDs            []string           `json:"parent_ids,omitempty"`
	RegimeTag            string             `json:"regime_tag,omitempty"`
}

// Deprecation names the pattern to disable and the observed drift that
// justifies it.
type Deprecation struct {
	PatternID       string  `json:"pattern_id"`
	Reason          string  `json:"reason"`
	LiveWinRate     float64 `json:"live_win_rate"`
	BacktestWinRate float64 `json:"backtest_win_rate"`
}

// Payload is the tagged union carried by a proposal. Exactly one member is
// set, selected by the proposal kind.
type Payload struct {
	Episode     *Episode      `json:"episode,omitempty"`
	Pattern     *PatternDraft `json:"pattern,omitempty"`
	Deprecation *Deprecation  `json:"deprecation,omitempty"`
}

// Proposal is a requested mutation to shared memory. Transient: it exists
// only until a commit or reject decision is recorded in the audit log.
type Proposal struct {
	ID            string       `json:"id"`
	Kind          ProposalKind `json:"kind"`
	Payload       Payload      `json:"payload"`
	Submitter     string       `json:"submitter"`
	Justification string       `json:"justification,omitempty"`
	// StateVersion pins the library snapshot managers evaluate against so
	// that all votes for this proposal attribute to a single stable state.
	StateVersion uint64    `json:"state_version"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// ContentHash returns the SHA-256 of the canonical JSON encoding of the
// payload. Managers include it in votes so the coordinator can detect that
// all votes refer to the same proposal content.
func (p Proposal) ContentHash() string {
	data, err := json.Marshal(p.Payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Decision is a manager's verdict on a proposal.
type Decision string

// Vote decisions. Managers never emit anything else; ambiguous input yields
// REJECT ("fail closed").
const (
	DecisionAccept Decision = "ACCEPT"
	DecisionReject Decision = "REJECT"
)

// Vote is an immutable, audited verdict from a single manager.
type Vote struct {
	ProposalID   string    `json:"proposal_id"`
	ManagerID    string    `json:"manager_id"`
	Decision     Decision  `json:"decision"`
	Reasons      []string  `json:"reasons,omitempty"`
	ContentHash  string    `json:"content_hash"`
	StateVersion uint64    `json:"state_version"`
	CastAt       time.Time `json:"cast_at"`
}

// Outcome is the terminal state of a proposal's lifecycle.
type Outcome string

// Proposal outcomes broadcast on the commit topic.
const (
	OutcomeCommitted Outcome = "COMMITTED"
	OutcomeRejected  Outcome = "REJECTED"
)

// CommitRecord is broadcast after quorum resolution and appended to the
// audit log: the decision plus the full vote set and aggregated reasons.
type CommitRecord struct {
	ProposalID string    `json:"proposal_id"`
	Kind       ProposalKind `json:"kind"`
	Outcome    Outcome   `json:"outcome"`
	Votes      []Vote    `json:"votes"`
	Reasons    []string  `json:"reasons,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}
