package core

import (
	"context"
	"fmt"
	"log"
	"time"

	"patterncore/internal/bus"
	"patterncore/pkg/domain"
)

// EvalConfig holds the thresholds applied by manager evaluation. All
// managers in a deployment must share identical config; quorum is only
// meaningful when independent managers fed the same inputs reach the same
// decision.
type EvalConfig struct {
	EmbeddingDim        int
	MinSampleSize       int
	SharpeMin           float64
	SharpeMax           float64
	DrawdownCeiling     float64
	MaxPositionFraction float64
	MaxStopLossPct      float64
	MaxLossPerTrade     float64
}

// DefaultEvalConfig returns the documented evaluation thresholds.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		EmbeddingDim:        16,
		MinSampleSize:       100,
		SharpeMin:           0.3,
		SharpeMax:           4.0,
		DrawdownCeiling:     0.25,
		MaxPositionFraction: 0.25,
		MaxStopLossPct:      0.10,
		MaxLossPerTrade:     0.50,
	}
}

// evalFunc evaluates one proposal kind against a state snapshot. Functions
// must be pure: no randomness, no wall-clock branching beyond timestamps
// already present in the payload.
type evalFunc func(cfg EvalConfig, p Proposal, view domain.StateView) Result

// defaultEvalTable maps each proposal kind to its evaluation function. The
// explicit table replaces per-kind subtype overrides so the deterministic
// contract can be tested per entry.
func defaultEvalTable() map[domain.ProposalKind]evalFunc {
	return map[domain.ProposalKind]evalFunc{
		KindAddEpisode:       evaluateAddEpisode,
		KindAddPattern:       evaluatePatternProposal,
		KindUpdatePattern:    evaluatePatternProposal,
		KindDeprecatePattern: evaluateDeprecation,
	}
}

// Manager independently evaluates proposals and emits ACCEPT/REJECT votes.
// Evaluate is a pure function of the proposal and the supplied view.
type Manager struct {
	id    string
	cfg   EvalConfig
	table map[domain.ProposalKind]evalFunc
}

// NewManager constructs a manager with the default evaluation table.
func NewManager(id string, cfg EvalConfig) *Manager {
	return &Manager{id: id, cfg: cfg, table: defaultEvalTable()}
}

// ID returns the manager identifier used in vote attribution.
func (m *Manager) ID() string { return m.id }

// Evaluate produces the manager's vote on a proposal given a stable state
// snapshot. CastAt is left zero; the transport loop stamps it at publish
// time so repeated invocations return identical votes.
func (m *Manager) Evaluate(p Proposal, view domain.StateView) Vote {
	vote := Vote{
		ProposalID:   p.ID,
		ManagerID:    m.id,
		ContentHash:  p.ContentHash(),
		StateVersion: view.Version(),
	}

	fn, ok := m.table[p.Kind]
	if !ok {
		vote.Decision = DecisionReject
		vote.Reasons = []string{fmt.Sprintf("malformed_proposal: unknown kind %q", p.Kind)}
		return vote
	}

	res := fn(m.cfg, p, view)
	if res.HasBlocking() {
		vote.Decision = DecisionReject
	} else {
		vote.Decision = DecisionAccept
	}
	vote.Reasons = res.Reasons()
	return vote
}

// ViewSource supplies state snapshots to the manager runtime. ViewAt pins
// the exact version a proposal was stamped with.
type ViewSource interface {
	View() domain.StateView
	ViewAt(version uint64) (domain.StateView, bool)
}

// Run consumes proposals from the supplied subscription and publishes votes
// until the context is cancelled or the subscription closes. The caller
// subscribes before starting the goroutine, so proposals published while the
// loop is not yet scheduled buffer instead of being dropped. Each proposal
// is evaluated against the snapshot version it carries; when that version
// has been evicted the current view is used and the substitution is logged.
func (m *Manager) Run(ctx context.Context, b *bus.Bus, proposals <-chan bus.Message, source ViewSource) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-proposals:
			if !ok {
				return
			}
			if msg.Proposal == nil {
				continue
			}
			p := *msg.Proposal
			view, pinned := source.ViewAt(p.StateVersion)
			if !pinned {
				log.Printf("[MANAGER %s] snapshot v%d evicted, evaluating proposal %s against current state", m.id, p.StateVersion, p.ID)
				view = source.View()
			}
			vote := m.Evaluate(p, view)
			vote.CastAt = time.Now().UTC()
			b.Publish(bus.Message{Topic: bus.TopicVote, Vote: &vote})
		}
	}
}
