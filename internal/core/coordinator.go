package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"patterncore/internal/bus"
	"patterncore/pkg/domain"
)

// QuorumConfig controls vote collection. Commit requires at least MinVotes
// votes, all ACCEPT, collected inside Window. Any REJECT or a short count
// resolves to REJECTED: silence and disagreement both favor safety.
type QuorumConfig struct {
	MinVotes int
	Window   time.Duration
}

// DefaultQuorumConfig returns the documented quorum parameters.
func DefaultQuorumConfig() QuorumConfig {
	return QuorumConfig{MinVotes: 3, Window: 2 * time.Second}
}

// LibraryStore is the mutation surface the coordinator drives after quorum.
// Persistence wrappers embed *Library and add durability behind the same
// methods.
type LibraryStore interface {
	ViewSource
	ApplyCommit(p Proposal, record CommitRecord) error
	RecordRejection(record CommitRecord)
}

// Coordinator collects votes for proposals, resolves quorum, applies
// committed mutations, and broadcasts outcomes. It is the single writer for
// both the pattern library and the episodic store; a deployment runs one
// long-lived coordinator, and safe transfer relies on commit idempotency
// keyed on proposal id.
type Coordinator struct {
	id       string
	bus      *bus.Bus
	votes    <-chan bus.Message
	library  LibraryStore
	episodes domain.EpisodeStore
	cfg      QuorumConfig
	metrics  MetricsRecorder

	mu      sync.Mutex
	pending map[string]chan Vote
}

// NewCoordinator constructs a coordinator and subscribes it to the vote
// topic, so votes published before Run is scheduled buffer instead of being
// dropped. metrics may be nil.
func NewCoordinator(id string, b *bus.Bus, library LibraryStore, episodes domain.EpisodeStore, cfg QuorumConfig, metrics MetricsRecorder) *Coordinator {
	if cfg.MinVotes <= 0 {
		cfg = DefaultQuorumConfig()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultQuorumConfig().Window
	}
	return &Coordinator{
		id:       id,
		bus:      b,
		votes:    b.Subscribe(bus.TopicVote, 256),
		library:  library,
		episodes: episodes,
		cfg:      cfg,
		metrics:  metrics,
		pending:  make(map[string]chan Vote),
	}
}

// Run routes incoming votes to their proposal's collection channel until the
// context is cancelled. Votes for unknown or already-resolved proposals are
// logged and ignored; they never affect an outcome.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.votes:
			if !ok {
				return
			}
			if msg.Vote == nil {
				continue
			}
			c.route(*msg.Vote)
		}
	}
}

func (c *Coordinator) route(v Vote) {
	c.mu.Lock()
	ch, ok := c.pending[v.ProposalID]
	c.mu.Unlock()
	if !ok {
		log.Printf("[COORD %s] late or unknown vote from %s for proposal %s ignored", c.id, v.ManagerID, v.ProposalID)
		return
	}
	select {
	case ch <- v:
	default:
		log.Printf("[COORD %s] vote channel full for proposal %s, dropping vote from %s", c.id, v.ProposalID, v.ManagerID)
	}
}

// Submit runs one proposal through the full vote/commit path and returns the
// resolved commit record. Collection blocks only this proposal's resolution;
// concurrent Submit calls for other proposals proceed independently.
func (c *Coordinator) Submit(ctx context.Context, p Proposal) (CommitRecord, error) {
	started := time.Now()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.SubmittedAt.IsZero() {
		p.SubmittedAt = time.Now().UTC()
	}
	p.StateVersion = c.library.View().Version()

	ch := make(chan Vote, 64)
	c.mu.Lock()
	if _, exists := c.pending[p.ID]; exists {
		c.mu.Unlock()
		return CommitRecord{}, fmt.Errorf("proposal %s already open", p.ID)
	}
	c.pending[p.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, p.ID)
		c.mu.Unlock()
	}()

	c.bus.Publish(bus.Message{Topic: bus.TopicPropose, Proposal: &p})

	record := c.collect(ctx, p, ch)
	record.ResolvedAt = time.Now().UTC()

	if record.Outcome == OutcomeCommitted {
		if err := c.apply(ctx, p, &record); err != nil {
			if errors.Is(err, ErrAlreadyCommitted) {
				// Idempotent: a repeat commit leaves state identical to the
				// first. Report committed without re-applying.
				record.Reasons = append(record.Reasons, "duplicate commit ignored (idempotent)")
			} else {
				record.Outcome = OutcomeRejected
				record.Reasons = append(record.Reasons, "store_unavailable: "+err.Error())
				c.library.RecordRejection(record)
			}
		}
	} else {
		c.library.RecordRejection(record)
	}

	c.bus.Publish(bus.Message{Topic: bus.TopicCommit, Commit: &record})
	if c.metrics != nil {
		c.metrics.Observe(ctx, "proposal_"+string(p.Kind), record.Outcome == OutcomeCommitted, time.Since(started))
	}
	return record, nil
}

// collect reads votes for a single proposal as one timer-bounded loop,
// deduplicating by manager id, and resolves on quorum or timeout, whichever
// first.
func (c *Coordinator) collect(ctx context.Context, p Proposal, ch <-chan Vote) CommitRecord {
	record := CommitRecord{ProposalID: p.ID, Kind: p.Kind}
	wantHash := p.ContentHash()
	byManager := make(map[string]Vote)

	timer := time.NewTimer(c.cfg.Window)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			record.Outcome = OutcomeRejected
			record.Votes = votesOf(byManager)
			record.Reasons = append(record.Reasons, "collection cancelled: "+ctx.Err().Error())
			return record
		case <-timer.C:
			record.Votes = votesOf(byManager)
			record.Outcome = OutcomeRejected
			record.Reasons = append(record.Reasons, fmt.Sprintf(
				"quorum_timeout: %d of %d required votes within %s", len(byManager), c.cfg.MinVotes, c.cfg.Window))
			record.Reasons = append(record.Reasons, rejectReasons(byManager)...)
			return record
		case v := <-ch:
			if v.ContentHash != wantHash {
				log.Printf("[COORD %s] vote from %s carries mismatched content hash for %s, ignoring", c.id, v.ManagerID, p.ID)
				continue
			}
			if _, dup := byManager[v.ManagerID]; dup {
				continue
			}
			byManager[v.ManagerID] = v

			if v.Decision == DecisionReject {
				// Disagreement is a designed safety behavior, not a fault.
				record.Votes = votesOf(byManager)
				record.Outcome = OutcomeRejected
				record.Reasons = append(record.Reasons, rejectReasons(byManager)...)
				return record
			}
			if accepts(byManager) >= c.cfg.MinVotes {
				record.Votes = votesOf(byManager)
				record.Outcome = OutcomeCommitted
				return record
			}
		}
	}
}

// apply performs the committed mutation. The episodic write happens before
// the library marks the proposal committed, so a COMMITTED broadcast is
// never emitted without a confirmed store write. When the library commit
// fails after the episodic write, the episode is deleted again: a REJECTED
// proposal must leave nothing reachable by retrieval.
func (c *Coordinator) apply(ctx context.Context, p Proposal, record *CommitRecord) error {
	if c.library.View().IsCommitted(p.ID) {
		return ErrAlreadyCommitted
	}
	var episodeID string
	if p.Kind == KindAddEpisode {
		ep := p.Payload.Episode.Clone()
		if ep.ID == "" {
			ep.ID = uuid.NewString()
		}
		id, err := c.episodes.Put(ctx, ep)
		if err != nil {
			return domain.ErrStoreUnavailable{Op: "episode put", Err: err}
		}
		episodeID = id
	}
	if err := c.library.ApplyCommit(p, *record); err != nil {
		if errors.Is(err, ErrAlreadyCommitted) {
			return err
		}
		if episodeID != "" {
			if _, derr := c.episodes.Delete(ctx, episodeID); derr != nil {
				log.Printf("[COORD %s] compensating delete of episode %s failed: %v", c.id, episodeID, derr)
			}
		}
		return domain.ErrStoreUnavailable{Op: "library commit", Err: err}
	}
	return nil
}

func votesOf(byManager map[string]Vote) []Vote {
	out := make([]Vote, 0, len(byManager))
	for _, v := range byManager {
		out = append(out, v)
	}
	return out
}

func accepts(byManager map[string]Vote) int {
	n := 0
	for _, v := range byManager {
		if v.Decision == DecisionAccept {
			n++
		}
	}
	return n
}

func rejectReasons(byManager map[string]Vote) []string {
	var out []string
	for _, v := range byManager {
		if v.Decision != DecisionReject {
			continue
		}
		for _, r := range v.Reasons {
			out = append(out, v.ManagerID+": "+r)
		}
	}
	return out
}
