package core

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"patterncore/pkg/domain"
)

// ErrAlreadyCommitted is returned when a proposal id has already been
// applied. Commit is idempotent: the caller treats this as a no-op success.
var ErrAlreadyCommitted = errors.New("proposal already committed")

// retainedViews bounds the ring of historical snapshots kept for managers
// that evaluate against a pinned state version.
const retainedViews = 32

// GateConfig holds the pattern promotion gate thresholds. A pattern version
// becomes enabled only when all three hold across the committed sample.
type GateConfig struct {
	MinSampleSize int
	MinSharpe     float64
	MaxDrawdown   float64
}

// DefaultGateConfig returns the documented promotion thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{MinSampleSize: 100, MinSharpe: 1.5, MaxDrawdown: 0.10}
}

// Passes applies the gate to a pattern's committed statistics.
func (g GateConfig) Passes(sampleSize int, sharpe, maxDrawdown float64) bool {
	return sampleSize >= g.MinSampleSize && sharpe >= g.MinSharpe && maxDrawdown <= g.MaxDrawdown
}

// DriftConfig controls when an enabled pattern is flagged for deprecation:
// live win rate below Tolerance x backtested win rate after MinLiveTrades.
type DriftConfig struct {
	MinLiveTrades int
	Tolerance     float64
}

// DefaultDriftConfig returns the documented drift thresholds.
func DefaultDriftConfig() DriftConfig {
	return DriftConfig{MinLiveTrades: 20, Tolerance: 0.7}
}

type libraryState struct {
	patterns  map[string]Pattern
	regimes   map[string]Regime
	committed map[string]bool
	version   uint64
}

func newLibraryState() libraryState {
	return libraryState{
		patterns:  make(map[string]Pattern),
		regimes:   make(map[string]Regime),
		committed: make(map[string]bool),
	}
}

func (s libraryState) clone() libraryState {
	cloned := newLibraryState()
	cloned.version = s.version
	for k, v := range s.patterns {
		cloned.patterns[k] = v.Clone()
	}
	for k, v := range s.regimes {
		cloned.regimes[k] = v.Clone()
	}
	for k := range s.committed {
		cloned.committed[k] = true
	}
	return cloned
}

// Library is the in-memory pattern library: versioned pattern records,
// regimes, the committed-proposal set, and the vote audit log. It is mutated
// exclusively by the coordinator after quorum; all other components hold
// read-only views.
type Library struct {
	mu           sync.RWMutex
	state        libraryState
	audit        []CommitRecord
	views        []*libraryView
	gate         GateConfig
	drift        DriftConfig
	embeddingDim int
	nowFn        func() time.Time
}

// NewLibrary constructs an empty library with the given gate and drift
// thresholds and the agreed embedding dimensionality.
func NewLibrary(gate GateConfig, drift DriftConfig, embeddingDim int) *Library {
	if embeddingDim <= 0 {
		embeddingDim = 16
	}
	return &Library{
		state:        newLibraryState(),
		gate:         gate,
		drift:        drift,
		embeddingDim: embeddingDim,
		nowFn:        func() time.Time { return time.Now().UTC() },
	}
}

// Gate returns the promotion gate configuration.
func (l *Library) Gate() GateConfig { return l.gate }

// libraryView is an immutable snapshot satisfying domain.StateView.
type libraryView struct {
	state        libraryState
	embeddingDim int
}

func (v *libraryView) Version() uint64   { return v.state.version }
func (v *libraryView) EmbeddingDim() int { return v.embeddingDim }

func (v *libraryView) FindPattern(id string) (Pattern, bool) {
	p, ok := v.state.patterns[id]
	if !ok {
		return Pattern{}, false
	}
	return p.Clone(), true
}

func (v *libraryView) ListPatterns() []Pattern {
	out := make([]Pattern, 0, len(v.state.patterns))
	for _, p := range v.state.patterns {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v *libraryView) EnabledPatterns() []Pattern {
	out := make([]Pattern, 0, len(v.state.patterns))
	for _, p := range v.state.patterns {
		if p.Enabled {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v *libraryView) ListRegimes() []Regime {
	out := make([]Regime, 0, len(v.state.regimes))
	for _, r := range v.state.regimes {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v *libraryView) IsCommitted(proposalID string) bool {
	return v.state.committed[proposalID]
}

// View returns an immutable snapshot of the current committed state.
func (l *Library) View() domain.StateView {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.currentViewLocked()
}

func (l *Library) currentViewLocked() *libraryView {
	return &libraryView{state: l.state.clone(), embeddingDim: l.embeddingDim}
}

// ViewAt returns the retained snapshot for a specific state version, so a
// manager can evaluate against the exact version a proposal was stamped
// with. Returns false when the version has been evicted from the ring.
func (l *Library) ViewAt(version uint64) (domain.StateView, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state.version == version {
		return l.currentViewLocked(), true
	}
	for _, v := range l.views {
		if v.state.version == version {
			return v, true
		}
	}
	return nil, false
}

func (l *Library) retainViewLocked() {
	l.views = append(l.views, &libraryView{state: l.state.clone(), embeddingDim: l.embeddingDim})
	if len(l.views) > retainedViews {
		l.views = l.views[len(l.views)-retainedViews:]
	}
}

// ApplyCommit applies a committed proposal's pattern-library mutation, marks
// the proposal id committed, and appends the commit record to the audit log.
// Episode payloads only mark the id (the episodic store holds the record).
// Returns ErrAlreadyCommitted when the id was applied before.
func (l *Library) ApplyCommit(p Proposal, record CommitRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.committed[p.ID] {
		return ErrAlreadyCommitted
	}

	now := l.nowFn()
	next := l.state.clone()

	switch p.Kind {
	case KindAddEpisode:
		// Episode body lives in the episodic store; the library tracks the
		// committed id for idempotency.
	case KindAddPattern, KindUpdatePattern:
		draft := p.Payload.Pattern
		if draft == nil {
			return domain.ErrNotFound{Entity: domain.EntityPattern, ID: "(missing payload)"}
		}
		version := 1
		parents := append([]string(nil), draft.ParentIDs...)
		if draft.TargetID != "" {
			target, ok := next.patterns[draft.TargetID]
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityPattern, ID: draft.TargetID}
			}
			version = target.Version + 1
			if len(parents) == 0 {
				parents = []string{target.ID}
			}
			// Supersede: the old version stays in the arena for lineage
			// lookups but stops matching live decisions.
			target.Enabled = false
			target.UpdatedAt = now
			next.patterns[target.ID] = target
		}
		rec := Pattern{
			Base:                 domain.Base{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now},
			Name:                 draft.Name,
			Condition:            draft.Condition.Clone(),
			ExpectedReturn:       draft.ExpectedReturn,
			ExpectedHoldDuration: draft.ExpectedHoldDuration,
			SampleSize:           draft.SampleSize,
			WinRate:              draft.WinRate,
			SharpeEstimate:       draft.SharpeEstimate,
			MaxDrawdownEstimate:  draft.MaxDrawdownEstimate,
			PositionFraction:     draft.PositionFraction,
			StopLossPct:          draft.StopLossPct,
			Version:              version,
			ParentIDs:            parents,
			Enabled:              l.gate.Passes(draft.SampleSize, draft.SharpeEstimate, draft.MaxDrawdownEstimate),
			LivePnL:              decimal.Zero,
			RegimeTag:            draft.RegimeTag,
		}
		next.patterns[rec.ID] = rec
	case KindDeprecatePattern:
		dep := p.Payload.Deprecation
		if dep == nil {
			return domain.ErrNotFound{Entity: domain.EntityPattern, ID: "(missing payload)"}
		}
		target, ok := next.patterns[dep.PatternID]
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityPattern, ID: dep.PatternID}
		}
		target.Enabled = false
		t := now
		target.DeprecatedAt = &t
		target.UpdatedAt = now
		next.patterns[dep.PatternID] = target
	}

	next.committed[p.ID] = true
	next.version++
	l.state = next
	l.audit = append(l.audit, record)
	l.retainViewLocked()
	return nil
}

// RecordRejection appends a rejected outcome to the audit log. Rejections do
// not mutate library state or advance the version.
func (l *Library) RecordRejection(record CommitRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.audit = append(l.audit, record)
}

// RecordLiveTrade updates a pattern's live-performance counters after an
// upstream agent settles a trade attributed to it. Counters are operational
// telemetry, not a new version; the predicate and backtested statistics
// stay immutable.
func (l *Library) RecordLiveTrade(patternID string, win bool, pnl decimal.Decimal) (Pattern, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.state.patterns[patternID]
	if !ok {
		return Pattern{}, domain.ErrNotFound{Entity: domain.EntityPattern, ID: patternID}
	}
	p.LiveTradeCount++
	if win {
		p.LiveWinCount++
	}
	p.LivePnL = p.LivePnL.Add(pnl)
	p.UpdatedAt = l.nowFn()
	l.state.patterns[patternID] = p
	return p.Clone(), nil
}

// DriftedPatterns returns enabled patterns whose live performance fell
// materially below their backtested expectation. Each is a candidate for a
// deprecate_pattern proposal; the library never disables them directly.
func (l *Library) DriftedPatterns() []Pattern {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Pattern
	for _, p := range l.state.patterns {
		if !p.Enabled || p.LiveTradeCount < l.drift.MinLiveTrades {
			continue
		}
		if p.LiveWinRate() < l.drift.Tolerance*p.WinRate {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lineage walks the parent-id DAG from a pattern back to its roots,
// returning records in discovery order (breadth-first, deduplicated).
func (l *Library) Lineage(id string) ([]Pattern, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start, ok := l.state.patterns[id]
	if !ok {
		return nil, domain.ErrNotFound{Entity: domain.EntityPattern, ID: id}
	}
	seen := map[string]bool{id: true}
	out := []Pattern{start.Clone()}
	queue := append([]string(nil), start.ParentIDs...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		p, ok := l.state.patterns[next]
		if !ok {
			continue
		}
		out = append(out, p.Clone())
		queue = append(queue, p.ParentIDs...)
	}
	return out, nil
}

// AuditLog returns a copy of the commit/reject audit trail.
func (l *Library) AuditLog() []CommitRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]CommitRecord, len(l.audit))
	copy(out, l.audit)
	return out
}

// Snapshot is the serialized library state exchanged with persistence
// backends.
type Snapshot struct {
	Patterns  []Pattern      `json:"patterns"`
	Regimes   []Regime       `json:"regimes"`
	Committed []string       `json:"committed"`
	Audit     []CommitRecord `json:"audit"`
	Version   uint64         `json:"version"`
}

// ExportState captures the full library state for snapshot persistence.
func (l *Library) ExportState() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := Snapshot{Version: l.state.version}
	for _, p := range l.state.patterns {
		snap.Patterns = append(snap.Patterns, p.Clone())
	}
	sort.Slice(snap.Patterns, func(i, j int) bool { return snap.Patterns[i].ID < snap.Patterns[j].ID })
	for _, r := range l.state.regimes {
		snap.Regimes = append(snap.Regimes, r.Clone())
	}
	sort.Slice(snap.Regimes, func(i, j int) bool { return snap.Regimes[i].ID < snap.Regimes[j].ID })
	for id := range l.state.committed {
		snap.Committed = append(snap.Committed, id)
	}
	sort.Strings(snap.Committed)
	snap.Audit = append(snap.Audit, l.audit...)
	return snap
}

// ImportState replaces the library state from a persisted snapshot.
func (l *Library) ImportState(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := newLibraryState()
	state.version = snap.Version
	for _, p := range snap.Patterns {
		state.patterns[p.ID] = p.Clone()
	}
	for _, r := range snap.Regimes {
		state.regimes[r.ID] = r.Clone()
	}
	for _, id := range snap.Committed {
		state.committed[id] = true
	}
	l.state = state
	l.audit = append([]CommitRecord(nil), snap.Audit...)
	l.views = nil
	l.retainViewLocked()
}

// PutRegime registers or replaces a regime record. Regimes are read-mostly
// reference data loaded at startup, outside the proposal path.
func (l *Library) PutRegime(r Regime) Regime {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFn()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	l.state.regimes[r.ID] = r.Clone()
	return r
}
