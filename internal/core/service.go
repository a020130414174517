package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/shopspring/decimal"

	"patterncore/pkg/domain"
)

// Store is the full library surface consumed by the service facade.
// *Library satisfies it directly; persistence wrappers embed *Library and
// add durability.
type Store interface {
	LibraryStore
	RecordLiveTrade(patternID string, win bool, pnl decimal.Decimal) (Pattern, error)
	DriftedPatterns() []Pattern
	Lineage(id string) ([]Pattern, error)
	AuditLog() []CommitRecord
	ExportState() Snapshot
}

// PatternFilter scopes GetBestPatterns reads.
type PatternFilter struct {
	RegimeTag string
	MinSharpe float64
	Limit     int
}

// Service exposes the read and propose paths consumed by upstream trading
// agents. Writes only ever flow through the coordinator's vote/commit path;
// the service never mutates the library directly.
type Service struct {
	store Store
	coord *Coordinator
	cache *ristretto.Cache
}

// NewService constructs a service facade. The best-pattern read path is
// cached; entries are keyed on the library version so any commit naturally
// invalidates them.
func NewService(store Store, coord *Coordinator) (*Service, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 14,
		MaxCost:     1 << 22,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create pattern cache: %w", err)
	}
	return &Service{store: store, coord: coord, cache: cache}, nil
}

// ProposeEpisode submits an add_episode proposal after trade settlement.
func (s *Service) ProposeEpisode(ctx context.Context, ep Episode, submitter, justification string) (CommitRecord, error) {
	return s.coord.Submit(ctx, Proposal{
		Kind:          KindAddEpisode,
		Payload:       domain.Payload{Episode: &ep},
		Submitter:     submitter,
		Justification: justification,
	})
}

// ProposePattern submits an add_pattern proposal.
func (s *Service) ProposePattern(ctx context.Context, draft domain.PatternDraft, submitter, justification string) (CommitRecord, error) {
	return s.coord.Submit(ctx, Proposal{
		Kind:          KindAddPattern,
		Payload:       domain.Payload{Pattern: &draft},
		Submitter:     submitter,
		Justification: justification,
	})
}

// ProposePatternUpdate submits an update_pattern proposal superseding
// draft.TargetID with a new version.
func (s *Service) ProposePatternUpdate(ctx context.Context, draft domain.PatternDraft, submitter, justification string) (CommitRecord, error) {
	return s.coord.Submit(ctx, Proposal{
		Kind:          KindUpdatePattern,
		Payload:       domain.Payload{Pattern: &draft},
		Submitter:     submitter,
		Justification: justification,
	})
}

// ProposeDeprecation submits a deprecate_pattern proposal.
func (s *Service) ProposeDeprecation(ctx context.Context, dep domain.Deprecation, submitter, justification string) (CommitRecord, error) {
	return s.coord.Submit(ctx, Proposal{
		Kind:          KindDeprecatePattern,
		Payload:       domain.Payload{Deprecation: &dep},
		Submitter:     submitter,
		Justification: justification,
	})
}

// GetPattern retrieves a single committed pattern version.
func (s *Service) GetPattern(id string) (Pattern, error) {
	p, ok := s.store.View().FindPattern(id)
	if !ok {
		return Pattern{}, domain.ErrNotFound{Entity: domain.EntityPattern, ID: id}
	}
	return p, nil
}

// GetBestPatterns returns enabled patterns passing the filter, ordered by
// descending Sharpe estimate. This is the hot read path upstream agents use
// to bias live decisions. Results are clones; callers may mutate them
// without corrupting the cache shared by concurrent readers.
func (s *Service) GetBestPatterns(filter PatternFilter) []Pattern {
	view := s.store.View()
	key := fmt.Sprintf("best:%d:%s:%.4f:%d", view.Version(), filter.RegimeTag, filter.MinSharpe, filter.Limit)
	if cached, ok := s.cache.Get(key); ok {
		if patterns, ok := cached.([]Pattern); ok {
			return clonePatterns(patterns)
		}
	}

	var out []Pattern
	for _, p := range view.EnabledPatterns() {
		if filter.RegimeTag != "" && p.RegimeTag != filter.RegimeTag {
			continue
		}
		if p.SharpeEstimate < filter.MinSharpe {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SharpeEstimate != out[j].SharpeEstimate {
			return out[i].SharpeEstimate > out[j].SharpeEstimate
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	s.cache.Set(key, out, int64(len(out)+1))
	return clonePatterns(out)
}

func clonePatterns(in []Pattern) []Pattern {
	out := make([]Pattern, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// RecordLiveTrade forwards settled live-trade telemetry to the library.
func (s *Service) RecordLiveTrade(patternID string, win bool, pnl decimal.Decimal) (Pattern, error) {
	return s.store.RecordLiveTrade(patternID, win, pnl)
}

// DriftedPatterns lists enabled patterns flagged for deprecation proposals.
func (s *Service) DriftedPatterns() []Pattern { return s.store.DriftedPatterns() }

// Lineage reconstructs a pattern's parent DAG by id lookup.
func (s *Service) Lineage(id string) ([]Pattern, error) { return s.store.Lineage(id) }

// AuditExport is the serialized audit trail written to the archive store.
type AuditExport struct {
	ExportedAt time.Time      `json:"exported_at"`
	Version    uint64         `json:"state_version"`
	Records    []CommitRecord `json:"records"`
}

// ExportAuditJSON serializes the commit/reject audit trail for archival.
func (s *Service) ExportAuditJSON() ([]byte, error) {
	export := AuditExport{
		ExportedAt: time.Now().UTC(),
		Version:    s.store.View().Version(),
		Records:    s.store.AuditLog(),
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal audit export: %w", err)
	}
	return data, nil
}
