package core

import (
	"fmt"
	"math"

	"patterncore/pkg/domain"
)

// Schema/shape checks. A payload that fails here is a MalformedProposal:
// rejected locally by every manager, never escalated.

const ruleMalformed = "malformed_proposal"

func malformed(msg string, entity domain.EntityType, id string) Violation {
	return Violation{Rule: ruleMalformed, Severity: SeverityBlock, Message: msg, Entity: entity, EntityID: id}
}

func checkEpisodeShape(cfg EvalConfig, e *Episode) Result {
	res := Result{}
	if e == nil {
		res.Violations = append(res.Violations, malformed("episode payload missing", domain.EntityEpisode, ""))
		return res
	}
	if len(e.StateEmbedding) != cfg.EmbeddingDim {
		res.Violations = append(res.Violations, malformed(
			fmt.Sprintf("embedding dimensionality %d, expected %d", len(e.StateEmbedding), cfg.EmbeddingDim),
			domain.EntityEpisode, e.ID))
	}
	for i, v := range e.StateEmbedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			res.Violations = append(res.Violations, malformed(
				fmt.Sprintf("embedding component %d is not finite", i), domain.EntityEpisode, e.ID))
			break
		}
	}
	if e.OwnerAgent == "" {
		res.Violations = append(res.Violations, malformed("owner_agent required", domain.EntityEpisode, e.ID))
	}
	if e.ActionTaken == "" {
		res.Violations = append(res.Violations, malformed("action_taken required", domain.EntityEpisode, e.ID))
	}
	if e.RecordedAt.IsZero() {
		res.Violations = append(res.Violations, malformed("recorded_at required", domain.EntityEpisode, e.ID))
	}
	if !e.ExpiresAt.IsZero() && !e.RecordedAt.IsZero() && !e.ExpiresAt.After(e.RecordedAt) {
		res.Violations = append(res.Violations, malformed("expires_at must follow recorded_at", domain.EntityEpisode, e.ID))
	}
	if math.IsNaN(e.RealizedReturn) || math.IsInf(e.RealizedReturn, 0) {
		res.Violations = append(res.Violations, malformed("realized_return is not finite", domain.EntityEpisode, e.ID))
	}
	return res
}

func checkPatternShape(cfg EvalConfig, draft *domain.PatternDraft, view domain.StateView, isUpdate bool) Result {
	res := Result{}
	if draft == nil {
		res.Violations = append(res.Violations, malformed("pattern payload missing", domain.EntityPattern, ""))
		return res
	}
	if draft.Name == "" {
		res.Violations = append(res.Violations, malformed("pattern name required", domain.EntityPattern, draft.TargetID))
	}
	if draft.Condition.Empty() {
		res.Violations = append(res.Violations, malformed("condition predicate has no terms", domain.EntityPattern, draft.TargetID))
	}
	for name, rng := range draft.Condition.NumericRanges {
		if rng.Low > rng.High || math.IsNaN(rng.Low) || math.IsNaN(rng.High) {
			res.Violations = append(res.Violations, malformed(
				fmt.Sprintf("invalid range for feature %q", name), domain.EntityPattern, draft.TargetID))
		}
	}
	if draft.WinRate < 0 || draft.WinRate > 1 || math.IsNaN(draft.WinRate) {
		res.Violations = append(res.Violations, malformed(
			fmt.Sprintf("win_rate %.4f outside [0,1]", draft.WinRate), domain.EntityPattern, draft.TargetID))
	}
	if draft.SampleSize < 1 {
		res.Violations = append(res.Violations, malformed("sample_size must be at least 1", domain.EntityPattern, draft.TargetID))
	}
	for _, v := range []float64{draft.ExpectedReturn, draft.SharpeEstimate, draft.MaxDrawdownEstimate} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			res.Violations = append(res.Violations, malformed("pattern statistic is not finite", domain.EntityPattern, draft.TargetID))
			break
		}
	}
	if isUpdate {
		if draft.TargetID == "" {
			res.Violations = append(res.Violations, malformed("update_pattern requires target_id", domain.EntityPattern, ""))
		} else if _, ok := view.FindPattern(draft.TargetID); !ok {
			res.Violations = append(res.Violations, malformed(
				fmt.Sprintf("target pattern %s not found at state v%d", draft.TargetID, view.Version()),
				domain.EntityPattern, draft.TargetID))
		}
	}
	for _, parent := range draft.ParentIDs {
		if _, ok := view.FindPattern(parent); !ok {
			res.Violations = append(res.Violations, malformed(
				fmt.Sprintf("parent pattern %s not found", parent), domain.EntityPattern, parent))
		}
	}
	return res
}

func checkDeprecationShape(dep *domain.Deprecation, view domain.StateView) Result {
	res := Result{}
	if dep == nil {
		res.Violations = append(res.Violations, malformed("deprecation payload missing", domain.EntityPattern, ""))
		return res
	}
	if dep.PatternID == "" {
		res.Violations = append(res.Violations, malformed("deprecation requires pattern_id", domain.EntityPattern, ""))
		return res
	}
	target, ok := view.FindPattern(dep.PatternID)
	if !ok {
		res.Violations = append(res.Violations, malformed(
			fmt.Sprintf("pattern %s not found at state v%d", dep.PatternID, view.Version()),
			domain.EntityPattern, dep.PatternID))
		return res
	}
	if !target.Enabled {
		res.Violations = append(res.Violations, Violation{
			Rule:     ruleMalformed,
			Severity: SeverityWarn,
			Message:  fmt.Sprintf("pattern %s already disabled", dep.PatternID),
			Entity:   domain.EntityPattern,
			EntityID: dep.PatternID,
		})
	}
	return res
}
