package core

import (
	"fmt"

	"patterncore/pkg/domain"
)

// Safety invariant checks. A safety rejection is flagged high-priority in
// the audit trail: a proposal that would breach position or loss limits
// must never reach the library regardless of its statistics.

const ruleSafety = "safety_violation"

func safety(msg string, entity domain.EntityType, id string) Violation {
	return Violation{Rule: ruleSafety, Severity: SeverityBlock, Message: msg, Entity: entity, EntityID: id}
}

func checkPatternSafety(cfg EvalConfig, draft *domain.PatternDraft) Result {
	res := Result{}
	if draft == nil {
		return res
	}
	if draft.PositionFraction < 0 || draft.PositionFraction > cfg.MaxPositionFraction {
		res.Violations = append(res.Violations, safety(
			fmt.Sprintf("position_fraction %.4f exceeds limit %.4f", draft.PositionFraction, cfg.MaxPositionFraction),
			domain.EntityPattern, draft.TargetID))
	}
	if draft.StopLossPct < 0 || draft.StopLossPct > cfg.MaxStopLossPct {
		res.Violations = append(res.Violations, safety(
			fmt.Sprintf("stop_loss_pct %.4f exceeds limit %.4f", draft.StopLossPct, cfg.MaxStopLossPct),
			domain.EntityPattern, draft.TargetID))
	}
	return res
}

func checkEpisodeSafety(cfg EvalConfig, e *Episode) Result {
	res := Result{}
	if e == nil {
		return res
	}
	if e.RealizedReturn < -cfg.MaxLossPerTrade {
		res.Violations = append(res.Violations, safety(
			fmt.Sprintf("realized_return %.4f breaches per-trade loss limit %.4f", e.RealizedReturn, -cfg.MaxLossPerTrade),
			domain.EntityEpisode, e.ID))
	}
	return res
}
