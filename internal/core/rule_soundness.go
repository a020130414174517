package core

import (
	"fmt"

	"patterncore/pkg/domain"
)

// Statistical soundness checks for pattern proposals. Rejections carry the
// specific metric and threshold so the submitter can see exactly which gate
// failed.

const ruleSoundness = "soundness_violation"

func soundness(msg, id string) Violation {
	return Violation{Rule: ruleSoundness, Severity: SeverityBlock, Message: msg, Entity: domain.EntityPattern, EntityID: id}
}

func checkPatternSoundness(cfg EvalConfig, draft *domain.PatternDraft) Result {
	res := Result{}
	if draft == nil {
		return res
	}
	if draft.SampleSize < cfg.MinSampleSize {
		res.Violations = append(res.Violations, soundness(
			fmt.Sprintf("sample_size %d below minimum %d", draft.SampleSize, cfg.MinSampleSize), draft.TargetID))
	}
	if draft.SharpeEstimate < cfg.SharpeMin || draft.SharpeEstimate > cfg.SharpeMax {
		res.Violations = append(res.Violations, soundness(
			fmt.Sprintf("sharpe_estimate %.2f outside plausible band [%.2f, %.2f]",
				draft.SharpeEstimate, cfg.SharpeMin, cfg.SharpeMax), draft.TargetID))
	}
	// The ceiling itself rejects: 0.25 is already an implausible estimate.
	if draft.MaxDrawdownEstimate < 0 || draft.MaxDrawdownEstimate >= cfg.DrawdownCeiling {
		res.Violations = append(res.Violations, soundness(
			fmt.Sprintf("max_drawdown_estimate %.2f at or above ceiling %.2f",
				draft.MaxDrawdownEstimate, cfg.DrawdownCeiling), draft.TargetID))
	}
	return res
}
