package core

import "patterncore/pkg/domain"

// Per-kind evaluation functions wired into the manager's dispatch table.
// Each composes the schema, soundness, and safety checks relevant to the
// kind. Shape failures short-circuit: a payload that cannot be read is
// rejected without consulting the statistical gates.

func evaluateAddEpisode(cfg EvalConfig, p Proposal, _ domain.StateView) Result {
	res := checkEpisodeShape(cfg, p.Payload.Episode)
	if res.HasBlocking() {
		return res
	}
	res.Merge(checkEpisodeSafety(cfg, p.Payload.Episode))
	return res
}

func evaluatePatternProposal(cfg EvalConfig, p Proposal, view domain.StateView) Result {
	isUpdate := p.Kind == KindUpdatePattern
	res := checkPatternShape(cfg, p.Payload.Pattern, view, isUpdate)
	if res.HasBlocking() {
		return res
	}
	res.Merge(checkPatternSoundness(cfg, p.Payload.Pattern))
	res.Merge(checkPatternSafety(cfg, p.Payload.Pattern))
	return res
}

func evaluateDeprecation(_ EvalConfig, p Proposal, view domain.StateView) Result {
	return checkDeprecationShape(p.Payload.Deprecation, view)
}
