package core

import "patterncore/pkg/domain"

type (
	Episode            = domain.Episode
	Pattern            = domain.Pattern
	Regime             = domain.Regime
	Proposal           = domain.Proposal
	Vote               = domain.Vote
	CommitRecord       = domain.CommitRecord
	Violation          = domain.Violation
	Result             = domain.Result
	ConditionPredicate = domain.ConditionPredicate
)

const (
	KindAddEpisode       = domain.KindAddEpisode
	KindAddPattern       = domain.KindAddPattern
	KindUpdatePattern    = domain.KindUpdatePattern
	KindDeprecatePattern = domain.KindDeprecatePattern
)

const (
	DecisionAccept = domain.DecisionAccept
	DecisionReject = domain.DecisionReject
)

const (
	OutcomeCommitted = domain.OutcomeCommitted
	OutcomeRejected  = domain.OutcomeRejected
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)
