// Package optimize implements the pattern optimization engine: periodic
// prune / combine / mutate passes over the enabled pattern set, validated
// by a deterministic backtest before any candidate is proposed. The engine
// only ever emits proposals; it never writes to the library directly.
package optimize

import (
	"math"
	"sort"

	"patterncore/pkg/domain"
)

// BacktestReport summarizes a pattern's simulated performance over a
// historical episode window.
type BacktestReport struct {
	Trades      int     `json:"trades"`
	WinRate     float64 `json:"win_rate"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
	MeanReturn  float64 `json:"mean_return"`
}

// Backtest replays the historical window against a condition predicate and
// reports per-trade statistics. It is a pure function: the same predicate
// and window always produce the same report. Episodes are ordered by
// recording time (id as tiebreak) before replay so map iteration order
// never leaks into the drawdown path.
func Backtest(condition domain.ConditionPredicate, episodes []domain.Episode) BacktestReport {
	matched := make([]domain.Episode, 0, len(episodes))
	for _, e := range episodes {
		if condition.Matches(e) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].RecordedAt.Equal(matched[j].RecordedAt) {
			return matched[i].RecordedAt.Before(matched[j].RecordedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	report := BacktestReport{Trades: len(matched)}
	if len(matched) == 0 {
		return report
	}

	var sum, wins float64
	for _, e := range matched {
		sum += e.RealizedReturn
		if e.Profitable() {
			wins++
		}
	}
	mean := sum / float64(len(matched))
	report.MeanReturn = mean
	report.WinRate = wins / float64(len(matched))

	var variance float64
	for _, e := range matched {
		d := e.RealizedReturn - mean
		variance += d * d
	}
	variance /= float64(len(matched))
	if std := math.Sqrt(variance); std > 0 {
		report.Sharpe = mean / std
	}

	// Max drawdown over the compounded equity curve in replay order.
	equity, peak, maxDD := 1.0, 1.0, 0.0
	for _, e := range matched {
		equity *= 1 + e.RealizedReturn
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	report.MaxDrawdown = maxDD
	return report
}
