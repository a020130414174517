package domain

import (
	"fmt"
	"sort"
)

// Range is a closed numeric interval over a named episode feature.
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Contains reports whether v falls inside the interval.
func (r Range) Contains(v float64) bool { return v >= r.Low && v <= r.High }

// ConditionPredicate is a structured range/threshold spec: numeric feature
// intervals plus categorical equality terms. An episode matches when every
// term holds.
type ConditionPredicate struct {
	NumericRanges map[string]Range  `json:"numeric_ranges,omitempty"`
	Categorical   map[string]string `json:"categorical,omitempty"`
}

// Matches evaluates the predicate against an episode's features. A numeric
// term over a feature the episode does not carry fails the match.
func (c ConditionPredicate) Matches(e Episode) bool {
	for name, rng := range c.NumericRanges {
		v, ok := e.Features[name]
		if !ok || !rng.Contains(v) {
			return false
		}
	}
	for name, want := range c.Categorical {
		switch name {
		case "trend_category":
			if e.TrendCategory != want {
				return false
			}
		case "regime_tag":
			if e.RegimeTag != want {
				return false
			}
		case "action":
			if e.ActionTaken != want {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Empty reports whether the predicate carries no terms at all.
func (c ConditionPredicate) Empty() bool {
	return len(c.NumericRanges) == 0 && len(c.Categorical) == 0
}

// Clone returns a deep copy of the predicate.
func (c ConditionPredicate) Clone() ConditionPredicate {
	cp := ConditionPredicate{}
	if c.NumericRanges != nil {
		cp.NumericRanges = make(map[string]Range, len(c.NumericRanges))
		for k, v := range c.NumericRanges {
			cp.NumericRanges[k] = v
		}
	}
	if c.Categorical != nil {
		cp.Categorical = make(map[string]string, len(c.Categorical))
		for k, v := range c.Categorical {
			cp.Categorical[k] = v
		}
	}
	return cp
}

// Intersect combines two predicates into one that matches only episodes
// matching both. Numeric ranges over the same feature are narrowed to their
// overlap; disjoint ranges yield ok=false.
func (c ConditionPredicate) Intersect(other ConditionPredicate) (ConditionPredicate, bool) {
	out := c.Clone()
	for name, rng := range other.NumericRanges {
		if out.NumericRanges == nil {
			out.NumericRanges = make(map[string]Range)
		}
		existing, ok := out.NumericRanges[name]
		if !ok {
			out.NumericRanges[name] = rng
			continue
		}
		low, high := existing.Low, existing.High
		if rng.Low > low {
			low = rng.Low
		}
		if rng.High < high {
			high = rng.High
		}
		if low > high {
			return ConditionPredicate{}, false
		}
		out.NumericRanges[name] = Range{Low: low, High: high}
	}
	for name, want := range other.Categorical {
		if out.Categorical == nil {
			out.Categorical = make(map[string]string)
		}
		if existing, ok := out.Categorical[name]; ok && existing != want {
			return ConditionPredicate{}, false
		}
		out.Categorical[name] = want
	}
	return out, true
}

// String renders the predicate in a stable order for justifications and logs.
func (c ConditionPredicate) String() string {
	names := make([]string, 0, len(c.NumericRanges))
	for name := range c.NumericRanges {
		names = append(names, name)
	}
	sort.Strings(names)
	out := ""
	for _, name := range names {
		rng := c.NumericRanges[name]
		out += fmt.Sprintf("%s in [%.4f, %.4f]; ", name, rng.Low, rng.High)
	}
	cats := make([]string, 0, len(c.Categorical))
	for name := range c.Categorical {
		cats = append(cats, name)
	}
	sort.Strings(cats)
	for _, name := range cats {
		out += fmt.Sprintf("%s == %s; ", name, c.Categorical[name])
	}
	return out
}
