package engine

import (
	"time"

	"polyagents/internal/domain"
	"polyagents/internal/util"
)

// RebalanceSchedule returns the subset of index on which the portfolio is
// re-evaluated. Weekly selects Fridays, daily selects every date, and any
// other cadence (including unknown strings) selects calendar month-ends.
// Dates are compared by UTC calendar day.
func RebalanceSchedule(index []time.Time, cadence domain.Cadence) []time.Time {
	var keep func(time.Time) bool
	switch cadence {
	case domain.CadenceDaily:
		keep = func(time.Time) bool { return true }
	case domain.CadenceWeekly:
		keep = func(t time.Time) bool { return t.UTC().Weekday() == time.Friday }
	default:
		keep = util.IsMonthEnd
	}

	out := make([]time.Time, 0, len(index))
	for _, t := range index {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// dateSet indexes dates by UTC calendar day.
type dateSet map[time.Time]struct{}

func newDateSet(dates []time.Time) dateSet {
	s := make(dateSet, len(dates))
	for _, d := range dates {
		s[util.Day(d)] = struct{}{}
	}
	return s
}

func (s dateSet) has(t time.Time) bool {
	_, ok := s[util.Day(t)]
	return ok
}
