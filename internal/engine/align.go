package engine

import (
	"errors"
	"slices"
	"time"

	"polyagents/internal/domain"
)

// MinAlignedDates is the shortest aligned index a run accepts.
const MinAlignedDates = 60

// ErrNotEnoughData is returned when the aligned index is shorter than
// MinAlignedDates.
var ErrNotEnoughData = errors.New("not enough data")

// AlignIndex returns the ascending timestamps present in the bars of every
// asset in universe, restricted to [start, end] when those are non-nil. An
// asset with no bars contributes an empty set, so the result is empty.
func AlignIndex(universe []string, bars map[string][]domain.Bar, start, end *time.Time) ([]time.Time, error) {
	if len(universe) == 0 {
		return nil, ErrNotEnoughData
	}

	var common map[int64]time.Time
	for _, sym := range universe {
		seen := make(map[int64]time.Time, len(bars[sym]))
		for _, b := range bars[sym] {
			k := b.Timestamp.UnixNano()
			if common == nil {
				seen[k] = b.Timestamp
			} else if ts, ok := common[k]; ok {
				seen[k] = ts
			}
		}
		common = seen
		if len(common) == 0 {
			break
		}
	}

	index := make([]time.Time, 0, len(common))
	for _, ts := range common {
		if start != nil && ts.Before(*start) {
			continue
		}
		if end != nil && ts.After(*end) {
			continue
		}
		index = append(index, ts)
	}
	slices.SortFunc(index, func(a, b time.Time) int { return a.Compare(b) })

	if len(index) < MinAlignedDates {
		return nil, ErrNotEnoughData
	}
	return index, nil
}
