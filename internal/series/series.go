// Package series provides an ordered time series of float values with range
// slicing and calendar-time window aggregates.
package series

import (
	"errors"
	"sort"
	"time"
)

// ErrUnordered is returned when timestamps are not strictly increasing.
var ErrUnordered = errors.New("series: timestamps must be strictly increasing")

// Series is an immutable, strictly time-ordered sequence of observations.
// Slicing methods return views that share the backing arrays.
type Series struct {
	times  []time.Time
	values []float64
}

// New builds a Series from parallel slices. Timestamps must be strictly
// increasing.
func New(times []time.Time, values []float64) (Series, error) {
	if len(times) != len(values) {
		return Series{}, errors.New("series: times and values differ in length")
	}
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			return Series{}, ErrUnordered
		}
	}
	return Series{times: times, values: values}, nil
}

// FromUnsorted sorts the observations by time. Later duplicates of the same
// timestamp overwrite earlier ones.
func FromUnsorted(times []time.Time, values []float64) Series {
	idx := sortedIndex(times)
	ts := make([]time.Time, 0, len(times))
	vs := make([]float64, 0, len(values))
	for _, i := range idx {
		if n := len(ts); n > 0 && ts[n-1].Equal(times[i]) {
			vs[n-1] = values[i]
			continue
		}
		ts = append(ts, times[i])
		vs = append(vs, values[i])
	}
	return Series{times: ts, values: vs}
}

func sortedIndex(times []time.Time) []int {
	idx := make([]int, len(times))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return times[idx[a]].Before(times[idx[b]]) })
	return idx
}

// Len returns the number of observations.
func (s Series) Len() int { return len(s.times) }

// Times returns the timestamps. Callers must not modify the result.
func (s Series) Times() []time.Time { return s.times }

// Values returns the observations. Callers must not modify the result.
func (s Series) Values() []float64 { return s.values }

// At returns the i-th observation.
func (s Series) At(i int) (time.Time, float64) { return s.times[i], s.values[i] }

// Last returns the most recent observation, or false when empty.
func (s Series) Last() (time.Time, float64, bool) {
	if len(s.times) == 0 {
		return time.Time{}, 0, false
	}
	n := len(s.times) - 1
	return s.times[n], s.values[n], true
}

// Until returns the observations at or before t.
func (s Series) Until(t time.Time) Series {
	n := sort.Search(len(s.times), func(i int) bool { return s.times[i].After(t) })
	return Series{times: s.times[:n], values: s.values[:n]}
}

// Between returns the observations in [from, to].
func (s Series) Between(from, to time.Time) Series {
	lo := sort.Search(len(s.times), func(i int) bool { return !s.times[i].Before(from) })
	hi := sort.Search(len(s.times), func(i int) bool { return s.times[i].After(to) })
	if hi < lo {
		hi = lo
	}
	return Series{times: s.times[lo:hi], values: s.values[lo:hi]}
}

// Tail returns at most the last n observations.
func (s Series) Tail(n int) Series {
	if n <= 0 {
		return Series{}
	}
	if n >= len(s.times) {
		return s
	}
	k := len(s.times) - n
	return Series{times: s.times[k:], values: s.values[k:]}
}

// Within returns the observations in the calendar window (end-d, end].
func (s Series) Within(end time.Time, d time.Duration) Series {
	lo := sort.Search(len(s.times), func(i int) bool { return s.times[i].After(end.Add(-d)) })
	hi := sort.Search(len(s.times), func(i int) bool { return s.times[i].After(end) })
	if hi < lo {
		hi = lo
	}
	return Series{times: s.times[lo:hi], values: s.values[lo:hi]}
}

// RollingMean returns, at every timestamp t, the mean of all observations in
// the calendar window (t-window, t]. The window is elapsed time, not a
// sample count.
func (s Series) RollingMean(window time.Duration) Series {
	return Series{times: s.times, values: rollingMean(s.times, s.values, window)}
}

// Rolling computes the calendar-window rolling mean over raw observations,
// which need not be sorted and may repeat a timestamp. Every observation
// counts toward the mean. Each timestamp appears once in the result, holding
// the mean of all observations in (t-window, t].
func Rolling(times []time.Time, values []float64, window time.Duration) Series {
	idx := sortedIndex(times)
	ts := make([]time.Time, len(idx))
	vs := make([]float64, len(idx))
	for k, i := range idx {
		ts[k], vs[k] = times[i], values[i]
	}
	means := rollingMean(ts, vs, window)

	out := Series{times: ts[:0], values: means[:0]}
	for k := range ts {
		if n := len(out.times); n > 0 && out.times[n-1].Equal(ts[k]) {
			out.values[n-1] = means[k]
			continue
		}
		out.times = append(out.times, ts[k])
		out.values = append(out.values, means[k])
	}
	return out
}

// rollingMean expects non-decreasing times.
func rollingMean(times []time.Time, values []float64, window time.Duration) []float64 {
	out := make([]float64, len(values))
	var sum float64
	lo := 0
	for i := range values {
		sum += values[i]
		for lo < i && !times[lo].After(times[i].Add(-window)) {
			sum -= values[lo]
			lo++
		}
		out[i] = sum / float64(i-lo+1)
	}
	return out
}

// Clip bounds every value to [lo, hi].
func (s Series) Clip(lo, hi float64) Series {
	out := make([]float64, len(s.values))
	for i, v := range s.values {
		out[i] = min(max(v, lo), hi)
	}
	return Series{times: s.times, values: out}
}

// PctChange returns v[i]/v[i-1]-1 for i >= 1. The first observation has no
// predecessor and is dropped, so the result has Len()-1 entries.
func (s Series) PctChange() []float64 {
	if len(s.values) < 2 {
		return nil
	}
	out := make([]float64, len(s.values)-1)
	for i := 1; i < len(s.values); i++ {
		out[i-1] = s.values[i]/s.values[i-1] - 1
	}
	return out
}

// MinMax returns the smallest and largest value, or false when empty.
func (s Series) MinMax() (lo, hi float64, ok bool) {
	if len(s.values) == 0 {
		return 0, 0, false
	}
	lo, hi = s.values[0], s.values[0]
	for _, v := range s.values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi, true
}
