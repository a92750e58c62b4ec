// Package sentiment turns scored headlines into per-asset rolling sentiment
// series and detects sentiment shocks.
package sentiment

import (
	"time"

	"polyagents/internal/domain"
	"polyagents/internal/series"
)

// DefaultWindow is the rolling window applied to headline scores.
const DefaultWindow = 6 * time.Hour

// Rolling groups headlines by symbol and returns, for each symbol, the
// calendar-window rolling mean of scores clipped to [-1, 1]. Headlines sharing
// a timestamp all count toward the mean. Symbols with no
// headlines are absent from the result. A non-positive window uses
// DefaultWindow.
func Rolling(headlines []domain.Headline, window time.Duration) map[string]series.Series {
	if window <= 0 {
		window = DefaultWindow
	}

	times := make(map[string][]time.Time)
	scores := make(map[string][]float64)
	for _, h := range headlines {
		if h.Symbol == "" || h.Time.IsZero() {
			continue
		}
		times[h.Symbol] = append(times[h.Symbol], h.Time)
		scores[h.Symbol] = append(scores[h.Symbol], h.Score)
	}

	out := make(map[string]series.Series, len(times))
	for sym, ts := range times {
		out[sym] = series.Rolling(ts, scores[sym], window).Clip(-1, 1)
	}
	return out
}

// FromPoints builds a sentiment series from already-aggregated observations.
func FromPoints(points []domain.SentimentPoint) series.Series {
	ts := make([]time.Time, len(points))
	vs := make([]float64, len(points))
	for i, p := range points {
		ts[i] = p.Timestamp
		vs[i] = p.Score
	}
	return series.FromUnsorted(ts, vs).Clip(-1, 1)
}

// Shock reports whether the spread between the highest and lowest sentiment
// over the trailing hours of s exceeds threshold.
func Shock(s series.Series, hours int, threshold float64) bool {
	end, _, ok := s.Last()
	if !ok || hours <= 0 {
		return false
	}
	lo, hi, ok := s.Within(end, time.Duration(hours)*time.Hour).MinMax()
	return ok && hi-lo > threshold
}

// Latest returns the most recent sentiment value, or false when s is empty.
func Latest(s series.Series) (float64, bool) {
	_, v, ok := s.Last()
	return v, ok
}
