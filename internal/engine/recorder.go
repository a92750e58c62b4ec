package engine

import (
	"errors"
	"time"

	"polyagents/internal/domain"
)

var (
	// ErrRecorderFinalized is returned by Append after Finalize.
	ErrRecorderFinalized = errors.New("equity recorder is finalized")

	// ErrOutOfOrder is returned when a point does not follow the last one.
	ErrOutOfOrder = errors.New("equity point out of order")
)

// EquityRecorder accumulates one equity point per date. It is running until
// Finalize is called, after which it rejects further points.
type EquityRecorder struct {
	points    []domain.EquityPoint
	finalized bool
}

// NewEquityRecorder creates a running recorder sized for n points.
func NewEquityRecorder(n int) *EquityRecorder {
	return &EquityRecorder{points: make([]domain.EquityPoint, 0, n)}
}

// Append records the portfolio value at t. Timestamps must strictly increase.
func (r *EquityRecorder) Append(t time.Time, value float64) error {
	if r.finalized {
		return ErrRecorderFinalized
	}
	if n := len(r.points); n > 0 && !t.After(r.points[n-1].Time) {
		return ErrOutOfOrder
	}
	r.points = append(r.points, domain.EquityPoint{Time: t, Value: value})
	return nil
}

// Len returns the number of recorded points.
func (r *EquityRecorder) Len() int { return len(r.points) }

// Finalized reports whether Finalize has been called.
func (r *EquityRecorder) Finalized() bool { return r.finalized }

// Finalize closes the recorder and returns the curve.
func (r *EquityRecorder) Finalize() []domain.EquityPoint {
	r.finalized = true
	return r.points
}
