package domain

import "time"

// Run is a persisted backtest: the request that produced it and its outcome.
type Run struct {
	ID         string        `json:"id"`
	CreatedAt  time.Time     `json:"created_at"`
	Planner    string        `json:"planner"`
	Plan       Plan          `json:"plan"`
	Start      *time.Time    `json:"start,omitempty"`
	End        *time.Time    `json:"end,omitempty"`
	Stats      Stats         `json:"stats"`
	Error      string        `json:"error,omitempty"`
	Rebalances int           `json:"rebalances"`
	Curve      []EquityPoint `json:"curve"`
}

// RunSummary is a Run without its curve, as listed by the run store.
type RunSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Planner   string    `json:"planner"`
	Universe  []string  `json:"universe"`
	Stats     Stats     `json:"stats"`
	Error     string    `json:"error,omitempty"`
}
