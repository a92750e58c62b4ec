// Package broker holds the simulated portfolio ledger and the executors that
// apply signed dollar trades against it.
package broker

import "polyagents/internal/domain"

// Executor applies a set of trade deltas to a ledger at the given prices.
// Prices are in ledger slot order.
type Executor interface {
	// Name returns the executor identifier (e.g. "simulator").
	Name() string

	// Execute fills deltas against the ledger and reports what happened.
	// It never returns an error: trades that cannot be filled are skipped
	// and counted in the returned Fills.
	Execute(l *Ledger, deltas domain.TradeDelta, prices []float64) Fills
}

// Fills summarises one call to Execute.
type Fills struct {
	Buys        int     `json:"buys"`
	Sells       int     `json:"sells"`
	SkippedBuys int     `json:"skipped_buys"`
	Bought      float64 `json:"bought"`
	Sold        float64 `json:"sold"`
}

// Add accumulates other into f.
func (f *Fills) Add(other Fills) {
	f.Buys += other.Buys
	f.Sells += other.Sells
	f.SkippedBuys += other.SkippedBuys
	f.Bought += other.Bought
	f.Sold += other.Sold
}
