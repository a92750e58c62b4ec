// Package domain defines the core value types shared across the backtester:
// price bars, sentiment observations, rebalancing plans and the outputs of a
// simulation run.
package domain

import "time"

// Bar is a single OHLCV observation for one asset.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// SentimentPoint is one observation of an asset's sentiment score in [-1, 1].
type SentimentPoint struct {
	Timestamp time.Time
	Score     float64
}

// Headline is a scored news headline attributed to a single asset.
type Headline struct {
	Symbol string
	Time   time.Time
	Title  string
	Score  float64
}

// Cadence names a rebalance frequency.
type Cadence string

// Recognised cadences. Any other value schedules month-end rebalances.
const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// TargetWeights maps asset to desired fraction of portfolio value. Weights
// need not sum to one; the residual is held as cash. An empty map means no
// trade on that date.
type TargetWeights map[string]float64

// TradeDelta maps asset to signed dollars: positive buys, negative sells.
type TradeDelta map[string]float64

// EquityPoint is the total portfolio value at one calendar date.
type EquityPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"equity"`
}

// Stats summarises an equity curve.
type Stats struct {
	TotalReturn float64 `json:"TotalReturn"`
	CAGREst     float64 `json:"CAGR_est"`
	MaxDD       float64 `json:"MaxDD"`
	Vol         float64 `json:"Vol"`
	Sharpe      float64 `json:"Sharpe"`
}
