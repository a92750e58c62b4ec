package domain

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Plan is the immutable configuration of a backtest: which assets may be
// traded, how targets are chosen and how often and how much to rebalance.
type Plan struct {
	Planner       string          `yaml:"planner" json:"planner" default:"rules"`
	Regime        string          `yaml:"regime" json:"regime"`
	DirectionBias string          `yaml:"direction_bias" json:"direction_bias" default:"long" validate:"oneof=long flat"`
	Universe      []string        `yaml:"universe" json:"universe" validate:"required,min=1,unique,dive,required"`
	Gates         Gates           `yaml:"gates" json:"gates"`
	CustomRules   []string        `yaml:"custom_rules" json:"custom_rules,omitempty"`
	Weighting     WeightingPolicy `yaml:"weighting" json:"weighting"`
	Rebalance     RebalancePolicy `yaml:"rebalance" json:"rebalance"`
	Risk          RiskPolicy      `yaml:"risk" json:"risk"`
	Execution     ExecutionPolicy `yaml:"execution" json:"execution"`
	Sentiment     SentimentConfig `yaml:"sentiment" json:"sentiment_cfg"`
}

// RebalancePolicy controls when and how much the portfolio is traded.
// BandPP and TurnoverMax are pointers so an explicit zero survives defaulting.
type RebalancePolicy struct {
	Cadence     Cadence  `yaml:"cadence" json:"cadence" default:"weekly"`
	BandPP      *float64 `yaml:"band_pp" json:"band_pp" default:"5" validate:"omitempty,gte=0,lte=100"`
	TurnoverMax *float64 `yaml:"turnover_max" json:"turnover_max" default:"0.15" validate:"omitempty,gte=0,lte=1"`
}

// Band returns the no-trade band in percentage points.
func (r RebalancePolicy) Band() float64 {
	if r.BandPP == nil {
		return 5
	}
	return *r.BandPP
}

// TurnoverCap returns the maximum fraction of portfolio value that may
// change hands at one rebalance.
func (r RebalancePolicy) TurnoverCap() float64 {
	if r.TurnoverMax == nil {
		return 0.15
	}
	return *r.TurnoverMax
}

// WeightingPolicy selects how target weights are derived.
type WeightingPolicy struct {
	Scheme   string             `yaml:"scheme" json:"scheme" default:"equal" validate:"oneof=equal fixed inverse_vol"`
	Weights  map[string]float64 `yaml:"weights" json:"weights,omitempty" validate:"omitempty,dive,gte=0,lte=1"`
	Lookback int                `yaml:"lookback" json:"lookback" default:"60" validate:"gte=2,lte=250"`
}

// Gates exclude assets from the target set on a given rebalance date.
// ShockThreshold is a pointer so an explicit zero survives defaulting.
type Gates struct {
	MinSentiment   *float64 `yaml:"min_sentiment" json:"min_sentiment,omitempty" validate:"omitempty,gte=-1,lte=1"`
	SentimentShock bool     `yaml:"sentiment_shock" json:"sentiment_shock"`
	ShockHours     int      `yaml:"shock_hours" json:"shock_hours" default:"24" validate:"gt=0"`
	ShockThreshold *float64 `yaml:"shock_threshold" json:"shock_threshold" default:"0.5" validate:"omitempty,gte=0,lte=2"`
}

// Threshold returns the sentiment spread above which a shock is flagged.
func (g Gates) Threshold() float64 {
	if g.ShockThreshold == nil {
		return 0.5
	}
	return *g.ShockThreshold
}

// RiskPolicy bounds individual positions. A zero MaxWeight disables the cap.
type RiskPolicy struct {
	MaxWeight float64 `yaml:"max_weight" json:"max_weight" validate:"gte=0,lte=1"`
}

// ExecutionPolicy describes how trades are filled. Only close-price fills
// are simulated.
type ExecutionPolicy struct {
	Price string `yaml:"price" json:"price" default:"close" validate:"oneof=close"`
}

// SentimentConfig controls how headline scores become sentiment series.
type SentimentConfig struct {
	Enabled     bool `yaml:"enabled" json:"enabled"`
	WindowHours int  `yaml:"window_hours" json:"window_hours" default:"6" validate:"gt=0"`
}

// Normalize fills unset fields with their defaults and validates the result.
func (p *Plan) Normalize() error {
	if err := defaults.Set(p); err != nil {
		return fmt.Errorf("applying plan defaults: %w", err)
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}
	return nil
}

// LoadPlan reads a YAML plan file and normalizes it.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	p := &Plan{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing plan %s: %w", path, err)
	}
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	return p, nil
}
