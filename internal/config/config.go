// Package config loads the polyagents service configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when POLYAGENTS_CONFIG is unset.
const DefaultPath = "config/polyagents.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for polyagents.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Gather   GatherConfig   `yaml:"gather"`
	Backtest BacktestConfig `yaml:"backtest"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir" default:"data"`
	SQLitePath string `yaml:"sqlite_path" default:"data/polyagents.db"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host" default:"0.0.0.0"`
	Port     int    `yaml:"port" default:"8080"`
	GRPCPort int    `yaml:"grpc_port" default:"9090"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url" default:"https://paper-api.alpaca.markets"`
	DataURL   string `yaml:"data_url" default:"https://data.alpaca.markets"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"json"`
}

// GatherConfig controls daily bar and headline gathering.
type GatherConfig struct {
	Daily     GatherJobConfig   `yaml:"daily"`
	Headlines HeadlineJobConfig `yaml:"headlines"`
}

// GatherJobConfig holds parameters for a single data gathering job.
type GatherJobConfig struct {
	Market          string   `yaml:"market" default:"crypto"`
	Symbols         []string `yaml:"symbols"`
	StartDate       string   `yaml:"start_date" default:"2020-01-01"`
	BatchSize       int      `yaml:"batch_size" default:"50"`
	MaxWorkers      int      `yaml:"max_workers" default:"4"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min" default:"200"`
	Feed            string   `yaml:"feed" default:"sip"`
}

// HeadlineJobConfig holds parameters for the headline gatherer. Sources
// are any of "alpaca", "google" and "cryptopanic".
type HeadlineJobConfig struct {
	Symbols          []string `yaml:"symbols"`
	Sources          []string `yaml:"sources" default:"[\"alpaca\",\"google\"]"`
	Market           string   `yaml:"market" default:"crypto"`
	LookbackHours    int      `yaml:"lookback_hours" default:"72"`
	MaxWorkers       int      `yaml:"max_workers" default:"4"`
	RateLimitPerMin  int      `yaml:"rate_limit_per_min" default:"60"`
	CryptoPanicToken string   `yaml:"cryptopanic_token"`
}

// BacktestConfig holds defaults for the backtest service.
type BacktestConfig struct {
	Market          string  `yaml:"market" default:"crypto"`
	InitialCash     float64 `yaml:"initial_cash" default:"1000000"`
	DefaultPlanner  string  `yaml:"default_planner" default:"rules"`
	HistoryStart    string  `yaml:"history_start" default:"2015-01-01"`
	LoadConcurrency int     `yaml:"load_concurrency" default:"8"`
	ExportCurves    bool    `yaml:"export_curves"`
}

// HistoryStartTime parses HistoryStart as a UTC date.
func (b BacktestConfig) HistoryStartTime() (time.Time, error) {
	return time.Parse(time.DateOnly, b.HistoryStart)
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the configuration file path from POLYAGENTS_CONFIG, or
// DefaultPath.
func Path() string {
	if v := os.Getenv("POLYAGENTS_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, fills unset fields with defaults and then applies
// environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	applyEnvOverrides(cfg)

	if _, err := cfg.Backtest.HistoryStartTime(); err != nil {
		return nil, fmt.Errorf("backtest.history_start: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and
// environment overrides honoured, for use without a file.
func Default() *Config {
	cfg := &Config{}
	_ = defaults.Set(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}

	if v := os.Getenv("GRPC_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.GRPCPort = p
		}
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("CRYPTOPANIC_TOKEN"); v != "" {
		cfg.Gather.Headlines.CryptoPanicToken = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
