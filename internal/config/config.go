// Package config loads and validates the tradeflow YAML configuration and its
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the tradeflow system.
type Config struct {
	Symbols  []string       `yaml:"symbols"`
	Storage  Storage        `yaml:"storage"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Learning LearningConfig `yaml:"learning"`
	Trading  TradingConfig  `yaml:"trading"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	DataURL         string `yaml:"data_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PipelineConfig controls the concurrent data-loading pipeline.
type PipelineConfig struct {
	NumWorkers     int           `yaml:"num_workers"`
	MaxQueueSize   int           `yaml:"max_queue_size"`
	ChunkSize      int           `yaml:"chunk_size"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
	StartDate      string        `yaml:"start_date"`
}

// FetchConfig controls retrying around the data source.
type FetchConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
}

// LearningConfig controls the continuous relearning loop.
type LearningConfig struct {
	Interval      time.Duration `yaml:"interval"`
	WindowSize    int           `yaml:"window_size"`
	SymbolTimeout time.Duration `yaml:"symbol_timeout"`
}

// TradingConfig controls the real-time trading loop.
type TradingConfig struct {
	Interval          time.Duration `yaml:"interval"`
	WindowSize        int           `yaml:"window_size"`
	PredictionHorizon int           `yaml:"prediction_horizon"`
	BuyThreshold      float64       `yaml:"buy_threshold"`
	SellThreshold     float64       `yaml:"sell_threshold"`
	OrderQty          int64         `yaml:"order_qty"`
	PaperMode         bool          `yaml:"paper_mode"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config, applies environment overrides and defaults, and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SYMBOLS"); v != "" {
		cfg.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
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

	// Canonical Alpaca SDK env vars take precedence over ours.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// applyDefaults fills in defaults for options the file left unset. The numeric
// values are defaults, not contracts: deployments tune them per universe.
func (c *Config) applyDefaults() {
	if c.Pipeline.NumWorkers <= 0 {
		c.Pipeline.NumWorkers = 8
	}
	if c.Pipeline.MaxQueueSize <= 0 {
		c.Pipeline.MaxQueueSize = 5
	}
	if c.Pipeline.ChunkSize <= 0 {
		c.Pipeline.ChunkSize = 1024
	}
	if c.Pipeline.PollTimeout <= 0 {
		c.Pipeline.PollTimeout = time.Second
	}
	if c.Pipeline.EnqueueTimeout <= 0 {
		c.Pipeline.EnqueueTimeout = time.Second
	}
	if c.Fetch.MaxAttempts <= 0 {
		c.Fetch.MaxAttempts = 5
	}
	if c.Fetch.RetryBaseDelay <= 0 {
		c.Fetch.RetryBaseDelay = 4 * time.Second
	}
	if c.Fetch.RetryMaxDelay <= 0 {
		c.Fetch.RetryMaxDelay = 10 * time.Second
	}
	if c.Learning.Interval <= 0 {
		c.Learning.Interval = time.Hour
	}
	if c.Learning.WindowSize <= 0 {
		c.Learning.WindowSize = 252
	}
	if c.Learning.SymbolTimeout <= 0 {
		c.Learning.SymbolTimeout = time.Minute
	}
	if c.Trading.Interval <= 0 {
		c.Trading.Interval = time.Hour
	}
	if c.Trading.WindowSize <= 0 {
		c.Trading.WindowSize = c.Learning.WindowSize
	}
	if c.Trading.PredictionHorizon <= 0 {
		c.Trading.PredictionHorizon = 5
	}
	if c.Trading.BuyThreshold == 0 {
		c.Trading.BuyThreshold = 0.6
	}
	if c.Trading.SellThreshold == 0 {
		c.Trading.SellThreshold = 0.4
	}
	if c.Trading.OrderQty <= 0 {
		c.Trading.OrderQty = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Alpaca.RateLimitPerMin <= 0 {
		c.Alpaca.RateLimitPerMin = 200
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols cannot be empty")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if c.Trading.SellThreshold >= c.Trading.BuyThreshold {
		return fmt.Errorf("trading.sell_threshold (%v) must be below trading.buy_threshold (%v)",
			c.Trading.SellThreshold, c.Trading.BuyThreshold)
	}
	if c.Trading.BuyThreshold > 1 || c.Trading.SellThreshold < 0 {
		return fmt.Errorf("trading thresholds must lie in [0, 1]")
	}
	return nil
}
