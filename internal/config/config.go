// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Sentiment tunes the aggregation window and the signal thresholds.
type Sentiment struct {
	WindowMinutes  int      `yaml:"window_minutes"`
	TrendCycles    int      `yaml:"trend_cycles"`
	MinSamples     int      `yaml:"min_samples"`
	MinThreshold   float64  `yaml:"min_threshold"`
	MaxThreshold   float64  `yaml:"max_threshold"`
	TrendFactor    float64  `yaml:"trend_factor"`
	SourceTimeout  int      `yaml:"source_timeout_secs"`
	NewsEndpoint   string   `yaml:"news_endpoint"`
	SocialEndpoint string   `yaml:"social_endpoint"`
	StubSources    []string `yaml:"stub_sources"`
}

// Risk encodes guard-rails on position size, stops, and trade cadence.
type Risk struct {
	MaxPositionSize float64 `yaml:"max_position_size"`
	MinLotSize      float64 `yaml:"min_lot_size"`
	StopLossPct     float64 `yaml:"stop_loss_pct"`
	TakeProfitPct   float64 `yaml:"take_profit_pct"`
	CooldownMinutes int     `yaml:"cooldown_minutes"`
}

// Execution tunes order submission retries and fill acceptance.
type Execution struct {
	MaxRetries         int     `yaml:"max_retries"`
	RetryDelaySeconds  int     `yaml:"retry_delay_seconds"`
	MinFillFraction    float64 `yaml:"min_fill_fraction"`
	PollIntervalMillis int     `yaml:"poll_interval_ms"`
	PollTimeoutSeconds int     `yaml:"poll_timeout_secs"`
}

// Exchange describes connectivity to the trading venue. API credentials come
// from the environment, never from the YAML file.
type Exchange struct {
	Provider      string  `yaml:"provider"` // binance|paper
	Testnet       bool    `yaml:"testnet"`
	RateLimitRPS  float64 `yaml:"rate_limit_rps"`
	RateBurst     int     `yaml:"rate_burst"`
	QuoteCurrency string  `yaml:"quote_currency"`
	PaperCash     float64 `yaml:"paper_cash"`
	SlippageBps   float64 `yaml:"slippage_bps"`
}

// Store configures the document store holding positions, trades, and snapshots.
type Store struct {
	Backend        string `yaml:"backend"` // mongo|memory
	Database       string `yaml:"database"`
	TimeoutSeconds int    `yaml:"timeout_secs"`
}

// Alert configures the fire-and-forget notification channel.
type Alert struct {
	Enabled bool `yaml:"enabled"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App                    App       `yaml:"app"`
	Pairs                  []string  `yaml:"pairs"`
	RefreshIntervalMinutes int       `yaml:"refresh_interval_minutes"`
	Sentiment              Sentiment `yaml:"sentiment"`
	Risk                   Risk      `yaml:"risk"`
	Execution              Execution `yaml:"execution"`
	Exchange               Exchange  `yaml:"exchange"`
	Store                  Store     `yaml:"store"`
	Alert                  Alert     `yaml:"alert"`
}

// RefreshInterval returns the cycle cadence as a duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMinutes) * time.Minute
}

// Window returns the sentiment aggregation window as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.Sentiment.WindowMinutes) * time.Minute
}

// Cooldown returns the minimum inter-trade interval as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Risk.CooldownMinutes) * time.Minute
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks every field and reports all violations in one error so a
// bad deployment fails fast with the complete list, not just the first hit.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(c.Pairs) == 0 {
		add("pairs: at least one trading pair required")
	}
	for _, p := range c.Pairs {
		if strings.TrimSpace(p) == "" {
			add("pairs: empty pair entry")
		}
	}
	if c.RefreshIntervalMinutes <= 0 {
		add("refresh_interval_minutes: must be positive, got %d", c.RefreshIntervalMinutes)
	}

	s := c.Sentiment
	if s.WindowMinutes <= 0 {
		add("sentiment.window_minutes: must be positive, got %d", s.WindowMinutes)
	}
	if s.TrendCycles < 2 {
		add("sentiment.trend_cycles: need at least 2, got %d", s.TrendCycles)
	}
	if s.MinSamples < 0 {
		add("sentiment.min_samples: must be non-negative, got %d", s.MinSamples)
	}
	if s.MinThreshold < -1 || s.MinThreshold > 1 {
		add("sentiment.min_threshold: outside [-1,1], got %.3f", s.MinThreshold)
	}
	if s.MaxThreshold < -1 || s.MaxThreshold > 1 {
		add("sentiment.max_threshold: outside [-1,1], got %.3f", s.MaxThreshold)
	}
	if s.MinThreshold >= s.MaxThreshold {
		add("sentiment: min_threshold %.3f must be below max_threshold %.3f", s.MinThreshold, s.MaxThreshold)
	}
	if s.TrendFactor < 0 {
		add("sentiment.trend_factor: must be non-negative, got %.3f", s.TrendFactor)
	}

	r := c.Risk
	if r.MaxPositionSize <= 0 {
		add("risk.max_position_size: must be positive, got %.4f", r.MaxPositionSize)
	}
	if r.MinLotSize < 0 {
		add("risk.min_lot_size: must be non-negative, got %.4f", r.MinLotSize)
	}
	if r.MinLotSize > r.MaxPositionSize && r.MaxPositionSize > 0 {
		add("risk: min_lot_size %.4f exceeds max_position_size %.4f", r.MinLotSize, r.MaxPositionSize)
	}
	if r.StopLossPct <= 0 || r.StopLossPct >= 1 {
		add("risk.stop_loss_pct: outside (0,1), got %.3f", r.StopLossPct)
	}
	if r.TakeProfitPct <= 0 || r.TakeProfitPct >= 1 {
		add("risk.take_profit_pct: outside (0,1), got %.3f", r.TakeProfitPct)
	}
	if r.CooldownMinutes < 0 {
		add("risk.cooldown_minutes: must be non-negative, got %d", r.CooldownMinutes)
	}

	e := c.Execution
	if e.MaxRetries < 0 {
		add("execution.max_retries: must be non-negative, got %d", e.MaxRetries)
	}
	if e.RetryDelaySeconds <= 0 {
		add("execution.retry_delay_seconds: must be positive, got %d", e.RetryDelaySeconds)
	}
	if e.MinFillFraction <= 0 || e.MinFillFraction > 1 {
		add("execution.min_fill_fraction: outside (0,1], got %.3f", e.MinFillFraction)
	}
	if e.PollIntervalMillis <= 0 {
		add("execution.poll_interval_ms: must be positive, got %d", e.PollIntervalMillis)
	}
	if e.PollTimeoutSeconds <= 0 {
		add("execution.poll_timeout_secs: must be positive, got %d", e.PollTimeoutSeconds)
	}

	switch c.Exchange.Provider {
	case "binance", "paper":
	default:
		add("exchange.provider: unknown provider %q", c.Exchange.Provider)
	}
	if c.Exchange.RateLimitRPS <= 0 {
		add("exchange.rate_limit_rps: must be positive, got %.2f", c.Exchange.RateLimitRPS)
	}
	if c.Exchange.RateBurst <= 0 {
		add("exchange.rate_burst: must be positive, got %d", c.Exchange.RateBurst)
	}
	if c.Exchange.QuoteCurrency == "" {
		add("exchange.quote_currency: required")
	}

	switch c.Store.Backend {
	case "mongo", "memory":
	default:
		add("store.backend: unknown backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "mongo" && c.Store.Database == "" {
		add("store.database: required for mongo backend")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config (%d problems):\n  - %s", len(problems), strings.Join(problems, "\n  - "))
	}
	return nil
}
