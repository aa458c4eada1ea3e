package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"hedge-volume/internal/sizing"
)

type Mode string

const (
	// ModePaper runs against simulated venues.
	ModePaper Mode = "paper"
	// ModeLive runs against real venue gateways.
	ModeLive Mode = "live"
	// ModeScan only watches spreads and never trades.
	ModeScan Mode = "scan"
)

type Config struct {
	Mode           Mode                 `yaml:"mode"`
	InstanceID     string               `yaml:"instance_id"`
	Venues         []VenueConfig        `yaml:"venues"`
	Targets        []TargetConfig       `yaml:"targets"`
	Sizing         SizingConfig         `yaml:"sizing"`
	Timing         TimingConfig         `yaml:"timing"`
	Risk           RiskConfig           `yaml:"risk"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	State          StateConfig          `yaml:"state"`
	Observability  ObservabilityConfig  `yaml:"observability"`
}

type VenueConfig struct {
	Name string `yaml:"name"`
	// Driver selects the live gateway implementation. Paper and scan modes
	// ignore it.
	Driver      string `yaml:"driver"`
	RestBaseURL string `yaml:"rest_base_url"`
	APIKey      string `yaml:"api_key"`
	APISecret   string `yaml:"api_secret"`
	// Capability flags describe how the venue's order API behaves; they are
	// configuration, not probed at runtime.
	SupportsLeverage    bool `yaml:"supports_leverage"`
	RequiresMarketPrice bool `yaml:"requires_market_price"`
	ListingBased        bool `yaml:"listing_based"`
	AsyncSettlement     bool `yaml:"async_settlement"`
	// PaperQuotes seed the simulated order books in paper mode, keyed by
	// the venue's native symbol.
	PaperQuotes map[string]PaperQuote `yaml:"paper_quotes"`
}

type PaperQuote struct {
	Bid Decimal `yaml:"bid"`
	Ask Decimal `yaml:"ask"`
}

type TargetConfig struct {
	Symbol      string  `yaml:"symbol"`
	DailyTarget Decimal `yaml:"daily_target"`
	Priority    Decimal `yaml:"priority"`
}

type SizingConfig struct {
	Min          Decimal `yaml:"min"`
	Max          Decimal `yaml:"max"`
	Distribution string  `yaml:"distribution"`
}

type TimingConfig struct {
	OpenIntervalMinSec int64 `yaml:"open_interval_min_sec"`
	OpenIntervalMaxSec int64 `yaml:"open_interval_max_sec"`
	ManagerIntervalSec int64 `yaml:"manager_interval_sec"`
	SettleDelaySec     int64 `yaml:"settle_delay_sec"`
	CooldownSec        int64 `yaml:"cooldown_sec"`
	CapPollSec         int64 `yaml:"cap_poll_sec"`
}

type RiskConfig struct {
	MaxSpreadPct   Decimal `yaml:"max_spread_pct"`
	MaxConcurrent  int     `yaml:"max_concurrent"`
	DailyMaxVolume Decimal `yaml:"daily_max_volume"`
	Leverage       int     `yaml:"leverage"`
	MinLifetimeSec int64   `yaml:"min_lifetime_sec"`
	MaxLifetimeSec int64   `yaml:"max_lifetime_sec"`
}

type CircuitBreakerConfig struct {
	Enabled     bool  `yaml:"enabled"`
	MaxFailures int   `yaml:"max_failures"`
	CooldownSec int64 `yaml:"cooldown_sec"`
}

type StateConfig struct {
	Dir string `yaml:"dir"`
}

type ObservabilityConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type TelegramConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BotToken   string `yaml:"bot_token"`
	ChatID     string `yaml:"chat_id"`
	APIBaseURL string `yaml:"api_base_url"`
	TimeoutSec int64  `yaml:"timeout_sec"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	cfg.normalize()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Mode = Mode(strings.ToLower(strings.TrimSpace(string(c.Mode))))
	c.InstanceID = strings.ToLower(strings.TrimSpace(c.InstanceID))
	for i := range c.Venues {
		c.Venues[i].Name = strings.ToLower(strings.TrimSpace(c.Venues[i].Name))
		c.Venues[i].Driver = strings.ToLower(strings.TrimSpace(c.Venues[i].Driver))
		c.Venues[i].RestBaseURL = strings.TrimSpace(c.Venues[i].RestBaseURL)
		c.Venues[i].APIKey = strings.TrimSpace(c.Venues[i].APIKey)
		c.Venues[i].APISecret = strings.TrimSpace(c.Venues[i].APISecret)
		if len(c.Venues[i].PaperQuotes) > 0 {
			quotes := make(map[string]PaperQuote, len(c.Venues[i].PaperQuotes))
			for sym, q := range c.Venues[i].PaperQuotes {
				quotes[strings.ToUpper(strings.TrimSpace(sym))] = q
			}
			c.Venues[i].PaperQuotes = quotes
		}
	}
	for i := range c.Targets {
		c.Targets[i].Symbol = strings.ToUpper(strings.TrimSpace(c.Targets[i].Symbol))
	}
	c.Sizing.Distribution = strings.ToLower(strings.TrimSpace(c.Sizing.Distribution))
	c.State.Dir = strings.TrimSpace(c.State.Dir)
	c.Observability.Telegram.BotToken = strings.TrimSpace(c.Observability.Telegram.BotToken)
	c.Observability.Telegram.ChatID = strings.TrimSpace(c.Observability.Telegram.ChatID)
	c.Observability.Telegram.APIBaseURL = strings.TrimSpace(c.Observability.Telegram.APIBaseURL)
	c.Observability.Logging.Level = strings.ToLower(strings.TrimSpace(c.Observability.Logging.Level))
	c.Observability.Logging.File = strings.TrimSpace(c.Observability.Logging.File)
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModePaper
	}
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	for i := range c.Targets {
		if c.Targets[i].Priority.Cmp(decimal.Zero) == 0 {
			c.Targets[i].Priority = Decimal{decimal.NewFromInt(1)}
		}
	}
	if c.Sizing.Distribution == "" {
		c.Sizing.Distribution = string(sizing.LogNormal)
	}
	if c.Timing.OpenIntervalMinSec == 0 {
		c.Timing.OpenIntervalMinSec = 30
	}
	if c.Timing.OpenIntervalMaxSec == 0 {
		c.Timing.OpenIntervalMaxSec = 120
	}
	if c.Timing.ManagerIntervalSec == 0 {
		c.Timing.ManagerIntervalSec = 30
	}
	if c.Timing.SettleDelaySec == 0 {
		c.Timing.SettleDelaySec = 3
	}
	if c.Timing.CooldownSec == 0 {
		c.Timing.CooldownSec = 5
	}
	if c.Timing.CapPollSec == 0 {
		c.Timing.CapPollSec = 60
	}
	if c.Risk.MaxSpreadPct.Cmp(decimal.Zero) == 0 {
		c.Risk.MaxSpreadPct = Decimal{decimal.RequireFromString("0.05")}
	}
	if c.Risk.MaxConcurrent == 0 {
		c.Risk.MaxConcurrent = 3
	}
	if c.Risk.Leverage == 0 {
		c.Risk.Leverage = 1
	}
	if c.Risk.MinLifetimeSec == 0 {
		c.Risk.MinLifetimeSec = 300
	}
	if c.Risk.MaxLifetimeSec == 0 {
		c.Risk.MaxLifetimeSec = 7200
	}
	if c.CircuitBreaker.MaxFailures == 0 {
		c.CircuitBreaker.MaxFailures = 3
	}
	if c.CircuitBreaker.CooldownSec == 0 {
		c.CircuitBreaker.CooldownSec = 300
	}
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.Observability.Telegram.APIBaseURL == "" {
		c.Observability.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if c.Observability.Telegram.TimeoutSec == 0 {
		c.Observability.Telegram.TimeoutSec = 10
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.MaxSizeMB == 0 {
		c.Observability.Logging.MaxSizeMB = 50
	}
	if c.Observability.Logging.MaxBackups == 0 {
		c.Observability.Logging.MaxBackups = 5
	}
	if c.Observability.Logging.MaxAgeDays == 0 {
		c.Observability.Logging.MaxAgeDays = 14
	}
}

var symbolRe = regexp.MustCompile(`^[A-Z0-9]+/[A-Z0-9]+(:[A-Z0-9]+)?$`)
var instanceIDRe = regexp.MustCompile(`^[a-z0-9_-]{1,24}$`)

func (c Config) Validate() error {
	switch c.Mode {
	case ModePaper, ModeLive, ModeScan:
	default:
		return fmt.Errorf("mode must be paper, live, or scan")
	}
	if !instanceIDRe.MatchString(c.InstanceID) {
		return fmt.Errorf("instance_id must match [a-z0-9_-], length 1..24")
	}
	if len(c.Venues) < 2 {
		return fmt.Errorf("at least two venues are required")
	}
	seen := make(map[string]struct{}, len(c.Venues))
	for _, v := range c.Venues {
		if v.Name == "" {
			return fmt.Errorf("venue name is required")
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("duplicate venue %q", v.Name)
		}
		seen[v.Name] = struct{}{}
		if c.Mode == ModeLive {
			if v.Driver == "" {
				return fmt.Errorf("venue %q requires a driver in live mode", v.Name)
			}
			if v.APIKey == "" || v.APISecret == "" {
				return fmt.Errorf("venue %q requires api_key and api_secret in live mode", v.Name)
			}
			// Binance spot market orders take no price, so the hint would be
			// silently dropped.
			if v.Driver == "binance" && v.RequiresMarketPrice {
				return fmt.Errorf("venue %q: requires_market_price is not supported by the binance driver", v.Name)
			}
		}
	}
	if c.Mode != ModeScan && len(c.Targets) == 0 {
		return fmt.Errorf("at least one volume target is required")
	}
	for _, t := range c.Targets {
		if !symbolRe.MatchString(t.Symbol) {
			return fmt.Errorf("target symbol %q must look like BASE/QUOTE or BASE/QUOTE:SETTLE", t.Symbol)
		}
		if t.DailyTarget.Cmp(decimal.Zero) <= 0 {
			return fmt.Errorf("target %s daily_target must be > 0", t.Symbol)
		}
		if t.Priority.Cmp(decimal.Zero) <= 0 {
			return fmt.Errorf("target %s priority must be > 0", t.Symbol)
		}
	}
	if c.Mode != ModeScan {
		if c.Sizing.Min.Cmp(decimal.Zero) <= 0 {
			return fmt.Errorf("sizing min must be > 0")
		}
		if c.Sizing.Max.Cmp(c.Sizing.Min.Decimal) < 0 {
			return fmt.Errorf("sizing max must be >= min")
		}
		if err := (sizing.Distribution(c.Sizing.Distribution)).Validate(); err != nil {
			return err
		}
	}
	if c.Risk.MaxSpreadPct.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("risk max_spread_pct must be > 0")
	}
	if c.Risk.MaxConcurrent < 1 {
		return fmt.Errorf("risk max_concurrent must be >= 1")
	}
	if c.Risk.DailyMaxVolume.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("risk daily_max_volume must be >= 0")
	}
	if c.Risk.Leverage < 1 {
		return fmt.Errorf("risk leverage must be >= 1")
	}
	if c.Risk.MinLifetimeSec < 0 || c.Risk.MaxLifetimeSec <= c.Risk.MinLifetimeSec {
		return fmt.Errorf("risk lifetime window must satisfy 0 <= min < max")
	}
	if c.Timing.OpenIntervalMaxSec < c.Timing.OpenIntervalMinSec {
		return fmt.Errorf("timing open_interval_max_sec must be >= open_interval_min_sec")
	}
	if c.Observability.Telegram.Enabled {
		if c.Observability.Telegram.BotToken == "" || c.Observability.Telegram.ChatID == "" {
			return fmt.Errorf("telegram requires bot_token and chat_id when enabled")
		}
	}
	return nil
}
