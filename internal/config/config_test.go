package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

const validYAML = `
mode: paper
instance_id: test-1
venues:
  - name: venuea
    paper_quotes:
      btc/usdc: {bid: 99, ask: 100}
  - name: venueb
targets:
  - symbol: btc/usdc
    daily_target: 10
sizing:
  min: 0.01
  max: 1
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModePaper {
		t.Fatalf("mode = %s, want paper", cfg.Mode)
	}
	if cfg.Sizing.Distribution != "lognormal" {
		t.Fatalf("distribution = %s, want lognormal", cfg.Sizing.Distribution)
	}
	if cfg.Timing.OpenIntervalMinSec != 30 || cfg.Timing.OpenIntervalMaxSec != 120 {
		t.Fatalf("open interval = %d..%d, want 30..120", cfg.Timing.OpenIntervalMinSec, cfg.Timing.OpenIntervalMaxSec)
	}
	if cfg.Risk.MaxConcurrent != 3 {
		t.Fatalf("max_concurrent = %d, want 3", cfg.Risk.MaxConcurrent)
	}
	if cfg.Risk.MinLifetimeSec != 300 || cfg.Risk.MaxLifetimeSec != 7200 {
		t.Fatalf("lifetime = %d..%d, want 300..7200", cfg.Risk.MinLifetimeSec, cfg.Risk.MaxLifetimeSec)
	}
	if cfg.CircuitBreaker.MaxFailures != 3 {
		t.Fatalf("breaker max_failures = %d, want 3", cfg.CircuitBreaker.MaxFailures)
	}
	if cfg.State.Dir != "state" {
		t.Fatalf("state dir = %s, want state", cfg.State.Dir)
	}
}

func TestLoadNormalizesSymbolsAndNames(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Targets[0].Symbol != "BTC/USDC" {
		t.Fatalf("symbol = %s, want BTC/USDC", cfg.Targets[0].Symbol)
	}
	if _, ok := cfg.Venues[0].PaperQuotes["BTC/USDC"]; !ok {
		t.Fatalf("paper quote keys = %v, want BTC/USDC", cfg.Venues[0].PaperQuotes)
	}
	if cfg.Targets[0].Priority.Cmp(decimal.NewFromInt(1)) != 0 {
		t.Fatalf("priority = %s, want default 1", cfg.Targets[0].Priority)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, validYAML+"\nbogus_key: 1\n"))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			"bad mode",
			func(c *Config) { c.Mode = "dryrun" },
			"mode must be",
		},
		{
			"bad instance id",
			func(c *Config) { c.InstanceID = "Has Spaces" },
			"instance_id",
		},
		{
			"single venue",
			func(c *Config) { c.Venues = c.Venues[:1] },
			"two venues",
		},
		{
			"duplicate venue",
			func(c *Config) { c.Venues[1].Name = c.Venues[0].Name },
			"duplicate venue",
		},
		{
			"live without keys",
			func(c *Config) {
				c.Mode = ModeLive
				for i := range c.Venues {
					c.Venues[i].Driver = "binance"
				}
			},
			"api_key",
		},
		{
			"live without driver",
			func(c *Config) { c.Mode = ModeLive },
			"driver",
		},
		{
			"binance with market price hint",
			func(c *Config) {
				c.Mode = ModeLive
				for i := range c.Venues {
					c.Venues[i].Driver = "binance"
					c.Venues[i].APIKey = "k"
					c.Venues[i].APISecret = "s"
				}
				c.Venues[0].RequiresMarketPrice = true
			},
			"requires_market_price",
		},
		{
			"no targets",
			func(c *Config) { c.Targets = nil },
			"volume target",
		},
		{
			"bad symbol",
			func(c *Config) { c.Targets[0].Symbol = "BTCUSDC" },
			"BASE/QUOTE",
		},
		{
			"zero daily target",
			func(c *Config) { c.Targets[0].DailyTarget = Decimal{decimal.Zero} },
			"daily_target",
		},
	}

	for _, tc := range cases {
		cfg, err := Load(writeConfig(t, validYAML))
		if err != nil {
			t.Fatalf("%s: Load: %v", tc.name, err)
		}
		tc.mutate(&cfg)
		err = cfg.Validate()
		if err == nil {
			t.Fatalf("%s: Validate passed, want error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.wantErr) {
			t.Fatalf("%s: err = %q, want substring %q", tc.name, err, tc.wantErr)
		}
	}
}

func TestLoadScanModeNeedsNoTargets(t *testing.T) {
	yaml := strings.Replace(validYAML, "mode: paper", "mode: scan", 1)
	yaml = strings.Replace(yaml, `targets:
  - symbol: btc/usdc
    daily_target: 10
`, "", 1)
	if _, err := Load(writeConfig(t, yaml)); err != nil {
		t.Fatalf("Load scan config: %v", err)
	}
}
