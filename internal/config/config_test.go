package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("defaults should load: %v", err)
	}
	if cfg.PriceFeed.CacheTTL != 5*time.Minute {
		t.Fatalf("cache ttl default = %s", cfg.PriceFeed.CacheTTL)
	}
	if cfg.PriceFeed.RequestTimeout != 5*time.Second {
		t.Fatalf("request timeout default = %s", cfg.PriceFeed.RequestTimeout)
	}
	if got := cfg.Pricing.TIME26USD().String(); got != "0.05" {
		t.Fatalf("TIME26 default = %s", got)
	}
	if got := cfg.Pricing.POLFallback().String(); got != "0.45" {
		t.Fatalf("POL fallback default = %s", got)
	}
	if cfg.Scheduler.Interval != 24*time.Hour {
		t.Fatalf("scheduler interval default = %s", cfg.Scheduler.Interval)
	}
}

func TestLoadPriceEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("TIME26_PRICE_USD", "0.07")
	t.Setenv("POL_PRICE_USD", "0.52")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Pricing.TIME26USD().String(); got != "0.07" {
		t.Fatalf("TIME26_PRICE_USD not applied: %s", got)
	}
	if got := cfg.Pricing.POLFallback().String(); got != "0.52" {
		t.Fatalf("POL_PRICE_USD not applied: %s", got)
	}
}

func TestUnusablePriceYieldsZero(t *testing.T) {
	for _, raw := range []string{"", "abc", "0", "-1"} {
		p := PricingConfig{TIME26PriceUSD: raw, POLFallbackUSD: raw}
		if !p.TIME26USD().IsZero() || !p.POLFallback().IsZero() {
			t.Fatalf("%q should be treated as unset", raw)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
pricefeed:
  cache_ttl: 2m
polygon:
  rpc_url: https://polygon-rpc.com
  mint_gas_limit: 300000
settlement:
  tolerance_wei: "5"
alerting:
  channels: telegram,log
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.PriceFeed.CacheTTL != 2*time.Minute {
		t.Fatalf("cache ttl = %s", cfg.PriceFeed.CacheTTL)
	}
	if cfg.Polygon.MintGasLimit != 300000 {
		t.Fatalf("mint gas limit = %d", cfg.Polygon.MintGasLimit)
	}
	if cfg.Settlement.ToleranceWei != "5" {
		t.Fatalf("tolerance = %s", cfg.Settlement.ToleranceWei)
	}
	if len(cfg.Alerting.Channels) != 2 {
		t.Fatalf("channels = %v", cfg.Alerting.Channels)
	}
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	base, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string]func(c *Config){
		"zero ttl":         func(c *Config) { c.PriceFeed.CacheTTL = 0 },
		"zero timeout":     func(c *Config) { c.PriceFeed.RequestTimeout = 0 },
		"bad tolerance":    func(c *Config) { c.Settlement.ToleranceWei = "-1" },
		"fractional pool":  func(c *Config) { c.Settlement.DailyPoolWei = "1.5" },
		"telegram no chat": func(c *Config) { c.Alerting.Telegram = TelegramConfig{Enabled: true, BotToken: "x"} },
	}
	for name, mutate := range cases {
		cfg := *base
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestSettlementAmounts(t *testing.T) {
	s := SettlementConfig{ToleranceWei: "1", DailyPoolWei: "1000000000000000000000"}
	tol, err := s.ToleranceAmount()
	if err != nil || tol.Uint64() != 1 {
		t.Fatalf("tolerance = %v, %v", tol, err)
	}
	pool, err := s.DailyPoolAmount()
	if err != nil || pool.Dec() != "1000000000000000000000" {
		t.Fatalf("pool = %v, %v", pool, err)
	}
	s.DailyPoolWei = "1" + strings.Repeat("0", 80)
	if _, err := s.DailyPoolAmount(); err == nil {
		t.Fatal("expected overflow error")
	}
}
