package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"time26-oracle/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	PriceFeed  PriceFeedConfig  `mapstructure:"pricefeed"`
	Polygon    PolygonConfig    `mapstructure:"polygon"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Server     ServerConfig     `mapstructure:"server"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the settlement cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// PricingConfig holds operator price settings. Values are decimal strings;
// empty, malformed or non-positive values select the built-in defaults.
type PricingConfig struct {
	TIME26PriceUSD string `mapstructure:"time26_price_usd"`
	POLFallbackUSD string `mapstructure:"pol_fallback_usd"`
}

// PriceFeedConfig covers the live POL quote source.
type PriceFeedConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	CoinID         string        `mapstructure:"coin_id"`
	APIKey         string        `mapstructure:"api_key"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// PolygonConfig covers on-chain data access.
type PolygonConfig struct {
	RPCURL             string        `mapstructure:"rpc_url"`
	TokenAddress       string        `mapstructure:"token_address"`
	DistributorAddress string        `mapstructure:"distributor_address"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	MintGasLimit       uint64        `mapstructure:"mint_gas_limit"`
}

// SettlementConfig tunes daily reconciliation.
type SettlementConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	LookbackDays int    `mapstructure:"lookback_days"`
	ToleranceWei string `mapstructure:"tolerance_wei"`
	DailyPoolWei string `mapstructure:"daily_pool_wei"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AlertingConfig defines discrepancy alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram alert channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("TIME26ORACLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// bindLegacyEnv maps the unprefixed price variables shared with the web app.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("pricing.time26_price_usd", "TIME26ORACLE_PRICING_TIME26_PRICE_USD", "TIME26_PRICE_USD")
	_ = v.BindEnv("pricing.pol_fallback_usd", "TIME26ORACLE_PRICING_POL_FALLBACK_USD", "POL_PRICE_USD")
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "time26-oracle")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x54494d45))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("pricing.time26_price_usd", "0.05")
	v.SetDefault("pricing.pol_fallback_usd", "0.45")

	v.SetDefault("pricefeed.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("pricefeed.coin_id", "polygon-ecosystem-token")
	v.SetDefault("pricefeed.request_timeout", "5s")
	v.SetDefault("pricefeed.cache_ttl", "5m")

	v.SetDefault("polygon.request_timeout", "10s")
	v.SetDefault("polygon.mint_gas_limit", 250000)

	v.SetDefault("settlement.enabled", true)
	v.SetDefault("settlement.lookback_days", 7)
	v.SetDefault("settlement.tolerance_wei", "1")
	v.SetDefault("settlement.daily_pool_wei", "0")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "6h")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 3650)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.PriceFeed.RequestTimeout <= 0 {
		return fmt.Errorf("pricefeed.request_timeout must be greater than zero")
	}
	if c.PriceFeed.CacheTTL <= 0 {
		return fmt.Errorf("pricefeed.cache_ttl must be greater than zero")
	}
	if c.Settlement.LookbackDays <= 0 {
		return fmt.Errorf("settlement.lookback_days must be greater than zero")
	}
	if _, err := parseWei(c.Settlement.ToleranceWei); err != nil {
		return fmt.Errorf("settlement.tolerance_wei: %w", err)
	}
	if _, err := parseWei(c.Settlement.DailyPoolWei); err != nil {
		return fmt.Errorf("settlement.daily_pool_wei: %w", err)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// TIME26USD parses the configured TIME26 price. Unusable values yield zero,
// which the oracle replaces with its default.
func (p PricingConfig) TIME26USD() decimal.Decimal {
	return parsePrice(p.TIME26PriceUSD)
}

// POLFallback parses the POL fallback price. Unusable values yield zero.
func (p PricingConfig) POLFallback() decimal.Decimal {
	return parsePrice(p.POLFallbackUSD)
}

func parsePrice(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !d.IsPositive() {
		return decimal.Zero
	}
	return d
}

func parseWei(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return decimal.Decimal{}, fmt.Errorf("must be a non-negative integer, got %q", raw)
	}
	return d, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// ToleranceAmount returns tolerance_wei as a smallest-unit amount.
func (s SettlementConfig) ToleranceAmount() (*uint256.Int, error) {
	return weiAmount(s.ToleranceWei)
}

// DailyPoolAmount returns daily_pool_wei as a smallest-unit amount.
func (s SettlementConfig) DailyPoolAmount() (*uint256.Int, error) {
	return weiAmount(s.DailyPoolWei)
}

func weiAmount(raw string) (*uint256.Int, error) {
	d, err := parseWei(raw)
	if err != nil {
		return nil, err
	}
	v, overflow := uint256.FromBig(d.BigInt())
	if overflow {
		return nil, fmt.Errorf("%q exceeds 256 bits", raw)
	}
	return v, nil
}
