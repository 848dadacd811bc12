package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"dexarb/internal/antispam"
	"dexarb/internal/costmodel"
	"dexarb/internal/evaluator"
	"dexarb/internal/logging"
	"dexarb/internal/poolcache"
)

// MaxNotificationInterval caps scanner.min_notification_interval.
const MaxNotificationInterval = 60 * time.Second

// Config materialises application configuration.
type Config struct {
	App       AppConfig              `mapstructure:"app"`
	Logging   logging.Config         `mapstructure:"logging"`
	Database  DatabaseConfig         `mapstructure:"database"`
	Scanner   ScannerConfig          `mapstructure:"scanner"`
	Evaluator evaluator.Options      `mapstructure:"evaluator"`
	AntiSpam  antispam.Options       `mapstructure:"antispam"`
	Cache     CacheConfig            `mapstructure:"cache"`
	Retry     poolcache.RetryOptions `mapstructure:"retry"`
	Fees      costmodel.FeeParams    `mapstructure:"fees"`
	PriceFeed PriceFeedConfig        `mapstructure:"price_feed"`
	HTTP      HTTPConfig             `mapstructure:"http"`
	Solana    SolanaConfig           `mapstructure:"solana"`
	Base      BaseConfig             `mapstructure:"base"`
	Tokens    TokensConfig           `mapstructure:"tokens"`
	Alerting  AlertingConfig         `mapstructure:"alerting"`
	Metrics   MetricsConfig          `mapstructure:"metrics"`
	Export    ExportConfig           `mapstructure:"export"`

	// Warnings lists values that were replaced by defaults while loading.
	Warnings []string `mapstructure:"-"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the opportunity store.
// Driver is "postgres", "sqlite" or empty (persistence disabled).
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// ScannerConfig governs the scan loop cadence and behaviour.
type ScannerConfig struct {
	Interval                time.Duration `mapstructure:"interval"`
	TokenDelay              time.Duration `mapstructure:"token_delay"`
	ErrorCooldown           time.Duration `mapstructure:"error_cooldown"`
	StartupDelay            time.Duration `mapstructure:"startup_delay"`
	MinNotificationInterval time.Duration `mapstructure:"min_notification_interval"`
	Chains                  []string      `mapstructure:"chains"`
	DeepConfirm             bool          `mapstructure:"deep_confirm"`
	AggregatorSweep         bool          `mapstructure:"aggregator_sweep"`
	AdvisoryLockKey         int64         `mapstructure:"advisory_lock_key"`
	TopN                    int           `mapstructure:"top_n"`
}

// CacheConfig tunes the all-pools snapshot.
type CacheConfig struct {
	CycleTTL time.Duration `mapstructure:"cycle_ttl"`
}

// PriceFeedConfig controls SOL/ETH price and gas refreshes.
type PriceFeedConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint"`
	Interval time.Duration `mapstructure:"interval"`
}

// HTTPConfig is shared by every venue adapter.
type HTTPConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SolanaConfig lists the Solana venue endpoints. An empty endpoint disables
// the venue.
type SolanaConfig struct {
	Raydium  string `mapstructure:"raydium"`
	Orca     string `mapstructure:"orca"`
	Meteora  string `mapstructure:"meteora"`
	Lifinity string `mapstructure:"lifinity"`
	Phoenix  string `mapstructure:"phoenix"`
}

// BaseConfig covers Base venues and on-chain access.
type BaseConfig struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	Aerodrome       string        `mapstructure:"aerodrome"`
	KyberPools      string        `mapstructure:"kyber_pools"`
	KyberRoutes     string        `mapstructure:"kyber_routes"`
	ResolveDecimals bool          `mapstructure:"resolve_decimals"`
}

// TokensConfig points at the token universe file. Empty uses the built-in list.
type TokensConfig struct {
	File string `mapstructure:"file"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	HistorySize int            `mapstructure:"history_size"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
	Redis       RedisConfig    `mapstructure:"redis"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RedisConfig 描述 Redis stream / pub-sub 输出。
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	Stream   string `mapstructure:"stream"`
	Channel  string `mapstructure:"channel"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// MetricsConfig exposes Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEXARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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

	warnings := sanitize(v)

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Warnings = warnings

	if cfg.Scanner.MinNotificationInterval > MaxNotificationInterval {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("scanner.min_notification_interval capped at %s", MaxNotificationInterval))
		cfg.Scanner.MinNotificationInterval = MaxNotificationInterval
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
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
	v.SetDefault("app.name", "dexarb")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.sqlite_path", "dexarb.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	for key, val := range durationDefaults {
		v.SetDefault(key, val.String())
	}
	v.SetDefault("scanner.chains", []string{"solana", "base"})
	v.SetDefault("scanner.deep_confirm", false)
	v.SetDefault("scanner.aggregator_sweep", true)
	v.SetDefault("scanner.advisory_lock_key", int64(0x64657861))
	v.SetDefault("scanner.top_n", 10)

	evalDef := evaluator.DefaultOptions()
	v.SetDefault("evaluator.min_spread", evalDef.MinSpread)
	v.SetDefault("evaluator.min_pool_liquidity", evalDef.MinPoolLiquidity)
	v.SetDefault("evaluator.swap_size_usd", evalDef.SwapSizeUSD)
	v.SetDefault("evaluator.default_liquidity", evalDef.DefaultLiquidity)
	v.SetDefault("evaluator.default_volume", evalDef.DefaultVolume)

	retryDef := poolcache.DefaultRetryOptions()
	v.SetDefault("retry.max_retries", retryDef.MaxRetries)

	feeDef := costmodel.DefaultFeeParams()
	v.SetDefault("fees.sol_price_usd", feeDef.SOLPriceUSD)
	v.SetDefault("fees.eth_price_usd", feeDef.ETHPriceUSD)
	v.SetDefault("fees.solana_base_lamports", feeDef.SolanaBaseLamports)
	v.SetDefault("fees.solana_priority_lamports", feeDef.SolanaPriorityLamports)
	v.SetDefault("fees.base_gas_units", feeDef.BaseGasUnits)
	v.SetDefault("fees.base_gas_price_gwei", feeDef.BaseGasPriceGwei)

	v.SetDefault("price_feed.enabled", true)
	v.SetDefault("price_feed.endpoint", "https://coins.llama.fi/prices/current/coingecko:solana,coingecko:ethereum")

	v.SetDefault("http.user_agent", "dexarb/1.0")

	v.SetDefault("solana.raydium", "https://api.raydium.io/v2/amm/pools")
	v.SetDefault("solana.orca", "https://api.mainnet.orca.so/v1/whirlpool/list")
	v.SetDefault("solana.meteora", "https://dlmm-api.meteora.ag/pools")
	v.SetDefault("solana.lifinity", "https://lifinity.io/api/getPools")
	v.SetDefault("solana.phoenix", "https://api.phoenix.so/v1/markets")

	v.SetDefault("base.rpc_url", "https://mainnet.base.org")
	v.SetDefault("base.aerodrome", "https://api.aerodrome.finance/api/v1/pools")
	v.SetDefault("base.kyber_pools", "")
	v.SetDefault("base.kyber_routes", "https://aggregator-api.kyberswap.com/base/api/v1/routes")
	v.SetDefault("base.resolve_decimals", false)

	v.SetDefault("tokens.file", "")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.history_size", 100)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.redis.enabled", false)
	v.SetDefault("alerting.redis.addr", "localhost:6379")
	v.SetDefault("alerting.redis.password", "")
	v.SetDefault("alerting.redis.db", 0)
	v.SetDefault("alerting.redis.prefix", "dexarb")
	v.SetDefault("alerting.redis.stream", "")
	v.SetDefault("alerting.redis.channel", "")
	v.SetDefault("alerting.redis.max_len", int64(10000))

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9102")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("export.max_data_points", 100000)
}

var durationDefaults = map[string]time.Duration{
	"scanner.interval":                  30 * time.Second,
	"scanner.token_delay":               50 * time.Millisecond,
	"scanner.error_cooldown":            5 * time.Second,
	"scanner.startup_delay":             0,
	"scanner.min_notification_interval": 60 * time.Second,
	"cache.cycle_ttl":                   poolcache.CycleTTL,
	"retry.initial_delay":               time.Second,
	"retry.down_ttl":                    poolcache.DefaultDownTTL,
	"price_feed.interval":               5 * time.Minute,
	"http.timeout":                      20 * time.Second,
	"http.connect_timeout":              5 * time.Second,
	"base.request_timeout":              10 * time.Second,
	"alerting.telegram.timeout":         10 * time.Second,
	"antispam.opportunity_cooldown":     antispam.DefaultOpportunityCooldown,
	"antispam.token_cooldown":           antispam.DefaultTokenCooldown,
	"antispam.retention":                antispam.DefaultRetention,
}

var floatKeys = []string{
	"evaluator.min_spread",
	"evaluator.min_pool_liquidity",
	"evaluator.swap_size_usd",
	"evaluator.default_liquidity",
	"evaluator.default_volume",
}

// sanitize replaces unparseable numeric values with their defaults so a
// typo in the environment does not stop the scanner. Bare numbers given for
// durations are read as seconds.
func sanitize(v *viper.Viper) []string {
	var warnings []string

	for key, def := range durationDefaults {
		var raw string
		switch val := v.Get(key).(type) {
		case string:
			raw = strings.TrimSpace(val)
		case int, int64, float64:
			raw = fmt.Sprint(val)
		default:
			continue
		}
		if _, err := time.ParseDuration(raw); err == nil {
			continue
		}
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs >= 0 {
			v.Set(key, time.Duration(secs*float64(time.Second)).String())
			continue
		}
		warnings = append(warnings, fmt.Sprintf("%s: invalid duration %q, using %s", key, raw, def))
		v.Set(key, def.String())
	}

	for _, key := range floatKeys {
		raw, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			continue
		}
		def, _ := floatDefault(key)
		warnings = append(warnings, fmt.Sprintf("%s: invalid number %q, using %v", key, raw, def))
		v.Set(key, def)
	}

	return warnings
}

func floatDefault(key string) (float64, bool) {
	def := evaluator.DefaultOptions()
	switch key {
	case "evaluator.min_spread":
		return def.MinSpread, true
	case "evaluator.min_pool_liquidity":
		return def.MinPoolLiquidity, true
	case "evaluator.swap_size_usd":
		return def.SwapSizeUSD, true
	case "evaluator.default_liquidity":
		return def.DefaultLiquidity, true
	case "evaluator.default_volume":
		return def.DefaultVolume, true
	}
	return 0, false
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
	if c.Scanner.Interval <= 0 {
		return fmt.Errorf("scanner.interval must be greater than zero")
	}
	if c.Evaluator.MinSpread < 0 {
		return fmt.Errorf("evaluator.min_spread cannot be negative")
	}
	for _, chain := range c.Scanner.Chains {
		switch strings.ToLower(strings.TrimSpace(chain)) {
		case "solana", "base":
		default:
			return fmt.Errorf("scanner.chains: unsupported chain %q", chain)
		}
	}
	switch strings.ToLower(c.Database.Driver) {
	case "":
	case "postgres", "postgresql", "pgx":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn 必须配置 (driver=%s)", c.Database.Driver)
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path 必须配置")
		}
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Redis.Enabled && c.Alerting.Redis.Addr == "" {
		return fmt.Errorf("alerting.redis.addr 必须配置")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// ResolveTopN returns either the CLI override or config default.
func (c *Config) ResolveTopN(override int) int {
	if override > 0 {
		return override
	}
	if c.Scanner.TopN > 0 {
		return c.Scanner.TopN
	}
	return 10
}
