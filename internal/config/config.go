package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"producer-risk/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Currency  CurrencyConfig  `mapstructure:"currency"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Funding   FundingConfig   `mapstructure:"funding"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
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
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	PartitionPrefix string        `mapstructure:"partition_prefix"`
}

// CacheConfig selects the document store and refresh sizing.
type CacheConfig struct {
	Backend          string        `mapstructure:"backend"`
	Dir              string        `mapstructure:"dir"`
	Redis            RedisConfig   `mapstructure:"redis"`
	RiskSnapshotDays int           `mapstructure:"risk_snapshot_days"`
	RefreshWorkers   int           `mapstructure:"refresh_workers"`
	ParamsTTL        time.Duration `mapstructure:"params_ttl"`
}

// RedisConfig covers the redis document store.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// CurrencyConfig names the reporting currency and static rate overrides.
type CurrencyConfig struct {
	Reporting     string             `mapstructure:"reporting"`
	RateOverrides map[string]float64 `mapstructure:"rate_overrides"`
}

// EngineConfig tunes the aggregation engines.
type EngineConfig struct {
	DefaultCollectionRate float64 `mapstructure:"default_collection_rate"`
	ProxyCollectionRate   float64 `mapstructure:"proxy_collection_rate"`
	MonthsAhead           int     `mapstructure:"months_ahead"`
}

// FundingConfig holds fallbacks for funding-structure thresholds.
type FundingConfig struct {
	LiquidationLine     float64 `mapstructure:"liquidation_line"`
	MarginCallLine      float64 `mapstructure:"margin_call_line"`
	Baseline            float64 `mapstructure:"baseline"`
	PriorityYieldTarget float64 `mapstructure:"priority_yield_target"`
	LeverageRatio       string  `mapstructure:"leverage_ratio"`
}

// SchedulerConfig governs the periodic full refresh.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RefreshOnStart  bool          `mapstructure:"refresh_on_start"`
}

// DirectoryConfig points at the external producer directory table.
type DirectoryConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	AppID          string        `mapstructure:"app_id"`
	AppSecret      string        `mapstructure:"app_secret"`
	AppToken       string        `mapstructure:"app_token"`
	WikiNode       string        `mapstructure:"wiki_node"`
	TableID        string        `mapstructure:"table_id"`
	PageSize       int           `mapstructure:"page_size"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines coverage alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("RISKCACHE")
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

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
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
	v.SetDefault("app.name", "producer-risk")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.query_timeout", "30s")
	v.SetDefault("database.partition_prefix", "calc_overdue")

	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.dir", "config/cache")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.key_prefix", "producer-risk")
	v.SetDefault("cache.risk_snapshot_days", 14)
	v.SetDefault("cache.refresh_workers", 4)
	v.SetDefault("cache.params_ttl", "10m")

	v.SetDefault("currency.reporting", "USD")

	v.SetDefault("engine.default_collection_rate", 0.98)
	v.SetDefault("engine.proxy_collection_rate", 0.98)
	v.SetDefault("engine.months_ahead", 12)

	v.SetDefault("funding.liquidation_line", 1.02)
	v.SetDefault("funding.margin_call_line", 1.15)
	v.SetDefault("funding.baseline", 1.43)
	v.SetDefault("funding.priority_yield_target", 0.15)
	v.SetDefault("funding.leverage_ratio", "5:1")

	v.SetDefault("scheduler.interval", "6h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x726b6361))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.refresh_on_start", true)

	v.SetDefault("directory.enabled", false)
	v.SetDefault("directory.base_url", "https://open.feishu.cn/open-apis")
	v.SetDefault("directory.page_size", 500)
	v.SetDefault("directory.request_timeout", "15s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
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
	switch c.Cache.Backend {
	case "file":
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache.dir is required for the file backend")
		}
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be file or redis, got %q", c.Cache.Backend)
	}
	if c.Cache.RiskSnapshotDays <= 0 {
		return fmt.Errorf("cache.risk_snapshot_days must be greater than zero")
	}
	if c.Cache.RefreshWorkers <= 0 {
		return fmt.Errorf("cache.refresh_workers must be greater than zero")
	}
	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("database.query_timeout must be greater than zero")
	}
	if c.Engine.DefaultCollectionRate < 0 || c.Engine.DefaultCollectionRate > 1 {
		return fmt.Errorf("engine.default_collection_rate must be within [0,1]")
	}
	if c.Engine.MonthsAhead <= 0 {
		return fmt.Errorf("engine.months_ahead must be greater than zero")
	}
	for id, rate := range c.Currency.RateOverrides {
		if rate <= 0 {
			return fmt.Errorf("currency.rate_overrides.%s must be greater than zero", id)
		}
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Directory.Enabled && (c.Directory.AppID == "" || c.Directory.AppSecret == "") {
		return fmt.Errorf("directory.app_id and directory.app_secret are required when directory is enabled")
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

// ResolveMonthsAhead returns either the caller override or the config default.
func (c *Config) ResolveMonthsAhead(override int) int {
	if override > 0 {
		return override
	}
	return c.Engine.MonthsAhead
}
