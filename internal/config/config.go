package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"gold-price-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	History   HistoryConfig   `mapstructure:"history"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	ProductID   string `mapstructure:"product_id"`
}

// SchedulerConfig governs polling cadence of the long-running mode.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunImmediately  bool          `mapstructure:"run_immediately"`
}

// HistoryConfig selects where the rolling window lives.
type HistoryConfig struct {
	Backend    string `mapstructure:"backend"`
	Capacity   int    `mapstructure:"capacity"`
	FilePath   string `mapstructure:"file_path"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SourcesConfig lists the price sources in priority order and their settings.
type SourcesConfig struct {
	Order          []string        `mapstructure:"order"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	UserAgent      string          `mapstructure:"user_agent"`
	GoldAPI        GoldAPIConfig   `mapstructure:"goldapi"`
	MetalsDev      MetalsDevConfig `mapstructure:"metalsdev"`
	Chainlink      ChainlinkConfig `mapstructure:"chainlink"`
	Manual         ManualConfig    `mapstructure:"manual"`
	FX             FXConfig        `mapstructure:"fx"`
}

// GoldAPIConfig covers the gold-api.com spot endpoint (USD per troy ounce).
type GoldAPIConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// MetalsDevConfig covers metals.dev (already CNY per gram).
type MetalsDevConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// ChainlinkConfig covers the on-chain XAU/USD aggregator.
type ChainlinkConfig struct {
	RPCURL      string `mapstructure:"rpc_url"`
	FeedAddress string `mapstructure:"feed_address"`
}

// ManualConfig 手动指定价格，主要用于测试。
type ManualConfig struct {
	Price string `mapstructure:"price"`
}

// FXConfig covers the USD→CNY conversion used by USD-quoted sources.
type FXConfig struct {
	BaseURL      string  `mapstructure:"base_url"`
	FallbackRate float64 `mapstructure:"fallback_rate"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	ThresholdPct   float64        `mapstructure:"threshold_pct"`
	VolatilityPct  float64        `mapstructure:"volatility_pct"`
	TestMode       bool           `mapstructure:"test_mode"`
	AuditRetention time.Duration  `mapstructure:"audit_retention"`
	Email          EmailConfig    `mapstructure:"email"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

// EmailConfig 描述 SMTP 邮件告警参数。
type EmailConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Provider   string   `mapstructure:"provider"`
	SMTPHost   string   `mapstructure:"smtp_host"`
	SMTPPort   int      `mapstructure:"smtp_port"`
	Address    string   `mapstructure:"address"`
	Password   string   `mapstructure:"password"`
	Recipients []string `mapstructure:"recipients"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig sets where Prometheus metrics go.
type MetricsConfig struct {
	ListenAddr     string `mapstructure:"listen_addr"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Keys accepted by older .env based deployments, still honoured as env aliases.
var legacyEnv = map[string]string{
	"alerting.threshold_pct":    "DROP_THRESHOLD_PERCENT",
	"alerting.email.enabled":    "ENABLE_EMAIL_NOTIFICATION",
	"alerting.test_mode":        "TEST_MODE",
	"alerting.email.provider":   "EMAIL_TYPE",
	"alerting.email.address":    "EMAIL_ADDRESS",
	"alerting.email.password":   "APP_PASSWORD",
	"alerting.email.recipients": "RECIPIENT_EMAILS",
	"sources.manual.price":      "MANUAL_GOLD_PRICE",
	"sources.metalsdev.api_key": "METALS_DEV_API_KEY",
	"history.sqlite_path":       "DATABASE_PATH",
	"logging.level":             "LOG_LEVEL",
	"logging.file":              "LOG_FILE",
}

const envPrefix = "GOLDWATCH"

// Load builds configuration from .env, defaults, file and environment.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}
	defaultLegacyEmail(v)

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

	cfg.Sources.Order = normaliseList(cfg.Sources.Order)
	cfg.Alerting.Email.Recipients = normaliseList(cfg.Alerting.Email.Recipients)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv reads ./.env when present. Existing environment variables win.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		primary := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, primary, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// defaultLegacyEmail 兼容旧 .env：未设置 ENABLE_EMAIL_NOTIFICATION 但邮箱凭据齐全时默认开启邮件。
// 显式的开关（env 或配置文件）仍然优先。
func defaultLegacyEmail(v *viper.Viper) {
	for _, key := range []string{"EMAIL_ADDRESS", "APP_PASSWORD", "RECIPIENT_EMAILS"} {
		if strings.TrimSpace(os.Getenv(key)) == "" {
			return
		}
	}
	v.SetDefault("alerting.email.enabled", true)
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
	v.SetDefault("app.name", "goldwatch")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.product_id", "AU9999")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	v.SetDefault("scheduler.interval", "30m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x676f6c64))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_immediately", true)

	v.SetDefault("history.backend", "file")
	v.SetDefault("history.capacity", 48)
	v.SetDefault("history.file_path", "price_history.json")
	v.SetDefault("history.sqlite_path", "data/goldwatch.db")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("sources.order", []string{"goldapi", "metalsdev", "manual"})
	v.SetDefault("sources.request_timeout", "15s")
	v.SetDefault("sources.user_agent", "goldwatch/1.0")
	v.SetDefault("sources.goldapi.base_url", "https://api.gold-api.com")
	v.SetDefault("sources.metalsdev.base_url", "https://api.metals.dev/v1")
	v.SetDefault("sources.metalsdev.api_key", "demo")
	v.SetDefault("sources.chainlink.rpc_url", "")
	v.SetDefault("sources.chainlink.feed_address", "0x214eD9Da11D2fbe465a6fc601a91E62EbEc1a0D6")
	v.SetDefault("sources.manual.price", "")
	v.SetDefault("sources.fx.base_url", "https://api.exchangerate-api.com/v4")
	v.SetDefault("sources.fx.fallback_rate", 7.1)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.threshold_pct", 5.0)
	v.SetDefault("alerting.volatility_pct", 2.0)
	v.SetDefault("alerting.test_mode", false)
	v.SetDefault("alerting.audit_retention", "720h")
	v.SetDefault("alerting.email.enabled", false)
	v.SetDefault("alerting.email.provider", "qq")
	v.SetDefault("alerting.email.smtp_host", "")
	v.SetDefault("alerting.email.smtp_port", 587)
	v.SetDefault("alerting.email.address", "")
	v.SetDefault("alerting.email.password", "")
	v.SetDefault("alerting.email.recipients", []string{})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "goldwatch")

	v.SetDefault("export.max_data_points", 1000)
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

func normaliseList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

var (
	knownBackends = map[string]bool{"file": true, "sqlite": true, "postgres": true}
	knownSources  = map[string]bool{"goldapi": true, "metalsdev": true, "chainlink": true, "manual": true}
)

// Validate performs basic sanity checks on the configuration values.
// A negative alerting.threshold_pct is accepted; the alert engine normalises it.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.App.ProductID) == "" {
		return fmt.Errorf("app.product_id must be set")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.History.Capacity <= 0 {
		return fmt.Errorf("history.capacity must be greater than zero")
	}
	if !knownBackends[c.History.Backend] {
		return fmt.Errorf("history.backend %q is not one of file, sqlite, postgres", c.History.Backend)
	}
	if c.History.Backend == "file" && c.History.FilePath == "" {
		return fmt.Errorf("history.file_path must be set for the file backend")
	}
	if c.History.Backend == "sqlite" && c.History.SQLitePath == "" {
		return fmt.Errorf("history.sqlite_path must be set for the sqlite backend")
	}
	if c.History.Backend == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be set for the postgres backend")
	}
	if len(c.Sources.Order) == 0 {
		return fmt.Errorf("sources.order must list at least one source")
	}
	for _, name := range c.Sources.Order {
		if !knownSources[name] {
			return fmt.Errorf("sources.order: unknown source %q", name)
		}
	}
	if c.Sources.FX.FallbackRate <= 0 {
		return fmt.Errorf("sources.fx.fallback_rate must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Email.Enabled {
		if c.Alerting.Email.Address == "" {
			return fmt.Errorf("alerting.email.address 必须配置")
		}
		if c.Alerting.Email.Password == "" {
			return fmt.Errorf("alerting.email.password 必须配置")
		}
		if len(c.Alerting.Email.Recipients) == 0 {
			return fmt.Errorf("alerting.email.recipients 必须配置")
		}
		if c.Alerting.Email.SMTPHost == "" {
			switch strings.ToLower(c.Alerting.Email.Provider) {
			case "qq", "163":
			default:
				return fmt.Errorf("alerting.email.provider must be qq or 163 when smtp_host is empty, got %q", c.Alerting.Email.Provider)
			}
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
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

// Channels names the notification channels that are switched on.
func (c *Config) Channels() []string {
	var channels []string
	if c.Alerting.Email.Enabled {
		channels = append(channels, "email")
	}
	if c.Alerting.Telegram.Enabled {
		channels = append(channels, "telegram")
	}
	return channels
}
