package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/dialer-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Scratch  ScratchConfig  `yaml:"scratch" mapstructure:"scratch"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	AIRudder AIRudderConfig `yaml:"airudder" mapstructure:"airudder"`
	Dialer   DialerConfig   `yaml:"dialer" mapstructure:"dialer"`
	Slack    SlackConfig    `yaml:"slack" mapstructure:"slack"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Temporal TemporalConfig `yaml:"temporal" mapstructure:"temporal"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Circuit  CircuitConfig  `yaml:"circuit" mapstructure:"circuit"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres database.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ScratchConfig selects the scratch key-value backend for batch ids.
type ScratchConfig struct {
	Driver     string `yaml:"driver" mapstructure:"driver"` // "redis" or "sqlite"
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL       string `yaml:"url" mapstructure:"url"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// AIRudderConfig holds AI Rudder PDS API settings.
type AIRudderConfig struct {
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	AppKey        string  `yaml:"app_key" mapstructure:"app_key"`
	AppSecret     string  `yaml:"app_secret" mapstructure:"app_secret"`
	CallbackURL   string  `yaml:"callback_url" mapstructure:"callback_url"`
	CallbackToken string  `yaml:"callback_token" mapstructure:"callback_token"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec    float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	PageSize      int     `yaml:"page_size" mapstructure:"page_size"`
}

// DialerConfig configures the batching pipeline. Every value here can be
// overridden at runtime by the feature setting named FeatureName.
type DialerConfig struct {
	FeatureName       string       `yaml:"feature_name" mapstructure:"feature_name"`
	Timezone          string       `yaml:"timezone" mapstructure:"timezone"`
	PopulateCron      string       `yaml:"populate_cron" mapstructure:"populate_cron"`
	SendCron          string       `yaml:"send_cron" mapstructure:"send_cron"`
	SweepCron         string       `yaml:"sweep_cron" mapstructure:"sweep_cron"`
	TriggerCron       string       `yaml:"trigger_cron" mapstructure:"trigger_cron"`
	RetryCron         string       `yaml:"retry_cron" mapstructure:"retry_cron"`
	CleanupCron       string       `yaml:"cleanup_cron" mapstructure:"cleanup_cron"`
	BatchSize         int          `yaml:"batch_size" mapstructure:"batch_size"`
	SendBatchSize     int          `yaml:"send_batch_size" mapstructure:"send_batch_size"`
	ScratchTTLHours   int          `yaml:"scratch_ttl_hours" mapstructure:"scratch_ttl_hours"`
	ConstructWorkers  int          `yaml:"construct_workers" mapstructure:"construct_workers"`
	ConstructWaitMins int          `yaml:"construct_wait_mins" mapstructure:"construct_wait_mins"`
	ConstructPolls    int          `yaml:"construct_polls" mapstructure:"construct_polls"`
	CallWindowHours   int          `yaml:"call_window_hours" mapstructure:"call_window_hours"`
	SweepWindowMins   int          `yaml:"sweep_window_mins" mapstructure:"sweep_window_mins"`
	RetentionDays     int          `yaml:"retention_days" mapstructure:"retention_days"`
	DeadLetterRetries int          `yaml:"dead_letter_retries" mapstructure:"dead_letter_retries"`
	Ranks             []model.Rank `yaml:"ranks" mapstructure:"ranks"`
}

// Location resolves the configured timezone, defaulting to Asia/Jakarta.
func (d DialerConfig) Location() (*time.Location, error) {
	tz := d.Timezone
	if tz == "" {
		tz = "Asia/Jakarta"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %s", tz)
	}
	return loc, nil
}

// ScratchTTL returns the scratch key TTL.
func (d DialerConfig) ScratchTTL() time.Duration {
	return time.Duration(d.ScratchTTLHours) * time.Hour
}

// RankList returns the configured ranks, or the defaults if none are set.
func (d DialerConfig) RankList() []model.Rank {
	if len(d.Ranks) == 0 {
		return model.DefaultRanks()
	}
	return d.Ranks
}

// SlackConfig configures operations alerts.
type SlackConfig struct {
	WebhookURL          string `yaml:"webhook_url" mapstructure:"webhook_url"`
	Channel             string `yaml:"channel" mapstructure:"channel"`
	DeadLetterThreshold int    `yaml:"dead_letter_threshold" mapstructure:"dead_letter_threshold"`
	CheckIntervalSecs   int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// ServerConfig configures the callback / ops HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
	// APIToken is the bearer token for /api. Empty leaves /api unmounted.
	APIToken    string   `yaml:"api_token" mapstructure:"api_token"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// TemporalConfig configures the optional Temporal orchestration backend.
// When HostPort is empty jobs run in-process.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// RetryConfig controls retries of vendor calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig controls the vendor circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DIALER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("scratch.driver", "redis")
	v.SetDefault("scratch.sqlite_path", "dialer-scratch.db")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.key_prefix", "dialer")
	v.SetDefault("airudder.base_url", "https://sg-pds-api.airudder.com")
	v.SetDefault("airudder.timeout_secs", 30)
	v.SetDefault("airudder.rate_per_sec", 5.0)
	v.SetDefault("airudder.page_size", 100)
	v.SetDefault("dialer.feature_name", "grab_ai_rudder_call")
	v.SetDefault("dialer.timezone", "Asia/Jakarta")
	v.SetDefault("dialer.populate_cron", "0 5 * * *")
	v.SetDefault("dialer.send_cron", "0 7 * * *")
	v.SetDefault("dialer.sweep_cron", "5 * * * *")
	v.SetDefault("dialer.trigger_cron", "0 1 * * *")
	v.SetDefault("dialer.retry_cron", "*/15 * * * *")
	v.SetDefault("dialer.cleanup_cron", "30 23 * * *")
	v.SetDefault("dialer.batch_size", 5000)
	v.SetDefault("dialer.send_batch_size", 1000)
	v.SetDefault("dialer.scratch_ttl_hours", 6)
	v.SetDefault("dialer.construct_workers", 4)
	v.SetDefault("dialer.construct_wait_mins", 10)
	v.SetDefault("dialer.construct_polls", 6)
	v.SetDefault("dialer.call_window_hours", 12)
	v.SetDefault("dialer.sweep_window_mins", 10)
	v.SetDefault("dialer.retention_days", 7)
	v.SetDefault("dialer.dead_letter_retries", 3)
	v.SetDefault("slack.dead_letter_threshold", 10)
	v.SetDefault("slack.check_interval_secs", 300)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_token", "")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "collections-dialer")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 2000)
	v.SetDefault("retry.max_backoff_ms", 60000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	c.AIRudder.AppSecret = mask(c.AIRudder.AppSecret)
	c.AIRudder.CallbackToken = mask(c.AIRudder.CallbackToken)
	c.Server.APIToken = mask(c.Server.APIToken)
	c.Slack.WebhookURL = mask(c.Slack.WebhookURL)
	c.Store.DatabaseURL = mask(c.Store.DatabaseURL)
	c.Redis.URL = mask(c.Redis.URL)
	return c
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
