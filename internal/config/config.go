package config

import (
	"errors"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity   PerplexityConfig   `yaml:"perplexity" mapstructure:"perplexity"`
	AlphaVantage AlphaVantageConfig `yaml:"alphavantage" mapstructure:"alphavantage"`
	Yahoo        YahooConfig        `yaml:"yahoo" mapstructure:"yahoo"`
	Reconcile    ReconcileConfig    `yaml:"reconcile" mapstructure:"reconcile"`
	Pipeline     PipelineConfig     `yaml:"pipeline" mapstructure:"pipeline"`
	Retry        RetryConfig        `yaml:"retry" mapstructure:"retry"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Notion       NotionConfig       `yaml:"notion" mapstructure:"notion"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects and configures the run/checkpoint/report store.
type StoreConfig struct {
	Driver          string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DatabaseURL     string `yaml:"database_url" mapstructure:"database_url" validate:"required_if=Driver postgres"`
	SQLitePath      string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	ReportRetention int    `yaml:"report_retention" mapstructure:"report_retention" validate:"gte=0"`
}

// AnthropicConfig configures the model used by the analyzer and synthesizer.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gt=0"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=0"`
}

// PerplexityConfig configures web research during collection.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AlphaVantageConfig configures the reference data source.
type AlphaVantageConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	BaseURL          string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	RateLimitPerMin  int    `yaml:"rate_limit_per_min" mapstructure:"rate_limit_per_min" validate:"gte=0"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=0"`
	BreakerThreshold int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldown  int    `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// YahooConfig configures the primary data source.
type YahooConfig struct {
	HistoryDays int `yaml:"history_days" mapstructure:"history_days" validate:"gte=30"`
}

// ReconcileConfig overrides the metric catalog and comparison tolerances.
type ReconcileConfig struct {
	CatalogPath string             `yaml:"catalog_path" mapstructure:"catalog_path"`
	Tolerances  map[string]float64 `yaml:"tolerances" mapstructure:"tolerances"`
}

// PipelineConfig configures the orchestrator.
type PipelineConfig struct {
	// ReviewTimeoutSecs of 0 keeps suspended runs waiting indefinitely.
	ReviewTimeoutSecs int `yaml:"review_timeout_secs" mapstructure:"review_timeout_secs" validate:"gte=0"`
	PhaseTimeoutSecs  int `yaml:"phase_timeout_secs" mapstructure:"phase_timeout_secs" validate:"gte=0"`
	BatchConcurrency  int `yaml:"batch_concurrency" mapstructure:"batch_concurrency" validate:"gte=1"`
	SweepIntervalSecs int `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
}

// RetryConfig configures backoff for provider calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	Jitter           float64 `yaml:"jitter" mapstructure:"jitter" validate:"gte=0,lte=1"`
}

// CacheConfig bounds the shared provider response cache.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries" validate:"gte=1"`
	TTLSecs    int `yaml:"ttl_secs" mapstructure:"ttl_secs" validate:"gte=1"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port" validate:"gte=1,lte=65535"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// NotionConfig enables report publishing when both fields are set.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	ReportDB string `yaml:"report_db" mapstructure:"report_db"`
}

// MonitoringConfig configures run health alerts.
type MonitoringConfig struct {
	Enabled            bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL         string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	AbortRateThreshold float64 `yaml:"abort_rate_threshold" mapstructure:"abort_rate_threshold" validate:"gte=0,lte=1"`
	StaleReviewHours   int     `yaml:"stale_review_hours" mapstructure:"stale_review_hours"`
	CheckIntervalSecs  int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackHours      int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// Load reads .env, config.yaml and EQR_* environment variables, in
// increasing precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("EQR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Secrets carry empty defaults so AutomaticEnv binds them on Unmarshal.
	for _, key := range []string{
		"store.database_url", "anthropic.key", "perplexity.key", "alphavantage.key",
		"notion.token", "notion.report_db", "monitoring.webhook_url", "reconcile.catalog_path",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "equity-research.db")
	v.SetDefault("store.report_retention", 3)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("alphavantage.base_url", "https://www.alphavantage.co")
	v.SetDefault("alphavantage.rate_limit_per_min", 5)
	v.SetDefault("alphavantage.timeout_secs", 30)
	v.SetDefault("alphavantage.breaker_threshold", 5)
	v.SetDefault("alphavantage.breaker_cooldown_secs", 60)
	v.SetDefault("yahoo.history_days", 400)
	v.SetDefault("reconcile.tolerances", map[string]float64{
		"current_price": 1.0,
		"market_cap":    5.0,
		"trailing_pe":   10.0,
	})
	v.SetDefault("pipeline.review_timeout_secs", 0)
	v.SetDefault("pipeline.phase_timeout_secs", 300)
	v.SetDefault("pipeline.batch_concurrency", 4)
	v.SetDefault("pipeline.sweep_interval_secs", 60)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 2000)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.25)
	v.SetDefault("cache.max_entries", 100)
	v.SetDefault("cache.ttl_secs", 3600)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.abort_rate_threshold", 0.3)
	v.SetDefault("monitoring.stale_review_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks field constraints, then the keys the given command needs.
// Modes: "run" (pipeline execution), "serve", "read" (store access only).
func (c *Config) Validate(mode string) error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+" ("+fe.Tag()+")")
			}
			return eris.Errorf("config: invalid fields: %s", strings.Join(fields, ", "))
		}
		return eris.Wrap(err, "config: validate")
	}

	var missing []string
	switch mode {
	case "run", "serve":
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key")
		}
	case "read":
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required keys for %s: %s", mode, strings.Join(missing, ", "))
	}
	return nil
}

// PublishesToNotion reports whether Notion report publishing is configured.
func (c *Config) PublishesToNotion() bool {
	return c.Notion.Token != "" && c.Notion.ReportDB != ""
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
