package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Google    GoogleConfig    `yaml:"google" mapstructure:"google"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	SMTP      SMTPConfig      `yaml:"smtp" mapstructure:"smtp"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Cadence   CadenceConfig   `yaml:"cadence" mapstructure:"cadence"`
	Compose   ComposeConfig   `yaml:"compose" mapstructure:"compose"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// GoogleConfig holds Google Places API settings.
type GoogleConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	MaxPages       int     `yaml:"max_pages" mapstructure:"max_pages"`
	RateLimit      float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RetryAttempts  int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs int     `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// AnthropicConfig holds Anthropic API settings for personalization.
type AnthropicConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	Model            string `yaml:"model" mapstructure:"model"`
	MaxTokens        int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BreakerThreshold int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int    `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// Timeout returns the per-request timeout.
func (c AnthropicConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// SMTPConfig holds outgoing mail settings.
type SMTPConfig struct {
	Host        string `yaml:"host" mapstructure:"host"`
	Port        int    `yaml:"port" mapstructure:"port"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	FromEmail   string `yaml:"from_email" mapstructure:"from_email"`
	FromName    string `yaml:"from_name" mapstructure:"from_name"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the per-send timeout.
func (c SMTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// EnrichConfig configures website scraping during enrichment.
type EnrichConfig struct {
	FetchTimeoutSecs int     `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// FetchTimeout returns the per-site fetch timeout.
func (c EnrichConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSecs) * time.Second
}

// CadenceConfig configures the follow-up schedule.
type CadenceConfig struct {
	FollowUpIntervalDays int `yaml:"follow_up_interval_days" mapstructure:"follow_up_interval_days"`
	CloseAfterDays       int `yaml:"close_after_days" mapstructure:"close_after_days"`
	MaxFollowUps         int `yaml:"max_follow_ups" mapstructure:"max_follow_ups"`
}

// ComposeConfig configures email composition.
type ComposeConfig struct {
	TemplatesPath string `yaml:"templates_path" mapstructure:"templates_path"`
	SenderName    string `yaml:"sender_name" mapstructure:"sender_name"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml, and OUTREACH_*
// environment variables. Environment wins over the file, which wins over
// defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

// setDefaults registers every key, including empty secrets, so
// AutomaticEnv can resolve them during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leads.db")
	v.SetDefault("google.key", "")
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.max_pages", 3)
	v.SetDefault("google.rate_limit", 5.0)
	v.SetDefault("google.retry_attempts", 3)
	v.SetDefault("google.retry_backoff_ms", 500)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 120)
	v.SetDefault("anthropic.timeout_secs", 15)
	v.SetDefault("anthropic.breaker_threshold", 5)
	v.SetDefault("anthropic.breaker_reset_secs", 60)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from_email", "")
	v.SetDefault("smtp.from_name", "Lead Generation")
	v.SetDefault("smtp.timeout_secs", 30)
	v.SetDefault("enrich.fetch_timeout_secs", 10)
	v.SetDefault("enrich.concurrency", 4)
	v.SetDefault("enrich.user_agent", "Mozilla/5.0 (compatible; OutreachBot/1.0)")
	v.SetDefault("enrich.rate_limit", 0.0)
	v.SetDefault("cadence.follow_up_interval_days", 3)
	v.SetDefault("cadence.close_after_days", 7)
	v.SetDefault("cadence.max_follow_ups", 3)
	v.SetDefault("compose.templates_path", "")
	v.SetDefault("compose.sender_name", "Lead Generation")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Scope names the command a configuration is validated for.
type Scope string

const (
	ScopeIngest   Scope = "ingest"
	ScopeEnrich   Scope = "enrich"
	ScopeOutreach Scope = "outreach"
	ScopeSweep    Scope = "sweep"
	ScopeServe    Scope = "serve"
	ScopeMigrate  Scope = "migrate"
)

// Validate checks the keys scope needs. All missing keys are reported
// together. A missing Anthropic key is not an error: openings fall back to
// the template.
func (c *Config) Validate(scope Scope) error {
	var missing []string
	need := func(ok bool, key string) {
		if !ok {
			missing = append(missing, key)
		}
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unsupported store.driver %q (want sqlite or postgres)", c.Store.Driver)
	}
	need(c.Store.DatabaseURL != "", "store.database_url")

	switch scope {
	case ScopeIngest:
		need(c.Google.Key != "", "google.key")
	case ScopeOutreach, ScopeSweep:
		need(c.SMTP.Host != "", "smtp.host")
		need(c.SMTP.Username != "", "smtp.username")
		need(c.SMTP.Password != "", "smtp.password")
		need(c.SMTP.FromEmail != "", "smtp.from_email")
	case ScopeServe:
		need(c.Server.Port > 0, "server.port")
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required keys for %s: %s", scope, strings.Join(missing, ", "))
	}
	return nil
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
