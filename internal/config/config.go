package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Apify      ApifyConfig      `yaml:"apify" mapstructure:"apify"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" mapstructure:"telemetry"`
}

// StoreConfig configures the state store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ApifyConfig configures the LinkedIn profile scraper.
type ApifyConfig struct {
	Token            string  `yaml:"token" mapstructure:"token"`
	ActorID          string  `yaml:"actor_id" mapstructure:"actor_id"`
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	PollIntervalSecs int     `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	WaitTimeoutSecs  int     `yaml:"wait_timeout_secs" mapstructure:"wait_timeout_secs"`
	RequestsPerSec   float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// EnrichConfig configures selection, retries and lookup fan-out.
type EnrichConfig struct {
	BatchSize           int  `yaml:"batch_size" mapstructure:"batch_size"`
	RetryCeiling        int  `yaml:"retry_ceiling" mapstructure:"retry_ceiling"`
	BackoffUnitMins     int  `yaml:"backoff_unit_mins" mapstructure:"backoff_unit_mins"`
	ChunkSize           int  `yaml:"chunk_size" mapstructure:"chunk_size"`
	LookupConcurrency   int  `yaml:"lookup_concurrency" mapstructure:"lookup_concurrency"`
	LookupTimeoutSecs   int  `yaml:"lookup_timeout_secs" mapstructure:"lookup_timeout_secs"`
	OutageConsumesRetry bool `yaml:"outage_consumes_retry" mapstructure:"outage_consumes_retry"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MonitoringConfig configures post-run alerting.
type MonitoringConfig struct {
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	ExhaustedRateThreshold float64 `yaml:"exhausted_rate_threshold" mapstructure:"exhausted_rate_threshold"`
	MinRows                int     `yaml:"min_rows" mapstructure:"min_rows"`
}

// TelemetryConfig configures OTLP metric export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure    bool   `yaml:"insecure" mapstructure:"insecure"`
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
}

// Mode names what a command needs from the configuration.
type Mode string

const (
	// ModeStore needs only a reachable store.
	ModeStore Mode = "store"
	// ModeEnrich needs a store and Apify credentials.
	ModeEnrich Mode = "enrich"
)

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "enrich.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("apify.token", "")
	v.SetDefault("apify.actor_id", "2SyF0bVxmgGr8IVCZ")
	v.SetDefault("apify.base_url", "https://api.apify.com")
	v.SetDefault("apify.poll_interval_secs", 2)
	v.SetDefault("apify.wait_timeout_secs", 600)
	v.SetDefault("apify.requests_per_sec", 10)
	v.SetDefault("enrich.batch_size", 5)
	v.SetDefault("enrich.retry_ceiling", 3)
	v.SetDefault("enrich.backoff_unit_mins", 5)
	v.SetDefault("enrich.chunk_size", 25)
	v.SetDefault("enrich.lookup_concurrency", 2)
	v.SetDefault("enrich.lookup_timeout_secs", 600)
	v.SetDefault("enrich.outage_consumes_retry", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.exhausted_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_rows", 20)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.service_name", "profile-enrich")

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

// Validate checks that the keys mode depends on are set and sane. Every
// problem found is reported in one error.
func (c *Config) Validate(mode Mode) error {
	var errs []string

	switch mode {
	case ModeStore, ModeEnrich:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}

	if mode == ModeEnrich {
		if c.Apify.Token == "" {
			errs = append(errs, "apify.token is required")
		}
		if c.Apify.ActorID == "" {
			errs = append(errs, "apify.actor_id is required")
		}
		if c.Enrich.RetryCeiling < 1 {
			errs = append(errs, "enrich.retry_ceiling must be >= 1")
		}
		if c.Enrich.BackoffUnitMins < 1 {
			errs = append(errs, "enrich.backoff_unit_mins must be >= 1")
		}
		if c.Enrich.ChunkSize < 1 || c.Enrich.ChunkSize > 1000 {
			errs = append(errs, "enrich.chunk_size must be between 1 and 1000")
		}
	}

	if t := c.Monitoring.ExhaustedRateThreshold; t < 0 || t > 1 {
		errs = append(errs, "monitoring.exhausted_rate_threshold must be between 0 and 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
