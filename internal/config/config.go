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
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Executor ExecutorConfig `yaml:"executor" mapstructure:"executor"`
	Budget   BudgetConfig   `yaml:"budget" mapstructure:"budget"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Catalog  CatalogConfig  `yaml:"catalog" mapstructure:"catalog"`
	Clearbit ClearbitConfig `yaml:"clearbit" mapstructure:"clearbit"`
	PDL      PDLConfig      `yaml:"pdl" mapstructure:"pdl"`
	Synth    SynthConfig    `yaml:"synth" mapstructure:"synth"`
	Temporal TemporalConfig `yaml:"temporal" mapstructure:"temporal"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// ExecutorConfig tunes the enrichment worker pool.
type ExecutorConfig struct {
	Concurrency     int `yaml:"concurrency" mapstructure:"concurrency"`
	UnitTimeoutSecs int `yaml:"unit_timeout_secs" mapstructure:"unit_timeout_secs"`
	StepTimeoutSecs int `yaml:"step_timeout_secs" mapstructure:"step_timeout_secs"`
	MaxAttempts     int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// BudgetConfig holds spend defaults. A request-level budget always wins;
// DefaultCents applies when a request carries none. Zero means unlimited.
type BudgetConfig struct {
	DefaultCents  int `yaml:"default_cents" mapstructure:"default_cents"`
	BaseCostCents int `yaml:"base_cost_cents" mapstructure:"base_cost_cents"`
}

// CacheConfig configures entity-level result caching.
type CacheConfig struct {
	TTLDays int `yaml:"ttl_days" mapstructure:"ttl_days"`
}

// CatalogConfig points at the provider tuning file.
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ClearbitConfig holds the company data provider settings.
type ClearbitConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PDLConfig holds the People Data Labs provider settings.
type PDLConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SynthConfig holds the LLM synthesis provider settings.
type SynthConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// TemporalConfig configures the workflow scheduler connection.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
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
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "enrich.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("executor.concurrency", 20)
	v.SetDefault("executor.unit_timeout_secs", 120)
	v.SetDefault("executor.step_timeout_secs", 30)
	v.SetDefault("executor.max_attempts", 3)
	v.SetDefault("budget.default_cents", 0)
	v.SetDefault("budget.base_cost_cents", 1)
	v.SetDefault("cache.ttl_days", 30)
	v.SetDefault("catalog.path", "catalog.yaml")
	v.SetDefault("clearbit.base_url", "https://company.clearbit.com")
	v.SetDefault("pdl.base_url", "https://api.peopledatalabs.com/v5")
	v.SetDefault("synth.model", "claude-haiku-4-5-20251001")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "enrich-jobs")
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
