package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Services   []ServiceConfig  `yaml:"services" mapstructure:"services" validate:"dive"`
	Harvest    HarvestConfig    `yaml:"harvest" mapstructure:"harvest"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Schedules  []ScheduleConfig `yaml:"schedules" mapstructure:"schedules" validate:"dive"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the harvest bookkeeping database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required"`
}

// ServiceConfig declares a target sensor service.
type ServiceConfig struct {
	ID          string `yaml:"id" mapstructure:"id" validate:"required"`
	Label       string `yaml:"label" mapstructure:"label"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required"`
	Schema      string `yaml:"schema" mapstructure:"schema" validate:"required"`
}

// HarvestConfig configures the harvest orchestrator.
type HarvestConfig struct {
	TempDir            string   `yaml:"temp_dir" mapstructure:"temp_dir" validate:"required"`
	DefaultServices    []string `yaml:"default_services" mapstructure:"default_services"`
	CheckCompatibility bool     `yaml:"check_compatibility" mapstructure:"check_compatibility"`
	// BreakerFailures is the number of consecutive import failures that
	// open a service's circuit.
	BreakerFailures    uint32 `yaml:"breaker_failures" mapstructure:"breaker_failures" validate:"min=1"`
	BreakerTimeoutSecs int    `yaml:"breaker_timeout_secs" mapstructure:"breaker_timeout_secs" validate:"min=1"`
	// ImportAttempts bounds tries of a service import on transient errors.
	ImportAttempts     int `yaml:"import_attempts" mapstructure:"import_attempts" validate:"min=1"`
	ImportBackoffMs    int `yaml:"import_backoff_ms" mapstructure:"import_backoff_ms" validate:"min=1"`
}

// FetchConfig configures remote downloads.
type FetchConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"min=1"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries" validate:"min=0"`
}

// EventsConfig configures harvest event publishing. No brokers disables it.
type EventsConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic" validate:"required_with=Brokers"`
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// MonitoringConfig configures harvest health alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold" validate:"min=0,max=1"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours" validate:"min=1"`
	CheckCron            string  `yaml:"check_cron" mapstructure:"check_cron"`
	// StaleRunHours flags runs still marked running after that long. 0 disables.
	StaleRunHours        int `yaml:"stale_run_hours" mapstructure:"stale_run_hours" validate:"min=0"`
}

// ScheduleConfig is a recurring harvest.
type ScheduleConfig struct {
	Name               string   `yaml:"name" mapstructure:"name" validate:"required"`
	Cron               string   `yaml:"cron" mapstructure:"cron" validate:"required"`
	Source             string   `yaml:"source" mapstructure:"source" validate:"required"`
	StoreKind          string   `yaml:"store_kind" mapstructure:"store_kind" validate:"oneof=csv xlsx file"`
	MappingFile        string   `yaml:"mapping_file" mapstructure:"mapping_file"`
	Services           []string `yaml:"services" mapstructure:"services"`
	RemovePrevious     bool     `yaml:"remove_previous" mapstructure:"remove_previous"`
	Remote             bool     `yaml:"remote" mapstructure:"remote"`
	CheckCompatibility bool     `yaml:"check_compatibility" mapstructure:"check_compatibility"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

var validate = validator.New()

// Load reads configuration from a .env file, an optional config.yaml in
// the working directory and the environment, then validates it.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file, which must exist. An empty
// path falls back to the optional config.yaml.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "harvest.db")
	v.SetDefault("harvest.temp_dir", os.TempDir()+"/sensor-harvest")
	v.SetDefault("harvest.check_compatibility", true)
	v.SetDefault("harvest.breaker_failures", 3)
	v.SetDefault("harvest.breaker_timeout_secs", 60)
	v.SetDefault("harvest.import_attempts", 3)
	v.SetDefault("harvest.import_backoff_ms", 500)
	v.SetDefault("fetch.user_agent", "sensor-harvest/1.0")
	v.SetDefault("fetch.timeout_secs", 120)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("events.topic", "sensor-harvest-events")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.stale_run_hours", 6)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field constraints and cross references between sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}

	ids := make(map[string]bool, len(c.Services))
	for _, s := range c.Services {
		if ids[s.ID] {
			return eris.Errorf("config: duplicate service id %q", s.ID)
		}
		ids[s.ID] = true
	}
	for _, id := range c.Harvest.DefaultServices {
		if !ids[id] {
			return eris.Errorf("config: harvest.default_services: unknown service %q", id)
		}
	}
	for _, s := range c.Schedules {
		for _, id := range s.Services {
			if !ids[id] {
				return eris.Errorf("config: schedule %s: unknown service %q", s.Name, id)
			}
		}
	}
	return nil
}

// Service returns the service configuration with the given id.
func (c *Config) Service(id string) (ServiceConfig, bool) {
	for _, s := range c.Services {
		if s.ID == id {
			return s, true
		}
	}
	return ServiceConfig{}, false
}

// LoadMapping reads a column mapping file: a flat YAML map of parameter
// names to values.
func LoadMapping(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read mapping %s", path)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "config: parse mapping %s", path)
	}
	params := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			params[k] = val
		case []any:
			// measure_columns may be written as a YAML list.
			parts := make([]string, len(val))
			for i, p := range val {
				parts[i] = scalar(p)
			}
			params[k] = strings.Join(parts, ",")
		case map[string]any:
			return nil, eris.Errorf("config: mapping %s: parameter %q must be a scalar or a list", path, k)
		default:
			params[k] = scalar(val)
		}
	}
	return params, nil
}

func scalar(v any) string {
	b, _ := yaml.Marshal(v)
	return strings.TrimSpace(string(b))
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
