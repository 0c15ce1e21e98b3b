// Package config loads service configuration from a YAML file and
// METRICS_TABLES_* environment variables, with built-in defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Metric source backends.
const (
	SourcePrometheus    = "prometheus"
	SourceMetricsServer = "metrics-server"
	SourceMock          = "mock"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tables  TablesConfig  `mapstructure:"tables"`
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Port               int      `mapstructure:"port"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	RequestTimeoutSec  int      `mapstructure:"request_timeout_sec"`
	ShutdownTimeoutSec int      `mapstructure:"shutdown_timeout_sec"`
}

type MetricsConfig struct {
	Source         string `mapstructure:"source"` // prometheus | metrics-server | mock
	PrometheusURL  string `mapstructure:"prometheus_url"`
	KubeconfigPath string `mapstructure:"kubeconfig_path"` // metrics-server source outside the cluster
	CacheTTLSec    int    `mapstructure:"cache_ttl_sec"`   // 0 disables the query cache
	TimeoutSec     int    `mapstructure:"timeout_sec"`
}

type TablesConfig struct {
	DefaultPageSize    int `mapstructure:"default_page_size"`
	MaxPageSize        int `mapstructure:"max_page_size"`
	DefaultIntervalSec int `mapstructure:"default_interval_sec"`
	DefaultWindowSec   int `mapstructure:"default_window_sec"` // window when a request names no timerange
	SeriesLimit        int `mapstructure:"series_limit"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // json | console
}

// Load reads configuration from path if given, otherwise from config.yaml
// in the usual locations. A missing file is not an error; defaults and
// environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/metrics-tables/")
		v.AddConfigPath("$HOME/.metrics-tables")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("METRICS_TABLES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout_sec", 30)
	v.SetDefault("server.shutdown_timeout_sec", 15)

	v.SetDefault("metrics.source", SourcePrometheus)
	v.SetDefault("metrics.prometheus_url", "http://localhost:9090")
	v.SetDefault("metrics.kubeconfig_path", "")
	v.SetDefault("metrics.cache_ttl_sec", 15)
	v.SetDefault("metrics.timeout_sec", 30)

	v.SetDefault("tables.default_page_size", 10)
	v.SetDefault("tables.max_page_size", 100)
	v.SetDefault("tables.default_interval_sec", 60)
	v.SetDefault("tables.default_window_sec", 3600)
	v.SetDefault("tables.series_limit", 2000)

	v.SetDefault("store.path", "./metrics-tables.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	switch c.Metrics.Source {
	case SourcePrometheus:
		if c.Metrics.PrometheusURL == "" {
			return fmt.Errorf("metrics.prometheus_url is required for the prometheus source")
		}
	case SourceMetricsServer, SourceMock:
	default:
		return fmt.Errorf("unknown metrics.source %q", c.Metrics.Source)
	}
	if c.Metrics.CacheTTLSec < 0 {
		return fmt.Errorf("metrics.cache_ttl_sec must not be negative")
	}
	if c.Tables.DefaultPageSize < 1 {
		return fmt.Errorf("tables.default_page_size must be positive")
	}
	if c.Tables.MaxPageSize < c.Tables.DefaultPageSize {
		return fmt.Errorf("tables.max_page_size must be at least tables.default_page_size")
	}
	if c.Tables.DefaultIntervalSec < 1 {
		return fmt.Errorf("tables.default_interval_sec must be positive")
	}
	if c.Tables.DefaultWindowSec < 1 {
		return fmt.Errorf("tables.default_window_sec must be positive")
	}
	if c.Tables.SeriesLimit < 1 {
		return fmt.Errorf("tables.series_limit must be positive")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	return nil
}
