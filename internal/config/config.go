// Package config loads the heatmap loader configuration from defaults, an
// optional config.yaml, an optional .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/auth"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/batch"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/client"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/logging"
	"github.com/robfig/cron"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Sink types accepted in sink.type.
const (
	SinkStdout   = "stdout"
	SinkRedis    = "redis"
	SinkPostgres = "postgres"
	SinkNone     = "none"
)

// Config holds the full application configuration.
type Config struct {
	Swisscom SwisscomConfig `yaml:"swisscom" mapstructure:"swisscom"`
	Region   RegionConfig   `yaml:"region" mapstructure:"region"`
	Density  DensityConfig  `yaml:"density" mapstructure:"density"`
	HTTP     HTTPConfig     `yaml:"http" mapstructure:"http"`
	Sink     SinkConfig     `yaml:"sink" mapstructure:"sink"`
	Schedule ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Timezone string         `yaml:"timezone" mapstructure:"timezone"`
}

// SwisscomConfig holds API credentials and endpoints.
type SwisscomConfig struct {
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	TokenURL     string `yaml:"token_url" mapstructure:"token_url"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	APIVersion   string `yaml:"api_version" mapstructure:"api_version"`
}

// RegionConfig selects the grid whose tiles are loaded.
type RegionConfig struct {
	Kind string `yaml:"kind" mapstructure:"kind"`
	ID   string `yaml:"id" mapstructure:"id"`
}

// DensityConfig configures chunked density fetching.
type DensityConfig struct {
	ChunkSize      int           `yaml:"chunk_size" mapstructure:"chunk_size"`
	MaxConcurrency int           `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// HTTPConfig configures the API client.
type HTTPConfig struct {
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	UserAgent         string        `yaml:"user_agent" mapstructure:"user_agent"`
}

// SinkConfig selects and configures the output sink.
type SinkConfig struct {
	Type     string         `yaml:"type" mapstructure:"type"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// RedisConfig configures the Redis sink.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

// PostgresConfig configures the Postgres sink.
type PostgresConfig struct {
	DatabaseURL  string `yaml:"database_url" mapstructure:"database_url"`
	Table        string `yaml:"table" mapstructure:"table"`
	EnsureSchema bool   `yaml:"ensure_schema" mapstructure:"ensure_schema"`
}

// ScheduleConfig configures serve mode runs. Cron uses six fields,
// seconds first.
type ScheduleConfig struct {
	Cron       string `yaml:"cron" mapstructure:"cron"`
	RunOnStart bool   `yaml:"run_on_start" mapstructure:"run_on_start"`
}

// ServerConfig configures the serve mode HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads config.yaml from the working directory if present.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration with path as the config file. An empty path
// looks for an optional config.yaml in the working directory; an explicit
// path must exist.
func LoadFile(path string) (*Config, error) {
	// .env never overrides variables already set in the environment.
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
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
	v.SetEnvPrefix("HEATMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("swisscom.client_id", "HEATMAP_SWISSCOM_CLIENT_ID", "SWISSCOM_CLIENT_ID"); err != nil {
		return nil, fmt.Errorf("config: bind env: %w", err)
	}
	if err := v.BindEnv("swisscom.client_secret", "HEATMAP_SWISSCOM_CLIENT_SECRET", "SWISSCOM_CLIENT_SECRET"); err != nil {
		return nil, fmt.Errorf("config: bind env: %w", err)
	}

	// Defaults
	v.SetDefault("swisscom.token_url", auth.DefaultTokenURL)
	v.SetDefault("swisscom.base_url", client.DefaultBaseURL)
	v.SetDefault("swisscom.api_version", "2")
	v.SetDefault("region.kind", "postal-code-areas")
	v.SetDefault("region.id", "3097")
	v.SetDefault("density.chunk_size", batch.DefaultChunkSize)
	v.SetDefault("density.max_concurrency", 4)
	v.SetDefault("density.timeout", "15s")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.requests_per_second", 10)
	v.SetDefault("http.burst", 5)
	v.SetDefault("http.user_agent", "swisscom-heatmap-loader/1.0")
	v.SetDefault("sink.type", SinkStdout)
	v.SetDefault("sink.redis.addr", "localhost:6379")
	v.SetDefault("sink.redis.password", "")
	v.SetDefault("sink.redis.db", 0)
	v.SetDefault("sink.redis.prefix", "heatmap")
	v.SetDefault("sink.postgres.database_url", "")
	v.SetDefault("sink.postgres.table", "heatmap_densities")
	v.SetDefault("sink.postgres.ensure_schema", false)
	v.SetDefault("schedule.cron", "0 0 3 * * *")
	v.SetDefault("schedule.run_on_start", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("timezone", "Europe/Zurich")

	// Read config file (optional unless given explicitly)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings needed for a run. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Swisscom.ClientID == "" || c.Swisscom.ClientSecret == "" {
		errs = append(errs, fmt.Errorf("swisscom: %w (set SWISSCOM_CLIENT_ID and SWISSCOM_CLIENT_SECRET)", auth.ErrMissingClientCredentials))
	}
	if c.Swisscom.APIVersion == "" {
		add("swisscom.api_version is required")
	}
	if c.Region.Kind == "" || c.Region.ID == "" {
		add("region.kind and region.id are required")
	}
	if c.Density.ChunkSize < 1 {
		add("density.chunk_size must be >= 1 (got %d)", c.Density.ChunkSize)
	}
	if c.Density.MaxConcurrency < 1 {
		add("density.max_concurrency must be >= 1 (got %d)", c.Density.MaxConcurrency)
	}
	if c.Density.Timeout <= 0 {
		add("density.timeout must be > 0 (got %s)", c.Density.Timeout)
	}
	if c.HTTP.Timeout <= 0 {
		add("http.timeout must be > 0 (got %s)", c.HTTP.Timeout)
	}
	if c.HTTP.RequestsPerSecond < 0 {
		add("http.requests_per_second must be >= 0 (got %g)", c.HTTP.RequestsPerSecond)
	}

	switch c.Sink.Type {
	case SinkStdout, SinkNone:
	case SinkRedis:
		if c.Sink.Redis.Addr == "" {
			add("sink.redis.addr is required for the redis sink")
		}
	case SinkPostgres:
		if c.Sink.Postgres.DatabaseURL == "" {
			add("sink.postgres.database_url is required for the postgres sink")
		}
	default:
		add("sink.type %q is not one of stdout, redis, postgres, none", c.Sink.Type)
	}

	if _, err := cron.Parse(c.Schedule.Cron); err != nil {
		add("schedule.cron %q: %v", c.Schedule.Cron, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		add("timezone %q: %v", c.Timezone, err)
	}
	if err := logging.ValidateLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if _, err := logging.FormatPretty(c.Log.Format); err != nil {
		add("log.format: %v", err)
	}

	return errors.Join(errs...)
}

// Location returns the time zone that defines the run date.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// GridRegion returns the configured grid.
func (c *Config) GridRegion() client.Region {
	return client.Region{Kind: c.Region.Kind, ID: c.Region.ID}
}

// AuthConfig returns the token provider configuration.
func (c *Config) AuthConfig() auth.Config {
	return auth.Config{
		ClientID:     c.Swisscom.ClientID,
		ClientSecret: c.Swisscom.ClientSecret,
		TokenURL:     c.Swisscom.TokenURL,
		Timeout:      c.HTTP.Timeout,
	}
}

// ClientConfig returns the API client configuration.
func (c *Config) ClientConfig() client.Config {
	return client.Config{
		BaseURL:           c.Swisscom.BaseURL,
		Version:           c.Swisscom.APIVersion,
		UserAgent:         c.HTTP.UserAgent,
		Timeout:           c.HTTP.Timeout,
		RequestsPerSecond: c.HTTP.RequestsPerSecond,
		Burst:             c.HTTP.Burst,
	}
}

// BatchConfig returns the density fetcher configuration.
func (c *Config) BatchConfig() batch.Config {
	return batch.Config{
		ChunkSize:      c.Density.ChunkSize,
		MaxConcurrency: c.Density.MaxConcurrency,
		Timeout:        c.Density.Timeout,
	}
}

// LoggingConfig returns the logger configuration. Format errors are caught
// by Validate; an unknown format falls back to JSON here.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty, _ = logging.FormatPretty(c.Log.Format)
	cfg.Service = "heatmap-loader"
	return cfg
}
