package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Feed      FeedConfig
	Server    ServerConfig
	Logging   LoggingConfig
	Telemetry TelemetryConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string // "postgres" or "sqlite"
	URL    string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL       string
	Enabled   bool
	KeyPrefix string
	// OpTimeout bounds every single cache round trip.
	OpTimeout time.Duration
	// TimelineTTL expires the timeline index so a stale one is rebuilt.
	TimelineTTL time.Duration
}

// FeedConfig holds the feed engine tuning knobs
type FeedConfig struct {
	SnapshotTTL    time.Duration
	TimelineLimit  int
	PageSize       int
	AsyncBootstrap bool
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
	Host string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string
	Format       string // "json" or "text"
	ScalyrFormat bool   // Enable Scalyr-compatible JSON format
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled           bool
	JaegerURL         string
	PrometheusEnabled bool
	ServiceName       string
}

const envPrefix = "ROARY"

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	setDefaults()

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.roary")
	viper.AddConfigPath("/etc/roary")

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found; this is OK if we have env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	redisURL := redisURLFrom(
		getString("redis_url", ""),
		getString("redis_host", ""),
		getInt("redis_port", 6379),
	)

	cfg := &Config{
		Database: DatabaseConfig{
			Driver: strings.ToLower(getString("database_driver", "sqlite")),
			URL:    getString("database_url", "file:roary.db?_foreign_keys=on"),
		},
		Redis: RedisConfig{
			URL:         redisURL,
			Enabled:     redisURL != "",
			KeyPrefix:   getString("redis_key_prefix", "roary:"),
			OpTimeout:   GetDuration("redis_op_timeout", 250*time.Millisecond),
			TimelineTTL: GetDuration("redis_timeline_ttl", time.Hour),
		},
		Feed: FeedConfig{
			SnapshotTTL:    time.Duration(getInt("feed_snapshot_ttl", 3600)) * time.Second,
			TimelineLimit:  getInt("feed_timeline_limit", 500),
			PageSize:       getInt("feed_page_size", 10),
			AsyncBootstrap: getBool("feed_async_bootstrap", false),
		},
		Server: ServerConfig{
			Port: getInt("http_server_port", 8080),
			Host: getString("http_server_host", "0.0.0.0"),
		},
		Logging: LoggingConfig{
			Level:        getString("log_level", "INFO"),
			Format:       getString("log_format", "json"),
			ScalyrFormat: getBool("log_scalyr_format", true),
		},
		Telemetry: TelemetryConfig{
			Enabled:           getBool("telemetry_enabled", true),
			JaegerURL:         getString("jaeger_url", ""),
			PrometheusEnabled: getBool("prometheus_enabled", true),
			ServiceName:       getString("service_name", "roary-feed"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("database_driver", "sqlite")
	viper.SetDefault("database_url", "file:roary.db?_foreign_keys=on")
	viper.SetDefault("redis_port", 6379)
	viper.SetDefault("redis_key_prefix", "roary:")
	viper.SetDefault("feed_snapshot_ttl", 3600)
	viper.SetDefault("feed_timeline_limit", 500)
	viper.SetDefault("feed_page_size", 10)
	viper.SetDefault("http_server_port", 8080)
	viper.SetDefault("http_server_host", "0.0.0.0")
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("log_format", "json")
	viper.SetDefault("log_scalyr_format", true)
	viper.SetDefault("telemetry_enabled", true)
	viper.SetDefault("prometheus_enabled", true)
	viper.SetDefault("service_name", "roary-feed")
}

// redisURLFrom prefers an explicit URL and otherwise builds one from host and port.
func redisURLFrom(url, host string, port int) string {
	if url != "" {
		return url
	}
	if host == "" {
		return ""
	}
	return fmt.Sprintf("redis://%s:%d/0", host, port)
}

func getString(key, defaultValue string) string {
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	if val := os.Getenv(envKey(key)); val != "" {
		return val
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	if val := os.Getenv(envKey(key)); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	if val := os.Getenv(envKey(key)); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultValue
}

// envKey maps a config key to its environment variable, e.g. redis_url -> ROARY_REDIS_URL.
func envKey(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database_driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.Feed.SnapshotTTL <= 0 {
		return fmt.Errorf("feed_snapshot_ttl must be positive")
	}
	if c.Feed.TimelineLimit <= 0 || c.Feed.TimelineLimit > 100000 {
		return fmt.Errorf("feed_timeline_limit must be between 1 and 100000")
	}
	if c.Feed.PageSize <= 0 || c.Feed.PageSize > 100 {
		return fmt.Errorf("feed_page_size must be between 1 and 100")
	}
	if c.Redis.Enabled && c.Redis.OpTimeout <= 0 {
		return fmt.Errorf("redis_op_timeout must be positive")
	}
	return nil
}

// GetDuration returns a duration from config key, with default
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	if viper.IsSet(key) {
		return viper.GetDuration(key)
	}
	if val := os.Getenv(envKey(key)); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultValue
}
