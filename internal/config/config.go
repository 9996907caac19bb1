// Package config provides configuration management for localsync.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/devrev/pairdb/localsync/internal/schema"
	"github.com/spf13/viper"
)

// Config holds all configuration for localsync.
type Config struct {
	Server       ServerConfig         `mapstructure:"server"`
	Transport    TransportConfig      `mapstructure:"transport"`
	Socket       SocketConfig         `mapstructure:"socket"`
	Store        StoreConfig          `mapstructure:"store"`
	RequestCache RequestCacheConfig   `mapstructure:"request_cache"`
	SchemaFile   string               `mapstructure:"schema_file"`
	Tables       []schema.TableSchema `mapstructure:"tables"`
	Metrics      MetricsConfig        `mapstructure:"metrics"`
	Logging      LoggingConfig        `mapstructure:"logging"`
}

// ServerConfig holds the health and debug HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// TransportConfig holds the REST API client configuration.
type TransportConfig struct {
	BaseURL           string            `mapstructure:"base_url"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second"`
	BurstSize         int               `mapstructure:"burst_size"`
	Headers           map[string]string `mapstructure:"headers"`
}

// SocketConfig holds the push stream configuration.
type SocketConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	URL               string        `mapstructure:"url"`
	ConsumerID        string        `mapstructure:"consumer_id"`
	Rooms             []string      `mapstructure:"rooms"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
}

// StoreConfig holds the local store configuration.
type StoreConfig struct {
	Driver      string        `mapstructure:"driver"` // memory or sqlite
	Path        string        `mapstructure:"path"`
	AttachDelay time.Duration `mapstructure:"attach_delay"`
}

// RequestCacheConfig holds the request cache configuration.
type RequestCacheConfig struct {
	Backend       string        `mapstructure:"backend"` // memory or redis
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("localsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/localsync/")
	}

	v.SetEnvPrefix("LOCALSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// a missing config file is fine, defaults and env apply
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.SchemaFile != "" {
		tables, err := schema.LoadFile(cfg.SchemaFile)
		if err != nil {
			return nil, err
		}
		cfg.Tables = append(cfg.Tables, tables...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.request_timeout", "30s")

	// Transport defaults
	v.SetDefault("transport.base_url", "http://localhost:8080")
	v.SetDefault("transport.timeout", "30s")
	v.SetDefault("transport.requests_per_second", 0.0)
	v.SetDefault("transport.burst_size", 10)

	// Socket defaults
	v.SetDefault("socket.enabled", false)
	v.SetDefault("socket.reconnect_interval", "5s")
	v.SetDefault("socket.handshake_timeout", "10s")

	// Store defaults
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "localsync.db")
	v.SetDefault("store.attach_delay", "0s")

	// Request cache defaults
	v.SetDefault("request_cache.backend", "memory")
	v.SetDefault("request_cache.redis_addr", "localhost:6379")
	v.SetDefault("request_cache.redis_db", 0)
	v.SetDefault("request_cache.key_prefix", "localsync:request:")
	v.SetDefault("request_cache.ttl", "0s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RequestTimeout < 0 {
		return fmt.Errorf("server request timeout must not be negative")
	}

	if c.Transport.BaseURL == "" {
		return fmt.Errorf("transport base url is required")
	}
	if c.Transport.Timeout <= 0 {
		return fmt.Errorf("transport timeout must be positive")
	}
	if c.Transport.RequestsPerSecond < 0 {
		return fmt.Errorf("transport requests per second must not be negative")
	}

	if c.Socket.Enabled && c.Socket.URL == "" {
		return fmt.Errorf("socket url is required when the socket is enabled")
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("invalid store driver: %s", c.Store.Driver)
	}
	if c.Store.AttachDelay < 0 {
		return fmt.Errorf("store attach delay must not be negative")
	}

	switch c.RequestCache.Backend {
	case "memory":
	case "redis":
		if c.RequestCache.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis request cache")
		}
	default:
		return fmt.Errorf("invalid request cache backend: %s", c.RequestCache.Backend)
	}

	if len(c.Tables) == 0 {
		return fmt.Errorf("at least one table is required")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	return nil
}
