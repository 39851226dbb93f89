package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wingops/wingops/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds Postgres configuration
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds permission snapshot cache configuration
type CacheConfig struct {
	// Backend is "memory" or "redis"
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl"`
	MaxEntries    int           `yaml:"max_entries"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`

	// StatsInterval is the cron schedule for refreshing cache gauges
	StatsInterval string `yaml:"stats_interval"`
	// WarmupPilotIDs are snapshots to precompute on the stats schedule
	WarmupPilotIDs []string `yaml:"warmup_pilot_ids"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `yaml:"-"`
	LogLevelName   string                 `yaml:"log_level"`
	MetricsEnabled bool                   `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// LoadConfig loads configuration from environment variables, applying an
// optional YAML overlay named by WINGOPS_CONFIG_FILE.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Observability: loadObservabilityConfig(),
	}

	if path := getEnv("WINGOPS_CONFIG_FILE", ""); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, fmt.Errorf("failed to apply config file: %w", err)
		}
	}

	cfg.Observability.LogLevel = parseLogLevel(cfg.Observability.LogLevelName)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// ApplyFile overlays a YAML config file onto the current values. Fields
// absent from the file keep their environment-derived values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("WINGOPS_HOST", "0.0.0.0"),
		Port:            getEnv("WINGOPS_PORT", "8080"),
		ReadTimeout:     getEnvDuration("WINGOPS_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WINGOPS_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("WINGOPS_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("WINGOPS_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("WINGOPS_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("WINGOPS_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("WINGOPS_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns:    getEnvInt("WINGOPS_POSTGRES_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("WINGOPS_POSTGRES_CONN_LIFETIME", 30*time.Minute),
	}
}

func loadCacheConfig() CacheConfig {
	cfg := CacheConfig{
		Backend:       getEnv("WINGOPS_CACHE_BACKEND", "memory"),
		TTL:           getEnvDuration("WINGOPS_CACHE_TTL", 15*time.Minute),
		MaxEntries:    getEnvInt("WINGOPS_CACHE_MAX_ENTRIES", 4096),
		RedisAddr:     getEnv("WINGOPS_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("WINGOPS_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("WINGOPS_REDIS_DB", 0),
		StatsInterval: getEnv("WINGOPS_CACHE_STATS_SCHEDULE", "@every 1m"),
	}
	if ids := getEnv("WINGOPS_CACHE_WARMUP_PILOTS", ""); ids != "" {
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.WarmupPilotIDs = append(cfg.WarmupPilotIDs, id)
			}
		}
	}
	return cfg
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevelName:       getEnv("WINGOPS_LOG_LEVEL", "info"),
		MetricsEnabled:     getEnvBool("WINGOPS_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("WINGOPS_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("WINGOPS_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("WINGOPS_OTEL_SERVICE_NAME", "wingops"),
		OTelServiceVersion: getEnv("WINGOPS_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("WINGOPS_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("redis address is required for redis cache backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	return nil
}

// Addr returns the server listen address
func (c ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// HealthAddr returns the health server listen address
func (c ServerConfig) HealthAddr() string {
	return c.Host + ":" + c.HealthPort
}

func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
