// Package config parses the service configuration.
//
// Process-level settings (listen addresses, logging, snapshot storage) come
// from command-line flags with environment fallbacks; flags win. The data
// endpoints (live, history, forecast) are declared in a YAML file, see
// LoadEndpoints.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the process-level settings.
type Config struct {
	Listen      string
	GRPCListen  string
	LogFormat   string
	LogLevel    string
	ConfigFile  string
	TLSCertFile string
	TLSKeyFile  string

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	BadgerPath    string

	// StaleAfter marks a published forecast as stale for health checks.
	// Zero derives it from the forecast refresh interval.
	StaleAfter time.Duration
}

// ParseFlags parses os.Args into a Config.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")
	flag.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ""), "gRPC health listen address (empty disables)")
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.ConfigFile, "config-file", getEnv("CONFIG", "config.yml"), "YAML file declaring the live, history and forecast endpoints")
	flag.StringVar(&cfg.TLSCertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file (serves HTTPS when set with -tls-key-file)")
	flag.StringVar(&cfg.TLSKeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Published window storage: memory, redis or badger")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 2*time.Hour), "Redis snapshot TTL")
	flag.StringVar(&cfg.BadgerPath, "badger-path", getEnv("BADGER_PATH", "./data/snapshots"), "Badger database directory")
	flag.DurationVar(&cfg.StaleAfter, "stale-after", getEnvDuration("STALE_AFTER", 0), "Age after which the published forecast is reported stale")

	flag.Parse()
	return cfg
}

// Validate checks the process-level settings.
func (c *Config) Validate() error {
	switch c.Storage {
	case "memory", "redis", "badger":
	default:
		return fmt.Errorf("invalid storage %q (must be memory, redis or badger)", c.Storage)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("tls-cert-file and tls-key-file must be set together")
	}
	if c.Storage == "redis" && c.RedisAddr == "" {
		return fmt.Errorf("redis-addr is required when storage=redis")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
