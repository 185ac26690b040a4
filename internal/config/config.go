// Package config loads relay service configuration from environment variables
// with sensible defaults.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for the relay services
type Config struct {
	// Service identification
	ServiceName string
	Version     string
	Environment string

	// Receivers in failover priority order
	ReceiverAddrs    []string
	ReceiverPassword string

	// Submitter tuning
	RetryQueueSize     int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	OutboundBuffer     int
	MaxFrameSize       int
	DialTimeout        time.Duration
	WriteTimeout       time.Duration
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	// Kafka configuration
	KafkaBrokers    []string
	KafkaGroupID    string
	KafkaRelayTopic string

	// Miner authorisation
	RedisURL     string
	RedisAuthKey string
	RequireAuth  bool

	// InfluxDB statistics; disabled when InfluxURL is empty
	InfluxURL     string
	InfluxToken   string
	InfluxOrg     string
	InfluxBucket  string
	StatsInterval time.Duration

	// Prometheus endpoint; disabled when empty
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "relayd"),
		Version:     getEnv("VERSION", "dev"),
		Environment: getEnv("ENVIRONMENT", "development"),

		ReceiverAddrs:    getEnvSlice("RELAY_RECEIVER_ADDRS", nil),
		ReceiverPassword: getEnv("RELAY_RECEIVER_PASSWORD", ""),

		RetryQueueSize:     getEnvInt("RELAY_RETRY_QUEUE_SIZE", 100000),
		RetryBaseDelay:     getEnvDuration("RELAY_RETRY_BASE_DELAY", 50*time.Millisecond),
		RetryMaxDelay:      getEnvDuration("RELAY_RETRY_MAX_DELAY", 5*time.Second),
		OutboundBuffer:     getEnvInt("RELAY_OUTBOUND_BUFFER", 1024),
		MaxFrameSize:       getEnvInt("RELAY_MAX_FRAME_SIZE", 16<<20),
		DialTimeout:        getEnvDuration("DIAL_TIMEOUT", 10*time.Second),
		WriteTimeout:       getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
		ReconnectBaseDelay: getEnvDuration("RECONNECT_BASE_DELAY", 500*time.Millisecond),
		ReconnectMaxDelay:  getEnvDuration("RECONNECT_MAX_DELAY", 30*time.Second),

		KafkaBrokers:    getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:    getEnv("KAFKA_GROUP_ID", "relayd"),
		KafkaRelayTopic: getEnv("KAFKA_RELAY_TOPIC", "pool.relay_events"),

		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisAuthKey: getEnv("REDIS_AUTH_KEY", "BetterHash:AuthorizedUsers"),
		RequireAuth:  getEnvBool("RELAY_REQUIRE_AUTH", false),

		InfluxURL:     getEnv("INFLUX_URL", ""),
		InfluxToken:   getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:     getEnv("INFLUX_ORG", "gomp"),
		InfluxBucket:  getEnv("INFLUX_BUCKET", "relay"),
		StatsInterval: getEnvDuration("STATS_INTERVAL", 30*time.Second),

		MetricsAddr: getEnv("METRICS_ADDR", ":9100"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("SERVICE_NAME cannot be empty")
	}

	if len(c.ReceiverAddrs) == 0 {
		return fmt.Errorf("RELAY_RECEIVER_ADDRS must list at least one receiver")
	}
	seen := make(map[string]bool, len(c.ReceiverAddrs))
	for _, addr := range c.ReceiverAddrs {
		if err := validateHostPort(addr); err != nil {
			return fmt.Errorf("RELAY_RECEIVER_ADDRS: %w", err)
		}
		if seen[addr] {
			return fmt.Errorf("RELAY_RECEIVER_ADDRS: duplicate receiver %q", addr)
		}
		seen[addr] = true
	}

	if c.RetryQueueSize <= 0 {
		return fmt.Errorf("RELAY_RETRY_QUEUE_SIZE must be positive")
	}

	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("RELAY_RETRY_MAX_DELAY must be at least RELAY_RETRY_BASE_DELAY (> 0)")
	}

	if c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("RECONNECT_MAX_DELAY must be at least RECONNECT_BASE_DELAY (> 0)")
	}

	if c.OutboundBuffer <= 0 {
		return fmt.Errorf("RELAY_OUTBOUND_BUFFER must be positive")
	}

	if c.MaxFrameSize <= 10 {
		return fmt.Errorf("RELAY_MAX_FRAME_SIZE must exceed the 10 byte frame header")
	}

	if c.RequireAuth && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when RELAY_REQUIRE_AUTH is set")
	}

	if c.InfluxURL != "" && c.StatsInterval <= 0 {
		return fmt.Errorf("STATS_INTERVAL must be positive")
	}

	return nil
}

// validateHostPort checks host:port syntax without resolving the host
func validateHostPort(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid receiver address %q: %w", addr, err)
	}
	if host == "" {
		return fmt.Errorf("receiver address %q has no host", addr)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("receiver address %q has invalid port", addr)
	}
	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvSlice splits a comma-separated value, trimming blanks and empty items
func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
