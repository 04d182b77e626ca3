// Package config provides configuration management for the quarry mining pool.
// It handles loading configuration from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the global configuration for the quarry daemon
type Config struct {
	// Service identification
	ServiceName string
	Version     string
	Environment string

	// Stratum listener
	ListenAddr string
	ListenPort int

	// Full node connection
	NodeRPCHost     string
	NodeRPCPort     int
	NodeRPCUser     string
	NodeRPCPassword string
	NodeZMQAddr     string
	NodeRPCTimeout  time.Duration

	// Kafka event sink
	KafkaBrokers []string
	KafkaEnabled bool

	// Database connections
	PostgresURL  string
	RedisAddr    string
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// Pool parameters
	PoolAddress      string
	PoolFeePercent   float64
	ShareDifficulty  float64
	HashrateWindow   time.Duration
	RewardWindow     time.Duration
	MinPayout        int64 // satoshis
	PayoutInterval   time.Duration
	MaxPayoutsPerTx  int
	TemplateInterval time.Duration
	DifficultyPoll   time.Duration

	// Connection tuning
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxMessageSize int

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "quarryd"),
		Version:     getEnv("VERSION", "dev"),
		Environment: getEnv("ENVIRONMENT", "development"),

		ListenAddr: getEnv("LISTEN_ADDR", "0.0.0.0"),
		ListenPort: getEnvInt("LISTEN_PORT", 3333),

		NodeRPCHost:     getEnv("NODE_RPC_HOST", "localhost"),
		NodeRPCPort:     getEnvInt("NODE_RPC_PORT", 8332),
		NodeRPCUser:     getEnv("NODE_RPC_USER", ""),
		NodeRPCPassword: getEnv("NODE_RPC_PASSWORD", ""),
		NodeZMQAddr:     getEnv("NODE_ZMQ_ADDR", ""),
		NodeRPCTimeout:  getEnvDuration("NODE_RPC_TIMEOUT", 10*time.Second),

		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaEnabled: getEnvBool("KAFKA_ENABLED", false),

		PostgresURL:  getEnv("POSTGRES_URL", ""),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		InfluxURL:    getEnv("INFLUX_URL", ""),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", "quarry"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "mining"),

		PoolAddress:      getEnv("POOL_ADDRESS", ""),
		PoolFeePercent:   getEnvFloat("POOL_FEE_PERCENT", 1.0),
		ShareDifficulty:  getEnvFloat("SHARE_DIFFICULTY", 1.0),
		HashrateWindow:   getEnvDuration("HASHRATE_WINDOW", 10*time.Minute),
		RewardWindow:     getEnvDuration("REWARD_WINDOW", 60*time.Minute),
		MinPayout:        getEnvInt64("MIN_PAYOUT_SATS", 100_000),
		PayoutInterval:   getEnvDuration("PAYOUT_INTERVAL", time.Hour),
		MaxPayoutsPerTx:  getEnvInt("MAX_PAYOUTS_PER_TX", 50),
		TemplateInterval: getEnvDuration("TEMPLATE_INTERVAL", 5*time.Second),
		DifficultyPoll:   getEnvDuration("DIFFICULTY_POLL", 60*time.Second),

		MaxConnections: getEnvInt("MAX_CONNECTIONS", 10000),
		ReadTimeout:    getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:    getEnvDuration("IDLE_TIMEOUT", 10*time.Minute),
		MaxMessageSize: getEnvInt("MAX_MESSAGE_SIZE", 4096),

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

	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("LISTEN_PORT must be between 1 and 65535")
	}

	if c.PoolFeePercent < 0 || c.PoolFeePercent > 100 {
		return fmt.Errorf("POOL_FEE_PERCENT must be between 0 and 100")
	}

	if c.ShareDifficulty <= 0 {
		return fmt.Errorf("SHARE_DIFFICULTY must be positive")
	}

	if c.HashrateWindow <= 0 {
		return fmt.Errorf("HASHRATE_WINDOW must be positive")
	}

	if c.RewardWindow <= 0 {
		return fmt.Errorf("REWARD_WINDOW must be positive")
	}

	if c.MinPayout <= 0 {
		return fmt.Errorf("MIN_PAYOUT_SATS must be positive")
	}

	if c.MaxPayoutsPerTx <= 0 {
		return fmt.Errorf("MAX_PAYOUTS_PER_TX must be positive")
	}

	if c.TemplateInterval <= 0 {
		return fmt.Errorf("TEMPLATE_INTERVAL must be positive")
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
