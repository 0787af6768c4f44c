// Package config builds the process configuration from environment variables.
// It is read once in main and passed into constructors.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full process configuration.
type Config struct {
	Server     Server
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Signing    SigningConfig
	Extraction ExtractionConfig
	RateLimit  RateLimitConfig
	Admin      AdminConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	GRPCAddr        string // empty disables the gRPC resolver
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
}

// DatabaseConfig selects the entity store. An empty URL runs the in-memory
// store.
type DatabaseConfig struct {
	URL          string
	MaxConns     int32
	MinConns     int32
	TxTimeout    time.Duration
	AutoMigrate  bool
	MaxTxRetries int
}

// RedisConfig backs the distributed rate limiter. An empty URL keeps the
// limiter in process.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit outbox relay. No brokers disables it.
type KafkaConfig struct {
	Brokers      []string
	TopicPrefix  string
	PollInterval time.Duration
	BatchSize    int
}

// SigningConfig holds the shared secret that keys token signatures and the
// address digest.
type SigningConfig struct {
	Secret string
}

// ExtractionConfig points at the optional model-backed extractor.
type ExtractionConfig struct {
	RemoteURL        string
	FailureThreshold int
	Cooldown         time.Duration
}

// RateLimitConfig bounds resolve attempts per requester.
type RateLimitConfig struct {
	Enabled          bool
	ResolvePerWindow int
	Window           time.Duration
}

// AdminConfig guards the audit query endpoint.
type AdminConfig struct {
	Token string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            getEnv("KYCVAULT_ADDR", ":8080"),
			GRPCAddr:        os.Getenv("KYCVAULT_GRPC_ADDR"),
			ReadTimeout:     getDuration("KYCVAULT_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDuration("KYCVAULT_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDuration("KYCVAULT_SHUTDOWN_TIMEOUT", 15*time.Second),
			LogLevel:        getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxConns:     int32(getInt("DATABASE_MAX_CONNS", 10)),
			MinConns:     int32(getInt("DATABASE_MIN_CONNS", 1)),
			TxTimeout:    getDuration("DATABASE_TX_TIMEOUT", 5*time.Second),
			AutoMigrate:  getBool("DATABASE_AUTO_MIGRATE", true),
			MaxTxRetries: getInt("DATABASE_MAX_TX_RETRIES", 3),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:      splitList(os.Getenv("KAFKA_BROKERS")),
			TopicPrefix:  getEnv("KAFKA_TOPIC_PREFIX", "kycvault.audit"),
			PollInterval: getDuration("OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:    getInt("OUTBOX_BATCH_SIZE", 100),
		},
		Signing: SigningConfig{
			// Development default; production must override.
			Secret: getEnv("KYCVAULT_SIGNING_SECRET", "dev-signing-secret-change-in-production"),
		},
		Extraction: ExtractionConfig{
			RemoteURL:        os.Getenv("EXTRACTION_URL"),
			FailureThreshold: getInt("EXTRACTION_FAILURE_THRESHOLD", 5),
			Cooldown:         getDuration("EXTRACTION_COOLDOWN", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:          getBool("RATELIMIT_ENABLED", true),
			ResolvePerWindow: getInt("RATELIMIT_RESOLVE_PER_WINDOW", 60),
			Window:           getDuration("RATELIMIT_WINDOW", time.Minute),
		},
		Admin: AdminConfig{
			Token: getEnv("ADMIN_API_TOKEN", "dev-admin-token"),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
