// Package config reads the server configuration from the environment.
// A .env file in the working directory is loaded first if present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Port string

	// Store is "postgres" or "memory".
	Store       string
	DatabaseURL string

	// RedisAddr empty disables the broadcast relay and the event journal.
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	JournalQueue    string
	BroadcastPrefix string

	// AuthMode is "user_id" or "jwt".
	AuthMode          string
	JWTPublicKeyPath  string
	JWTPrivateKeyPath string

	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration

	LogLevel  string
	LogFormat string

	HistorianBatchSize int
	HistorianFlush     time.Duration
}

// Load reads every setting, applying defaults for unset variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               GetEnv("PORT", "8080"),
		Store:              GetEnv("STORE", "postgres"),
		DatabaseURL:        databaseURL(),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            GetEnvInt("REDIS_DB", 0),
		JournalQueue:       GetEnv("JOURNAL_QUEUE_NAME", "sightquest_events"),
		BroadcastPrefix:    GetEnv("BROADCAST_CHANNEL_PREFIX", "sightquest:game:"),
		AuthMode:           GetEnv("AUTH_MODE", "user_id"),
		JWTPublicKeyPath:   GetEnv("JWT_PUBLIC_KEY_PATH", "./keys/ed25519.pub"),
		JWTPrivateKeyPath:  GetEnv("JWT_PRIVATE_KEY_PATH", "./keys/ed25519"),
		SendBuffer:         GetEnvInt("SEND_BUFFER", 64),
		LogLevel:           GetEnv("LOG_LEVEL", "info"),
		LogFormat:          GetEnv("LOG_FORMAT", "text"),
		HistorianBatchSize: GetEnvInt("HISTORIAN_BATCH_SIZE", 20),
		HistorianFlush:     time.Duration(GetEnvInt("HISTORIAN_FLUSH_MS", 500)) * time.Millisecond,
	}

	var err error
	if cfg.WriteTimeout, err = getEnvDuration("WRITE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.PingInterval, err = getEnvDuration("PING_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}

	switch cfg.Store {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("STORE must be postgres or memory, got %q", cfg.Store)
	}
	switch cfg.AuthMode {
	case "user_id", "jwt":
	default:
		return nil, fmt.Errorf("AUTH_MODE must be user_id or jwt, got %q", cfg.AuthMode)
	}
	if cfg.PingInterval <= 0 || cfg.WriteTimeout <= 0 {
		return nil, fmt.Errorf("PING_INTERVAL and WRITE_TIMEOUT must be positive")
	}
	if cfg.SendBuffer < 1 {
		return nil, fmt.Errorf("SEND_BUFFER must be positive, got %d", cfg.SendBuffer)
	}
	return cfg, nil
}

// databaseURL prefers DATABASE_URL and falls back to the discrete POSTGRES_*
// and PG_* variables.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		GetEnv("POSTGRES_USER", "postgres"),
		GetEnv("POSTGRES_PASSWORD", "postgres"),
		GetEnv("PG_HOST", "localhost"),
		GetEnv("PG_PORT", "5432"),
		GetEnv("PG_DATABASE", "sightquest"),
	)
}

// GetEnv returns the value of key, or def if it is unset or empty.
func GetEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// GetEnvInt parses key as an integer, returning def if unset or invalid.
func GetEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
