package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/andresmejia3/facelab/internal/worker"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is read once per command, before any job is built.
//
// Environment Variables:
// - FACELAB_CPU_NUM: worker processes per decode job (default: min(NumCPU, 8))
// - FACELAB_WORKER_TIMEOUT: per-item timeout, Go duration (default: 60s)
// - FACELAB_MAX_RESPAWNS: respawns per worker slot before the job aborts (default: 5)
// - FACELAB_MAX_ITEM_ATTEMPTS: hand-backs of one item before it is dropped (default: max respawns + 1, -1 disables)
// - FACELAB_DB_URL: catalog connection string; falls back to POSTGRES_HOST/USER/PASSWORD/DB/PORT
// - FACELAB_LOG_LEVEL: zerolog level name (default: info)
type Config struct {
	CPUNumber       int           `json:"cpu_number"`
	WorkerTimeout   time.Duration `json:"worker_timeout"`
	MaxRespawns     int           `json:"max_respawns"`
	MaxItemAttempts int           `json:"max_item_attempts"`
	DBURL           string        `json:"-"`
	LogLevel        string        `json:"log_level"`
}

// Option adjusts a Config after the environment is read.
type Option func(*Config)

func WithCPUNumber(n int) Option {
	return func(c *Config) { c.CPUNumber = n }
}

func WithWorkerTimeout(d time.Duration) Option {
	return func(c *Config) { c.WorkerTimeout = d }
}

func WithDBURL(url string) Option {
	return func(c *Config) {
		if url != "" {
			c.DBURL = url
		}
	}
}

func WithLogLevel(level string) Option {
	return func(c *Config) {
		if level != "" {
			c.LogLevel = level
		}
	}
}

// NewFromEnv loads .env from the working directory when present, then the
// environment, then opts.
func NewFromEnv(opts ...Option) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Ignoring unreadable .env")
	}

	config := &Config{
		CPUNumber:       getEnvInt("FACELAB_CPU_NUM", min(runtime.NumCPU(), 8)),
		WorkerTimeout:   getEnvDuration("FACELAB_WORKER_TIMEOUT", 60*time.Second),
		MaxRespawns:     getEnvInt("FACELAB_MAX_RESPAWNS", 5),
		MaxItemAttempts: getEnvInt("FACELAB_MAX_ITEM_ATTEMPTS", 0),
		DBURL:           getEnvString("FACELAB_DB_URL", postgresURLFromEnv()),
		LogLevel:        getEnvString("FACELAB_LOG_LEVEL", "info"),
	}

	for _, opt := range opts {
		opt(config)
	}
	if config.MaxItemAttempts == 0 {
		config.MaxItemAttempts = worker.DefaultMaxItemAttempts(config.MaxRespawns)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.CPUNumber < 1 {
		return fmt.Errorf("cpu number must be at least 1, got %d", c.CPUNumber)
	}
	if c.WorkerTimeout <= 0 {
		return fmt.Errorf("worker timeout must be positive, got %s", c.WorkerTimeout)
	}
	if c.MaxRespawns < 1 {
		return fmt.Errorf("max respawns must be at least 1, got %d", c.MaxRespawns)
	}
	return nil
}

// postgresURLFromEnv builds a connection string from the usual POSTGRES_* variables.
func postgresURLFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return "postgres://localhost:5432/facelab"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		host,
		getEnvString("POSTGRES_PORT", "5432"),
		os.Getenv("POSTGRES_DB"),
	)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Not an integer, using default")
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Warn().Str("key", key).Str("value", value).Msg("Not a duration, using default")
	return defaultValue
}
