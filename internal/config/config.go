package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" env-default:"WalletLedger"`
	AppEnv         string        `env:"APP_ENV" env-default:"development"`
	Port           string        `env:"PORT" env-default:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" env-default:"info"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" env-default:"24h"`
	ResultTTL      time.Duration `env:"RESULT_TTL" env-default:"1h"`
	QueueName      string        `env:"QUEUE_NAME" env-default:"operations"`
	NotifyChannel  string        `env:"NOTIFY_CHANNEL" env-default:"wallet-events"`
	// Submissions allowed per wallet per minute; 0 disables the limit.
	OperationRateLimit int `env:"OPERATION_RATE_LIMIT" env-default:"60"`

	Worker Worker
}

// Worker holds the operation worker pool settings.
type Worker struct {
	ID          string        `env:"WORKER_ID"`
	Concurrency int           `env:"WORKER_CONCURRENCY" env-default:"4"`
	MaxAttempts int           `env:"WORKER_MAX_ATTEMPTS" env-default:"5"`
	RetryBase   time.Duration `env:"WORKER_RETRY_BASE" env-default:"1s"`
	RetryMax    time.Duration `env:"WORKER_RETRY_MAX" env-default:"1m"`
	PollTimeout time.Duration `env:"WORKER_POLL_TIMEOUT" env-default:"1s"`
	// LeaseTTL bounds how long a silent consumer keeps its in-flight tasks.
	LeaseTTL time.Duration `env:"WORKER_LEASE_TTL" env-default:"30s"`
	// Embedded runs the pool inside the API process.
	Embedded bool `env:"WORKER_EMBEDDED" env-default:"false"`
}

// Load reads an optional .env file and then populates a Config from the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if cfg.Worker.ID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		cfg.Worker.ID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS must be positive")
	}
	if c.Worker.LeaseTTL <= c.Worker.PollTimeout {
		return fmt.Errorf("WORKER_LEASE_TTL must exceed WORKER_POLL_TIMEOUT")
	}
	if c.IsDev() {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	return nil
}

// IsDev reports whether the app runs in a local/development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
