// Package config loads process configuration from the environment, an
// optional .env file and an optional imagegen.yaml file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"

	webhookPath = "/api/webhook/z-image"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	StoreBackend    string        `mapstructure:"STORE_BACKEND"`
	RedisAddr       string        `mapstructure:"REDIS_ADDR"`
	PostgresDSN     string        `mapstructure:"POSTGRES_DSN"`
	ProviderURL     string        `mapstructure:"Z_IMAGE_API_BASE_URL"`
	ProviderToken   string        `mapstructure:"Z_IMAGE_API_TOKEN"`
	CORSOrigin      string        `mapstructure:"CORS_ORIGIN"`
	ProviderTimeout time.Duration `mapstructure:"PROVIDER_TIMEOUT"`
	SweepInterval   time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepMinAge     time.Duration `mapstructure:"SWEEP_MIN_AGE"`
	WorkerID        string        `mapstructure:"WORKER_ID"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	Notify          `mapstructure:",squash"`
}

type Notify struct {
	SendGridAPIKey string `mapstructure:"SENDGRID_API_KEY"`
	FromName       string `mapstructure:"NOTIFY_FROM_NAME"`
	FromAddress    string `mapstructure:"NOTIFY_FROM_ADDRESS"`
	To             string `mapstructure:"NOTIFY_TO"`
}

var defaults = map[string]any{
	"PORT":                 "8080",
	"STORE_BACKEND":        BackendMemory,
	"REDIS_ADDR":           "localhost:6379",
	"POSTGRES_DSN":         "",
	"Z_IMAGE_API_BASE_URL": "https://api.kie.ai",
	"Z_IMAGE_API_TOKEN":    "",
	"CORS_ORIGIN":          "http://localhost:3000",
	"PROVIDER_TIMEOUT":     "30s",
	"SWEEP_INTERVAL":       "0s",
	"SWEEP_MIN_AGE":        "1m",
	"WORKER_ID":            "sweeper-1",
	"LOG_LEVEL":            "info",
	"SENDGRID_API_KEY":     "",
	"NOTIFY_FROM_NAME":     "Image Generator",
	"NOTIFY_FROM_ADDRESS":  "",
	"NOTIFY_TO":            "",
}

// Load reads defaults, then imagegen.yaml from the working directory if
// present, then the environment. A .env file in the working directory is
// merged into the environment first without overriding variables already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("imagegen")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &cfg, nil
}

// CallbackURL is the webhook address handed to the provider.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.CORSOrigin, "/") + webhookPath
}

func (c *Config) EmailEnabled() bool {
	return c.Notify.SendGridAPIKey != ""
}

// Validate checks the settings the server process needs.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis backend"))
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	if c.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT must be positive"))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must not be negative"))
	}
	if c.EmailEnabled() && (c.Notify.FromAddress == "" || c.Notify.To == "") {
		errs = append(errs, errors.New("NOTIFY_FROM_ADDRESS and NOTIFY_TO are required when SENDGRID_API_KEY is set"))
	}

	return errors.Join(errs...)
}

// ValidateWorker additionally requires a shared backend, since a standalone
// sweeper cannot see an in-memory store.
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.StoreBackend == BackendMemory {
		return errors.New("the worker needs STORE_BACKEND=redis or postgres")
	}
	if c.SweepInterval <= 0 {
		return errors.New("the worker needs a positive SWEEP_INTERVAL")
	}
	return nil
}
