// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	StorageType      string `env:"STORAGE_TYPE" envDefault:"memory"`
	LocalStoragePath string `env:"LOCAL_STORAGE_PATH" envDefault:"./data"`
	DataSourceName   string `env:"DATA_SOURCE_NAME" envDefault:"boardsync.db"`
	S3BucketName     string `env:"S3_BUCKET_NAME"`
	BadgerPath       string `env:"BADGER_PATH" envDefault:"./data/badger"`

	JWTSecret string `env:"JWT_SECRET"`

	SaveDebounce      time.Duration `env:"SAVE_DEBOUNCE" envDefault:"5s"`
	SaveMaxRetries    uint          `env:"SAVE_MAX_RETRIES" envDefault:"5"`
	InactivityTimeout time.Duration `env:"INACTIVITY_TIMEOUT" envDefault:"30m"`
	CleanupInterval   time.Duration `env:"CLEANUP_INTERVAL" envDefault:"5m"`

	SendQueueSize  int           `env:"SEND_QUEUE_SIZE" envDefault:"256"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	MaxMessageSize int64         `env:"MAX_MESSAGE_SIZE" envDefault:"5000000"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://127.0.0.1:3000"`
}

// Load reads an optional .env file and parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageType {
	case "memory", "filesystem", "sqlite", "s3", "badger":
	default:
		return fmt.Errorf("unknown STORAGE_TYPE %q", c.StorageType)
	}
	if c.StorageType == "s3" && c.S3BucketName == "" {
		return fmt.Errorf("S3_BUCKET_NAME must be set for s3 storage type")
	}
	if c.StorageType != "memory" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set for %s storage type", c.StorageType)
	}
	if c.SaveDebounce <= 0 {
		return fmt.Errorf("SAVE_DEBOUNCE must be positive")
	}
	if c.CleanupInterval <= 0 || c.InactivityTimeout <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL and INACTIVITY_TIMEOUT must be positive")
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("SEND_QUEUE_SIZE must be positive")
	}
	return nil
}
