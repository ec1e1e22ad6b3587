// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads service configuration from OCMS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	DBPath     string `env:"OCMS_DB_PATH" envDefault:"./data/ocms-workflow.db"`
	ServerHost string `env:"OCMS_SERVER_HOST" envDefault:"localhost"`
	ServerPort int    `env:"OCMS_SERVER_PORT" envDefault:"8080"`
	Env        string `env:"OCMS_ENV" envDefault:"development"`
	LogLevel   string `env:"OCMS_LOG_LEVEL" envDefault:"info"`

	// Workflow
	WorkflowFile  string `env:"OCMS_WORKFLOW_FILE"` // YAML transition table; built-in table when empty
	SweepSchedule string `env:"OCMS_SWEEP_SCHEDULE" envDefault:"* * * * *"`

	// Edit locks
	LockTTL    time.Duration `env:"OCMS_LOCK_TTL" envDefault:"5m"`
	LockMaxTTL time.Duration `env:"OCMS_LOCK_MAX_TTL" envDefault:"1h"`
	RedisURL   string        `env:"OCMS_REDIS_URL"` // Optional Redis URL for distributed locks
	LockPrefix string        `env:"OCMS_LOCK_PREFIX" envDefault:"ocms:lock:"`

	// API
	APIRateLimit    float64 `env:"OCMS_API_RATE_LIMIT" envDefault:"10"` // Requests per second per key
	APIRateBurst    int     `env:"OCMS_API_RATE_BURST" envDefault:"20"`
	PublicRateLimit float64 `env:"OCMS_PUBLIC_RATE_LIMIT" envDefault:"20"` // Requests per second per IP
	PublicRateBurst int     `env:"OCMS_PUBLIC_RATE_BURST" envDefault:"40"`

	// Events and webhooks
	EventRetentionDays  int  `env:"OCMS_EVENT_RETENTION_DAYS" envDefault:"90"`
	WebhookWorkers      int  `env:"OCMS_WEBHOOK_WORKERS" envDefault:"3"`
	WebhookAllowPrivate bool `env:"OCMS_WEBHOOK_ALLOW_PRIVATE" envDefault:"false"`

	// Seeding configuration
	DoSeed   bool `env:"OCMS_DO_SEED" envDefault:"false"`   // Create the default admin and API key
	DemoMode bool `env:"OCMS_DEMO_MODE" envDefault:"false"` // Also seed demo users and content
}

// IsDevelopment returns true if the application is running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ServerAddr returns the full server address in host:port format.
func (c Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// UseRedisLocks returns true if Redis locks are configured.
func (c Config) UseRedisLocks() bool {
	return c.RedisURL != ""
}

// EventRetention returns how long events are kept. Zero disables cleanup.
func (c Config) EventRetention() time.Duration {
	return time.Duration(c.EventRetentionDays) * 24 * time.Hour
}

// SlogLevel maps LogLevel to a slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load parses the process environment and validates the result.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses environ instead of the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("OCMS_SERVER_PORT must be between 1 and 65535, got %d", c.ServerPort))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("OCMS_LOCK_TTL must be positive, got %s", c.LockTTL))
	}
	if c.LockMaxTTL < c.LockTTL {
		errs = append(errs, fmt.Errorf("OCMS_LOCK_TTL (%s) must not exceed OCMS_LOCK_MAX_TTL (%s)", c.LockTTL, c.LockMaxTTL))
	}
	if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("OCMS_SWEEP_SCHEDULE %q: %w", c.SweepSchedule, err))
	}
	if c.APIRateLimit < 0 || c.PublicRateLimit < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if c.APIRateLimit > 0 && c.APIRateBurst < 1 {
		errs = append(errs, fmt.Errorf("OCMS_API_RATE_BURST must be at least 1, got %d", c.APIRateBurst))
	}
	if c.EventRetentionDays < 0 {
		errs = append(errs, fmt.Errorf("OCMS_EVENT_RETENTION_DAYS must not be negative, got %d", c.EventRetentionDays))
	}
	if c.WebhookWorkers < 1 {
		errs = append(errs, fmt.Errorf("OCMS_WEBHOOK_WORKERS must be at least 1, got %d", c.WebhookWorkers))
	}
	return errors.Join(errs...)
}
