// Package config loads server configuration from defaults, an optional YAML
// file and REPORTING_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Logging   LoggingConfig   `koanf:"logging"`
	Engine    EngineConfig    `koanf:"engine"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit"` // requests per minute per IP, 0 = off
	Scenarios       bool          `koanf:"scenarios"`  // expose /api/scenarios demo loaders
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
	Caller bool   `koanf:"caller"`
}

// EngineConfig holds the engine knobs that are business configuration rather
// than code: default grace period, due-soon window, alert audit window.
type EngineConfig struct {
	DueOffsetDays int           `koanf:"due_offset_days"`
	DueSoonDays   int           `koanf:"due_soon_days"`
	AuditWindow   time.Duration `koanf:"audit_window"`
}

type SchedulerConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Interval      time.Duration `koanf:"interval"`
	HorizonMonths int           `koanf:"horizon_months"`
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       300,
		},
		Database: DatabaseConfig{
			Path: "./reporting.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			DueOffsetDays: 0,
			DueSoonDays:   3,
			AuditWindow:   7 * 24 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			Interval:      time.Hour,
			HorizonMonths: 12,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// =============================================================================
// VALIDATION
// =============================================================================

func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if c.Scheduler.Enabled {
		if c.Scheduler.Interval <= 0 {
			return fmt.Errorf("scheduler.interval must be positive, got %s", c.Scheduler.Interval)
		}
		if c.Scheduler.HorizonMonths < 1 {
			return fmt.Errorf("scheduler.horizon_months must be >= 1, got %d", c.Scheduler.HorizonMonths)
		}
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must be >= 0, got %d", c.Server.RateLimit)
	}
	return nil
}

func (c *Config) validateEngine() error {
	if c.Engine.DueOffsetDays < 0 {
		return fmt.Errorf("engine.due_offset_days must be >= 0, got %d", c.Engine.DueOffsetDays)
	}
	if c.Engine.DueSoonDays < 1 {
		return fmt.Errorf("engine.due_soon_days must be >= 1, got %d", c.Engine.DueSoonDays)
	}
	if c.Engine.AuditWindow <= 0 {
		return fmt.Errorf("engine.audit_window must be positive, got %s", c.Engine.AuditWindow)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
