package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/reporting-engine/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix is stripped from environment variable names.
const EnvPrefix = "REPORTING_"

// Load layers defaults, then the YAML file (configPath, $CONFIG_PATH or the
// first of DefaultConfigPaths that exists), then REPORTING_* variables, and
// validates the result.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath == "" {
		configPath = findConfigFile()
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envKeys maps REPORTING_<SECTION>_<FIELD> (lowercased, prefix stripped) to
// koanf paths. Fields contain underscores, so the split cannot be positional.
var envKeys = map[string]string{
	"server_host":              "server.host",
	"server_port":              "server.port",
	"server_read_timeout":      "server.read_timeout",
	"server_write_timeout":     "server.write_timeout",
	"server_shutdown_timeout":  "server.shutdown_timeout",
	"server_cors_origins":      "server.cors_origins",
	"server_rate_limit":        "server.rate_limit",
	"server_scenarios":         "server.scenarios",
	"database_path":            "database.path",
	"logging_level":            "logging.level",
	"logging_format":           "logging.format",
	"logging_caller":           "logging.caller",
	"engine_due_offset_days":   "engine.due_offset_days",
	"engine_due_soon_days":     "engine.due_soon_days",
	"engine_audit_window":      "engine.audit_window",
	"scheduler_enabled":        "scheduler.enabled",
	"scheduler_interval":       "scheduler.interval",
	"scheduler_horizon_months": "scheduler.horizon_months",
}

// envTransformFunc returns "" for unknown variables, which koanf skips.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return envKeys[key]
}

var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields splits comma-separated env values into slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
