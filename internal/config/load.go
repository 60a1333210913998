package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the YAML file at path, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

// LoadWithEnvOverrides loads path and applies LLAMAGATE_*-prefixed
// environment variable overrides before a final validation pass: file,
// defaults, env, validate, in that order.
func LoadWithEnvOverrides(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies LLAMAGATE_SECTION_FIELD environment variable
// overrides to cfg. Only these fields are wired: listen address, read
// timeout, models directory, default model, check interval, idle timeout,
// logging level and format, tracing endpoint, and audit path.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("LLAMAGATE_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("LLAMAGATE_SERVER_READ_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if val := os.Getenv("LLAMAGATE_MODEL_MANAGER_MODELS_DIRECTORY"); val != "" {
		cfg.ModelManager.ModelsDirectory = val
	}
	if val := os.Getenv("LLAMAGATE_MODEL_MANAGER_DEFAULT_MODEL"); val != "" {
		cfg.ModelManager.DefaultModel = val
	}
	if val := os.Getenv("LLAMAGATE_MODEL_MANAGER_CHECK_INTERVAL"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.ModelManager.CheckInterval = i
		}
	}
	if val := os.Getenv("LLAMAGATE_MODEL_MANAGER_IDLE_TIMEOUT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.ModelManager.IdleTimeout = i
		}
	}
	if val := os.Getenv("LLAMAGATE_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("LLAMAGATE_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("LLAMAGATE_TELEMETRY_TRACING_ENDPOINT"); val != "" {
		cfg.Telemetry.Tracing.Endpoint = val
	}
	if val := os.Getenv("LLAMAGATE_AUDIT_PATH"); val != "" {
		cfg.Audit.Path = val
	}
}
