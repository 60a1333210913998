package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{ModelManager: ModelManagerConfig{ModelsDirectory: t.TempDir()}}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidateValidConfig(t *testing.T) {
	cfg := validConfig(t)
	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config to pass validation, got: %v", err)
	}
}

func TestValidateMultipleErrors(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Server.ListenAddress = ""
	cfg.ModelManager.ModelsDirectory = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	validationErr, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(validationErr.Errors) < 2 {
		t.Errorf("expected multiple errors, got %d", len(validationErr.Errors))
	}
	if !strings.Contains(validationErr.Error(), "validation failed with") {
		t.Errorf("error message should mention multiple errors: %s", validationErr.Error())
	}
}

func TestValidateModelsDirectoryMustExist(t *testing.T) {
	cfg := validConfig(t)
	cfg.ModelManager.ModelsDirectory = filepath.Join(t.TempDir(), "does-not-exist")

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation to fail for a missing models directory")
	}
}

func TestValidateModelsDirectoryMustBeADirectory(t *testing.T) {
	cfg := validConfig(t)
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg.ModelManager.ModelsDirectory = file

	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation to fail when models_directory is a file")
	}
}

func TestValidateLoggingLevel(t *testing.T) {
	cfg := validConfig(t)
	cfg.Telemetry.Logging.Level = "verbose"

	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation to fail for an unrecognized logging level")
	}
}

func TestValidateTracingRequiresEndpointWhenEnabled(t *testing.T) {
	cfg := validConfig(t)
	cfg.Telemetry.Tracing.Enabled = true
	cfg.Telemetry.Tracing.Endpoint = ""

	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation to fail when tracing is enabled with no endpoint")
	}
}

func TestValidateNegativeFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"n_ctx", func(c *Config) { c.ModelManager.NCtx = -1 }},
		{"n_gpu_layers", func(c *Config) { c.ModelManager.NGPULayers = -1 }},
		{"n_threads", func(c *Config) { c.ModelManager.NThreads = -1 }},
		{"check_interval", func(c *Config) { c.ModelManager.CheckInterval = 0 }},
		{"idle_timeout", func(c *Config) { c.ModelManager.IdleTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Errorf("expected validation to fail for invalid %s", tt.name)
			}
		})
	}
}
