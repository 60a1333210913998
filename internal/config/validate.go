package config

import (
	"fmt"
	"os"
	"strings"
)

// FieldError represents a validation error for a specific configuration
// field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g.,
	// "model_manager.models_directory").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every field error found in a Config.
type ValidationError struct {
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		sb.WriteString("  - " + err.Error() + "\n")
	}
	return sb.String()
}

// Validate checks cfg for the invariants startup depends on (models
// directory must exist, n_threads defaults sanely, etc.) and returns a
// ValidationError collecting every violation found.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateModelManager(&cfg.ModelManager)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError
	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	}
	return errs
}

func validateModelManager(cfg *ModelManagerConfig) []FieldError {
	var errs []FieldError
	if cfg.ModelsDirectory == "" {
		errs = append(errs, FieldError{Field: "model_manager.models_directory", Message: "models directory is required"})
		return errs
	}
	info, err := os.Stat(cfg.ModelsDirectory)
	if err != nil {
		errs = append(errs, FieldError{Field: "model_manager.models_directory", Message: fmt.Sprintf("does not exist: %v", err)})
	} else if !info.IsDir() {
		errs = append(errs, FieldError{Field: "model_manager.models_directory", Message: "is not a directory"})
	}
	if cfg.NCtx < 0 {
		errs = append(errs, FieldError{Field: "model_manager.n_ctx", Message: "must not be negative"})
	}
	if cfg.NGPULayers < 0 {
		errs = append(errs, FieldError{Field: "model_manager.n_gpu_layers", Message: "must not be negative"})
	}
	if cfg.NThreads < 0 {
		errs = append(errs, FieldError{Field: "model_manager.n_threads", Message: "must not be negative"})
	}
	if cfg.CheckInterval <= 0 {
		errs = append(errs, FieldError{Field: "model_manager.check_interval", Message: "must be positive"})
	}
	if cfg.IdleTimeout <= 0 {
		errs = append(errs, FieldError{Field: "model_manager.idle_timeout", Message: "must be positive"})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.level", Message: "must be one of debug, info, warn, error"})
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.format", Message: "must be one of json, text"})
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "required when tracing is enabled"})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0 and 1"})
	}
	return errs
}
