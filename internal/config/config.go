// Package config loads and validates the gateway's configuration: where
// models live, how they are loaded, and the ambient HTTP/logging/audit/
// telemetry surface.
package config

import "time"

// Config is the root configuration structure for llamagate.
type Config struct {
	// Server contains HTTP listener configuration for the OpenAI-compatible
	// surface.
	Server ServerConfig `yaml:"server"`

	// ModelManager contains the single-slot supervisor's directory scan,
	// global LOAD defaults, and reaper cadence.
	ModelManager ModelManagerConfig `yaml:"model_manager"`

	// ModelSettings maps a model name to its per-model LOAD parameter
	// overrides, overlaid onto ModelManager's global defaults.
	ModelSettings map[string]ModelOverride `yaml:"model_settings"`

	// Telemetry contains logging, metrics, and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Audit contains the slot-transition audit log's storage configuration.
	Audit AuditConfig `yaml:"audit"`
}

// ServerConfig contains configuration for the HTTP proxy server.
type ServerConfig struct {
	// ListenAddress is the address and port for the proxy to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. Generation requests are expected to exceed this via their
	// own streaming deadlines, not the server's write timeout.
	// Default: 300s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next
	// request when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful
	// shutdown before forcing the listener closed.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// CORS contains Cross-Origin Resource Sharing configuration.
	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig contains CORS configuration for the HTTP surface.
type CORSConfig struct {
	// Enabled controls whether CORS headers are emitted.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// AllowedOrigins is a list of allowed origins for CORS requests.
	// Default: ["*"]
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AllowedMethods is a list of allowed HTTP methods for CORS requests.
	// Default: ["GET", "POST", "OPTIONS"]
	AllowedMethods []string `yaml:"allowed_methods"`

	// AllowedHeaders is a list of allowed HTTP headers for CORS requests.
	// Default: ["Authorization", "Content-Type", "X-Request-ID"]
	AllowedHeaders []string `yaml:"allowed_headers"`

	// MaxAge is the maximum age (in seconds) for preflight request cache.
	// Default: 3600
	MaxAge int `yaml:"max_age"`
}

// ModelManagerConfig is the subset of config the supervisor and registry
// consume directly.
type ModelManagerConfig struct {
	// ModelsDirectory is the path scanned for *.gguf files. Must exist.
	ModelsDirectory string `yaml:"models_directory"`

	// DefaultModel is the filename (with .gguf suffix) of the model loaded
	// when get_model() is called with no name. If empty, the first model
	// alphabetically is used.
	DefaultModel string `yaml:"default_model"`

	// NCtx is the global default context window size.
	// Default: 4096
	NCtx int `yaml:"n_ctx"`

	// NGPULayers is the global default number of layers offloaded to GPU.
	NGPULayers int `yaml:"n_gpu_layers"`

	// NThreads is the global default thread count.
	// Default: 8
	NThreads int `yaml:"n_threads"`

	// CheckInterval is the reaper's polling cadence, in seconds.
	// Default: 30
	CheckInterval int `yaml:"check_interval"`

	// IdleTimeout is the eviction threshold, in seconds. A model idle
	// longer than this is unloaded by the reaper.
	// Default: 600
	IdleTimeout int `yaml:"idle_timeout"`
}

// ModelOverride contains per-model LOAD parameter overrides. Any subset may
// be set; unset fields fall back to ModelManagerConfig's global defaults.
type ModelOverride struct {
	NCtx           int    `yaml:"n_ctx"`
	NGPULayers     int    `yaml:"n_gpu_layers"`
	NThreads       int    `yaml:"n_threads"`
	OverrideTensor string `yaml:"override_tensor"`
	OffloadKQV     bool   `yaml:"offload_kqv"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is registered.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "llamagate"
	Namespace string `yaml:"namespace"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is the service name attached to every span.
	// Default: "llamagate"
	ServiceName string `yaml:"service_name"`
}

// AuditConfig contains the slot-transition audit log's storage
// configuration.
type AuditConfig struct {
	// Enabled controls whether slot transitions are recorded.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file path.
	// Default: "data/audit.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long a write waits for the database to unlock.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}
