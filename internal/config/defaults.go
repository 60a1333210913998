package config

import "time"

// Default values for configuration fields.
const (
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 300 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultCORSEnabled = true
	DefaultCORSMaxAge  = 3600

	DefaultNCtx          = 4096
	DefaultNThreads      = 8
	DefaultCheckInterval = 30
	DefaultIdleTimeoutS  = 600

	DefaultLoggingLevel  = "info"
	DefaultLoggingFormat = "json"

	DefaultMetricsEnabled   = true
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "llamagate"

	DefaultTracingEnabled     = false
	DefaultTracingSampleRatio = 1.0
	DefaultTracingService     = "llamagate"

	DefaultAuditEnabled     = true
	DefaultAuditPath        = "data/audit.db"
	DefaultAuditBusyTimeout = 5 * time.Second
)

// ApplyDefaults fills zero-valued fields of cfg with their defaults. It is
// idempotent and safe to call on an already-populated Config.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.CORS.MaxAge == 0 {
		cfg.Server.CORS.MaxAge = DefaultCORSMaxAge
	}
	if len(cfg.Server.CORS.AllowedOrigins) == 0 {
		cfg.Server.CORS.AllowedOrigins = []string{"*"}
	}
	if len(cfg.Server.CORS.AllowedMethods) == 0 {
		cfg.Server.CORS.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(cfg.Server.CORS.AllowedHeaders) == 0 {
		cfg.Server.CORS.AllowedHeaders = []string{"Authorization", "Content-Type", "X-Request-ID"}
	}

	if cfg.ModelManager.NCtx == 0 {
		cfg.ModelManager.NCtx = DefaultNCtx
	}
	if cfg.ModelManager.NThreads == 0 {
		cfg.ModelManager.NThreads = DefaultNThreads
	}
	if cfg.ModelManager.CheckInterval == 0 {
		cfg.ModelManager.CheckInterval = DefaultCheckInterval
	}
	if cfg.ModelManager.IdleTimeout == 0 {
		cfg.ModelManager.IdleTimeout = DefaultIdleTimeoutS
	}

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingService
	}

	if cfg.Audit.Path == "" {
		cfg.Audit.Path = DefaultAuditPath
	}
	if cfg.Audit.BusyTimeout == 0 {
		cfg.Audit.BusyTimeout = DefaultAuditBusyTimeout
	}
}
