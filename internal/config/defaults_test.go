package config

import "testing"

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("ListenAddress = %q, want %q", cfg.Server.ListenAddress, DefaultListenAddress)
	}
	if cfg.Server.CORS.MaxAge != DefaultCORSMaxAge {
		t.Errorf("CORS.MaxAge = %d, want %d", cfg.Server.CORS.MaxAge, DefaultCORSMaxAge)
	}
	if len(cfg.Server.CORS.AllowedOrigins) != 1 || cfg.Server.CORS.AllowedOrigins[0] != "*" {
		t.Errorf("CORS.AllowedOrigins = %v", cfg.Server.CORS.AllowedOrigins)
	}
	if cfg.ModelManager.NCtx != DefaultNCtx {
		t.Errorf("NCtx = %d, want %d", cfg.ModelManager.NCtx, DefaultNCtx)
	}
	if cfg.ModelManager.CheckInterval != DefaultCheckInterval {
		t.Errorf("CheckInterval = %d, want %d", cfg.ModelManager.CheckInterval, DefaultCheckInterval)
	}
	if cfg.Audit.Path != DefaultAuditPath {
		t.Errorf("Audit.Path = %q, want %q", cfg.Audit.Path, DefaultAuditPath)
	}
}

func TestApplyDefaultsIdempotent(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.ModelManager.NThreads = 32
	ApplyDefaults(cfg)

	if cfg.ModelManager.NThreads != 32 {
		t.Errorf("ApplyDefaults overwrote an already-set field: NThreads = %d", cfg.ModelManager.NThreads)
	}
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{Server: ServerConfig{ListenAddress: "10.0.0.1:1234"}}
	ApplyDefaults(cfg)

	if cfg.Server.ListenAddress != "10.0.0.1:1234" {
		t.Errorf("ApplyDefaults overwrote an explicit ListenAddress: %q", cfg.Server.ListenAddress)
	}
}
