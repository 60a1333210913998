// Package httpapi exposes the gateway's OpenAI-compatible HTTP surface:
// chat completions (streaming and non-streaming), model listing/unload,
// generation stop, and health/metrics endpoints.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"llamagate/internal/audit"
	"llamagate/internal/config"
	"llamagate/internal/health"
	"llamagate/internal/metrics"
	"llamagate/internal/supervisor"
	"llamagate/internal/tracing"
)

// AuditRecorder is the narrow interface handlers use to log generation
// start/end events, satisfied by *audit.Recorder. nil is a valid value:
// handlers simply skip recording when none is installed.
type AuditRecorder interface {
	Record(ctx context.Context, event *audit.Event) error
}

// Server is the gateway's HTTP server: one ServeMux wrapped in the
// recovery, request-id, logging, metrics, CORS, and timeout middleware
// chain, backed by the single-slot Supervisor.
type Server struct {
	config      config.ServerConfig
	supervisor  *supervisor.Supervisor
	health      *health.Checker
	metrics     *metrics.Collector
	audit       AuditRecorder
	tracer      *tracing.Tracer
	logger      *slog.Logger
	httpServer  *http.Server
	shutdownCh  chan struct{}
	shutdownOne sync.Once
	mu          sync.RWMutex
	isRunning   bool
}

// NewServer constructs a Server. The HTTP listener is not started until
// Start is called. auditRecorder and tracer may be nil, in which case
// generate start/end events are not recorded and no spans are created.
func NewServer(cfg config.ServerConfig, sup *supervisor.Supervisor, checker *health.Checker, collector *metrics.Collector, auditRecorder AuditRecorder, tracer *tracing.Tracer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:     cfg,
		supervisor: sup,
		health:     checker,
		metrics:    collector,
		audit:      auditRecorder,
		tracer:     tracer,
		logger:     logger.With("component", "httpapi.server"),
		shutdownCh: make(chan struct{}),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled, a
// termination signal arrives, or Shutdown is called from elsewhere.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("httpapi: server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      s.buildHandler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting httpapi server", "address", s.config.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("httpapi: server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down httpapi server")
		return s.Shutdown(context.Background())
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	case <-s.shutdownCh:
		s.logger.Info("shutdown requested")
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully stops the HTTP server, bounded by
// config.ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOne.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		timeout := s.config.ShutdownTimeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during httpapi server shutdown", "error", err)
				shutdownErr = fmt.Errorf("httpapi: shutdown error: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		close(s.shutdownCh)
		s.logger.Info("httpapi server stopped")
	})

	return shutdownErr
}

// IsRunning reports whether the HTTP listener is currently active.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the fully wrapped http.Handler, useful for tests that
// want to exercise routes with httptest without binding a real listener.
func (s *Server) Handler() http.Handler {
	return s.buildHandler()
}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()

	h := &handlers{supervisor: s.supervisor, health: s.health, metrics: s.metrics, audit: s.audit, tracer: s.tracer, logger: s.logger}
	mux.Handle("/v1/chat/completions", http.HandlerFunc(h.chatCompletions))
	mux.Handle("/v1/models", http.HandlerFunc(h.listModels))
	mux.Handle("/v1/models/", http.HandlerFunc(h.unloadModel))
	mux.Handle("/v1/generation/stop", http.HandlerFunc(h.stopGeneration))
	mux.Handle("/healthz", http.HandlerFunc(h.healthz))
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	writeTimeout := s.config.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Second
	}

	return chain(mux,
		recoveryMiddleware(s.logger),
		requestIDMiddleware,
		loggingMiddleware(s.logger),
		metricsMiddleware(s.metrics),
		corsMiddleware(s.config.CORS),
		timeoutMiddleware(writeTimeout),
	)
}
