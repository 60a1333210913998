package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Reaper periodically evicts an idle active model: a cron.Cron running a
// single entry, with eviction failures logged and swallowed so a
// misbehaving eviction never takes down the scheduler itself.
type Reaper struct {
	supervisor  *Supervisor
	idleTimeout time.Duration
	cron        *cron.Cron
	logger      *slog.Logger
	mu          sync.Mutex
	running     bool
}

// NewReaper builds a Reaper that evicts the active model once it has been
// idle for idleTimeout. checkInterval is not stored; the check cadence is
// the interval passed to Start.
func NewReaper(supervisor *Supervisor, checkInterval, idleTimeout time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		supervisor:  supervisor,
		idleTimeout: idleTimeout,
		cron:        cron.New(),
		logger:      logger.With("component", "supervisor.reaper"),
	}
}

// Start registers the "@every <checkInterval>" cron entry and begins
// running it. Operators configure a plain duration; cron expressions are
// never accepted from config.
func (r *Reaper) Start(ctx context.Context, checkInterval time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	spec := fmt.Sprintf("@every %s", checkInterval)
	if _, err := r.cron.AddFunc(spec, func() { r.runEviction(ctx) }); err != nil {
		return fmt.Errorf("supervisor: scheduling idle reaper: %w", err)
	}

	r.cron.Start()
	r.running = true
	r.logger.Info("idle reaper started", "check_interval", checkInterval, "idle_timeout", r.idleTimeout)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	return nil
}

func (r *Reaper) runEviction(ctx context.Context) {
	evicted, err := r.supervisor.UnloadIdleModels(ctx, r.idleTimeout)
	if err != nil {
		r.logger.Error("idle eviction failed", "error", err)
		return
	}
	if len(evicted) > 0 {
		r.logger.Info("evicted idle model", "models", evicted)
	}
}

// Stop stops the cron scheduler and waits for any in-flight eviction to
// finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.running = false
	r.logger.Info("idle reaper stopped")
}
