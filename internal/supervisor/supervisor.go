// Package supervisor implements the single-slot model manager: at most one
// worker subprocess is ever alive for this gateway, switching between
// models shuts the previous one down before the next one starts, and an
// idle model is evicted automatically.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"llamagate/internal/audit"
	"llamagate/internal/metrics"
	"llamagate/internal/proxy"
	"llamagate/internal/registry"
	"llamagate/internal/worker"
)

// AuditRecorder is the narrow interface the supervisor uses to record slot
// transitions, satisfied by *audit.Recorder. Defined here (rather than
// taking a concrete *audit.Recorder) the same way Worker is defined as an
// interface: so supervisor tests can assert on recorded events with a
// fake instead of standing up a real SQLite-backed recorder.
type AuditRecorder interface {
	Record(ctx context.Context, event *audit.Event) error
}

// Worker is the subset of *proxy.Proxy the supervisor depends on, kept as
// an interface so tests can exercise the slot state machine without
// spawning real subprocesses.
type Worker interface {
	Start(ctx context.Context) error
	Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, string, worker.Usage, error)
	GenerateStream(ctx context.Context, prompt string, temperature float64, maxTokens int) (*proxy.StreamIterator, error)
	Tokenize(ctx context.Context, text string, addBOS bool) ([]int32, int, error)
	StopGeneration() error
	Shutdown(ctx context.Context) error
	IsAlive() bool
	Health() proxy.Health
}

// WorkerFactory constructs a Worker for a resolved registry entry and its
// merged load parameters. Production code supplies one that builds a real
// *proxy.Proxy; tests supply a fake.
type WorkerFactory func(entry registry.Entry, params worker.LoadParams) Worker

// Config is the subset of the gateway configuration the supervisor needs:
// where to scan for models, the configured default, and the global/
// per-model LOAD parameter overrides.
type Config struct {
	ModelsDir      string
	DefaultModel   string
	GlobalDefaults proxy.GlobalDefaults
	Overrides      map[string]proxy.Overrides
}

// ModelStatus reports one registry entry's current load state.
type ModelStatus struct {
	Name     string
	Filename string
	Loaded   bool
	LastUsed time.Time
}

type slot struct {
	name     string
	w        Worker
	lastUsed time.Time
}

// Supervisor owns the model registry and the single ActiveSlot. All
// exported methods are safe for concurrent use.
type Supervisor struct {
	mu sync.Mutex

	registry *registry.Registry
	config   Config
	factory  WorkerFactory
	active   *slot
	logger   *slog.Logger
	audit    AuditRecorder
	metrics  *metrics.Collector
}

// SetAuditRecorder installs the recorder used to log slot transitions.
// Optional: a Supervisor with no recorder installed simply skips
// recording, which keeps the existing New(...) constructor signature
// usable without an audit backend in tests.
func (s *Supervisor) SetAuditRecorder(r AuditRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = r
}

// SetMetrics installs the collector used for slot-transition metrics.
// Optional, like SetAuditRecorder: a Supervisor with no collector installed
// simply skips recording.
func (s *Supervisor) SetMetrics(collector *metrics.Collector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = collector
}

// unloadLocked tears down the active worker and records the transition
// under the given reason ("replaced", "explicit", "idle", "reload",
// "crashed", "shutdown"). Must be called with s.mu held and s.active
// non-nil.
func (s *Supervisor) unloadLocked(ctx context.Context, reason string) error {
	name := s.active.name
	err := s.active.w.Shutdown(ctx)
	if err != nil {
		s.logger.Warn("error shutting down worker", "model", name, "reason", reason, "error", err)
	}
	s.recordLocked(ctx, audit.Event{Model: name, EventType: audit.EventUnload, Reason: reason})
	if s.metrics != nil {
		s.metrics.RecordUnload(name, reason)
		s.metrics.SetActiveModel("")
		if reason == "idle" {
			s.metrics.RecordReaperEviction(name)
		}
	}
	s.active = nil
	return err
}

func (s *Supervisor) recordLocked(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, &event); err != nil {
		s.logger.Warn("failed to record audit event", "event_type", event.EventType, "error", err)
	}
}

// New constructs a Supervisor from an already-scanned Registry.
func New(reg *registry.Registry, config Config, factory WorkerFactory, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{registry: reg, config: config, factory: factory, logger: logger}
}

// GetModel resolves name (or the configured default, when empty) and
// ensures exactly the requested model occupies the live slot, shutting
// down whatever held it before. The whole transition happens under s.mu so
// concurrent callers always observe a coherent slot and never two live
// workers.
func (s *Supervisor) GetModel(ctx context.Context, name string) (Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		name = s.registry.DefaultName()
	}
	if name == "" {
		return nil, &UnknownModelError{Name: name}
	}
	entry, ok := s.registry.Get(name)
	if !ok {
		return nil, &UnknownModelError{Name: name}
	}
	if _, err := os.Stat(entry.Path); err != nil {
		// Discovered at scan time but gone now: the registry entry is
		// stale until the next reload.
		return nil, &ModelFileMissingError{Name: name, Path: entry.Path}
	}

	if s.active != nil && s.active.name == name && s.active.w.IsAlive() {
		s.active.lastUsed = time.Now()
		return s.active.w, nil
	}

	if s.active != nil {
		reason := "replaced"
		if s.active.name == name && !s.active.w.IsAlive() {
			// Same model requested, but the previous worker is no longer
			// alive: crash recovery. The dead slot is observed lazily, on
			// the next GetModel, rather than by a background monitor.
			reason = "crashed"
			s.recordLocked(ctx, audit.Event{Model: s.active.name, EventType: audit.EventWorkerCrashed})
		}
		_ = s.unloadLocked(ctx, reason)
	}

	params, err := proxy.ResolveLoadParams(s.config.GlobalDefaults, s.config.Overrides[name])
	if err != nil {
		return nil, fmt.Errorf("supervisor: resolving load params for %q: %w", name, err)
	}

	start := time.Now()
	w := s.factory(entry, params)
	if err := w.Start(ctx); err != nil {
		// The slot stays empty on a start failure; the caller decides
		// whether to retry.
		s.recordLocked(ctx, audit.Event{Model: name, EventType: audit.EventLoadFailed, Error: err.Error()})
		return nil, err
	}

	s.recordLocked(ctx, audit.Event{Model: name, EventType: audit.EventLoad, DurationMS: time.Since(start).Milliseconds()})
	if s.metrics != nil {
		s.metrics.RecordLoad(name, time.Since(start))
		s.metrics.SetActiveModel(name)
	}
	s.active = &slot{name: name, w: w, lastUsed: time.Now()}
	return w, nil
}

// UnloadModel evicts the active model if it matches name (or if name is
// empty). Returns false without error if the slot is already empty or
// holds a different, known model; returns UnknownModelError if name does
// not name a registry entry at all.
func (s *Supervisor) UnloadModel(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name != "" {
		if _, ok := s.registry.Get(name); !ok {
			return false, &UnknownModelError{Name: name}
		}
	}

	if s.active == nil {
		return false, nil
	}
	if name != "" && name != s.active.name {
		return false, nil
	}

	return true, s.unloadLocked(ctx, "explicit")
}

// UnloadAllModels is equivalent to UnloadModel with no name; with a single
// slot this evicts at most one model.
func (s *Supervisor) UnloadAllModels(ctx context.Context) (int, error) {
	ok, err := s.UnloadModel(ctx, "")
	if ok {
		return 1, err
	}
	return 0, err
}

// StopGeneration forwards to the active Proxy's StopGeneration, which
// itself does not take any per-stream mutex, so this remains callable
// while a stream is in progress on another goroutine.
func (s *Supervisor) StopGeneration() (bool, error) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	if active == nil {
		return false, nil
	}
	return true, active.w.StopGeneration()
}

// UnloadIdleModels evicts the active model if it has been idle for at
// least idleTimeout, returning its name in a one-element slice, or nil if
// nothing was evicted.
func (s *Supervisor) UnloadIdleModels(ctx context.Context, idleTimeout time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return nil, nil
	}
	if time.Since(s.active.lastUsed) < idleTimeout {
		return nil, nil
	}

	name := s.active.name
	err := s.unloadLocked(ctx, "idle")
	return []string{name}, err
}

// ListModels reports every registry entry with its current load state.
func (s *Supervisor) ListModels() []ModelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusesLocked()
}

// GetModelStatus is ListModels keyed by name.
func (s *Supervisor) GetModelStatus() map[string]ModelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ModelStatus)
	for _, st := range s.statusesLocked() {
		out[st.Name] = st
	}
	return out
}

func (s *Supervisor) statusesLocked() []ModelStatus {
	entries := s.registry.List()
	out := make([]ModelStatus, 0, len(entries))
	for _, e := range entries {
		st := ModelStatus{Name: e.Name, Filename: e.Filename}
		if s.active != nil && s.active.name == e.Name {
			st.Loaded = true
			st.LastUsed = s.active.lastUsed
		}
		out = append(out, st)
	}
	return out
}

// DefaultModelName returns the registry's currently resolved default.
func (s *Supervisor) DefaultModelName() string {
	return s.registry.DefaultName()
}

// Shutdown evicts any active worker and records the gateway's own exit.
// Called once, when the gateway process is going down.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.active != nil {
		err = s.unloadLocked(ctx, "shutdown")
	}
	s.recordLocked(ctx, audit.Event{EventType: audit.EventShutdown})
	return err
}

// UpdateConfig shuts down the active worker (if any), rescans the models
// directory, and recomputes the default, all under one critical section.
func (s *Supervisor) UpdateConfig(ctx context.Context, newConfig Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		_ = s.unloadLocked(ctx, "reload")
	}

	reg, err := registry.Scan(newConfig.ModelsDir, newConfig.DefaultModel)
	if err != nil {
		return fmt.Errorf("supervisor: reloading registry: %w", err)
	}

	s.registry = reg
	s.config = newConfig
	return nil
}
