package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RecorderConfig contains configuration for NewRecorder.
type RecorderConfig struct {
	// Enabled controls whether Record does anything.
	Enabled bool

	// AsyncBuffer is the size of the async write channel. Default: 1000.
	AsyncBuffer int

	// WriteTimeout bounds both a single write and how long Record will
	// block trying to enqueue before giving up. Default: 5s.
	WriteTimeout time.Duration
}

// DefaultRecorderConfig returns the recorder's default configuration.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Enabled:      true,
		AsyncBuffer:  1000,
		WriteTimeout: 5 * time.Second,
	}
}

// Recorder records Events asynchronously so a slow disk never blocks the
// supervisor's critical section: a buffered channel feeds one writer
// goroutine, and Close drains the channel before returning. A single
// Record call suffices because every Event is complete at the moment it is
// known — there is no request half waiting for a response half.
type Recorder struct {
	storage Storage
	config  RecorderConfig
	eventCh chan *Event
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewRecorder creates a Recorder writing to storage and starts its
// background worker.
func NewRecorder(storage Storage, cfg RecorderConfig, logger *slog.Logger) *Recorder {
	if cfg.AsyncBuffer == 0 {
		cfg.AsyncBuffer = 1000
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audit.recorder")

	r := &Recorder{
		storage: storage,
		config:  cfg,
		eventCh: make(chan *Event, cfg.AsyncBuffer),
		done:    make(chan struct{}),
		logger:  logger,
	}

	r.wg.Add(1)
	go r.worker()

	logger.Info("audit recorder initialized", "async_buffer", cfg.AsyncBuffer)
	return r
}

// Record fills in ID and Timestamp if unset and enqueues event for async
// writing. It returns immediately unless the channel is full, in which
// case it waits up to WriteTimeout before dropping the event.
func (r *Recorder) Record(ctx context.Context, event *Event) error {
	if !r.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-r.done:
		r.logger.Warn("recorder shutting down, dropping event", "event_id", event.ID)
		return NewRecorderError(event.ID, context.Canceled)
	default:
	}

	select {
	case r.eventCh <- event:
		return nil
	case <-time.After(r.config.WriteTimeout):
		r.logger.Error("audit channel full, dropping event",
			"event_id", event.ID, "event_type", event.EventType)
		return NewRecorderError(event.ID, context.DeadlineExceeded)
	case <-r.done:
		r.logger.Warn("recorder shutting down, dropping event", "event_id", event.ID)
		return NewRecorderError(event.ID, context.Canceled)
	}
}

// Close drains the channel and waits for every pending event to be
// written before returning.
func (r *Recorder) Close() error {
	close(r.done)
	r.wg.Wait()
	return r.storage.Close()
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case event := <-r.eventCh:
			r.write(event)
		case <-r.done:
			for {
				select {
				case event := <-r.eventCh:
					r.write(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	if err := r.storage.Store(ctx, event); err != nil {
		r.logger.Error("failed to store audit event",
			"event_id", event.ID, "event_type", event.EventType, "error", err)
		return
	}

	r.logger.Debug("audit event recorded", "event_id", event.ID, "event_type", event.EventType, "model", event.Model)
}
