package worker

import (
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// StopFlag is the worker-side cancellation signal. The gateway requests a
// stop by writing a single byte to a dedicated control pipe (distinct from
// the stdin/stdout IPC pipe); the worker polls the flag between streamed
// chunks. It is an atomic.Bool fed by a pipe reader rather than shared
// memory, because a pipe is what os/exec actually gives a parent/child
// pair.
type StopFlag struct {
	set atomic.Bool
}

// Set marks the flag as requested. Idempotent.
func (f *StopFlag) Set() { f.set.Store(true) }

// Clear resets the flag. Called at the start of each GENERATE_STREAM so a
// stale signal from a prior, already-finished stream cannot cancel the
// next one.
func (f *StopFlag) Clear() { f.set.Store(false) }

// IsSet reports the current state without blocking.
func (f *StopFlag) IsSet() bool { return f.set.Load() }

// WatchControlPipe reads single bytes from r for the life of the process
// and sets f on every byte received. r reaching EOF (the gateway closed
// its end, e.g. during shutdown) ends the loop quietly.
func (f *StopFlag) WatchControlPipe(r io.Reader, logger *slog.Logger) {
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			f.Set()
		}
		if err != nil {
			if err != io.EOF && logger != nil {
				logger.Debug("control pipe closed", "error", err)
			}
			return
		}
	}
}

// asChannel returns a channel that is closed once f becomes set, polling
// at the given interval. done lets the caller stop the poller goroutine
// once the stream it's guarding has ended for any other reason, so a
// stream that finishes naturally doesn't leak a ticking goroutine.
func (f *StopFlag) asChannel(interval time.Duration, done <-chan struct{}) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if f.IsSet() {
					close(ch)
					return
				}
			case <-done:
				return
			}
		}
	}()
	return ch
}
