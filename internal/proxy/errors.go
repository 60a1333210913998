// Package proxy represents one worker process from the gateway's side: it
// owns the child handle and IPC endpoint, serializes the single in-flight
// request, and translates the wire protocol into typed Go calls.
package proxy

import (
	"fmt"
	"time"
)

// Each error kind is a distinct struct (not a sentinel value) so callers
// can carry a message and, where relevant, an underlying cause.

// LoadFailedError reports that the worker could not instantiate the model.
type LoadFailedError struct {
	Model string
	Cause error
}

func (e *LoadFailedError) Error() string {
	return fmt.Sprintf("proxy: load failed for model %q: %v", e.Model, e.Cause)
}
func (e *LoadFailedError) Unwrap() error { return e.Cause }

// WorkerNotRunningError reports an operation attempted against a Proxy
// whose child process is not alive.
type WorkerNotRunningError struct {
	Model string
}

func (e *WorkerNotRunningError) Error() string {
	return fmt.Sprintf("proxy: worker for model %q is not running", e.Model)
}

// WorkerCrashedError reports that the IPC pipe closed mid-operation.
type WorkerCrashedError struct {
	Model string
	Op    string
}

func (e *WorkerCrashedError) Error() string {
	return fmt.Sprintf("proxy: worker for model %q crashed during %s", e.Model, e.Op)
}

// TimeoutError reports a bounded wait exceeded.
type TimeoutError struct {
	Model   string
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("proxy: %s for model %q timed out after %s", e.Op, e.Model, e.Timeout)
}

// GenerationError reports a worker-side failure during execution (an
// ERROR response to GENERATE, GENERATE_STREAM, or TOKENIZE).
type GenerationError struct {
	Model   string
	Message string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("proxy: generation error for model %q: %s", e.Model, e.Message)
}

// ProtocolError reports an unexpected response tag or id mismatch — a
// defect in the worker or the transport, never a normal runtime outcome.
type ProtocolError struct {
	Model   string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("proxy: protocol error for model %q: %s", e.Model, e.Message)
}
