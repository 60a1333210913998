// Package audit records every slot transition the supervisor makes —
// loads, unloads, generate calls, crashes — to a local SQLite database, so
// an operator can reconstruct what the single GPU slot was doing at any
// point without tailing logs.
package audit

import "time"

// EventType names the kind of slot transition an Event records.
type EventType string

const (
	EventLoad          EventType = "load"
	EventLoadFailed    EventType = "load_failed"
	EventUnload        EventType = "unload"
	EventGenerateStart EventType = "generate_start"
	EventGenerateEnd   EventType = "generate_end"
	EventWorkerCrashed EventType = "worker_crashed"
	EventShutdown      EventType = "shutdown"
)

// Event is a single recorded slot transition.
type Event struct {
	// ID is a uuid assigned by the recorder at creation time.
	ID string

	// RequestID correlates this event to the HTTP request that caused it.
	// Only generate_start/generate_end events carry one; the slot
	// transitions the supervisor records (load, load_failed, unload,
	// worker_crashed, shutdown) leave it empty.
	RequestID string

	// Model is the model name involved, or "" for process-wide events.
	Model string

	EventType EventType

	// Reason further qualifies Unload ("replaced", "explicit", "idle",
	// "reload", "crashed", "shutdown") and is empty for other event
	// types.
	Reason string

	// FinishReason carries the internal finish reason for
	// EventGenerateEnd. Unlike the HTTP response, it preserves the
	// "cancelled" value rather than folding it into "stop".
	FinishReason string

	// DurationMS is how long the operation took, where applicable.
	DurationMS int64

	// Error is the error string, if the event represents a failure.
	Error string

	Timestamp time.Time
}
