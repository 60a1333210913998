package logging

import "context"

// Context keys for the fields this gateway threads through a request's
// lifetime: the generated request id, the resolved model name, and the
// trace id a span attaches once tracing is enabled.
type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	ModelKey     contextKey = "model"
	TraceIDKey   contextKey = "trace_id"
)

// WithRequestID adds a request id to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request id from the context, or "" if absent.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithModel adds a model name to the context.
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, ModelKey, model)
}

// GetModel retrieves the model name from the context, or "" if absent.
func GetModel(ctx context.Context) string {
	if v, ok := ctx.Value(ModelKey).(string); ok {
		return v
	}
	return ""
}

// WithTraceID adds a trace id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace id from the context, or "" if absent.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// FieldsFromContext extracts every known field present in ctx as slog
// key-value pairs, suitable for (*slog.Logger).With or .Log.
func FieldsFromContext(ctx context.Context) []any {
	var fields []any
	if v := GetRequestID(ctx); v != "" {
		fields = append(fields, "request_id", v)
	}
	if v := GetModel(ctx); v != "" {
		fields = append(fields, "model", v)
	}
	if v := GetTraceID(ctx); v != "" {
		fields = append(fields, "trace_id", v)
	}
	return fields
}
