package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"llamagate/internal/config"
	"llamagate/internal/logging"
	"llamagate/internal/metrics"
)

// RequestIDHeader is the header clients may set (and that is always set on
// the response) carrying the request's correlation id.
const RequestIDHeader = "X-Request-ID"

// requestIDMiddleware assigns a request id (from the client header, or a
// freshly generated one) and stores it in the request context. It must sit
// outside loggingMiddleware and metricsMiddleware so both observe the id.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = generateRequestID()
		}
		ctx := logging.WithRequestID(r.Context(), requestID)
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func generateRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "req-unavailable"
	}
	return hex.EncodeToString(buf)
}

// getRequestID reads the request id set by requestIDMiddleware, or ""
// if none was set.
func getRequestID(ctx context.Context) string {
	return logging.GetRequestID(ctx)
}

// responseWriter wraps http.ResponseWriter to capture the status code
// written, for loggingMiddleware.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs each request's start (debug) and completion
// (info/warn/error by status class).
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := getRequestID(r.Context())

			logger.DebugContext(r.Context(), "request started",
				"request_id", requestID, "method", r.Method, "path", r.URL.Path)

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			latency := time.Since(start)
			fields := []any{
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"latency_ms", latency.Milliseconds(),
			}
			switch {
			case rw.statusCode >= 500:
				logger.ErrorContext(r.Context(), "request completed", fields...)
			case rw.statusCode >= 400:
				logger.WarnContext(r.Context(), "request completed", fields...)
			default:
				logger.InfoContext(r.Context(), "request completed", fields...)
			}
		})
	}
}

// recoveryMiddleware converts a panic anywhere downstream into a 500
// server_error response instead of crashing the gateway process.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorContext(r.Context(), "panic recovered",
						"request_id", getRequestID(r.Context()),
						"panic", rec,
						"stack", string(debug.Stack()),
					)
					errResp := newServerError("internal server error")
					if err := writeErrorResponse(w, errResp); err != nil {
						logger.ErrorContext(r.Context(), "failed to write panic response", "error", err)
					}
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// timeoutMiddleware bounds the time a handler may run, writing a 504
// gateway_timeout_error if the deadline is reached before the handler
// finishes.
func timeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			go func() {
				next.ServeHTTP(w, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				errResp := newGatewayTimeoutError("request exceeded the configured timeout")
				_ = writeErrorResponse(w, errResp)
			}
		})
	}
}

// corsMiddleware implements the CORS preflight/response-header dance.
func corsMiddleware(cfg config.CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			if origin != "" && isOriginAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", joinStrings(cfg.AllowedMethods))
			w.Header().Set("Access-Control-Allow-Headers", joinStrings(cfg.AllowedHeaders))
			if cfg.MaxAge > 0 {
				w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isOriginAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func joinStrings(vs []string) string {
	out := ""
	for i, v := range vs {
		if i > 0 {
			out += ", "
		}
		out += v
	}
	return out
}

// metricsMiddleware records request count and latency per route. collector
// may be nil, in which case the middleware is a passthrough.
func metricsMiddleware(collector *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if collector == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)
			collector.RecordHTTPRequest(r.URL.Path, r.Method, strconv.Itoa(rw.statusCode), time.Since(start))
		})
	}
}

// chain applies middlewares in order so the first one listed is outermost.
func chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
