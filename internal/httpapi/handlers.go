package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"llamagate/internal/audit"
	"llamagate/internal/health"
	"llamagate/internal/logging"
	"llamagate/internal/metrics"
	"llamagate/internal/supervisor"
	"llamagate/internal/tracing"
)

// handlers holds the dependencies every route needs: the supervisor (the
// single seam into the model subsystem), the health checker, the metrics
// collector, and an optional audit recorder.
type handlers struct {
	supervisor *supervisor.Supervisor
	health     *health.Checker
	metrics    *metrics.Collector
	audit      AuditRecorder
	tracer     *tracing.Tracer
	logger     *slog.Logger
}

// startSpan opens a span when tracing is wired, also stamping the trace id
// into the context so log lines can carry it. The returned span is nil when
// no tracer is installed.
func (h *handlers) startSpan(ctx context.Context, name, model string) (context.Context, trace.Span) {
	if h.tracer == nil {
		return ctx, nil
	}
	ctx, span := h.tracer.Start(ctx, name, attribute.String("model", model))
	if tid := tracing.TraceID(ctx); tid != "" {
		ctx = logging.WithTraceID(ctx, tid)
	}
	return ctx, span
}

// chatCompletions serves POST /v1/chat/completions, OpenAI-compatible,
// streaming and non-streaming.
func (h *handlers) chatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, newInvalidRequestError("method not allowed", ""))
		return
	}

	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, newInvalidRequestError("invalid request body: "+err.Error(), "body"))
		return
	}
	if len(req.Messages) == 0 {
		writeErrorResponse(w, newInvalidRequestError("messages must not be empty", "messages"))
		return
	}

	ctx := logging.WithModel(r.Context(), req.Model)
	requestID := getRequestID(ctx)
	r = r.WithContext(ctx)

	wk, err := h.supervisor.GetModel(ctx, req.Model)
	if err != nil {
		h.logger.Warn("model resolution failed", append(logging.FieldsFromContext(ctx), "error", err)...)
		writeErrorResponse(w, translateError(err))
		return
	}

	prompt := renderPrompt(req.Messages)
	temperature := req.temperature()
	maxTokens := req.maxTokens()

	if req.Stream {
		h.streamChatCompletion(w, r, wk, req.Model, requestID, prompt, temperature, maxTokens)
		return
	}
	h.generateChatCompletion(w, r, wk, req.Model, requestID, prompt, temperature, maxTokens)
}

func (h *handlers) generateChatCompletion(w http.ResponseWriter, r *http.Request, wk supervisor.Worker, model, requestID, prompt string, temperature float64, maxTokens int) {
	ctx, span := h.startSpan(r.Context(), "generate", model)
	if span != nil {
		defer span.End()
	}
	start := time.Now()

	h.recordGenerateStart(ctx, model, requestID)
	text, finishReason, usage, err := wk.Generate(ctx, prompt, temperature, maxTokens)
	duration := time.Since(start)
	if err != nil {
		tracing.SetError(span, err)
		h.recordGenerateEnd(ctx, model, requestID, "", duration, err)
		if h.metrics != nil {
			h.metrics.RecordGenerate(model, "non_stream", "error", duration, 0)
		}
		writeErrorResponse(w, translateError(err))
		return
	}

	h.recordGenerateEnd(ctx, model, requestID, finishReason, duration, nil)
	if h.metrics != nil {
		h.metrics.RecordGenerate(model, "non_stream", "ok", duration, usage.CompletionTokens)
	}

	resp := formatChatCompletionResponse(requestID, model, text, finishReason, usage, time.Now().Unix())
	if err := writeJSONResponse(w, http.StatusOK, resp); err != nil {
		h.logger.Error("failed to write chat completion response", "error", err)
	}
}

func (h *handlers) streamChatCompletion(w http.ResponseWriter, r *http.Request, wk supervisor.Worker, model, requestID, prompt string, temperature float64, maxTokens int) {
	ctx, span := h.startSpan(r.Context(), "generate_stream", model)
	if span != nil {
		defer span.End()
	}
	start := time.Now()

	h.recordGenerateStart(ctx, model, requestID)

	it, err := wk.GenerateStream(ctx, prompt, temperature, maxTokens)
	if err != nil {
		tracing.SetError(span, err)
		h.recordGenerateEnd(ctx, model, requestID, "", time.Since(start), err)
		writeErrorResponse(w, translateError(err))
		return
	}

	setSSEHeaders(w)
	createdUnix := time.Now().Unix()
	firstChunk := true
	tokens := 0

	for {
		chunk, err := it.Next(ctx)
		if err != nil {
			tracing.SetError(span, err)
			h.recordGenerateEnd(ctx, model, requestID, "", time.Since(start), err)
			if h.metrics != nil {
				h.metrics.RecordGenerate(model, "stream", "error", time.Since(start), tokens)
			}
			_ = writeSSEError(w, translateError(err))
			return
		}

		if chunk.Done {
			_ = writeSSEChunk(w, formatStreamChunk(requestID, model, "", chunk.FinishReason, "", createdUnix))
			_ = writeSSEDone(w)
			h.recordGenerateEnd(ctx, model, requestID, chunk.FinishReason, time.Since(start), nil)
			if h.metrics != nil {
				h.metrics.RecordGenerate(model, "stream", "ok", time.Since(start), tokens)
			}
			return
		}

		role := ""
		if firstChunk {
			role = "assistant"
			firstChunk = false
		}
		tokens++
		if err := writeSSEChunk(w, formatStreamChunk(requestID, model, chunk.Text, "", role, createdUnix)); err != nil {
			h.logger.Warn("client disconnected mid-stream", "request_id", requestID, "error", err)
			return
		}
	}
}

func (h *handlers) recordGenerateStart(ctx context.Context, model, requestID string) {
	if h.audit == nil {
		return
	}
	_ = h.audit.Record(ctx, &audit.Event{Model: model, RequestID: requestID, EventType: audit.EventGenerateStart})
}

func (h *handlers) recordGenerateEnd(ctx context.Context, model, requestID, finishReason string, duration time.Duration, err error) {
	if h.audit == nil {
		return
	}
	event := &audit.Event{
		Model:        model,
		RequestID:    requestID,
		EventType:    audit.EventGenerateEnd,
		FinishReason: finishReason,
		DurationMS:   duration.Milliseconds(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	_ = h.audit.Record(ctx, event)
}

// listModels serves GET /v1/models.
func (h *handlers) listModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, newInvalidRequestError("method not allowed", ""))
		return
	}

	statuses := h.supervisor.ListModels()
	data := make([]map[string]any, 0, len(statuses))
	for _, st := range statuses {
		data = append(data, map[string]any{
			"id":       st.Name,
			"object":   "model",
			"filename": st.Filename,
			"loaded":   st.Loaded,
		})
	}
	_ = writeJSONResponse(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

// unloadModel serves DELETE /v1/models/{name}.
func (h *handlers) unloadModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeErrorResponse(w, newInvalidRequestError("method not allowed", ""))
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/v1/models/")
	if name == "" {
		writeErrorResponse(w, newInvalidRequestError("model name is required", "name"))
		return
	}

	ok, err := h.supervisor.UnloadModel(r.Context(), name)
	if err != nil {
		var unknownModel *supervisor.UnknownModelError
		if errors.As(err, &unknownModel) {
			writeErrorResponse(w, newNotFoundError(err.Error()))
			return
		}
		writeErrorResponse(w, translateError(err))
		return
	}
	_ = writeJSONResponse(w, http.StatusOK, map[string]any{"unloaded": ok})
}

// stopGeneration serves POST /v1/generation/stop.
func (h *handlers) stopGeneration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, newInvalidRequestError("method not allowed", ""))
		return
	}

	stopped, err := h.supervisor.StopGeneration()
	if err != nil {
		writeErrorResponse(w, translateError(err))
		return
	}
	_ = writeJSONResponse(w, http.StatusOK, map[string]any{"stopped": stopped})
}

// healthz serves GET /healthz, reporting readiness when ?ready=1 is set
// and liveness otherwise.
func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ready, _ := strconv.ParseBool(r.URL.Query().Get("ready"))
	var status health.HealthStatus
	if ready {
		status = h.health.CheckReadiness(ctx)
	} else {
		status = h.health.CheckLiveness(ctx)
	}

	code := http.StatusOK
	if status.Status != "ok" && status.Status != "ready" {
		code = http.StatusServiceUnavailable
	}
	_ = writeJSONResponse(w, code, status)
}

// renderPrompt joins a chat message list into a flat prompt string.
// Per-model chat templates (the GGUF metadata kind) are applied by the
// deployment in front of this gateway, not here.
func renderPrompt(messages []ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("assistant: ")
	return b.String()
}
