package worker

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"llamagate/internal/ipc"
)

// stopPollInterval is how often the worker checks the StopFlag between
// streamed chunks.
const stopPollInterval = 20 * time.Millisecond

// Worker runs the subprocess command loop. It owns at most one
// ModelEngine, created lazily by LOAD and released by SHUTDOWN or process
// exit. Handlers execute strictly sequentially; there is no internal
// concurrency beyond the single streaming goroutine a GENERATE_STREAM
// request itself keeps alive until its terminal response.
type Worker struct {
	ch            *ipc.Channel
	engineFactory EngineFactory
	engine        ModelEngine
	stop          *StopFlag
	logger        *slog.Logger
}

// New constructs a Worker. engineFactory is called on each LOAD request
// that arrives while no engine is loaded.
func New(ch *ipc.Channel, engineFactory EngineFactory, stop *StopFlag, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{ch: ch, engineFactory: engineFactory, stop: stop, logger: logger}
}

// Run executes the command loop until end-of-stream or SHUTDOWN. It
// returns nil on either clean exit path; a non-nil error indicates the IPC
// transport itself failed. Handler failures are reported to the gateway as
// ERROR responses and never end the loop — only a broken transport does.
func (w *Worker) Run(ctx context.Context) error {
	defer func() {
		if w.engine != nil {
			w.engine.Close()
		}
	}()

	for {
		req, err := w.ch.RecvRequest()
		if err == io.EOF {
			w.logger.Info("ipc closed by peer, exiting")
			return nil
		}
		if err != nil {
			w.logger.Error("ipc receive failed, exiting", "error", err)
			return err
		}

		w.logger.Debug("request received", "id", req.ID, "command", req.Command)

		switch req.Command {
		case ipc.CommandLoad:
			w.handleLoad(ctx, req)
		case ipc.CommandGenerate:
			w.handleGenerate(ctx, req)
		case ipc.CommandGenerateStream:
			w.handleGenerateStream(ctx, req)
		case ipc.CommandTokenize:
			w.handleTokenize(req)
		case ipc.CommandStatus, ipc.CommandHeartbeat:
			w.handleLiveness(req)
		case ipc.CommandShutdown:
			w.sendResult(req.ID, map[string]any{"status": "shutdown"})
			if w.engine != nil {
				w.engine.Close()
				w.engine = nil
			}
			return nil
		default:
			w.sendError(req.ID, "unknown command: "+string(req.Command))
		}
	}
}

func (w *Worker) handleLoad(ctx context.Context, req ipc.Request) {
	if w.engine != nil {
		w.sendResult(req.ID, map[string]any{"status": "already_loaded"})
		return
	}

	path, _ := req.Payload["model_path"].(string)
	params := parseLoadParams(req.Payload)

	engine := w.engineFactory()
	if err := engine.Load(ctx, path, params); err != nil {
		w.sendError(req.ID, err.Error())
		return
	}
	w.engine = engine
	w.sendResult(req.ID, map[string]any{"status": "loaded"})
}

func (w *Worker) handleGenerate(ctx context.Context, req ipc.Request) {
	if w.engine == nil {
		w.sendError(req.ID, "Model not loaded")
		return
	}
	prompt, _ := req.Payload["prompt"].(string)
	temperature := payloadFloat(req.Payload, "temperature", 0.8)
	maxTokens := payloadInt(req.Payload, "max_tokens", 256)

	text, finishReason, usage, err := w.engine.Generate(ctx, prompt, temperature, maxTokens)
	if err != nil {
		w.sendError(req.ID, err.Error())
		return
	}
	w.sendResult(req.ID, map[string]any{
		"text":          text,
		"finish_reason": finishReason,
		"usage": map[string]any{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
		},
	})
}

func (w *Worker) handleGenerateStream(ctx context.Context, req ipc.Request) {
	if w.engine == nil {
		w.sendError(req.ID, "Model not loaded")
		return
	}
	prompt, _ := req.Payload["prompt"].(string)
	temperature := payloadFloat(req.Payload, "temperature", 0.8)
	maxTokens := payloadInt(req.Payload, "max_tokens", 256)

	w.stop.Clear()
	done := make(chan struct{})
	defer close(done)
	stopCh := w.stop.asChannel(stopPollInterval, done)

	chunks, err := w.engine.GenerateStream(ctx, prompt, temperature, maxTokens, stopCh)
	if err != nil {
		w.sendError(req.ID, err.Error())
		return
	}

	var finishReason string
	for chunk := range chunks {
		if chunk.Text != "" {
			w.ch.SendResponse(ipc.Response{
				ID:   req.ID,
				Type: ipc.ResponseChunk,
				Payload: map[string]any{
					"text": chunk.Text,
				},
			})
		}
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
	}
	if finishReason == "" {
		// The engine's channel closed without ever setting a finish
		// reason. Treat it as a generation failure rather than leaving
		// the stream without a terminal response.
		w.sendError(req.ID, "generation ended without a finish reason")
		return
	}

	w.ch.SendResponse(ipc.Response{
		ID:      req.ID,
		Type:    ipc.ResponseDone,
		Payload: map[string]any{"finish_reason": finishReason},
	})
}

func (w *Worker) handleTokenize(req ipc.Request) {
	if w.engine == nil {
		w.sendError(req.ID, "Model not loaded")
		return
	}
	text, _ := req.Payload["text"].(string)
	addBOS, _ := req.Payload["add_bos"].(bool)

	tokens, nCtx, err := w.engine.Tokenize(text, addBOS)
	if err != nil {
		w.sendError(req.ID, err.Error())
		return
	}
	w.sendResult(req.ID, map[string]any{
		"tokens":      tokens,
		"token_count": len(tokens),
		"n_ctx":       nCtx,
	})
}

func (w *Worker) handleLiveness(req ipc.Request) {
	w.sendResult(req.ID, map[string]any{
		"alive": true,
		"pid":   os.Getpid(),
	})
}

func (w *Worker) sendResult(id string, payload map[string]any) {
	if err := w.ch.SendResponse(ipc.Response{ID: id, Type: ipc.ResponseResult, Payload: payload}); err != nil {
		w.logger.Error("failed to send result", "id", id, "error", err)
	}
}

func (w *Worker) sendError(id, message string) {
	if err := w.ch.SendResponse(ipc.Response{ID: id, Type: ipc.ResponseError, Payload: map[string]any{"error": message}}); err != nil {
		w.logger.Error("failed to send error", "id", id, "error", err)
	}
}

func parseLoadParams(payload map[string]any) LoadParams {
	return LoadParams{
		NCtx:           payloadInt(payload, "n_ctx", 4096),
		NGPULayers:     payloadInt(payload, "n_gpu_layers", 0),
		NThreads:       payloadInt(payload, "n_threads", 8),
		OverrideTensor: payloadString(payload, "override_tensor"),
		OffloadKQV:     payloadBool(payload, "offload_kqv"),
	}
}

func payloadInt(payload map[string]any, key string, def int) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func payloadFloat(payload map[string]any, key string, def float64) float64 {
	if v, ok := payload[key].(float64); ok {
		return v
	}
	return def
}

func payloadString(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

func payloadBool(payload map[string]any, key string) bool {
	b, _ := payload[key].(bool)
	return b
}
