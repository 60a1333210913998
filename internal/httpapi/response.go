package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"llamagate/internal/worker"
)

// ChatMessage is one message in a chat completion request or response.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the OpenAI-compatible request body accepted by
// /v1/chat/completions, narrowed to the fields this single-model gateway
// actually honors (no tools, no multimodal content, no n>1).
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

func (r *ChatCompletionRequest) temperature() float64 {
	if r.Temperature != nil {
		return *r.Temperature
	}
	return 1.0
}

func (r *ChatCompletionRequest) maxTokens() int {
	if r.MaxTokens != nil {
		return *r.MaxTokens
	}
	return 512
}

// ChatCompletionChoice is one completion choice in a non-streaming response.
type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletionResponse is the non-streaming /v1/chat/completions response
// body.
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   ChatCompletionUsage    `json:"usage"`
}

// ChatCompletionUsage mirrors worker.Usage in the OpenAI wire shape.
type ChatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunkDelta carries the incremental content of one SSE
// chunk.
type ChatCompletionChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChatCompletionChunkChoice is one choice within a streamed chunk.
type ChatCompletionChunkChoice struct {
	Index        int                      `json:"index"`
	Delta        ChatCompletionChunkDelta `json:"delta"`
	FinishReason *string                  `json:"finish_reason"`
}

// ChatCompletionChunk is one SSE data payload for a streaming completion.
type ChatCompletionChunk struct {
	ID      string                      `json:"id"`
	Object  string                      `json:"object"`
	Created int64                       `json:"created"`
	Model   string                      `json:"model"`
	Choices []ChatCompletionChunkChoice `json:"choices"`
}

// formatChatCompletionResponse builds the non-streaming wire response,
// mapping the internal "cancelled" finish_reason back to the standard
// "stop" value. Clients outside this repo expect only the OpenAI enum;
// the audit log keeps the distinction internally.
func formatChatCompletionResponse(id, model, text, finishReason string, usage worker.Usage, createdUnix int64) ChatCompletionResponse {
	return ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: createdUnix,
		Model:   model,
		Choices: []ChatCompletionChoice{
			{
				Index:        0,
				Message:      ChatMessage{Role: "assistant", Content: text},
				FinishReason: wireFinishReason(finishReason),
			},
		},
		Usage: ChatCompletionUsage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		},
	}
}

func wireFinishReason(internal string) string {
	if internal == "cancelled" {
		return "stop"
	}
	return internal
}

// formatStreamChunk builds one SSE data payload. finishReason is non-empty
// only for the terminal chunk.
func formatStreamChunk(id, model, text, finishReason string, role string, createdUnix int64) ChatCompletionChunk {
	choice := ChatCompletionChunkChoice{
		Index: 0,
		Delta: ChatCompletionChunkDelta{Role: role, Content: text},
	}
	if finishReason != "" {
		fr := wireFinishReason(finishReason)
		choice.FinishReason = &fr
	}
	return ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: createdUnix,
		Model:   model,
		Choices: []ChatCompletionChunkChoice{choice},
	}
}

// writeJSONResponse writes data as a JSON body with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// writeErrorResponse writes errResp with the status its error type implies.
func writeErrorResponse(w http.ResponseWriter, errResp ErrorResponse) error {
	return writeJSONResponse(w, httpStatusCode(errResp), errResp)
}

// setSSEHeaders prepares w for a server-sent-events response.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Transfer-Encoding", "chunked")
}

// writeSSEChunk writes one "data: <json>\n\n" frame and flushes it.
func writeSSEChunk(w http.ResponseWriter, chunk ChatCompletionChunk) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// writeSSEDone writes the terminal "[DONE]" marker.
func writeSSEDone(w http.ResponseWriter) error {
	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// writeSSEError writes errResp as a single SSE data frame, used when a
// stream fails after headers are already committed.
func writeSSEError(w http.ResponseWriter, errResp ErrorResponse) error {
	payload, err := json.Marshal(errResp)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
