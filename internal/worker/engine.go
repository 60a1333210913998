package worker

import "context"

// LoadParams are the load-time parameters captured once at LOAD and held
// immutable for the life of the worker process.
type LoadParams struct {
	NCtx           int    `json:"n_ctx"`
	NGPULayers     int    `json:"n_gpu_layers"`
	NThreads       int    `json:"n_threads"`
	OverrideTensor string `json:"override_tensor,omitempty"`
	OffloadKQV     bool   `json:"offload_kqv,omitempty"`
}

// Usage mirrors the token accounting returned alongside a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Chunk is one incremental piece of a streamed generation. FinishReason is
// only set on the final chunk emitted before the terminal DONE response.
type Chunk struct {
	Text         string
	FinishReason string
}

// ModelEngine is the seam between the worker's command loop and the
// native inference library. Production deployments supply a cgo binding
// to llama.cpp here; this repo ships the interface plus a deterministic
// SimEngine (see sim.go) used for tests and for running the whole
// supervisor/proxy/IPC stack without a GPU or a real GGUF file.
type ModelEngine interface {
	// Load instantiates the model at path with params. Called at most
	// once per engine instance.
	Load(ctx context.Context, path string, params LoadParams) error

	// Generate produces a full completion synchronously.
	Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (text string, finishReason string, usage Usage, err error)

	// GenerateStream produces a completion incrementally. The returned
	// channel is closed by the engine once generation ends (naturally,
	// on error, or because stop was signalled); the final Chunk sent
	// before closing carries FinishReason. Implementations must stop
	// pulling from the underlying generator promptly after stop is
	// closed and must not block on the channel send past ctx's
	// cancellation.
	GenerateStream(ctx context.Context, prompt string, temperature float64, maxTokens int, stop <-chan struct{}) (<-chan Chunk, error)

	// Tokenize returns the token ids for text and the model's context
	// window size. addBOS prepends the model's beginning-of-sequence
	// token when true.
	Tokenize(text string, addBOS bool) (tokens []int32, nCtx int, err error)

	// Close releases the loaded model and any GPU memory it holds.
	Close() error
}

// EngineFactory constructs a ModelEngine for a LOAD request. Swapping in a
// real llama.cpp binding means providing a different EngineFactory to
// New; nothing else in the command loop changes.
type EngineFactory func() ModelEngine
