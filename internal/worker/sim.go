package worker

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SimEngine is a deterministic ModelEngine used when no native inference
// binding is wired in (the default for cmd/llamagate-worker, and for every
// test in this repo). It never touches a GPU or a real GGUF file: Load
// only checks that the path exists-ish (a non-empty string) and records
// the requested parameters, and generation emits maxTokens fixed words
// (tok0, tok1, ...) regardless of the prompt, so tests can assert on exact
// text.
//
// The command loop never changes when the underlying engine does; only
// the EngineFactory handed to New does.
type SimEngine struct {
	loaded bool
	params LoadParams
	path   string

	// ChunkDelay, if non-zero, is slept between streamed chunks. Tests
	// use this to create a window in which stop_generation can land.
	ChunkDelay time.Duration
}

// NewSimEngine constructs an unloaded SimEngine.
func NewSimEngine() *SimEngine {
	return &SimEngine{}
}

func (e *SimEngine) Load(ctx context.Context, path string, params LoadParams) error {
	if path == "" {
		return fmt.Errorf("sim engine: empty model path")
	}
	e.path = path
	e.params = params
	e.loaded = true
	return nil
}

func (e *SimEngine) Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, string, Usage, error) {
	if !e.loaded {
		return "", "", Usage{}, fmt.Errorf("model not loaded")
	}
	words := simWords(prompt, maxTokens)
	text := strings.Join(words, " ")
	usage := Usage{
		PromptTokens:     simTokenCount(prompt),
		CompletionTokens: len(words),
		TotalTokens:      simTokenCount(prompt) + len(words),
	}
	return text, "stop", usage, nil
}

func (e *SimEngine) GenerateStream(ctx context.Context, prompt string, temperature float64, maxTokens int, stop <-chan struct{}) (<-chan Chunk, error) {
	if !e.loaded {
		return nil, fmt.Errorf("model not loaded")
	}
	words := simWords(prompt, maxTokens)
	out := make(chan Chunk)

	go func() {
		defer close(out)
		for i, w := range words {
			select {
			case <-stop:
				out <- Chunk{FinishReason: "cancelled"}
				return
			case <-ctx.Done():
				return
			default:
			}

			if e.ChunkDelay > 0 {
				select {
				case <-time.After(e.ChunkDelay):
				case <-stop:
					out <- Chunk{FinishReason: "cancelled"}
					return
				case <-ctx.Done():
					return
				}
			}

			last := i == len(words)-1
			chunk := Chunk{Text: w + " "}
			if last {
				chunk.FinishReason = "stop"
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (e *SimEngine) Tokenize(text string, addBOS bool) ([]int32, int, error) {
	if !e.loaded {
		return nil, 0, fmt.Errorf("model not loaded")
	}
	fields := strings.Fields(text)
	tokens := make([]int32, 0, len(fields)+1)
	if addBOS {
		tokens = append(tokens, 1)
	}
	for i := range fields {
		tokens = append(tokens, int32(1000+i))
	}
	nCtx := e.params.NCtx
	if nCtx == 0 {
		nCtx = 4096
	}
	return tokens, nCtx, nil
}

func (e *SimEngine) Close() error {
	e.loaded = false
	return nil
}

// simWords returns exactly maxTokens "generated" words (16 when maxTokens
// is not positive): tok0, tok1, and so on. The prompt is not used; the
// output is fixed so tests can assert on it without needing a real model.
func simWords(prompt string, maxTokens int) []string {
	if maxTokens <= 0 {
		maxTokens = 16
	}
	words := make([]string, 0, maxTokens)
	for i := 0; i < maxTokens; i++ {
		words = append(words, fmt.Sprintf("tok%d", i))
	}
	return words
}

func simTokenCount(text string) int {
	return len(strings.Fields(text))
}
