package proxy

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"llamagate/internal/ipc"
	"llamagate/internal/worker"
)

// These tests spawn the test binary itself as the worker subprocess,
// re-exec'd with LLAMAGATE_BE_WORKER=1 — the same trick os/exec's own
// tests use to get a real child process without shipping a separate
// fixture binary.

const workerEnvVar = "LLAMAGATE_BE_WORKER=1"

func TestMain(m *testing.M) {
	if os.Getenv("LLAMAGATE_BE_WORKER") == "1" {
		runTestWorker()
		return
	}
	os.Exit(m.Run())
}

func runTestWorker() {
	control := os.NewFile(3, "control")
	stop := &worker.StopFlag{}
	if control != nil {
		go stop.WatchControlPipe(control, nil)
	}
	ch := ipc.NewChannel(os.Stdout, os.Stdin, nil)
	factory := func() worker.ModelEngine { return worker.NewSimEngine() }
	w := worker.New(ch, factory, stop, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	_ = w.Run(context.Background())
	os.Exit(0)
}

func newTestProxy(t *testing.T, modelPath string) *Proxy {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return New(Config{
		WorkerPath: exe,
		ModelPath:  modelPath,
		ModelName:  "test-model",
		Params:     worker.LoadParams{NCtx: 2048, NThreads: 4},
		ExtraEnv:   []string{workerEnvVar},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestProxy_StartAndShutdown(t *testing.T) {
	p := newTestProxy(t, "/models/a.gguf")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.IsAlive() {
		t.Fatal("expected proxy to be alive after Start")
	}
	if !p.Health().IsHealthy {
		t.Fatal("expected healthy after successful load")
	}

	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if p.IsAlive() {
		t.Fatal("expected proxy to be dead after Shutdown")
	}

	// Idempotent.
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestProxy_ShutdownWithoutStart(t *testing.T) {
	p := newTestProxy(t, "/models/a.gguf")
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on unstarted proxy: %v", err)
	}
}

func TestProxy_Generate(t *testing.T) {
	p := newTestProxy(t, "/models/a.gguf")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Shutdown(ctx)

	text, finishReason, usage, err := p.Generate(ctx, "hello world", 0.7, 4)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if finishReason != "stop" {
		t.Errorf("finish_reason = %q, want stop", finishReason)
	}
	if text == "" {
		t.Error("expected non-empty text")
	}
	if usage.CompletionTokens != 4 {
		t.Errorf("completion_tokens = %d, want 4", usage.CompletionTokens)
	}
}

func TestProxy_GenerateStream_SingleTerminal(t *testing.T) {
	p := newTestProxy(t, "/models/a.gguf")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Shutdown(ctx)

	it, err := p.GenerateStream(ctx, "hi", 0.7, 5)
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	var chunks int
	for {
		chunk, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if chunk.Done {
			if chunk.FinishReason != "stop" {
				t.Errorf("finish_reason = %q, want stop", chunk.FinishReason)
			}
			break
		}
		chunks++
	}
	if chunks != 5 {
		t.Errorf("chunks = %d, want 5", chunks)
	}
}

func TestProxy_GenerateStream_MutexBlocksConcurrentGenerate(t *testing.T) {
	p := newTestProxy(t, "/models/a.gguf")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Shutdown(ctx)

	it, err := p.GenerateStream(ctx, "hi", 0.7, 3)
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	generateDone := make(chan struct{})
	go func() {
		p.Generate(ctx, "blocked until stream finishes", 0.7, 1)
		close(generateDone)
	}()

	select {
	case <-generateDone:
		t.Fatal("Generate returned before the stream's mutex was released")
	case <-time.After(50 * time.Millisecond):
	}

	for {
		chunk, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if chunk.Done {
			break
		}
	}

	select {
	case <-generateDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Generate did not proceed after stream released the mutex")
	}
}

func TestProxy_StopGenerationDoesNotRequireMutex(t *testing.T) {
	p := newTestProxy(t, "/models/a.gguf")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Shutdown(ctx)

	it, err := p.GenerateStream(ctx, "hi", 0.7, 1000)
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	stopDone := make(chan error, 1)
	go func() { stopDone <- p.StopGeneration() }()

	select {
	case err := <-stopDone:
		if err != nil {
			t.Fatalf("StopGeneration: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("StopGeneration blocked — it must not require the stream's mutex")
	}

	for {
		chunk, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if chunk.Done {
			break
		}
	}
}

func TestProxy_Tokenize(t *testing.T) {
	p := newTestProxy(t, "/models/a.gguf")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Shutdown(ctx)

	tokens, nCtx, err := p.Tokenize(ctx, "the quick brown fox", true)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if len(tokens) != 5 { // BOS + 4 words
		t.Errorf("len(tokens) = %d, want 5", len(tokens))
	}
	if nCtx != 2048 {
		t.Errorf("n_ctx = %d, want 2048", nCtx)
	}
}

func TestProxy_StartFailsOnEmptyModelPath(t *testing.T) {
	p := newTestProxy(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.Start(ctx)
	if err == nil {
		t.Fatal("expected Start to fail for an empty model path")
	}
	var loadErr *LoadFailedError
	if !asLoadFailed(err, &loadErr) {
		t.Errorf("err = %v (%T), want *LoadFailedError", err, err)
	}
}

func asLoadFailed(err error, target **LoadFailedError) bool {
	le, ok := err.(*LoadFailedError)
	if ok {
		*target = le
	}
	return ok
}
