package worker

import (
	"context"
	"io"
	"testing"
	"time"

	"llamagate/internal/ipc"
)

// harness spins up a Worker against an in-memory pipe pair and returns the
// gateway-side Channel used to drive it, plus the StopFlag so tests can
// simulate stop_generation() without a real control pipe.
func harness(t *testing.T, factory EngineFactory) (gw *ipc.Channel, stop *StopFlag, wait func() error) {
	t.Helper()
	gwR, workerW := io.Pipe()
	workerR, gwW := io.Pipe()

	gw = ipc.NewChannel(gwW, gwR, nil)
	workerCh := ipc.NewChannel(workerW, workerR, nil)
	stop = &StopFlag{}

	w := New(workerCh, factory, stop, nil)
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(context.Background()) }()

	wait = func() error {
		select {
		case err := <-errCh:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not exit in time")
			return nil
		}
	}
	return gw, stop, wait
}

func simFactory() ModelEngine { return NewSimEngine() }

func sendAndRecv(t *testing.T, gw *ipc.Channel, req ipc.Request) ipc.Response {
	t.Helper()
	if err := gw.SendRequest(req); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	resp, err := gw.RecvResponse()
	if err != nil {
		t.Fatalf("RecvResponse: %v", err)
	}
	return resp
}

func TestWorker_LoadIsIdempotent(t *testing.T) {
	gw, _, _ := harness(t, simFactory)

	resp1 := sendAndRecv(t, gw, ipc.Request{ID: "1", Command: ipc.CommandLoad, Payload: map[string]any{"model_path": "/models/a.gguf"}})
	if resp1.Type != ipc.ResponseResult || resp1.Payload["status"] != "loaded" {
		t.Fatalf("first load = %+v, want RESULT{status:loaded}", resp1)
	}

	resp2 := sendAndRecv(t, gw, ipc.Request{ID: "2", Command: ipc.CommandLoad, Payload: map[string]any{"model_path": "/models/a.gguf"}})
	if resp2.Type != ipc.ResponseResult || resp2.Payload["status"] != "already_loaded" {
		t.Fatalf("second load = %+v, want RESULT{status:already_loaded}", resp2)
	}
}

func TestWorker_GenerateRequiresLoad(t *testing.T) {
	gw, _, _ := harness(t, simFactory)

	resp := sendAndRecv(t, gw, ipc.Request{ID: "1", Command: ipc.CommandGenerate, Payload: map[string]any{"prompt": "hi"}})
	if resp.Type != ipc.ResponseError {
		t.Fatalf("type = %v, want ERROR", resp.Type)
	}
	if resp.ErrorMessage() != "Model not loaded" {
		t.Fatalf("message = %q, want %q", resp.ErrorMessage(), "Model not loaded")
	}
}

func TestWorker_GenerateAfterLoad(t *testing.T) {
	gw, _, _ := harness(t, simFactory)
	sendAndRecv(t, gw, ipc.Request{ID: "1", Command: ipc.CommandLoad, Payload: map[string]any{"model_path": "/models/a.gguf"}})

	resp := sendAndRecv(t, gw, ipc.Request{ID: "2", Command: ipc.CommandGenerate, Payload: map[string]any{"prompt": "hello world", "max_tokens": float64(4)}})
	if resp.Type != ipc.ResponseResult {
		t.Fatalf("type = %v, want RESULT: %+v", resp.Type, resp)
	}
	if resp.Payload["finish_reason"] != "stop" {
		t.Fatalf("finish_reason = %v, want stop", resp.Payload["finish_reason"])
	}
}

func TestWorker_GenerateStream_CompletesWithSingleTerminal(t *testing.T) {
	gw, _, _ := harness(t, simFactory)
	sendAndRecv(t, gw, ipc.Request{ID: "1", Command: ipc.CommandLoad, Payload: map[string]any{"model_path": "/models/a.gguf"}})

	if err := gw.SendRequest(ipc.Request{ID: "2", Command: ipc.CommandGenerateStream, Payload: map[string]any{"prompt": "hi", "max_tokens": float64(5)}}); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	var chunks, terminals int
	for {
		resp, err := gw.RecvResponse()
		if err != nil {
			t.Fatalf("RecvResponse: %v", err)
		}
		if resp.ID != "2" {
			t.Fatalf("response id = %q, want 2", resp.ID)
		}
		switch resp.Type {
		case ipc.ResponseChunk:
			chunks++
		case ipc.ResponseDone, ipc.ResponseError:
			terminals++
		}
		if resp.IsTerminal() {
			break
		}
	}

	if chunks != 5 {
		t.Errorf("chunks = %d, want 5", chunks)
	}
	if terminals != 1 {
		t.Errorf("terminals = %d, want 1", terminals)
	}
}

func TestWorker_GenerateStream_CooperativeCancellation(t *testing.T) {
	engine := NewSimEngine()
	engine.ChunkDelay = 10 * time.Millisecond
	gw, stop, _ := harness(t, func() ModelEngine { return engine })
	sendAndRecv(t, gw, ipc.Request{ID: "1", Command: ipc.CommandLoad, Payload: map[string]any{"model_path": "/models/a.gguf"}})

	if err := gw.SendRequest(ipc.Request{ID: "2", Command: ipc.CommandGenerateStream, Payload: map[string]any{"prompt": "hi", "max_tokens": float64(100)}}); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	var chunks int
	var finishReason string
	for {
		resp, err := gw.RecvResponse()
		if err != nil {
			t.Fatalf("RecvResponse: %v", err)
		}
		if resp.Type == ipc.ResponseChunk {
			chunks++
			if chunks == 3 {
				stop.Set()
			}
			continue
		}
		if resp.Type != ipc.ResponseDone {
			t.Fatalf("terminal type = %v, want DONE", resp.Type)
		}
		finishReason, _ = resp.Payload["finish_reason"].(string)
		break
	}

	if chunks >= 100 {
		t.Errorf("chunks = %d, want early termination well under 100", chunks)
	}
	if finishReason != "cancelled" {
		t.Errorf("finish_reason = %q, want cancelled", finishReason)
	}
}

func TestWorker_Tokenize_CountMatchesLength(t *testing.T) {
	gw, _, _ := harness(t, simFactory)
	sendAndRecv(t, gw, ipc.Request{ID: "1", Command: ipc.CommandLoad, Payload: map[string]any{"model_path": "/models/a.gguf"}})

	resp := sendAndRecv(t, gw, ipc.Request{ID: "2", Command: ipc.CommandTokenize, Payload: map[string]any{"text": "the quick brown fox", "add_bos": true}})
	if resp.Type != ipc.ResponseResult {
		t.Fatalf("type = %v, want RESULT", resp.Type)
	}
	// JSON framing turns the token slice into []any of float64.
	tokens, ok := resp.Payload["tokens"].([]any)
	if !ok {
		t.Fatalf("tokens payload has unexpected type %T", resp.Payload["tokens"])
	}
	count, _ := resp.Payload["token_count"].(float64)
	if int(count) != len(tokens) {
		t.Errorf("token_count = %d, want %d", int(count), len(tokens))
	}
	if len(tokens) != 5 { // BOS + 4 words
		t.Errorf("len(tokens) = %d, want 5", len(tokens))
	}
}

func TestWorker_StatusAndHeartbeatNeverFail(t *testing.T) {
	gw, _, _ := harness(t, simFactory)

	for _, cmd := range []ipc.Command{ipc.CommandStatus, ipc.CommandHeartbeat} {
		resp := sendAndRecv(t, gw, ipc.Request{ID: string(cmd), Command: cmd})
		if resp.Type != ipc.ResponseResult {
			t.Errorf("%s: type = %v, want RESULT", cmd, resp.Type)
		}
		if resp.Payload["alive"] != true {
			t.Errorf("%s: alive = %v, want true", cmd, resp.Payload["alive"])
		}
	}
}

func TestWorker_ShutdownExitsLoop(t *testing.T) {
	gw, _, wait := harness(t, simFactory)

	resp := sendAndRecv(t, gw, ipc.Request{ID: "1", Command: ipc.CommandShutdown})
	if resp.Type != ipc.ResponseResult || resp.Payload["status"] != "shutdown" {
		t.Fatalf("shutdown response = %+v", resp)
	}
	if err := wait(); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestWorker_UnknownCommand(t *testing.T) {
	gw, _, _ := harness(t, simFactory)
	resp := sendAndRecv(t, gw, ipc.Request{ID: "1", Command: "BOGUS"})
	if resp.Type != ipc.ResponseError {
		t.Fatalf("type = %v, want ERROR", resp.Type)
	}
}
