package proxy

import (
	"context"
	"fmt"
	"sync"

	"llamagate/internal/ipc"
)

// StreamChunk is one piece of a streamed completion, or the terminal
// outcome when Done is true.
type StreamChunk struct {
	Text         string
	Done         bool
	FinishReason string
}

// StreamIterator pulls one response at a time from an in-flight
// GENERATE_STREAM, enforcing the per-chunk timeout. The Proxy's mutex,
// acquired by GenerateStream, is released only once the iterator reaches
// its terminal response (or is abandoned via Close): the mutex covers the
// full streaming lifetime, while StopGeneration stays callable without
// it.
type StreamIterator struct {
	proxy     *Proxy
	requestID string
	unlocked  sync.Once
	done      bool
}

// Next blocks for the next chunk, bounded by the proxy's chunk timeout. It
// returns (chunk, nil) for each chunk including the terminal one; after a
// terminal chunk (Done == true) or a non-nil error, the iterator is
// exhausted and must not be called again.
func (it *StreamIterator) Next(ctx context.Context) (StreamChunk, error) {
	if it.done {
		return StreamChunk{}, fmt.Errorf("proxy: stream already exhausted")
	}

	chunkCtx, cancel := context.WithTimeout(ctx, it.proxy.config.ChunkTimeout)
	defer cancel()

	type result struct {
		resp ipc.Response
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		resp, err := it.proxy.ch.RecvResponse()
		resultCh <- result{resp, err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			it.finish()
			it.proxy.recordFailure(r.err)
			return StreamChunk{}, &WorkerCrashedError{Model: it.proxy.config.ModelName, Op: "generate_stream"}
		}
		if r.resp.ID != it.requestID {
			it.finish()
			return StreamChunk{}, &ProtocolError{Model: it.proxy.config.ModelName, Message: fmt.Sprintf("response id %q does not match request id %q", r.resp.ID, it.requestID)}
		}

		switch r.resp.Type {
		case ipc.ResponseChunk:
			text, _ := r.resp.Payload["text"].(string)
			return StreamChunk{Text: text}, nil
		case ipc.ResponseDone:
			it.finish()
			it.proxy.recordSuccess(true)
			finishReason, _ := r.resp.Payload["finish_reason"].(string)
			return StreamChunk{Done: true, FinishReason: finishReason}, nil
		case ipc.ResponseError:
			it.finish()
			it.proxy.recordSuccess(false)
			return StreamChunk{}, &GenerationError{Model: it.proxy.config.ModelName, Message: r.resp.ErrorMessage()}
		default:
			it.finish()
			return StreamChunk{}, &ProtocolError{Model: it.proxy.config.ModelName, Message: "unexpected response type " + string(r.resp.Type)}
		}
	case <-chunkCtx.Done():
		it.finish()
		return StreamChunk{}, &TimeoutError{Model: it.proxy.config.ModelName, Op: "generate_stream chunk", Timeout: it.proxy.config.ChunkTimeout}
	}
}

// Close abandons the iterator early (e.g. the HTTP client disconnected),
// releasing the proxy mutex if it has not already been released by a
// terminal Next call. It does not itself send a stop; callers that want
// the worker to actually halt generation must call Proxy.StopGeneration.
func (it *StreamIterator) Close() {
	it.finish()
}

func (it *StreamIterator) finish() {
	it.unlocked.Do(func() {
		it.done = true
		it.proxy.mu.Unlock()
	})
}
