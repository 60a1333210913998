package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// maxFrameBytes bounds a single line to guard against a runaway or
// corrupted worker filling memory; bufio.Scanner's default 64KiB token
// limit is too small for large GENERATE responses, so the buffer is grown
// explicitly.
const maxFrameBytes = 16 << 20

// Channel is a bidirectional, ordered, message-oriented transport carrying
// Request records one direction and Response records the other. It
// preserves message boundaries (one JSON object per line) and FIFO
// ordering in each direction; closing either end is observable to the
// other as end-of-stream (Recv returns io.EOF).
//
// A Channel is safe for concurrent use: each direction has its own mutex,
// so every frame is written or read whole. Nothing pairs a Send with the
// Recv of its reply, though — callers needing single-flight semantics must
// serialize themselves (see proxy.Proxy, which holds a mutex around each
// round trip).
type Channel struct {
	w       io.Writer
	scanner *bufio.Scanner
	closer  io.Closer

	writeMu sync.Mutex
	readMu  sync.Mutex
}

// NewChannel wraps w (writes go here) and r (reads come from here) into a
// framed Channel. closer, if non-nil, is invoked by Close.
func NewChannel(w io.Writer, r io.Reader, closer io.Closer) *Channel {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	return &Channel{w: w, scanner: scanner, closer: closer}
}

// SendRequest writes one framed Request.
func (c *Channel) SendRequest(req Request) error {
	return c.send(req)
}

// SendResponse writes one framed Response.
func (c *Channel) SendResponse(resp Response) error {
	return c.send(resp)
}

func (c *Channel) send(v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ipc: encoding frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("ipc: writing frame: %w", err)
	}
	return nil
}

// RecvRequest reads and decodes the next Request. Returns io.EOF when the
// peer has closed its write end.
func (c *Channel) RecvRequest() (Request, error) {
	var req Request
	line, err := c.recvLine()
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return req, fmt.Errorf("ipc: decoding request: %w", err)
	}
	return req, nil
}

// RecvResponse reads and decodes the next Response. Returns io.EOF when
// the peer has closed its write end.
func (c *Channel) RecvResponse() (Response, error) {
	var resp Response
	line, err := c.recvLine()
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		return resp, fmt.Errorf("ipc: decoding response: %w", err)
	}
	return resp, nil
}

func (c *Channel) recvLine() ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, fmt.Errorf("ipc: reading frame: %w", err)
		}
		return nil, io.EOF
	}
	return c.scanner.Bytes(), nil
}

// Close releases the underlying transport, if one was supplied.
func (c *Channel) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// NewRequestID returns a globally unique request identifier. Correlation
// ids are UUIDv4 strings rather than hand-rolled counters so they stay
// unique across gateway restarts and across the several Proxy instances
// that may exist over the process's lifetime.
func NewRequestID() string {
	return uuid.NewString()
}
