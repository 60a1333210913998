package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"llamagate/internal/ipc"
	"llamagate/internal/worker"
)

// Default per-operation response timeouts.
const (
	DefaultLoadTimeout     = 120 * time.Second
	DefaultGenerateTimeout = 300 * time.Second
	DefaultChunkTimeout    = 60 * time.Second
	DefaultTokenizeTimeout = 30 * time.Second

	shutdownPoliteWait = 5 * time.Second
	shutdownTermWait   = 2 * time.Second
	shutdownKillWait   = 1 * time.Second
)

// Health is a snapshot of one worker subprocess's request accounting.
type Health struct {
	IsHealthy      bool
	LastError      error
	LastActivity   time.Time
	TotalRequests  int64
	FailedRequests int64
}

// Config configures a Proxy's subprocess and timeouts.
type Config struct {
	// WorkerPath is the executable launched for the worker (normally
	// cmd/llamagate-worker's own binary path, re-exec'd as a child).
	WorkerPath string
	ModelPath  string
	ModelName  string
	Params     worker.LoadParams

	LoadTimeout     time.Duration
	GenerateTimeout time.Duration
	ChunkTimeout    time.Duration
	TokenizeTimeout time.Duration

	// ExtraEnv is appended to the worker subprocess's environment on top
	// of os.Environ(). Tests use this to make a re-exec'd test binary
	// behave as a worker.
	ExtraEnv []string

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.LoadTimeout == 0 {
		c.LoadTimeout = DefaultLoadTimeout
	}
	if c.GenerateTimeout == 0 {
		c.GenerateTimeout = DefaultGenerateTimeout
	}
	if c.ChunkTimeout == 0 {
		c.ChunkTimeout = DefaultChunkTimeout
	}
	if c.TokenizeTimeout == 0 {
		c.TokenizeTimeout = DefaultTokenizeTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Proxy owns one worker subprocess from the gateway's side: config,
// transport (IPC channel + control pipe), and a health snapshot.
type Proxy struct {
	config Config

	mu sync.Mutex // held across generate/generate_stream/tokenize

	healthMu sync.RWMutex
	health   Health

	cmd        *exec.Cmd
	ch         *ipc.Channel
	controlW   atomic.Pointer[os.File] // read by StopGeneration without p.mu
	stopOnce   sync.Once
	procExited chan struct{}
	exitErr    error
}

// New constructs a Proxy. The subprocess is not started until Start is
// called.
func New(config Config) *Proxy {
	config.setDefaults()
	return &Proxy{
		config: config,
		health: Health{IsHealthy: false},
	}
}

// Start spawns the worker subprocess and sends the initial LOAD request.
// It mirrors the escalating-lifecycle shape of the model supervisor's
// switch path: spawn, wire pipes, load, or tear everything back down on
// any failure.
func (p *Proxy) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmd := exec.Command(p.config.WorkerPath, "--model-name", p.config.ModelName)
	if len(p.config.ExtraEnv) > 0 {
		cmd.Env = append(os.Environ(), p.config.ExtraEnv...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("proxy: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("proxy: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("proxy: stderr pipe: %w", err)
	}

	controlR, controlW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("proxy: control pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{controlR}

	if err := cmd.Start(); err != nil {
		controlR.Close()
		controlW.Close()
		return &LoadFailedError{Model: p.config.ModelName, Cause: err}
	}
	controlR.Close() // the child owns fd 3 now; our copy is unneeded

	p.cmd = cmd
	p.controlW.Store(controlW)
	p.ch = ipc.NewChannel(stdin, stdout, stdin)
	p.procExited = make(chan struct{})

	go p.logStderr(stderr)
	go p.waitForExit()

	loadCtx, cancel := context.WithTimeout(ctx, p.config.LoadTimeout)
	defer cancel()

	resp, err := p.roundTrip(loadCtx, ipc.Request{
		ID:      ipc.NewRequestID(),
		Command: ipc.CommandLoad,
		Payload: map[string]any{
			"model_path":      p.config.ModelPath,
			"n_ctx":           p.config.Params.NCtx,
			"n_gpu_layers":    p.config.Params.NGPULayers,
			"n_threads":       p.config.Params.NThreads,
			"override_tensor": p.config.Params.OverrideTensor,
			"offload_kqv":     p.config.Params.OffloadKQV,
		},
	}, "load")
	if err != nil {
		p.killLocked()
		return err
	}
	if resp.Type == ipc.ResponseError {
		p.killLocked()
		return &LoadFailedError{Model: p.config.ModelName, Cause: errors.New(resp.ErrorMessage())}
	}

	p.markHealthy()
	return nil
}

// Generate performs a single non-streaming completion.
func (p *Proxy) Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, string, worker.Usage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	genCtx, cancel := context.WithTimeout(ctx, p.config.GenerateTimeout)
	defer cancel()

	resp, err := p.roundTrip(genCtx, ipc.Request{
		ID:      ipc.NewRequestID(),
		Command: ipc.CommandGenerate,
		Payload: map[string]any{"prompt": prompt, "temperature": temperature, "max_tokens": maxTokens},
	}, "generate")
	if err != nil {
		return "", "", worker.Usage{}, err
	}
	if resp.Type == ipc.ResponseError {
		return "", "", worker.Usage{}, &GenerationError{Model: p.config.ModelName, Message: resp.ErrorMessage()}
	}

	text, _ := resp.Payload["text"].(string)
	finishReason, _ := resp.Payload["finish_reason"].(string)
	return text, finishReason, parseUsage(resp.Payload["usage"]), nil
}

// GenerateStream begins a streaming completion and returns a StreamIterator
// pulling one chunk at a time, each bounded by the configured chunk
// timeout. The mutex is held until the iterator reaches its terminal
// response (see StreamIterator.Next), not just until this call returns.
func (p *Proxy) GenerateStream(ctx context.Context, prompt string, temperature float64, maxTokens int) (*StreamIterator, error) {
	p.mu.Lock()

	req := ipc.Request{
		ID:      ipc.NewRequestID(),
		Command: ipc.CommandGenerateStream,
		Payload: map[string]any{"prompt": prompt, "temperature": temperature, "max_tokens": maxTokens},
	}
	if err := p.ch.SendRequest(req); err != nil {
		p.mu.Unlock()
		return nil, p.translateSendErr(err, "generate_stream")
	}

	return &StreamIterator{proxy: p, requestID: req.ID}, nil
}

// Tokenize counts (and returns) the tokens for text.
func (p *Proxy) Tokenize(ctx context.Context, text string, addBOS bool) ([]int32, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tokCtx, cancel := context.WithTimeout(ctx, p.config.TokenizeTimeout)
	defer cancel()

	resp, err := p.roundTrip(tokCtx, ipc.Request{
		ID:      ipc.NewRequestID(),
		Command: ipc.CommandTokenize,
		Payload: map[string]any{"text": text, "add_bos": addBOS},
	}, "tokenize")
	if err != nil {
		return nil, 0, err
	}
	if resp.Type == ipc.ResponseError {
		return nil, 0, &GenerationError{Model: p.config.ModelName, Message: resp.ErrorMessage()}
	}

	nCtx, _ := resp.Payload["n_ctx"].(float64)
	rawTokens, _ := resp.Payload["tokens"].([]any)
	tokens := make([]int32, len(rawTokens))
	for i, v := range rawTokens {
		if f, ok := v.(float64); ok {
			tokens[i] = int32(f)
		}
	}
	return tokens, int(nCtx), nil
}

// StopGeneration signals cancellation of any in-flight stream by writing a
// single byte to the control pipe. It deliberately does NOT take p.mu, so
// it stays callable while a stream still holds the mutex.
func (p *Proxy) StopGeneration() error {
	controlW := p.controlW.Load()
	if controlW == nil {
		return &WorkerNotRunningError{Model: p.config.ModelName}
	}
	_, err := controlW.Write([]byte{1})
	return err
}

// IsAlive reports whether the subprocess is believed to still be running.
func (p *Proxy) IsAlive() bool {
	if p.cmd == nil || p.cmd.Process == nil {
		return false
	}
	select {
	case <-p.procExited:
		return false
	default:
		return true
	}
}

// Shutdown performs the escalating stop sequence: SHUTDOWN request (5s),
// then SIGTERM (2s), then SIGKILL (1s). Safe to call more than once and
// safe to call on a Proxy that never started.
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		return nil
	}
	if !p.IsAlive() {
		return nil
	}

	var result error
	p.stopOnce.Do(func() {
		politeCtx, cancel := context.WithTimeout(ctx, shutdownPoliteWait)
		defer cancel()
		_, _ = p.roundTrip(politeCtx, ipc.Request{ID: ipc.NewRequestID(), Command: ipc.CommandShutdown}, "shutdown")

		if p.waitExited(shutdownPoliteWait) {
			return
		}

		p.config.Logger.Warn("worker did not exit after SHUTDOWN, sending SIGTERM", "model", p.config.ModelName)
		_ = p.cmd.Process.Signal(signalTerm)
		if p.waitExited(shutdownTermWait) {
			return
		}

		p.config.Logger.Warn("worker did not exit after SIGTERM, sending SIGKILL", "model", p.config.ModelName)
		_ = p.cmd.Process.Kill()
		if !p.waitExited(shutdownKillWait) {
			result = fmt.Errorf("proxy: worker %q did not exit after SIGKILL", p.config.ModelName)
		}
	})

	p.markUnhealthy(result)
	if p.ch != nil {
		p.ch.Close()
	}
	if controlW := p.controlW.Load(); controlW != nil {
		controlW.Close()
	}
	return result
}

// Health returns a snapshot of the proxy's current health.
func (p *Proxy) Health() Health {
	p.healthMu.RLock()
	defer p.healthMu.RUnlock()
	return p.health
}

// roundTrip sends req and waits for its terminal response (RESULT or
// ERROR), translating transport failures into the typed errors from
// errors.go. Must be called with p.mu held.
func (p *Proxy) roundTrip(ctx context.Context, req ipc.Request, op string) (ipc.Response, error) {
	start := time.Now()
	if err := p.ch.SendRequest(req); err != nil {
		return ipc.Response{}, p.translateSendErr(err, op)
	}

	type result struct {
		resp ipc.Response
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		resp, err := p.ch.RecvResponse()
		resultCh <- result{resp, err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			p.recordFailure(r.err)
			return ipc.Response{}, &WorkerCrashedError{Model: p.config.ModelName, Op: op}
		}
		if r.resp.ID != req.ID {
			return ipc.Response{}, &ProtocolError{Model: p.config.ModelName, Message: fmt.Sprintf("response id %q does not match request id %q", r.resp.ID, req.ID)}
		}
		p.recordSuccess(r.resp.Type != ipc.ResponseError)
		return r.resp, nil
	case <-ctx.Done():
		return ipc.Response{}, &TimeoutError{Model: p.config.ModelName, Op: op, Timeout: time.Since(start)}
	}
}

func (p *Proxy) translateSendErr(err error, op string) error {
	p.recordFailure(err)
	return &WorkerCrashedError{Model: p.config.ModelName, Op: op}
}

// logStderr forwards the worker's stderr, line by line, into the gateway's
// own logger so a crashing model shows up in the gateway's logs instead of
// vanishing with the dead child.
func (p *Proxy) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.config.Logger.Info("worker stderr", "model", p.config.ModelName, "line", scanner.Text())
	}
}

func (p *Proxy) waitForExit() {
	err := p.cmd.Wait()
	p.exitErr = err
	close(p.procExited)
}

func (p *Proxy) waitExited(timeout time.Duration) bool {
	select {
	case <-p.procExited:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *Proxy) killLocked() {
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

func (p *Proxy) markHealthy() {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()
	p.health.IsHealthy = true
	p.health.LastActivity = time.Now()
}

func (p *Proxy) markUnhealthy(err error) {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()
	p.health.IsHealthy = false
	p.health.LastError = err
}

func (p *Proxy) recordSuccess(ok bool) {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()
	p.health.TotalRequests++
	p.health.LastActivity = time.Now()
	if !ok {
		p.health.FailedRequests++
	}
}

func (p *Proxy) recordFailure(err error) {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()
	p.health.TotalRequests++
	p.health.FailedRequests++
	p.health.LastError = err
	p.health.IsHealthy = false
}

func parseUsage(v any) worker.Usage {
	m, ok := v.(map[string]any)
	if !ok {
		return worker.Usage{}
	}
	get := func(k string) int {
		f, _ := m[k].(float64)
		return int(f)
	}
	return worker.Usage{
		PromptTokens:     get("prompt_tokens"),
		CompletionTokens: get("completion_tokens"),
		TotalTokens:      get("total_tokens"),
	}
}

// signalTerm is the polite-escalation signal sent before SIGKILL.
var signalTerm os.Signal = syscall.SIGTERM
