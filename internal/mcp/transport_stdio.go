package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// StdioTransport speaks newline-delimited JSON-RPC with a server subprocess.
type StdioTransport struct {
	config *ServerConfig
	logger *slog.Logger

	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.Closer
	writeMu sync.Mutex

	pending   map[int64]chan *JSONRPCResponse
	pendingMu sync.Mutex
	nextID    atomic.Int64

	connected atomic.Bool
	stopChan  chan struct{}
	stopOnce  sync.Once
	readDone  chan struct{}
	wg        sync.WaitGroup
}

// NewStdioTransport creates a new stdio transport.
func NewStdioTransport(cfg *ServerConfig, logger *slog.Logger) *StdioTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		config:   cfg,
		logger:   logger.With("mcp_server", cfg.ID, "transport", "stdio"),
		pending:  make(map[int64]chan *JSONRPCResponse),
		stopChan: make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

// Connect starts the subprocess. The process outlives ctx; Close stops it.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if t.connected.Load() {
		return nil
	}
	if t.config.Command == "" {
		return fmt.Errorf("command is required for stdio transport")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.process = exec.Command(t.config.Command, t.config.Args...)
	t.process.Env = os.Environ()
	for k, v := range t.config.Env {
		t.process.Env = append(t.process.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if t.config.WorkDir != "" {
		t.process.Dir = t.config.WorkDir
	}

	stdin, err := t.process.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := t.process.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, _ := t.process.StderrPipe() //nolint:errcheck

	if err := t.process.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}
	t.logger.Info("started MCP server process",
		"command", t.config.Command,
		"pid", t.process.Process.Pid)

	if stderr != nil {
		t.wg.Add(1)
		go t.logStderr(stderr)
	}
	t.attach(stdout, stdin)
	return nil
}

// attach starts reading responses from r and writing requests to w.
func (t *StdioTransport) attach(r io.ReadCloser, w io.WriteCloser) {
	t.stdin = w
	t.stdout = r
	t.connected.Store(true)
	t.wg.Add(1)
	go t.readLoop(r)
}

// Close stops the subprocess and fails any pending calls.
func (t *StdioTransport) Close() error {
	t.stopOnce.Do(func() {
		t.connected.Store(false)
		close(t.stopChan)
		if t.stdin != nil {
			t.stdin.Close() //nolint:errcheck
		}
		if t.stdout != nil {
			t.stdout.Close() //nolint:errcheck
		}
		if t.process != nil && t.process.Process != nil {
			t.process.Process.Kill() //nolint:errcheck
			t.process.Wait()         //nolint:errcheck
		}
	})
	t.wg.Wait()
	return nil
}

// Call sends a request and waits for its response.
func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	raw, err := encodeParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	id := t.nextID.Add(1)
	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw}

	respChan := make(chan *JSONRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.write(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	timeout := callTimeout(t.config)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%s: request timeout after %v", method, timeout)
	case <-t.readDone:
		return nil, fmt.Errorf("%s: server closed the connection: %w", method, ErrNotConnected)
	case <-t.stopChan:
		return nil, fmt.Errorf("%s: transport closed: %w", method, ErrNotConnected)
	}
}

// Notify sends a notification (no response expected).
func (t *StdioTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	raw, err := encodeParams(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	if err := t.write(JSONRPCNotification{JSONRPC: "2.0", Method: method, Params: raw}); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Connected returns whether the transport is connected.
func (t *StdioTransport) Connected() bool {
	return t.connected.Load()
}

func (t *StdioTransport) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.stdin.Write(append(data, '\n'))
	return err
}

func (t *StdioTransport) readLoop(r io.Reader) {
	defer t.wg.Done()
	defer close(t.readDone)
	defer t.connected.Store(false)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for scanner.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		t.processLine(line)
	}
	if err := scanner.Err(); err != nil {
		t.logger.Error("stdout scanner error", "error", err)
	}
}

// processLine dispatches one JSON-RPC message from the server.
func (t *StdioTransport) processLine(line []byte) {
	var msg message
	if err := json.Unmarshal(line, &msg); err != nil {
		t.logger.Warn("dropping malformed message", "error", err)
		return
	}

	switch {
	case msg.isResponse():
		id, ok := numericID(msg.ID)
		if !ok {
			t.logger.Warn("unexpected response ID type", "id", msg.ID)
			return
		}
		t.pendingMu.Lock()
		ch, found := t.pending[id]
		delete(t.pending, id)
		t.pendingMu.Unlock()
		if found {
			ch <- &JSONRPCResponse{JSONRPC: msg.JSONRPC, ID: msg.ID, Result: msg.Result, Error: msg.Error}
		}
	case msg.isRequest():
		t.answerServerRequest(&msg)
	case msg.Method != "":
		t.logger.Debug("server notification", "method", msg.Method)
	}
}

// answerServerRequest replies to server-initiated requests. Only ping is
// supported; the client advertises no other capabilities.
func (t *StdioTransport) answerServerRequest(msg *message) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: msg.ID}
	if msg.Method == "ping" {
		resp.Result = json.RawMessage(`{}`)
	} else {
		resp.Error = &JSONRPCError{Code: ErrCodeMethodNotFound, Message: "method not supported: " + msg.Method}
	}
	if err := t.write(resp); err != nil {
		t.logger.Warn("failed to answer server request", "method", msg.Method, "error", err)
	}
}

func numericID(id any) (int64, bool) {
	switch v := id.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

// logStderr forwards server stderr lines to the debug log.
func (t *StdioTransport) logStderr(stderr io.Reader) {
	defer t.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			t.logger.Debug("server stderr", "message", line)
		}
	}
}
