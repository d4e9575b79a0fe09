package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	sessionIDHeader       = "Mcp-Session-Id"
	protocolVersionHeader = "Mcp-Protocol-Version"
)

// HTTPTransport implements the MCP streamable HTTP transport. Every message
// is POSTed to the server URL; a response arrives either as a JSON body or
// as an event stream that carries it.
type HTTPTransport struct {
	config *ServerConfig
	logger *slog.Logger
	client *http.Client

	mu              sync.Mutex
	sessionID       string
	protocolVersion string

	connected atomic.Bool
}

// NewHTTPTransport creates a new HTTP transport.
func NewHTTPTransport(cfg *ServerConfig, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{
		config: cfg,
		logger: logger.With("mcp_server", cfg.ID, "transport", "http"),
		client: &http.Client{Timeout: callTimeout(cfg)},
	}
}

// Connect marks the transport ready. The session is established by the
// client's initialize call.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("URL is required for HTTP transport")
	}
	t.connected.Store(true)
	t.logger.Info("HTTP transport ready", "url", t.config.URL)
	return nil
}

// Close ends the session on the server when one was established.
func (t *HTTPTransport) Close() error {
	if !t.connected.Swap(false) {
		return nil
	}
	t.mu.Lock()
	sessionID := t.sessionID
	t.sessionID = ""
	t.mu.Unlock()
	if sessionID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.config.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	t.setHeaders(req, sessionID)
	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Debug("session delete failed", "error", err)
		return nil
	}
	resp.Body.Close()
	return nil
}

// Call sends a request and waits for the matching response.
func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	raw, err := encodeParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	id := uuid.New().String()
	resp, err := t.post(ctx, JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	if sid := resp.Header.Get(sessionIDHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	var rpcResp *JSONRPCResponse
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")) //nolint:errcheck
	if mediaType == "text/event-stream" {
		rpcResp, err = readEventStream(resp.Body, id)
	} else {
		rpcResp = &JSONRPCResponse{}
		err = json.NewDecoder(resp.Body).Decode(rpcResp)
	}
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	if method == "initialize" {
		var init InitializeResult
		if json.Unmarshal(rpcResp.Result, &init) == nil && init.ProtocolVersion != "" {
			t.mu.Lock()
			t.protocolVersion = init.ProtocolVersion
			t.mu.Unlock()
		}
	}
	return rpcResp.Result, nil
}

// Notify sends a notification (no response expected).
func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	raw, err := encodeParams(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	resp, err := t.post(ctx, JSONRPCNotification{JSONRPC: "2.0", Method: method, Params: raw})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

// Connected returns whether the transport is connected.
func (t *HTTPTransport) Connected() bool {
	return t.connected.Load()
}

// SessionID returns the server-assigned session, if any.
func (t *HTTPTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *HTTPTransport) post(ctx context.Context, msg any) (*http.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	t.mu.Lock()
	sessionID := t.sessionID
	t.mu.Unlock()
	t.setHeaders(req, sessionID)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	return resp, nil
}

func (t *HTTPTransport) setHeaders(req *http.Request, sessionID string) {
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
	if sessionID != "" {
		req.Header.Set(sessionIDHeader, sessionID)
	}
	t.mu.Lock()
	version := t.protocolVersion
	t.mu.Unlock()
	if version != "" {
		req.Header.Set(protocolVersionHeader, version)
	}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)) //nolint:errcheck
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// readEventStream scans server-sent events until the response to id arrives.
// Server requests and notifications on the stream are skipped.
func readEventStream(r io.Reader, id string) (*JSONRPCResponse, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)

	var data bytes.Buffer
	flush := func() (*JSONRPCResponse, bool) {
		defer data.Reset()
		if data.Len() == 0 {
			return nil, false
		}
		var msg message
		if err := json.Unmarshal(data.Bytes(), &msg); err != nil || !msg.isResponse() {
			return nil, false
		}
		if !sameID(msg.ID, id) {
			return nil, false
		}
		return &JSONRPCResponse{JSONRPC: msg.JSONRPC, ID: msg.ID, Result: msg.Result, Error: msg.Error}, true
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if resp, ok := flush(); ok {
				return resp, nil
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if resp, ok := flush(); ok {
		return resp, nil
	}
	return nil, fmt.Errorf("event stream ended without a response to %s", id)
}
