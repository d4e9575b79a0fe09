package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/trialchat/internal/agent"
)

// mockTool implements agent.Tool for testing.
type mockTool struct {
	name        string
	description string
	schema      json.RawMessage
}

func (m *mockTool) Name() string            { return m.name }
func (m *mockTool) Description() string     { return m.description }
func (m *mockTool) Schema() json.RawMessage { return m.schema }
func (m *mockTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "test result"}, nil
}

var statsTool = &mockTool{
	name:        "calculate_statistics",
	description: "Descriptive statistics over numeric values",
	schema:      json.RawMessage(`{"type":"object","properties":{"values":{"type":"array","items":{"type":"number"}}},"required":["values"]}`),
}

// streamServer replays lines as an event stream. Requests numbered in
// failFirst get failStatus and failBody instead.
type streamServer struct {
	*httptest.Server
	hits     atomic.Int32
	lastBody atomic.Value
}

func newStreamServer(t *testing.T, lines []string, failFirst int, failStatus int, failBody string) *streamServer {
	t.Helper()
	s := &streamServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.lastBody.Store(body)

		if int(s.hits.Add(1)) <= failFirst {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(failStatus)
			fmt.Fprint(w, failBody)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *streamServer) body() map[string]any {
	body, _ := s.lastBody.Load().(map[string]any)
	return body
}

func collectChunks(t *testing.T, ch <-chan *agent.CompletionChunk) (text string, calls []agent.CompletionChunk, done *agent.CompletionChunk) {
	t.Helper()
	var sb strings.Builder
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return sb.String(), calls, done
			}
			if chunk.Error != nil {
				t.Fatalf("stream error: %v", chunk.Error)
			}
			sb.WriteString(chunk.Text)
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk)
			}
			if chunk.Done {
				done = chunk
			}
		case <-timeout:
			t.Fatal("timed out reading stream")
		}
	}
}

func TestBaseProviderRetry(t *testing.T) {
	base := NewBaseProvider("test", "m", 2, time.Millisecond)

	var attempts int
	err := base.Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return NewProviderError("test", "m", nil).WithStatus(503)
		}
		return nil
	})
	if err != nil || attempts != 3 {
		t.Fatalf("Retry() = %v after %d attempts", err, attempts)
	}

	attempts = 0
	err = base.Retry(context.Background(), func() error {
		attempts++
		return NewProviderError("test", "m", nil).WithStatus(401)
	})
	if err == nil || attempts != 1 {
		t.Errorf("auth failure retried: err=%v attempts=%d", err, attempts)
	}

	noRetry := NewBaseProvider("test", "m", -1, 0)
	attempts = 0
	_ = noRetry.Retry(context.Background(), func() error {
		attempts++
		return NewProviderError("test", "m", nil).WithStatus(503)
	})
	if attempts != 1 {
		t.Errorf("negative MaxRetries attempts = %d, want 1", attempts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := base.Retry(ctx, func() error { return nil }); err != context.Canceled {
		t.Errorf("cancelled Retry() = %v", err)
	}
}

func TestMaxTokensDefault(t *testing.T) {
	if maxTokens(0) != defaultMaxTokens || maxTokens(-5) != defaultMaxTokens || maxTokens(100) != 100 {
		t.Error("maxTokens defaults wrong")
	}
}
