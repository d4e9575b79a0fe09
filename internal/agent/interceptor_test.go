package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/trialchat/internal/observability"
	"github.com/haasonsaas/trialchat/internal/truncation"
)

type stubTool struct {
	name    string
	result  *ToolResult
	err     error
	delay   time.Duration
	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub " + s.name }
func (s *stubTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object"}`)
}

func (s *stubTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	s.calls.Add(1)
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if n <= seen || s.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.result, s.err
}

func TestTruncatingToolPassThrough(t *testing.T) {
	small := &ToolResult{Content: `{"count":3}`}
	huge := strings.Repeat("x", 10000)

	tests := []struct {
		name    string
		cfg     InterceptorConfig
		tool    string
		result  *ToolResult
		wantErr bool
	}{
		{"fits budget", InterceptorConfig{}, "execute_query", small, false},
		{"error result", InterceptorConfig{MaxTokens: 10}, "execute_query", &ToolResult{Content: huge, IsError: true}, false},
		{"not in allow-set", InterceptorConfig{MaxTokens: 10, EnabledTools: []string{"read_file"}}, "execute_query", &ToolResult{Content: huge}, false},
		{"empty allow-set", InterceptorConfig{MaxTokens: 10, EnabledTools: []string{}}, "execute_query", &ToolResult{Content: huge}, false},
		{"nil result", InterceptorConfig{MaxTokens: 10}, "execute_query", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &stubTool{name: tt.tool, result: tt.result}
			wrapped := NewInterceptor(tt.cfg, nil, nil).Wrap(inner, nil)

			got, err := wrapped.Execute(context.Background(), nil)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if got != tt.result {
				t.Errorf("result was replaced: %+v", got)
			}
			if inner.calls.Load() != 1 {
				t.Errorf("inner calls = %d", inner.calls.Load())
			}
		})
	}
}

func TestTruncatingToolBoundsText(t *testing.T) {
	raw := strings.Repeat("y", 50000)
	inner := &stubTool{name: "read_file", result: &ToolResult{Content: raw}}
	metrics := observability.NewMetrics(nil)
	wrapped := NewInterceptor(InterceptorConfig{MaxTokens: 2000}, nil, metrics).Wrap(inner, nil)

	if _, ok := wrapped.(*TruncatingTool); !ok {
		t.Fatalf("Wrap() = %T, want *TruncatingTool", wrapped)
	}
	got, err := wrapped.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got.Content != truncation.TruncateText(raw, 2000) {
		t.Errorf("content tail = %q", got.Content[len(got.Content)-80:])
	}
	if got.Truncation == nil || got.Truncation.FullContent != raw {
		t.Fatal("outcome not attached")
	}
	if v := testutil.ToFloat64(metrics.TruncationCounter.WithLabelValues("read_file", "text")); v != 1 {
		t.Errorf("truncation metric = %v", v)
	}
}

func TestTruncatingToolBoundsStructuredData(t *testing.T) {
	rows := make([]map[string]any, 200)
	for i := range rows {
		rows[i] = map[string]any{"subject": i, "arm": "treatment"}
	}
	data := map[string]any{"rows": rows, "count": len(rows)}
	encoded, _ := json.Marshal(data)

	inner := &stubTool{name: "execute_query", result: &ToolResult{Content: string(encoded), Data: data}}
	wrapped := NewInterceptor(InterceptorConfig{MaxTokens: 500, MaxArrayItems: 5}, nil, nil).Wrap(inner, nil)

	got, err := wrapped.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var decoded struct {
		Rows struct {
			Items      []map[string]any `json:"items"`
			TotalCount int              `json:"total_count"`
		} `json:"rows"`
	}
	if err := json.Unmarshal([]byte(got.Content), &decoded); err != nil {
		t.Fatalf("bounded content invalid: %v", err)
	}
	if decoded.Rows.TotalCount != 200 || len(decoded.Rows.Items) != 5 {
		t.Errorf("rows window = %+v", decoded.Rows)
	}
	if got.Truncation.Metadata.Strategy != truncation.StrategySmartJSON {
		t.Errorf("strategy = %q", got.Truncation.Metadata.Strategy)
	}
}

func TestVerboseTruncatingTool(t *testing.T) {
	raw := strings.Repeat("z", 5000)
	inner := &stubTool{name: "search_fda_drugs", result: &ToolResult{Content: raw}}
	wrapped := NewInterceptor(InterceptorConfig{MaxTokens: 100, Verbose: true}, nil, nil).Wrap(inner, nil)

	if _, ok := wrapped.(*VerboseTruncatingTool); !ok {
		t.Fatalf("Wrap() = %T, want *VerboseTruncatingTool", wrapped)
	}
	got, err := wrapped.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var env truncation.ToolEnvelope
	if err := json.Unmarshal([]byte(got.Content), &env); err != nil {
		t.Fatalf("content is not an envelope: %v", err)
	}
	if env.Metadata.ToolName != "search_fda_drugs" || !env.Metadata.Truncation.WasTruncated {
		t.Errorf("metadata = %+v", env.Metadata)
	}
	if env.Metadata.FullResult == nil || *env.Metadata.FullResult != raw {
		t.Error("full_result missing")
	}
	if env.Content != truncation.TruncateText(raw, 100) {
		t.Error("envelope content is not the bounded text")
	}
}

func TestInterceptorUpdateAppliesToWrappedTools(t *testing.T) {
	raw := strings.Repeat("w", 4000)
	inner := &stubTool{name: "read_file", result: &ToolResult{Content: raw}}
	interceptor := NewInterceptor(InterceptorConfig{MaxTokens: 2000}, nil, nil)
	wrapped := interceptor.Wrap(inner, nil)

	got, _ := wrapped.Execute(context.Background(), nil)
	if got.Truncation != nil {
		t.Fatal("result within budget was truncated")
	}

	interceptor.Update(InterceptorConfig{MaxTokens: 100, EnabledTools: []string{"read_file", "execute_query"}})
	got, _ = wrapped.Execute(context.Background(), nil)
	if got.Truncation == nil {
		t.Fatal("updated budget not applied")
	}

	cfg := interceptor.Config()
	if cfg.MaxTokens != 100 || cfg.MaxArrayItems != truncation.DefaultMaxArrayItems {
		t.Errorf("Config() = %+v", cfg)
	}
	if cfg.EnabledTools[0] != "execute_query" {
		t.Errorf("EnabledTools not sorted: %v", cfg.EnabledTools)
	}
	if interceptor.Applies("list_files") {
		t.Error("list_files should be excluded by the allow-set")
	}
}

func TestInterceptorAllowSetNilVersusEmpty(t *testing.T) {
	all := NewInterceptor(InterceptorConfig{}, nil, nil)
	none := NewInterceptor(InterceptorConfig{EnabledTools: []string{}}, nil, nil)

	for _, tool := range []string{"execute_query", "read_file"} {
		if !all.Applies(tool) {
			t.Errorf("nil allow-set should bound %s", tool)
		}
		if none.Applies(tool) {
			t.Errorf("empty allow-set should not bound %s", tool)
		}
	}
	if cfg := none.Config(); cfg.EnabledTools == nil || len(cfg.EnabledTools) != 0 {
		t.Errorf("Config().EnabledTools = %#v, want empty non-nil", cfg.EnabledTools)
	}
}

func TestTruncatingToolPropagatesErrors(t *testing.T) {
	boom := errors.New("connection reset")
	inner := &stubTool{name: "execute_query", err: boom}
	wrapped := NewInterceptor(InterceptorConfig{}, nil, nil).Wrap(inner, nil)

	if _, err := wrapped.Execute(context.Background(), nil); !errors.Is(err, boom) {
		t.Errorf("Execute() error = %v, want %v", err, boom)
	}
}

func TestTruncatingToolSerializesPerConnection(t *testing.T) {
	inner := &stubTool{name: "execute_query", result: &ToolResult{Content: "ok"}, delay: 5 * time.Millisecond}
	interceptor := NewInterceptor(InterceptorConfig{}, nil, nil)
	wrapped := interceptor.Wrap(inner, &sync.Mutex{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = wrapped.Execute(context.Background(), nil)
		}()
	}
	wg.Wait()

	if inner.calls.Load() != 8 {
		t.Errorf("calls = %d", inner.calls.Load())
	}
	if inner.maxSeen.Load() != 1 {
		t.Errorf("max concurrent calls = %d, want 1", inner.maxSeen.Load())
	}
}

func TestWrapperDelegatesMetadata(t *testing.T) {
	inner := &stubTool{name: "list_files"}
	for _, verbose := range []bool{false, true} {
		wrapped := NewInterceptor(InterceptorConfig{Verbose: verbose}, nil, nil).Wrap(inner, nil)
		if wrapped.Name() != "list_files" || wrapped.Description() != "stub list_files" {
			t.Errorf("metadata not delegated: %s / %s", wrapped.Name(), wrapped.Description())
		}
		if !IsTruncating(wrapped) || IsTruncating(inner) {
			t.Error("IsTruncating misreports")
		}
		if u, ok := wrapped.(Unwrapper); !ok || u.Unwrap() != Tool(inner) {
			t.Error("Unwrap() did not return the inner tool")
		}
	}
}
