package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/trialchat/internal/observability"
	"github.com/haasonsaas/trialchat/pkg/models"
)

// mockTool implements Tool for testing
type mockTool struct {
	name        string
	description string
	schema      json.RawMessage
	execFunc    func(ctx context.Context, params json.RawMessage) (*ToolResult, error)
	execCount   atomic.Int32
}

func (m *mockTool) Name() string            { return m.name }
func (m *mockTool) Description() string     { return m.description }
func (m *mockTool) Schema() json.RawMessage { return m.schema }
func (m *mockTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	m.execCount.Add(1)
	if m.execFunc != nil {
		return m.execFunc(ctx, params)
	}
	return &ToolResult{Content: "success"}, nil
}

func TestExecutor_Execute_Success(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&mockTool{
		name: "calculate_statistics",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "result"}, nil
		},
	})

	metrics := observability.NewMetrics(nil)
	executor := NewExecutor(registry, nil)
	executor.SetObservability(metrics, nil)
	result := executor.Execute(context.Background(), models.ToolCall{
		ID:    "call-1",
		Name:  "calculate_statistics",
		Input: json.RawMessage(`{}`),
	})

	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if result.Result.Content != "result" {
		t.Errorf("content = %q, want %q", result.Result.Content, "result")
	}
	if result.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", result.Attempts)
	}
	if v := testutil.ToFloat64(metrics.ToolExecutionCounter.WithLabelValues("calculate_statistics", "success")); v != 1 {
		t.Errorf("tool metric = %v", v)
	}
}

func TestExecutor_Execute_Retry(t *testing.T) {
	var attempts atomic.Int32
	registry := NewToolRegistry()
	registry.Register(&mockTool{
		name: "search_clinical_trials",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			if attempts.Add(1) < 3 {
				return nil, errors.New("dial tcp: connection refused")
			}
			return &ToolResult{Content: "success"}, nil
		},
	})

	config := DefaultExecutorConfig()
	config.DefaultRetries = 3
	config.RetryBackoff = time.Millisecond

	result := NewExecutor(registry, config).Execute(context.Background(), models.ToolCall{ID: "c", Name: "search_clinical_trials"})
	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
}

func TestExecutor_Execute_NoRetryForExecutionErrors(t *testing.T) {
	tool := &mockTool{
		name: "execute_query",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return nil, errors.New("syntax error at or near SELEC")
		},
	}
	registry := NewToolRegistry()
	registry.Register(tool)

	config := DefaultExecutorConfig()
	config.DefaultRetries = 3
	result := NewExecutor(registry, config).Execute(context.Background(), models.ToolCall{ID: "c", Name: "execute_query"})
	if result.Error == nil {
		t.Fatal("expected error")
	}
	if tool.execCount.Load() != 1 {
		t.Errorf("executions = %d, want 1", tool.execCount.Load())
	}
}

func TestExecutor_Execute_Timeout(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&mockTool{
		name: "slow",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return &ToolResult{Content: "late"}, nil
			}
		},
	})

	executor := NewExecutor(registry, nil)
	executor.ConfigureTool("slow", &ToolConfig{Timeout: 20 * time.Millisecond})
	result := executor.Execute(context.Background(), models.ToolCall{ID: "c", Name: "slow"})

	if !errors.Is(result.Error, ErrToolTimeout) {
		t.Fatalf("error = %v, want ErrToolTimeout", result.Error)
	}
}

func TestExecutor_Execute_Panic(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&mockTool{
		name: "panicky",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			panic("kaboom")
		},
	})

	result := NewExecutor(registry, nil).Execute(context.Background(), models.ToolCall{ID: "c", Name: "panicky"})
	toolErr, ok := GetToolError(result.Error)
	if !ok || toolErr.Type != ToolErrorPanic {
		t.Fatalf("error = %v, want panic tool error", result.Error)
	}
	if !strings.Contains(result.Error.Error(), "kaboom") {
		t.Errorf("panic value missing from %q", result.Error.Error())
	}
}

func TestExecutor_ExecuteAll_PreservesOrder(t *testing.T) {
	registry := NewToolRegistry()
	for _, spec := range []struct {
		name  string
		delay time.Duration
	}{{"a", 30 * time.Millisecond}, {"b", 0}, {"c", 10 * time.Millisecond}} {
		spec := spec
		registry.Register(&mockTool{
			name: spec.name,
			execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
				time.Sleep(spec.delay)
				return &ToolResult{Content: spec.name}, nil
			},
		})
	}

	calls := []models.ToolCall{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}, {ID: "3", Name: "c"}, {ID: "4", Name: "missing"}}
	results := NewExecutor(registry, nil).ExecuteAll(context.Background(), calls)

	messages := ResultsToMessages(results)
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if messages[i].ToolCallID != calls[i].ID || messages[i].Content != w {
			t.Errorf("messages[%d] = %+v", i, messages[i])
		}
	}
	if !messages[3].IsError || !strings.Contains(messages[3].Content, "tool not found") {
		t.Errorf("unknown tool result = %+v", messages[3])
	}
	if NewExecutor(registry, nil).ExecuteAll(context.Background(), nil) != nil {
		t.Error("ExecuteAll(nil) should return nil")
	}
}

func TestExecutor_Execute_CancelledContext(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&mockTool{name: "a"})

	config := DefaultExecutorConfig()
	config.MaxConcurrency = 1
	executor := NewExecutor(registry, config)
	executor.sem <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := executor.Execute(ctx, models.ToolCall{ID: "c", Name: "a"})
	if !errors.Is(result.Error, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", result.Error)
	}
}
