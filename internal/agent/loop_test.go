package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/trialchat/pkg/models"
)

// scriptedProvider replays one chunk script per Complete call. The last
// script repeats once the scripts run out.
type scriptedProvider struct {
	mu       sync.Mutex
	scripts  [][]*CompletionChunk
	requests []CompletionRequest
	err      error
	noTools  bool
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []Model     { return []Model{{ID: "scripted-1"}} }
func (p *scriptedProvider) SupportsTools() bool { return !p.noTools }

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := *req
	snapshot.Messages = append([]CompletionMessage(nil), req.Messages...)
	p.requests = append(p.requests, snapshot)
	if p.err != nil {
		return nil, p.err
	}

	idx := len(p.requests) - 1
	if idx >= len(p.scripts) {
		idx = len(p.scripts) - 1
	}
	script := p.scripts[idx]
	ch := make(chan *CompletionChunk, len(script))
	for _, c := range script {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func textScript(parts ...string) []*CompletionChunk {
	script := make([]*CompletionChunk, 0, len(parts)+1)
	for _, p := range parts {
		script = append(script, &CompletionChunk{Text: p})
	}
	return append(script, &CompletionChunk{Done: true, InputTokens: 10, OutputTokens: 5})
}

func toolScript(text string, calls ...models.ToolCall) []*CompletionChunk {
	var script []*CompletionChunk
	if text != "" {
		script = append(script, &CompletionChunk{Text: text})
	}
	for i := range calls {
		script = append(script, &CompletionChunk{ToolCall: &calls[i]})
	}
	return append(script, &CompletionChunk{Done: true})
}

func userRequest(prompt string) *models.RunRequest {
	return &models.RunRequest{Messages: []models.ChatMessage{{Role: models.RoleUser, Content: prompt}}}
}

func collect(t *testing.T, ch <-chan *ResponseChunk) []*ResponseChunk {
	t.Helper()
	var out []*ResponseChunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("timed out waiting for run to finish")
		}
	}
}

func TestAgenticLoop_TextOnly(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{textScript("Enrollment ", "was 412.")}}
	loop := NewAgenticLoop(provider, nil, nil)

	ch, err := loop.Run(context.Background(), userRequest("How many enrolled?"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	chunks := collect(t, ch)

	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if chunks[0].Text != "Enrollment " || chunks[1].Text != "was 412." {
		t.Errorf("text chunks = %q, %q", chunks[0].Text, chunks[1].Text)
	}
	final := chunks[2].Message
	if final == nil || final.Role != models.RoleAssistant || final.Content != "Enrollment was 412." {
		t.Errorf("final message = %+v", final)
	}
	if provider.requests[0].System != DefaultSystemPrompt || provider.requests[0].MaxTokens != 4096 {
		t.Errorf("request defaults not applied: %+v", provider.requests[0])
	}
}

func TestAgenticLoop_ToolRoundTrip(t *testing.T) {
	registry := NewToolRegistry()
	stats := &mockTool{
		name: "calculate_statistics",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: `{"mean": 2}`}, nil
		},
	}
	registry.Register(stats)

	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		toolScript("Let me compute that. ", models.ToolCall{ID: "call-1", Name: "calculate_statistics", Input: json.RawMessage(`{"values":[1,2,3]}`)}),
		textScript("The mean is 2."),
	}}
	loop := NewAgenticLoop(provider, registry, nil)

	ch, err := loop.Run(context.Background(), userRequest("Mean of 1,2,3?"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	chunks := collect(t, ch)

	var sawCall, sawResult bool
	var final *models.ChatMessage
	for _, c := range chunks {
		switch {
		case c.ToolCall != nil:
			sawCall = c.ToolCall.Name == "calculate_statistics"
		case c.ToolResult != nil:
			sawResult = c.ToolResult.ToolCallID == "call-1" && c.ToolResult.Content == `{"mean": 2}`
		case c.Message != nil:
			final = c.Message
		case c.Error != nil:
			t.Fatalf("unexpected error: %v", c.Error)
		}
	}
	if !sawCall || !sawResult {
		t.Errorf("tool activity not reported: call=%v result=%v", sawCall, sawResult)
	}
	if final == nil || final.Content != "The mean is 2." {
		t.Errorf("final = %+v", final)
	}
	if stats.execCount.Load() != 1 {
		t.Errorf("tool executions = %d", stats.execCount.Load())
	}

	if len(provider.requests) != 2 {
		t.Fatalf("provider calls = %d", len(provider.requests))
	}
	second := provider.requests[1].Messages
	if len(second) != 3 {
		t.Fatalf("second request messages = %d", len(second))
	}
	if second[1].Role != "assistant" || second[1].Content != "Let me compute that. " || len(second[1].ToolCalls) != 1 {
		t.Errorf("assistant turn = %+v", second[1])
	}
	if second[2].Role != "tool" || second[2].ToolResults[0].ToolCallID != "call-1" {
		t.Errorf("tool turn = %+v", second[2])
	}
	if len(provider.requests[0].Tools) != 1 {
		t.Errorf("tools offered = %d", len(provider.requests[0].Tools))
	}
}

func TestAgenticLoop_MaxIterations(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&mockTool{name: "list_files"})
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		toolScript("", models.ToolCall{ID: "c", Name: "list_files", Input: json.RawMessage(`{}`)}),
	}}
	loop := NewAgenticLoop(provider, registry, &LoopConfig{MaxIterations: 2})

	ch, _ := loop.Run(context.Background(), userRequest("loop forever"))
	chunks := collect(t, ch)

	last := chunks[len(chunks)-1]
	if !errors.Is(last.Error, ErrMaxIterations) {
		t.Fatalf("last chunk error = %v, want ErrMaxIterations", last.Error)
	}
	var loopErr *LoopError
	if !errors.As(last.Error, &loopErr) || loopErr.Message != "reached max iterations: 2" {
		t.Errorf("loop error = %v", last.Error)
	}
	if len(provider.requests) != 2 {
		t.Errorf("provider calls = %d, want 2", len(provider.requests))
	}
}

func TestAgenticLoop_ProviderErrors(t *testing.T) {
	boom := errors.New("upstream overloaded")

	tests := []struct {
		name     string
		provider *scriptedProvider
	}{
		{"complete fails", &scriptedProvider{err: boom}},
		{"stream fails", &scriptedProvider{scripts: [][]*CompletionChunk{{{Text: "partial"}, {Error: boom}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := NewAgenticLoop(tt.provider, nil, nil).Run(context.Background(), userRequest("hi"))
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			chunks := collect(t, ch)
			last := chunks[len(chunks)-1]
			if !errors.Is(last.Error, boom) {
				t.Fatalf("last error = %v", last.Error)
			}
			if !strings.Contains(last.Error.Error(), "upstream overloaded") {
				t.Errorf("error text = %q", last.Error.Error())
			}
		})
	}
}

func TestAgenticLoop_ToolFailureFailsRun(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&mockTool{
		name: "lookup",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return nil, errors.New("tool server connection reset")
		},
	})
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		toolScript("Checking. ", models.ToolCall{ID: "call-1", Name: "lookup", Input: json.RawMessage(`{}`)}),
		textScript("should not be reached"),
	}}

	ch, err := NewAgenticLoop(provider, registry, nil).Run(context.Background(), userRequest("look it up"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	chunks := collect(t, ch)

	last := chunks[len(chunks)-1]
	var loopErr *LoopError
	if !errors.As(last.Error, &loopErr) || loopErr.Phase != PhaseExecuteTools {
		t.Fatalf("last chunk error = %v, want execute_tools loop error", last.Error)
	}
	if !strings.Contains(loopErr.Cause.Error(), "tool server connection reset") {
		t.Errorf("cause = %v", loopErr.Cause)
	}
	for _, c := range chunks {
		if c.Message != nil || c.ToolResult != nil {
			t.Errorf("unexpected chunk after tool failure: %+v", c)
		}
	}
	if len(provider.requests) != 1 {
		t.Errorf("provider calls = %d, want 1", len(provider.requests))
	}
}

func TestAgenticLoop_ToolReportedErrorGoesBackToModel(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&mockTool{
		name: "execute_query",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "only read statements are allowed", IsError: true}, nil
		},
	})
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		toolScript("", models.ToolCall{ID: "call-1", Name: "execute_query", Input: json.RawMessage(`{}`)}),
		textScript("That query is not allowed."),
	}}

	ch, err := NewAgenticLoop(provider, registry, nil).Run(context.Background(), userRequest("drop the table"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	chunks := collect(t, ch)

	last := chunks[len(chunks)-1]
	if last.Error != nil || last.Message == nil || last.Message.Content != "That query is not allowed." {
		t.Fatalf("last chunk = %+v", last)
	}
	results := provider.requests[1].Messages[2].ToolResults
	if len(results) != 1 || !results[0].IsError {
		t.Errorf("tool results = %+v", results)
	}
}

func TestAgenticLoop_RejectsInvalidRequests(t *testing.T) {
	loop := NewAgenticLoop(&scriptedProvider{}, nil, nil)

	if _, err := loop.Run(context.Background(), &models.RunRequest{}); !errors.Is(err, models.ErrNoMessages) {
		t.Errorf("empty request error = %v", err)
	}
	if _, err := loop.Run(context.Background(), userRequest("   ")); !errors.Is(err, models.ErrEmptyPrompt) {
		t.Errorf("blank prompt error = %v", err)
	}
	if _, err := NewAgenticLoop(nil, nil, nil).Run(context.Background(), userRequest("hi")); !errors.Is(err, ErrNoProvider) {
		t.Errorf("nil provider error = %v", err)
	}
}

func TestAgenticLoop_SystemTurnsAndHistory(t *testing.T) {
	provider := &scriptedProvider{noTools: true, scripts: [][]*CompletionChunk{textScript("ok")}}
	loop := NewAgenticLoop(provider, nil, &LoopConfig{SystemPrompt: "Base prompt.", Model: "m-1", MaxTokens: 100})

	req := &models.RunRequest{Messages: []models.ChatMessage{
		{Role: models.RoleSystem, Content: "Answer in French."},
		{Role: models.RoleUser, Content: "Bonjour"},
		{Role: models.RoleAssistant, Content: "Salut"},
		{Role: models.RoleUser, Content: "Combien?"},
	}}
	ch, _ := loop.Run(context.Background(), req)
	collect(t, ch)

	got := provider.requests[0]
	if got.System != "Base prompt.\n\nAnswer in French." {
		t.Errorf("System = %q", got.System)
	}
	if len(got.Messages) != 3 || got.Messages[2].Content != "Combien?" {
		t.Errorf("Messages = %+v", got.Messages)
	}
	if got.Model != "m-1" || got.MaxTokens != 100 || got.Tools != nil {
		t.Errorf("request = %+v", got)
	}
}

func TestAgenticLoop_CancelStopsRun(t *testing.T) {
	release := make(chan struct{})
	registry := NewToolRegistry()
	registry.Register(&mockTool{
		name: "execute_query",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-release:
				return &ToolResult{Content: "late"}, nil
			}
		},
	})
	defer close(release)

	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		toolScript("", models.ToolCall{ID: "c", Name: "execute_query", Input: json.RawMessage(`{}`)}),
		textScript("never"),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := NewAgenticLoop(provider, registry, nil).Run(ctx, userRequest("query"))

	for c := range ch {
		if c.ToolCall != nil {
			cancel()
		}
		if c.Message != nil {
			t.Fatal("cancelled run produced a final message")
		}
	}
	if len(provider.requests) != 1 {
		t.Errorf("provider calls after cancel = %d, want 1", len(provider.requests))
	}
}
