package providers

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/haasonsaas/trialchat/internal/agent"
	"github.com/haasonsaas/trialchat/pkg/models"
)

func TestNewGoogleProvider(t *testing.T) {
	if _, err := NewGoogleProvider(GoogleConfig{}); err == nil {
		t.Error("expected error without API key")
	}
	p, err := NewGoogleProvider(GoogleConfig{APIKey: "AIza-test", DefaultModel: "gemini-2.5-pro"})
	if err != nil {
		t.Fatalf("NewGoogleProvider() error = %v", err)
	}
	if p.Name() != "google" || p.model("") != "gemini-2.5-pro" {
		t.Errorf("name=%q model=%q", p.Name(), p.model(""))
	}
}

func TestConvertGeminiMessages(t *testing.T) {
	messages := []agent.CompletionMessage{
		{Role: "system", Content: "dropped"},
		{Role: "user", Content: "Search trials for NSCLC"},
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "call_search_1", Name: "search_clinical_trials", Input: json.RawMessage(`{"condition":"NSCLC"}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			{ToolCallID: "call_search_1", Content: `{"total": 3}`},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			{ToolCallID: "call_search_1", Content: "upstream 503", IsError: true},
		}},
	}

	got := convertGeminiMessages(messages)
	if len(got) != 4 {
		t.Fatalf("contents = %d, want 4", len(got))
	}
	if got[1].Role != genai.RoleModel || got[1].Parts[0].FunctionCall.Args["condition"] != "NSCLC" {
		t.Errorf("model turn = %+v", got[1].Parts[0])
	}
	resp := got[2].Parts[0].FunctionResponse
	if got[2].Role != genai.RoleUser || resp.Name != "search_clinical_trials" || resp.Response["total"] != float64(3) {
		t.Errorf("function response = %+v", resp)
	}
	if errResp := got[3].Parts[0].FunctionResponse; errResp.Response["error"] != "upstream 503" {
		t.Errorf("error response = %+v", errResp.Response)
	}
}

func TestGeminiChunks(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{
			{Text: "thinking...", Thought: true},
			{Text: "Found 3 trials."},
			{FunctionCall: &genai.FunctionCall{Name: "search_fda_drugs", Args: map[string]any{"name": "osimertinib"}}},
		}},
	}}}

	chunks := geminiChunks(resp)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].Text != "Found 3 trials." {
		t.Errorf("text = %q", chunks[0].Text)
	}
	call := chunks[1].ToolCall
	if call.Name != "search_fda_drugs" || !strings.HasPrefix(call.ID, "call_search_fda_drugs_") || string(call.Input) != `{"name":"osimertinib"}` {
		t.Errorf("call = %+v (%s)", call, call.Input)
	}

	if geminiChunks(&genai.GenerateContentResponse{}) != nil {
		t.Error("empty response should yield no chunks")
	}
}

func TestBuildGeminiConfig(t *testing.T) {
	config := buildGeminiConfig(&agent.CompletionRequest{
		System:    "Be precise.",
		MaxTokens: 512,
		Tools:     []agent.Tool{statsTool},
	})
	if config.MaxOutputTokens != 512 || config.SystemInstruction.Parts[0].Text != "Be precise." {
		t.Errorf("config = %+v", config)
	}
	if len(config.Tools) != 1 || config.Tools[0].FunctionDeclarations[0].Name != "calculate_statistics" {
		t.Errorf("tools = %+v", config.Tools)
	}
	if buildGeminiConfig(&agent.CompletionRequest{}).SystemInstruction != nil {
		t.Error("empty system prompt should not set SystemInstruction")
	}
}

func TestGoogleWrapError(t *testing.T) {
	p := &GoogleProvider{BaseProvider: NewBaseProvider("google", DefaultGoogleModel, 0, 0)}

	err := p.wrapError(fmt.Errorf("stream: %w", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}), "gemini-2.0-flash")
	providerErr, ok := GetProviderError(err)
	if !ok || providerErr.Reason != FailoverRateLimit || providerErr.Status != 429 {
		t.Errorf("wrapped = %+v", err)
	}

	err = p.wrapError(fmt.Errorf("rpc error: code = Unauthenticated"), "gemini-2.0-flash")
	if providerErr, _ := GetProviderError(err); providerErr.Reason != FailoverAuth {
		t.Errorf("unauthenticated reason = %v", providerErr.Reason)
	}
}
