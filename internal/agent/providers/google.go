package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/trialchat/internal/agent"
	"github.com/haasonsaas/trialchat/internal/agent/toolconv"
	"github.com/haasonsaas/trialchat/pkg/models"
)

// DefaultGoogleModel is used when neither the request nor the config names a model.
const DefaultGoogleModel = "gemini-2.0-flash"

// GoogleConfig configures a GoogleProvider.
type GoogleConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// GoogleProvider streams completions from Gemini models via the Gemini API.
type GoogleProvider struct {
	BaseProvider
	client *genai.Client
}

// NewGoogleProvider creates a provider from config.
func NewGoogleProvider(config GoogleConfig) (*GoogleProvider, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("google: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = DefaultGoogleModel
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{
		BaseProvider: NewBaseProvider("google", config.DefaultModel, config.MaxRetries, config.RetryDelay),
		client:       client,
	}, nil
}

// Models returns the Gemini models this provider is known to serve.
func (p *GoogleProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextSize: 1000000},
		{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", ContextSize: 1000000},
		{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", ContextSize: 1000000},
	}
}

// SupportsTools reports true; function declarations are supported.
func (p *GoogleProvider) SupportsTools() bool {
	return true
}

// Complete sends req and streams the response.
func (p *GoogleProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.model(req.Model)
	contents := convertGeminiMessages(req.Messages)
	config := buildGeminiConfig(req)

	var (
		next func() (*genai.GenerateContentResponse, error, bool)
		stop func()
		head *genai.GenerateContentResponse
	)
	err := p.Retry(ctx, func() error {
		n, s := iter.Pull2(p.client.Models.GenerateContentStream(ctx, model, contents, config))
		resp, streamErr, ok := n()
		if !ok {
			s()
			return p.wrapError(errors.New("stream closed before first response"), model)
		}
		if streamErr != nil {
			s()
			return p.wrapError(streamErr, model)
		}
		next, stop, head = n, s, resp
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.CompletionChunk, 16)
	go p.processStream(ctx, head, next, stop, chunks, model)
	return chunks, nil
}

func (p *GoogleProvider) processStream(
	ctx context.Context,
	resp *genai.GenerateContentResponse,
	next func() (*genai.GenerateContentResponse, error, bool),
	stop func(),
	chunks chan<- *agent.CompletionChunk,
	model string,
) {
	defer close(chunks)
	defer stop()

	send := func(chunk *agent.CompletionChunk) bool {
		select {
		case chunks <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var inputTokens, outputTokens int
	for {
		if resp != nil {
			if usage := resp.UsageMetadata; usage != nil {
				inputTokens = int(usage.PromptTokenCount)
				outputTokens = int(usage.CandidatesTokenCount)
			}
			for _, chunk := range geminiChunks(resp) {
				if !send(chunk) {
					return
				}
			}
		}

		var err error
		var ok bool
		resp, err, ok = next()
		if !ok {
			break
		}
		if err != nil {
			send(&agent.CompletionChunk{Error: p.wrapError(err, model)})
			return
		}
	}

	send(&agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
}

// geminiChunks extracts text and function calls from the first candidate.
// Gemini does not assign call IDs, so one is generated per call.
func geminiChunks(resp *genai.GenerateContentResponse) []*agent.CompletionChunk {
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return nil
	}

	var chunks []*agent.CompletionChunk
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			chunks = append(chunks, &agent.CompletionChunk{Text: part.Text})
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil || part.FunctionCall.Args == nil {
				args = []byte("{}")
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = generateToolCallID(part.FunctionCall.Name)
			}
			chunks = append(chunks, &agent.CompletionChunk{ToolCall: &models.ToolCall{
				ID:    id,
				Name:  part.FunctionCall.Name,
				Input: args,
			}})
		}
	}
	return chunks
}

// convertGeminiMessages maps completion messages to Gemini contents. Function
// responses are matched to their call by looking up the call's name.
func convertGeminiMessages(messages []agent.CompletionMessage) []*genai.Content {
	result := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == string(models.RoleSystem) {
			continue
		}

		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == string(models.RoleAssistant) {
			content.Role = genai.RoleModel
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			args := map[string]any{}
			if len(tc.Input) > 0 {
				_ = json.Unmarshal(tc.Input, &args)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}
		for _, tr := range msg.ToolResults {
			var response map[string]any
			if err := json.Unmarshal([]byte(tr.Content), &response); err != nil || response == nil {
				response = map[string]any{"result": tr.Content}
			}
			if tr.IsError {
				response = map[string]any{"error": tr.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     toolNameForCall(tr.ToolCallID, messages),
					Response: response,
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func buildGeminiConfig(req *agent.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(min(maxTokens(req.MaxTokens), math.MaxInt32)),
		Tools:           toolconv.ToGeminiTools(req.Tools),
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	return config
}

func generateToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

func toolNameForCall(toolCallID string, messages []agent.CompletionMessage) string {
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	return ""
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil || IsProviderError(err) {
		return err
	}

	providerErr := NewProviderError(p.Name(), model, err)

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		providerErr.WithStatus(apiErr.Code)
		if apiErr.Message != "" {
			providerErr.WithMessage(apiErr.Message)
		}
		return providerErr
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "unauthenticated"):
		providerErr.WithStatus(http.StatusUnauthorized)
	case strings.Contains(errMsg, "permission denied"):
		providerErr.WithStatus(http.StatusForbidden)
	case strings.Contains(errMsg, "resource exhausted"), strings.Contains(errMsg, "resource_exhausted"):
		providerErr.WithStatus(http.StatusTooManyRequests)
	}
	return providerErr
}
