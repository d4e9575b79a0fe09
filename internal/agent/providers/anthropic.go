// Package providers implements agent.LLMProvider for the Anthropic, OpenAI
// and Google Gemini APIs, plus a failover chain across them.
//
// Every provider streams. Complete performs the request and reads the first
// stream event before returning, so connection and HTTP failures surface as
// a classified *ProviderError from Complete itself where the failover chain
// can act on them. Failures after the first event arrive as a chunk Error.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/trialchat/internal/agent"
	"github.com/haasonsaas/trialchat/internal/agent/toolconv"
	"github.com/haasonsaas/trialchat/pkg/models"
)

// DefaultAnthropicModel is used when neither the request nor the config names a model.
const DefaultAnthropicModel = "claude-sonnet-4-20250514"

// maxEmptyStreamEvents bounds consecutive events that carry nothing useful
// before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// DefaultModel is used when the request does not name one.
	// Default: DefaultAnthropicModel
	DefaultModel string

	// MaxRetries bounds retries of retryable failures. Negative disables.
	// Default: 3
	MaxRetries int

	// RetryDelay is the first backoff delay; it doubles per attempt.
	// Default: 1s
	RetryDelay time.Duration
}

// AnthropicProvider streams completions from Claude models.
// It is safe for concurrent use.
type AnthropicProvider struct {
	BaseProvider
	client anthropic.Client
}

// NewAnthropicProvider creates a provider from config.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = DefaultAnthropicModel
	}

	// Retries happen in BaseProvider so they are classified the same way
	// for every provider.
	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		BaseProvider: NewBaseProvider("anthropic", config.DefaultModel, config.MaxRetries, config.RetryDelay),
		client:       anthropic.NewClient(options...),
	}, nil
}

// Models returns the Claude models this provider is known to serve.
func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000},
	}
}

// SupportsTools reports true; Claude supports tool use.
func (p *AnthropicProvider) SupportsTools() bool {
	return true
}

// Complete sends req to Claude and streams the response.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.model(req.Model)
	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, NewProviderError(p.Name(), model, err).WithStatus(400)
	}

	var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	err = p.Retry(ctx, func() error {
		s := p.client.Messages.NewStreaming(ctx, params)
		if !s.Next() {
			streamErr := s.Err()
			_ = s.Close()
			if streamErr == nil {
				streamErr = errors.New("stream closed before first event")
			}
			return p.wrapError(streamErr, model)
		}
		stream = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.CompletionChunk, 16)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest, model string) (anthropic.MessageNewParams, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := toolconv.ToAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("failed to convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

// processStream converts stream events into chunks. Tool input arrives as
// JSON fragments across deltas and is emitted once its block stops.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	send := func(chunk *agent.CompletionChunk) bool {
		select {
		case chunks <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var (
		currentTool  *models.ToolCall
		toolInput    strings.Builder
		inputTokens  int
		outputTokens int
		emptyEvents  int
	)

	for {
		event := stream.Current()
		useful := true

		switch event.Type {
		case "message_start":
			inputTokens = int(event.AsMessageStart().Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentTool = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				toolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch {
			case delta.Type == "text_delta" && delta.Text != "":
				if !send(&agent.CompletionChunk{Text: delta.Text}) {
					return
				}
			case delta.Type == "input_json_delta" && delta.PartialJSON != "":
				toolInput.WriteString(delta.PartialJSON)
			default:
				useful = false
			}

		case "content_block_stop":
			if currentTool != nil {
				input := strings.TrimSpace(toolInput.String())
				if input == "" {
					input = "{}"
				}
				currentTool.Input = json.RawMessage(input)
				if !send(&agent.CompletionChunk{ToolCall: currentTool}) {
					return
				}
				currentTool = nil
			}

		case "message_delta":
			if n := event.AsMessageDelta().Usage.OutputTokens; n > 0 {
				outputTokens = int(n)
			}

		case "message_stop":
			send(&agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
			return

		default:
			useful = false
		}

		if useful {
			emptyEvents = 0
		} else if emptyEvents++; emptyEvents >= maxEmptyStreamEvents {
			send(&agent.CompletionChunk{Error: p.wrapError(
				fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEvents), model)})
			return
		}

		if !stream.Next() {
			break
		}
	}

	if err := stream.Err(); err != nil {
		send(&agent.CompletionChunk{Error: p.wrapError(err, model)})
		return
	}
	// Some proxies end the stream without message_stop.
	send(&agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
}

// convertAnthropicMessages maps completion messages to Anthropic content
// blocks. Tool results travel in user turns.
func convertAnthropicMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == string(models.RoleSystem) {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			input := map[string]any{}
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == string(models.RoleAssistant) {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil || IsProviderError(err) {
		return err
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return NewProviderError(p.Name(), model, err)
	}

	providerErr := (&ProviderError{
		Provider: p.Name(),
		Model:    model,
		Cause:    err,
		Reason:   FailoverUnknown,
		Message:  "anthropic request failed",
	}).WithStatus(apiErr.StatusCode).WithRequestID(apiErr.RequestID)

	var payload anthropicErrorPayload
	if raw := apiErr.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &payload) == nil {
		if payload.Error.Message != "" {
			providerErr.WithMessage(payload.Error.Message)
		}
		if payload.Error.Type != "" {
			providerErr.WithCode(payload.Error.Type)
		}
		if payload.RequestID != "" {
			providerErr.WithRequestID(payload.RequestID)
		}
	}
	return providerErr
}
