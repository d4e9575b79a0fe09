package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/trialchat/internal/observability"
	"github.com/haasonsaas/trialchat/pkg/models"
)

// DefaultSystemPrompt frames the assistant as a clinical trial analyst.
const DefaultSystemPrompt = `You are a clinical trial data analysis assistant.

You help researchers query trial databases, search ClinicalTrials.gov and openFDA, read study documents, compute descriptive statistics and check regulatory compliance.

Use the available tools to ground every answer in data. When a tool result reports that items were truncated, say so and offer to narrow the query. Be precise about numbers and cite the source of each figure.`

const (
	// MaxResponseTextSize caps the text accumulated from one model response.
	MaxResponseTextSize = 4 << 20

	// MaxToolCallsPerIteration caps tool calls requested in one model response.
	MaxToolCallsPerIteration = 32

	chunkBufferSize = 64
)

// LoopConfig configures the agentic loop.
type LoopConfig struct {
	// MaxIterations limits the number of model calls per run.
	// Default: 10
	MaxIterations int

	// MaxTokens is the max tokens for each model response.
	// Default: 4096
	MaxTokens int

	// Model overrides the provider's default model when set.
	Model string

	// SystemPrompt replaces DefaultSystemPrompt when set.
	SystemPrompt string

	// ExecutorConfig configures the parallel tool executor.
	ExecutorConfig *ExecutorConfig
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxIterations:  10,
		MaxTokens:      4096,
		SystemPrompt:   DefaultSystemPrompt,
		ExecutorConfig: DefaultExecutorConfig(),
	}
}

func sanitizeLoopConfig(config *LoopConfig) *LoopConfig {
	if config == nil {
		return DefaultLoopConfig()
	}
	cfg := *config
	defaults := DefaultLoopConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = defaults.SystemPrompt
	}
	if cfg.ExecutorConfig == nil {
		cfg.ExecutorConfig = defaults.ExecutorConfig
	}
	return &cfg
}

// AgenticLoop runs a conversation turn to completion: it streams the model's
// text, executes requested tools in parallel, feeds their results back and
// repeats until the model answers without tool calls.
//
//	┌────────┐     ┌──────────┐     ┌───────────────┐
//	│  Init  │────▶│  Stream  │────▶│ Execute Tools │
//	└────────┘     └──────────┘     └───────────────┘
//	                   │  ▲                 │
//	        no tools   │  └──── Continue ◀──┘
//	                   ▼
//	              ┌──────────┐
//	              │ Complete │
//	              └──────────┘
type AgenticLoop struct {
	provider LLMProvider
	registry *ToolRegistry
	executor *Executor
	config   *LoopConfig

	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewAgenticLoop creates a loop over provider and registry.
// If config is nil, DefaultLoopConfig is used.
func NewAgenticLoop(provider LLMProvider, registry *ToolRegistry, config *LoopConfig) *AgenticLoop {
	config = sanitizeLoopConfig(config)
	if registry == nil {
		registry = NewToolRegistry()
	}

	return &AgenticLoop{
		provider: provider,
		registry: registry,
		executor: NewExecutor(registry, config.ExecutorConfig),
		config:   config,
		logger:   slog.Default().With("component", "agent"),
	}
}

// SetObservability attaches logging, metrics and tracing. Nil arguments keep
// the current value.
func (l *AgenticLoop) SetObservability(logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) {
	if logger != nil {
		l.logger = logger.With("component", "agent")
	}
	if metrics != nil {
		l.metrics = metrics
	}
	if tracer != nil {
		l.tracer = tracer
	}
	l.executor.SetObservability(l.metrics, l.tracer)
}

// Tools returns the loop's registry.
func (l *AgenticLoop) Tools() *ToolRegistry {
	return l.registry
}

// LoopState tracks one run.
type LoopState struct {
	RunID           string
	Phase           LoopPhase
	Iteration       int
	TotalToolCalls  int
	System          string
	Messages        []CompletionMessage
	AccumulatedText string
}

// Run executes the loop and streams results through a channel.
//
// The channel is closed when the run ends. A successful run's last chunk
// carries Message; a failed run's last chunk carries Error. When ctx is
// cancelled the run stops at the next send or phase boundary and nothing
// further is delivered.
func (l *AgenticLoop) Run(ctx context.Context, req *models.RunRequest) (<-chan *ResponseChunk, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	runID := observability.GetRunID(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = observability.AddRunID(ctx, runID)
	}

	chunks := make(chan *ResponseChunk, chunkBufferSize)
	state := l.initializeState(runID, req)

	go func() {
		defer close(chunks)

		start := time.Now()
		runCtx, span := l.tracer.TraceRun(ctx, runID)
		defer span.End()
		logger := l.logger.With("run_id", runID)

		send := func(chunk *ResponseChunk) bool {
			select {
			case chunks <- chunk:
				return true
			case <-runCtx.Done():
				return false
			}
		}
		fail := func(err error) {
			status := "error"
			if runCtx.Err() != nil {
				status = "cancelled"
			}
			l.metrics.RecordRun(status, time.Since(start).Seconds())
			l.tracer.RecordError(span, err)
			logger.Warn("run failed", "phase", state.Phase, "iteration", state.Iteration, "error", err)
			send(&ResponseChunk{Error: err})
		}

		for state.Iteration < l.config.MaxIterations {
			if err := runCtx.Err(); err != nil {
				fail(&LoopError{Phase: state.Phase, Iteration: state.Iteration, Cause: err})
				return
			}

			state.Phase = PhaseStream
			toolCalls, err := l.streamPhase(runCtx, state, send)
			if err != nil {
				fail(&LoopError{Phase: PhaseStream, Iteration: state.Iteration, Cause: err})
				return
			}

			if len(toolCalls) == 0 {
				state.Phase = PhaseComplete
				l.metrics.RecordRun("success", time.Since(start).Seconds())
				logger.Info("run complete", "iterations", state.Iteration+1, "tool_calls", state.TotalToolCalls)
				send(&ResponseChunk{Message: &models.ChatMessage{
					Role:    models.RoleAssistant,
					Content: state.AccumulatedText,
				}})
				return
			}

			state.Phase = PhaseExecuteTools
			state.TotalToolCalls += len(toolCalls)
			results, err := l.executeToolsPhase(runCtx, toolCalls, send)
			if err != nil {
				fail(&LoopError{Phase: PhaseExecuteTools, Iteration: state.Iteration, Cause: err})
				return
			}

			state.Phase = PhaseContinue
			l.continuePhase(state, toolCalls, results)
			state.Iteration++
		}

		fail(&LoopError{
			Phase:     state.Phase,
			Iteration: state.Iteration,
			Cause:     ErrMaxIterations,
			Message:   fmt.Sprintf("reached max iterations: %d", l.config.MaxIterations),
		})
	}()

	return chunks, nil
}

// initializeState converts the request into completion messages. System
// turns from the client are appended to the configured system prompt.
func (l *AgenticLoop) initializeState(runID string, req *models.RunRequest) *LoopState {
	state := &LoopState{
		RunID:    runID,
		Phase:    PhaseInit,
		System:   l.config.SystemPrompt,
		Messages: make([]CompletionMessage, 0, len(req.Messages)),
	}
	for _, msg := range req.Messages {
		if msg.Role == models.RoleSystem {
			state.System += "\n\n" + msg.Content
			continue
		}
		state.Messages = append(state.Messages, CompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return state
}

// streamPhase streams one model response, forwarding text as it arrives,
// and returns the tool calls it requested.
func (l *AgenticLoop) streamPhase(ctx context.Context, state *LoopState, send func(*ResponseChunk) bool) ([]models.ToolCall, error) {
	req := &CompletionRequest{
		Model:     l.config.Model,
		System:    state.System,
		Messages:  state.Messages,
		MaxTokens: l.config.MaxTokens,
	}
	if l.provider.SupportsTools() {
		req.Tools = l.registry.AsLLMTools()
	}

	ctx, span := l.tracer.TraceLLMRequest(ctx, l.provider.Name(), req.Model)
	defer span.End()

	status := "error"
	var inputTokens, outputTokens int
	defer func() {
		l.metrics.RecordLLMRequest(l.provider.Name(), req.Model, status, inputTokens, outputTokens)
	}()

	completion, err := l.provider.Complete(ctx, req)
	if err != nil {
		l.tracer.RecordError(span, err)
		return nil, err
	}

	var toolCalls []models.ToolCall
	var text strings.Builder

	for chunk := range completion {
		if chunk.Error != nil {
			l.tracer.RecordError(span, chunk.Error)
			drain(completion)
			return nil, chunk.Error
		}
		if chunk.Text != "" {
			if text.Len()+len(chunk.Text) > MaxResponseTextSize {
				drain(completion)
				return nil, fmt.Errorf("response text exceeds maximum size of %d bytes", MaxResponseTextSize)
			}
			text.WriteString(chunk.Text)
			if !send(&ResponseChunk{Text: chunk.Text}) {
				drain(completion)
				return nil, ctx.Err()
			}
		}
		if chunk.ToolCall != nil {
			if len(toolCalls) >= MaxToolCallsPerIteration {
				drain(completion)
				return nil, fmt.Errorf("tool calls exceed maximum of %d per iteration", MaxToolCallsPerIteration)
			}
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			inputTokens += chunk.InputTokens
			outputTokens += chunk.OutputTokens
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	status = "success"
	state.AccumulatedText = text.String()
	return toolCalls, nil
}

// executeToolsPhase runs the requested tools in parallel and reports each
// call and result. The first execution error in call order is returned.
func (l *AgenticLoop) executeToolsPhase(ctx context.Context, toolCalls []models.ToolCall, send func(*ResponseChunk) bool) ([]models.ToolResult, error) {
	for i := range toolCalls {
		if toolCalls[i].ID == "" {
			toolCalls[i].ID = "call_" + uuid.NewString()
		}
		call := toolCalls[i]
		if !send(&ResponseChunk{ToolCall: &call}) {
			return nil, ctx.Err()
		}
	}

	executed := l.executor.ExecuteAll(ctx, toolCalls)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// A call that could not run fails the run. Results the tool itself
	// flags with IsError still go back to the model.
	for _, r := range executed {
		if r.Error != nil {
			return nil, r.Error
		}
	}
	results := ResultsToMessages(executed)

	for i := range results {
		result := results[i]
		if !send(&ResponseChunk{ToolResult: &result}) {
			return nil, ctx.Err()
		}
	}
	return results, nil
}

// continuePhase appends the assistant turn and its tool results to the history.
func (l *AgenticLoop) continuePhase(state *LoopState, toolCalls []models.ToolCall, results []models.ToolResult) {
	state.Messages = append(state.Messages,
		CompletionMessage{
			Role:      string(models.RoleAssistant),
			Content:   state.AccumulatedText,
			ToolCalls: toolCalls,
		},
		CompletionMessage{
			Role:        string(models.RoleTool),
			ToolResults: results,
		},
	)
	state.AccumulatedText = ""
}

func drain(ch <-chan *CompletionChunk) {
	go func() {
		for range ch {
		}
	}()
}

// IsCancellation reports whether err stems from the run's context ending.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
