package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/quantbay/agentd/internal/observability"
	"github.com/quantbay/agentd/internal/strategy"
	"github.com/quantbay/agentd/pkg/models"
)

// ErrToolCallLimit is returned when the tool loop exhausts its iteration
// budget without the model producing a terminal text reply.
var ErrToolCallLimit = fmt.Errorf("tool_call_limit_exceeded")

// PlannerConfig bounds the orchestration loop.
type PlannerConfig struct {
	// MaxIters is the tool-loop iteration budget. Default: 6.
	MaxIters int

	// LLMTimeout bounds each non-streaming model call.
	LLMTimeout time.Duration

	// StreamTimeout bounds an entire streamed model response; 0 falls back
	// to LLMTimeout.
	StreamTimeout time.Duration

	// MaxTokens is passed through to the provider.
	MaxTokens int

	// DisableUpstreamStreaming makes every model call blocking instead of
	// streamed. Deltas then arrive as one chunk carrying the full reply.
	DisableUpstreamStreaming bool
}

// OnTextDelta receives incremental assistant text fragments during planning.
// Deltas are only emitted for the iteration that produces the final reply, so
// clients never see text from intermediate tool rounds.
type OnTextDelta func(delta string)

// Planner turns user input plus session memory into a raw Plan by driving a
// model, optionally through a bounded tool loop. Normalization of the plan
// happens downstream.
type Planner struct {
	provider LLMProvider
	executor *ToolExecutor
	registry *ToolRegistry
	config   PlannerConfig
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewPlanner wires a planner. registry and executor may be nil when only the
// simple (no-tool) path is used.
func NewPlanner(provider LLMProvider, registry *ToolRegistry, executor *ToolExecutor, config PlannerConfig, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Planner {
	if config.MaxIters <= 0 {
		config.MaxIters = 6
	}
	if config.LLMTimeout <= 0 {
		config.LLMTimeout = 60 * time.Second
	}
	return &Planner{
		provider: provider,
		executor: executor,
		registry: registry,
		config:   config,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
	}
}

// PlanInput is one planning request.
type PlanInput struct {
	UserInput string
	System    string
	Memory    []models.Message

	// OnTextDelta, when set, receives progressive assistant text.
	OnTextDelta OnTextDelta

	// UseTools selects the tool loop over the single-shot planner.
	UseTools bool
}

// Plan runs the configured planning variant and returns the raw plan.
func (p *Planner) Plan(ctx context.Context, in PlanInput) (*models.Plan, error) {
	if in.UseTools && p.registry != nil && p.provider.SupportsTools() {
		return p.planWithTools(ctx, in)
	}
	return p.planSimple(ctx, in)
}

// planSimple makes one model call with memory and the user message, then
// parses the reply. Non-JSON replies degrade to a chat plan carrying the raw
// text.
func (p *Planner) planSimple(ctx context.Context, in PlanInput) (*models.Plan, error) {
	messages := historyToCompletionMessages(in.Memory)
	messages = append(messages, CompletionMessage{Role: "user", Content: in.UserInput})

	text, err := p.complete(ctx, &CompletionRequest{
		System:    in.System,
		Messages:  messages,
		MaxTokens: p.config.MaxTokens,
	}, in.OnTextDelta)
	if err != nil {
		return nil, err
	}
	return ParsePlanText(text), nil
}

// planWithTools drives the bounded model ↔ tools loop.
func (p *Planner) planWithTools(ctx context.Context, in PlanInput) (*models.Plan, error) {
	messages := historyToCompletionMessages(in.Memory)
	messages = append(messages, CompletionMessage{Role: "user", Content: in.UserInput})
	tools := p.registry.AsLLMTools()

	for iter := 0; iter < p.config.MaxIters; iter++ {
		// Deltas from intermediate iterations are suppressed; a round that
		// requests tools is by definition not the final reply.
		var accumulated strings.Builder
		var toolCalls []models.ToolCall

		chunks, err := p.completeStream(ctx, &CompletionRequest{
			System:    in.System,
			Messages:  messages,
			Tools:     tools,
			MaxTokens: p.config.MaxTokens,
		})
		if err != nil {
			return nil, err
		}

		var pending []string
		for chunk := range chunks {
			switch {
			case chunk.Error != nil:
				return nil, chunk.Error
			case chunk.ToolCall != nil:
				toolCalls = append(toolCalls, *chunk.ToolCall)
			case chunk.Text != "":
				accumulated.WriteString(chunk.Text)
				pending = append(pending, chunk.Text)
			}
		}

		if len(toolCalls) == 0 {
			if in.OnTextDelta != nil {
				for _, delta := range pending {
					in.OnTextDelta(delta)
				}
			}
			return ParsePlanText(accumulated.String()), nil
		}

		if p.logger != nil {
			names := make([]string, len(toolCalls))
			for i, tc := range toolCalls {
				names[i] = tc.Name
			}
			p.logger.Debug(ctx, "tool round", "iteration", iter, "tools", strings.Join(names, ","))
		}

		// Echo the tool_use list as an assistant message, then feed back one
		// tool message carrying all results.
		messages = append(messages, CompletionMessage{
			Role:      "assistant",
			Content:   accumulated.String(),
			ToolCalls: toolCalls,
		})
		results := p.executor.ExecuteAll(ctx, toolCalls)
		messages = append(messages, CompletionMessage{
			Role:        "tool",
			ToolResults: results,
		})
	}

	return nil, ErrToolCallLimit
}

// complete runs one model call and accumulates the text reply.
func (p *Planner) complete(ctx context.Context, req *CompletionRequest, onDelta OnTextDelta) (string, error) {
	chunks, err := p.completeStream(ctx, req)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if onDelta != nil {
				onDelta(chunk.Text)
			}
		}
	}
	return text.String(), nil
}

func (p *Planner) completeStream(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	timeout := p.config.StreamTimeout
	if timeout <= 0 {
		timeout = p.config.LLMTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)

	req.Stream = !p.config.DisableUpstreamStreaming
	if req.Model == "" {
		if ms := p.provider.Models(); len(ms) > 0 {
			req.Model = ms[0].ID
		}
	}

	var span trace.Span
	if p.tracer != nil {
		callCtx, span = p.tracer.TraceLLMRequest(callCtx, p.provider.Name(), req.Model)
	}

	start := time.Now()
	chunks, err := p.provider.Complete(callCtx, req)
	if err != nil {
		if span != nil {
			p.tracer.RecordError(span, err)
			span.End()
		}
		cancel()
		if p.metrics != nil {
			p.metrics.RecordLLMRequest(p.provider.Name(), req.Model, "error", time.Since(start).Seconds())
		}
		return nil, err
	}

	// Relay so the timeout context is released when the stream drains.
	out := make(chan *CompletionChunk)
	go func() {
		defer cancel()
		defer close(out)
		status := "success"
		for chunk := range chunks {
			if chunk.Error != nil {
				status = "error"
			}
			out <- chunk
		}
		if p.metrics != nil {
			p.metrics.RecordLLMRequest(p.provider.Name(), req.Model, status, time.Since(start).Seconds())
		}
		if span != nil {
			span.End()
		}
	}()
	return out, nil
}

func historyToCompletionMessages(memory []models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(memory))
	for _, m := range memory {
		out = append(out, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return out
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ParsePlanText parses model output into a Plan. Accepts bare JSON objects,
// fenced code blocks, and surrounding whitespace; anything unparseable or
// rejected by the plan schema becomes a chat plan whose assistant_text is the
// raw reply.
func ParsePlanText(text string) *models.Plan {
	candidate := strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}

	var doc any
	if err := json.Unmarshal([]byte(candidate), &doc); err == nil {
		if _, isObject := doc.(map[string]any); isObject && strategy.ValidatePlanJSON(doc) == nil {
			var plan models.Plan
			if err := json.Unmarshal([]byte(candidate), &plan); err == nil && (plan.AssistantText != "" || plan.Intent != "" || len(plan.Actions) > 0) {
				if plan.Intent == "" {
					plan.Intent = models.IntentChat
				}
				return &plan
			}
		}
	}

	return &models.Plan{
		AssistantText: strings.TrimSpace(text),
		Intent:        models.IntentChat,
		Params:        map[string]any{},
		Actions:       []models.Action{},
	}
}
