package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/quantbay/agentd/internal/observability"
	"github.com/quantbay/agentd/pkg/models"
)

// ToolExecConfig configures tool execution behavior.
type ToolExecConfig struct {
	// Concurrency bounds parallel tool executions within one model turn.
	// Default: 4.
	Concurrency int

	// PerToolTimeout bounds each individual tool execution. Default: 20s.
	PerToolTimeout time.Duration
}

// DefaultToolExecConfig returns the default execution limits.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{Concurrency: 4, PerToolTimeout: 20 * time.Second}
}

// ToolExecutor runs tool calls against a registry with per-tool timeouts.
// Every failure mode, including timeout, is folded into a structured JSON
// error result so the model always receives a tool_result it can reason
// about.
type ToolExecutor struct {
	registry *ToolRegistry
	config   ToolExecConfig
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewToolExecutor creates an executor. Zero config fields fall back to
// defaults; metrics and tracer may be nil.
func NewToolExecutor(registry *ToolRegistry, config ToolExecConfig, metrics *observability.Metrics, tracer *observability.Tracer) *ToolExecutor {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 20 * time.Second
	}
	return &ToolExecutor{registry: registry, config: config, metrics: metrics, tracer: tracer}
}

// toolError is the JSON error envelope substituted for a failed or timed-out
// tool execution.
type toolError struct {
	Ok    bool          `json:"ok"`
	Error toolErrorBody `json:"error"`
}

type toolErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func errorResult(callID, errType, message string) models.ToolResult {
	payload, _ := json.Marshal(toolError{Error: toolErrorBody{Type: errType, Message: message}})
	return models.ToolResult{ToolCallID: callID, Content: string(payload), IsError: true}
}

// ExecuteAll runs the given tool calls and returns results in input order.
func (e *ToolExecutor) ExecuteAll(ctx context.Context, toolCalls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(toolCalls))

	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup
	for i, tc := range toolCalls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = errorResult(call.ID, "cancelled", ctx.Err().Error())
				return
			}

			results[idx] = e.executeOne(ctx, call)
		}(i, tc)
	}
	wg.Wait()
	return results
}

func (e *ToolExecutor) executeOne(ctx context.Context, call models.ToolCall) models.ToolResult {
	execCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
	defer cancel()

	if e.tracer != nil {
		var span trace.Span
		execCtx, span = e.tracer.TraceToolExecution(execCtx, call.Name)
		defer span.End()
	}

	start := time.Now()
	status := "success"

	var result models.ToolResult
	res, err := e.registry.Execute(execCtx, call.Name, call.Input)
	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		result = errorResult(call.ID, "timeout", "tool execution exceeded "+e.config.PerToolTimeout.String())
		status = "timeout"
	case err != nil:
		result = errorResult(call.ID, "execution_error", err.Error())
		status = "error"
	case res == nil:
		result = errorResult(call.ID, "execution_error", "tool returned no result")
		status = "error"
	default:
		result = models.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    res.Content,
			IsError:    res.IsError,
		}
		if res.IsError {
			status = "error"
		}
	}

	if e.metrics != nil {
		e.metrics.RecordToolExecution(call.Name, status, time.Since(start).Seconds())
	}
	return result
}
