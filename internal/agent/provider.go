// Package agent drives the model ↔ tools orchestration loop that turns user
// input into a structured trading plan.
package agent

import (
	"context"
	"encoding/json"

	"github.com/quantbay/agentd/pkg/models"
)

// LLMProvider is the interface every model backend implements.
//
// Implementations must be safe for concurrent use; multiple goroutines may
// call Complete simultaneously for different sessions.
type LLMProvider interface {
	// Complete sends a request and returns a streaming response channel. The
	// channel is closed after a Done or Error chunk.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name ("anthropic", "openai", ...).
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools reports whether the provider supports tool calling.
	SupportsTools() bool
}

// CompletionRequest carries one full model call: conversation history, system
// prompt, tool schemas, and generation limits.
type CompletionRequest struct {
	// Model overrides the provider's default model when non-empty.
	Model string `json:"model"`

	// System sets the assistant's behavior. Handled separately from Messages
	// by most provider APIs.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools lists the tools the model may call. Empty disables tool use.
	Tools []Tool `json:"tools,omitempty"`

	// MaxTokens bounds the response length; 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Stream selects the provider's streaming API. When false the provider
	// makes a single blocking call and replays the reply over the chunk
	// channel, so consumers see one shape either way.
	Stream bool `json:"stream,omitempty"`
}

// CompletionMessage is one message in a conversation. Role is "system",
// "user", "assistant", or "tool"; assistant messages may carry ToolCalls and
// tool messages carry ToolResults.
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk is one element of a provider's streaming response. Exactly
// one of Text, ToolCall, Done, or Error is meaningful per chunk; token counts
// ride on the final Done chunk.
type CompletionChunk struct {
	Text         string           `json:"text,omitempty"`
	ToolCall     *models.ToolCall `json:"tool_call,omitempty"`
	Done         bool             `json:"done,omitempty"`
	Error        error            `json:"-"`
	InputTokens  int              `json:"input_tokens,omitempty"`
	OutputTokens int              `json:"output_tokens,omitempty"`
}

// Model describes an available model.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size"`
}

// Tool is an executable capability offered to the model: a descriptor (name,
// description, JSON schema) plus an invoker.
type Tool interface {
	// Name returns the function-calling name (alphanumeric and underscores).
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema returns the JSON Schema of the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with params matching Schema. Failures the model
	// should see come back as a ToolResult with IsError=true; a non-nil error
	// means the invocation itself broke.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the output of one tool execution, fed back to the model as a
// tool_result block.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}
