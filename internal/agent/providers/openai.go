package providers

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/quantbay/agentd/internal/agent"
	"github.com/quantbay/agentd/pkg/models"
)

// OpenAIProvider implements agent.LLMProvider over the OpenAI chat
// completions API. A BaseURL override points the same client at any
// compatible endpoint, which is how the DeepSeek and DashScope providers are
// wired.
type OpenAIProvider struct {
	client       *openai.Client
	name         string
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
	models       []agent.Model
}

// OpenAIConfig configures provider construction. Name defaults to "openai";
// give DeepSeek/DashScope instances their own name so logs and metrics stay
// distinguishable.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Name         string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
	Models       []agent.Model
}

// NewOpenAIProvider builds a provider for any OpenAI-compatible endpoint.
func NewOpenAIProvider(config OpenAIConfig) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.Name == "" {
		config.Name = "openai"
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gpt-4o-mini"
	}
	ms := config.Models
	if len(ms) == 0 {
		ms = []agent.Model{{ID: config.DefaultModel, Name: config.DefaultModel, ContextSize: 128000}}
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		name:         config.Name,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
		models:       ms,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) Models() []agent.Model { return p.models }

// Complete sends the request and returns a channel of chunks. Streaming uses
// the SSE endpoint; with req.Stream unset the blocking endpoint is called and
// the full reply is replayed over the same channel shape.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	chunks := make(chan *agent.CompletionChunk)

	go func() {
		model := req.Model
		if model == "" {
			model = p.defaultModel
		}

		chatReq := openai.ChatCompletionRequest{
			Model:    model,
			Messages: p.convertMessages(req.Messages, req.System),
			Stream:   req.Stream,
		}
		if req.MaxTokens > 0 {
			chatReq.MaxTokens = req.MaxTokens
		}
		if len(req.Tools) > 0 {
			chatReq.Tools = p.convertTools(req.Tools)
		}

		if !req.Stream {
			p.completeBlocking(ctx, chatReq, chunks, model)
			return
		}

		var stream *openai.ChatCompletionStream
		var err error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
			if err == nil {
				break
			}
			wrapped := NewProviderError(p.name, model, err)
			if !IsRetryable(wrapped) {
				chunks <- &agent.CompletionChunk{Error: wrapped}
				close(chunks)
				return
			}
			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					chunks <- &agent.CompletionChunk{Error: ctx.Err()}
					close(chunks)
					return
				case <-time.After(backoff):
				}
			}
		}
		if err != nil {
			chunks <- &agent.CompletionChunk{Error: NewProviderError(p.name, model, err)}
			close(chunks)
			return
		}

		p.processStream(ctx, stream, chunks, model)
	}()

	return chunks, nil
}

// completeBlocking makes one non-streaming call and replays the reply as
// chunks: text, then tool calls, then Done with token counts.
func (p *OpenAIProvider) completeBlocking(ctx context.Context, chatReq openai.ChatCompletionRequest, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)

	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		resp, err = p.client.CreateChatCompletion(ctx, chatReq)
		if err == nil {
			break
		}
		wrapped := NewProviderError(p.name, model, err)
		if !IsRetryable(wrapped) {
			chunks <- &agent.CompletionChunk{Error: wrapped}
			return
		}
		if attempt < p.maxRetries {
			backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				chunks <- &agent.CompletionChunk{Error: ctx.Err()}
				return
			case <-time.After(backoff):
			}
		}
	}
	if err != nil {
		chunks <- &agent.CompletionChunk{Error: NewProviderError(p.name, model, err)}
		return
	}

	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		if msg.Content != "" {
			chunks <- &agent.CompletionChunk{Text: msg.Content}
		}
		for _, tc := range msg.ToolCalls {
			chunks <- &agent.CompletionChunk{ToolCall: &models.ToolCall{
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Input: json.RawMessage(tc.Function.Arguments),
			}}
		}
	}
	chunks <- &agent.CompletionChunk{
		Done:         true,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
}

// processStream accumulates tool-call fragments by index and emits them once
// complete; text deltas pass straight through.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)

	flushToolCalls := func() {
		for _, tc := range toolCalls {
			if tc.ID != "" && tc.Name != "" {
				chunks <- &agent.CompletionChunk{ToolCall: tc}
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				flushToolCalls()
				chunks <- &agent.CompletionChunk{Done: true}
				return
			}
			chunks <- &agent.CompletionChunk{Error: NewProviderError(p.name, model, err), Done: true}
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Input = json.RawMessage(string(toolCalls[index].Input) + tc.Function.Arguments)
			}
		}

		if choice.FinishReason == "tool_calls" {
			flushToolCalls()
		}
	}
}

// convertMessages maps internal messages onto the chat format. The system
// prompt becomes the first message; each tool result becomes its own message
// with role "tool".
func (p *OpenAIProvider) convertMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		default:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    msg.Role,
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.Input),
						},
					}
				}
			}
			result = append(result, oaiMsg)

			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		}
	}

	return result
}

func (p *OpenAIProvider) convertTools(tools []agent.Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var params map[string]interface{}
		_ = json.Unmarshal(tool.Schema(), &params)
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  params,
			},
		}
	}
	return result
}
