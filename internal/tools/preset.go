package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quantbay/agentd/internal/agent"
)

// PresetTool wraps another tool with operator-fixed arguments. Preset keys are
// removed from the schema the model sees and merged over whatever the model
// sends, so infrastructure knobs (interval, limit, contract addresses) stay
// out of the model's hands.
type PresetTool struct {
	inner  agent.Tool
	preset map[string]any
	schema json.RawMessage
}

// WithPreset binds fixed argument values to a tool. Returns the tool unchanged
// when preset is empty.
func WithPreset(inner agent.Tool, preset map[string]any) agent.Tool {
	if len(preset) == 0 {
		return inner
	}
	return &PresetTool{
		inner:  inner,
		preset: preset,
		schema: narrowSchema(inner.Schema(), preset),
	}
}

func (t *PresetTool) Name() string { return t.inner.Name() }

func (t *PresetTool) Description() string { return t.inner.Description() }

func (t *PresetTool) Schema() json.RawMessage { return t.schema }

func (t *PresetTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	merged := map[string]any{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &merged); err != nil {
			return &agent.ToolResult{
				Content: fmt.Sprintf(`{"ok":false,"error":{"type":"invalid_params","message":%q}}`, err.Error()),
				IsError: true,
			}, nil
		}
	}
	for k, v := range t.preset {
		merged[k] = v
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("tools: merge preset params: %w", err)
	}
	return t.inner.Execute(ctx, raw)
}

// narrowSchema strips preset keys from properties and required so the model is
// never asked for values the wrapper will overwrite anyway. Schemas that fail
// to parse pass through untouched.
func narrowSchema(schema json.RawMessage, preset map[string]any) json.RawMessage {
	var doc map[string]any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return schema
	}

	if props, ok := doc["properties"].(map[string]any); ok {
		for k := range preset {
			delete(props, k)
		}
	}
	if req, ok := doc["required"].([]any); ok {
		kept := make([]any, 0, len(req))
		for _, name := range req {
			if s, ok := name.(string); ok {
				if _, fixed := preset[s]; fixed {
					continue
				}
			}
			kept = append(kept, name)
		}
		doc["required"] = kept
	}

	narrowed, err := json.Marshal(doc)
	if err != nil {
		return schema
	}
	return narrowed
}
