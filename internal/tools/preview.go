package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quantbay/agentd/internal/agent"
	"github.com/quantbay/agentd/pkg/models"
)

// PreviewTool assembles an ExecutionPreview from a validated intent. It lets
// the model hand back a well-formed preview instead of free-form JSON; the
// preview always requires confirmation and nothing is ever executed here.
type PreviewTool struct{}

// NewPreviewTool builds the build_execution_preview tool.
func NewPreviewTool() *PreviewTool { return &PreviewTool{} }

func (t *PreviewTool) Name() string { return "build_execution_preview" }

func (t *PreviewTool) Description() string {
	return "Assemble a structured execution preview for a strategy intent. The preview is advisory " +
		"only and always requires explicit user confirmation."
}

func (t *PreviewTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"intent": {
				"type": "string",
				"enum": ["start_dca", "start_grid", "start_mean_reversion", "start_martingale", "none"]
			},
			"params": {"type": "object", "description": "Strategy parameters: symbol, entry_price_range, take_profit_percent, stop_loss_percent, grid_levels"}
		},
		"required": ["intent"]
	}`)
}

func (t *PreviewTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		Intent string         `json:"intent"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return &agent.ToolResult{
			Content: fmt.Sprintf(`{"ok":false,"error":{"type":"invalid_params","message":%q}}`, err.Error()),
			IsError: true,
		}, nil
	}

	preview := BuildPreview(args.Intent, args.Params)
	payload, err := json.Marshal(map[string]any{"ok": true, "preview": preview})
	if err != nil {
		return nil, fmt.Errorf("tools: marshal preview output: %w", err)
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// BuildPreview constructs the advisory preview for an intent. Intents outside
// the strategy vocabulary get zero actions; requires_confirmation is always
// set.
func BuildPreview(intent string, params map[string]any) *models.ExecutionPreview {
	if params == nil {
		params = map[string]any{}
	}

	var actions []models.Action
	switch intent {
	case models.IntentStartDCA, models.IntentStartGrid, models.IntentStartMeanRev, models.IntentStartMartin:
		actions = []models.Action{{Type: intent, Params: params}}
	default:
		actions = []models.Action{}
	}

	return &models.ExecutionPreview{
		Mode:                 "preview",
		Intent:               intent,
		Params:               params,
		RequiresConfirmation: true,
		Actions:              actions,
		Routing: &models.Routing{
			Route:  "local_signer",
			Reason: "demo routing stub; no live execution path configured",
			Stub:   true,
		},
	}
}
