package agent

import (
	"encoding/json"
	"strings"

	"github.com/quantbay/agentd/internal/market"
)

const basePrompt = `You are a cautious crypto trading strategy assistant for a Polkadot demo environment.
You never execute trades; you only propose previews that require explicit user confirmation.

Respond with a single JSON object, no surrounding prose, with fields:
  "assistant_text": string, your reply to the user (match the user's language),
  "intent": one of "chat", "start_dca", "start_grid", "start_mean_reversion", "start_martingale", "none",
  "params": object, may include "symbol", "entry_price_range", "take_profit_percent", "stop_loss_percent", "grid_levels",
  "rationale": string,
  "risk_notes": array of strings,
  "actions": array with at most one {"type", "params"} entry matching the intent.

Recommend a strategy only when market data supports it; otherwise use intent "none" or "chat".
Always include concrete risk notes when recommending a strategy.`

// BuildSystemPrompt assembles the planner's system prompt. A prefetched market
// snapshot, when present and healthy, is embedded as JSON so the simple
// planner can ground its recommendation without tool access.
func BuildSystemPrompt(snapshot *market.Snapshot) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	if snapshot != nil && snapshot.Ok {
		if data, err := json.Marshal(snapshot); err == nil {
			b.WriteString("\n\nCurrent market snapshot for ")
			b.WriteString(snapshot.Symbol)
			b.WriteString(" (computed from recent klines):\n")
			b.Write(data)
			b.WriteString("\nBase any strategy recommendation on this data.")
		}
	}
	return b.String()
}
