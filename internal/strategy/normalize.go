package strategy

import (
	"strings"

	"github.com/quantbay/agentd/internal/market"
	"github.com/quantbay/agentd/pkg/models"
)

// intentAliases folds the surface forms models actually emit onto the closed
// vocabulary.
var intentAliases = map[string]string{
	"dca":       models.IntentStartDCA,
	"smart_dca": models.IntentStartDCA,
	"ai_dca":    models.IntentStartDCA,

	"grid":         models.IntentStartGrid,
	"grid_trading": models.IntentStartGrid,

	"mean_reversion": models.IntentStartMeanRev,
	"reversion":      models.IntentStartMeanRev,

	"martingale": models.IntentStartMartin,

	"wait":    models.IntentNone,
	"hold":    models.IntentNone,
	"observe": models.IntentNone,
}

// strategyIntents is the set of intents that carry executable parameters.
var strategyIntents = map[string]bool{
	models.IntentStartDCA:     true,
	models.IntentStartGrid:    true,
	models.IntentStartMeanRev: true,
	models.IntentStartMartin:  true,
}

// Normalizer canonicalizes raw model plans.
type Normalizer struct {
	defaults DefaultSet
}

// NewNormalizer builds a normalizer over the given per-strategy defaults.
func NewNormalizer(defaults DefaultSet) *Normalizer {
	if defaults == nil {
		defaults = BuiltinDefaults()
	}
	return &Normalizer{defaults: defaults}
}

// CanonicalIntent maps a raw intent string onto the demo vocabulary. Unknown
// intents fold to chat.
func CanonicalIntent(raw string) string {
	intent := strings.ToLower(strings.TrimSpace(raw))
	if mapped, ok := intentAliases[intent]; ok {
		return mapped
	}
	switch intent {
	case models.IntentChat, models.IntentNone:
		return intent
	}
	if strategyIntents[intent] {
		return intent
	}
	return models.IntentChat
}

// Normalize canonicalizes a plan in place: intent folding, action cardinality,
// parameter back-fill from the snapshot and per-strategy defaults, and
// snapshot attachment. Existing non-empty parameter values are never
// overwritten.
func (n *Normalizer) Normalize(plan *models.Plan, snapshot *market.Snapshot, defaultSymbol string) {
	if plan == nil {
		return
	}
	plan.Intent = CanonicalIntent(plan.Intent)
	if plan.Params == nil {
		plan.Params = map[string]any{}
	}

	// At most one action, its type folded like the intent. When the model
	// proposed actions but the intent said chat, trust the action.
	if len(plan.Actions) > 0 {
		action := plan.Actions[0]
		action.Type = CanonicalIntent(action.Type)
		if action.Params == nil {
			action.Params = map[string]any{}
		}
		plan.Actions = []models.Action{action}
		if plan.Intent == models.IntentChat && action.Type != models.IntentChat {
			plan.Intent = action.Type
		}
	}

	if plan.Intent != models.IntentChat && len(plan.Actions) == 0 {
		plan.Actions = []models.Action{{Type: models.IntentNone, Params: map[string]any{}}}
	}

	if strategyIntents[plan.Intent] {
		n.backfill(plan, snapshot, defaultSymbol)
	}

	if snapshot != nil && snapshot.Ok {
		if _, exists := plan.Params["market_snapshot"]; !exists {
			plan.Params["market_snapshot"] = snapshot
		}
	}

	// Action params mirror the plan params so a consumer holding only the
	// action still has everything.
	if len(plan.Actions) == 1 && plan.Actions[0].Type == plan.Intent {
		action := &plan.Actions[0]
		for k, v := range plan.Params {
			if k == "market_snapshot" {
				continue
			}
			if _, exists := action.Params[k]; !exists {
				action.Params[k] = v
			}
		}
	}
}

func (n *Normalizer) backfill(plan *models.Plan, snapshot *market.Snapshot, defaultSymbol string) {
	params := plan.Params

	if empty(params["symbol"]) {
		symbol := defaultSymbol
		if snapshot != nil && snapshot.Symbol != "" {
			symbol = snapshot.Symbol
		}
		params["symbol"] = symbol
	}

	if empty(params["entry_price_range"]) {
		if r, ok := entryRange(snapshot); ok {
			params["entry_price_range"] = r
		}
	}

	d := n.defaults[plan.Intent]
	if empty(params["take_profit_percent"]) && d.TakeProfitPercent > 0 {
		params["take_profit_percent"] = d.TakeProfitPercent
	}
	if empty(params["stop_loss_percent"]) && d.StopLossPercent > 0 {
		params["stop_loss_percent"] = d.StopLossPercent
	}
	if plan.Intent == models.IntentStartGrid && empty(params["grid_levels"]) && d.GridLevels > 0 {
		params["grid_levels"] = d.GridLevels
	}
}

// entryRange derives [low, high] from the Bollinger band when present, else
// ±2% around the current price. No snapshot means no range.
func entryRange(snapshot *market.Snapshot) ([]float64, bool) {
	if snapshot == nil || !snapshot.Ok {
		return nil, false
	}
	if snapshot.Ind.BollingerLower > 0 && snapshot.Ind.BollingerUpper > snapshot.Ind.BollingerLower {
		return []float64{snapshot.Ind.BollingerLower, snapshot.Ind.BollingerUpper}, true
	}
	if p := snapshot.Price.Current; p > 0 {
		return []float64{p * 0.98, p * 1.02}, true
	}
	return nil, false
}

// empty reports whether a params value is absent or a zero-ish placeholder.
func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case float64:
		return t == 0
	case int:
		return t == 0
	case []any:
		return len(t) == 0
	case []float64:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
