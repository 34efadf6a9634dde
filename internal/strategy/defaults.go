// Package strategy validates and canonicalizes LLM plans against the closed
// demo action vocabulary, back-fills missing parameters from market data and
// per-strategy defaults, and builds the deterministic buy-token execution
// plan.
package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quantbay/agentd/pkg/models"
)

// Defaults are the per-strategy parameters back-filled when the model leaves
// them out.
type Defaults struct {
	TakeProfitPercent float64 `yaml:"take_profit_percent"`
	StopLossPercent   float64 `yaml:"stop_loss_percent"`
	GridLevels        int     `yaml:"grid_levels,omitempty"`
}

// DefaultSet maps each strategy intent to its defaults.
type DefaultSet map[string]Defaults

// BuiltinDefaults returns the demo parameter defaults.
func BuiltinDefaults() DefaultSet {
	return DefaultSet{
		models.IntentStartDCA:     {TakeProfitPercent: 4, StopLossPercent: 10},
		models.IntentStartGrid:    {TakeProfitPercent: 3, StopLossPercent: 8, GridLevels: 10},
		models.IntentStartMeanRev: {TakeProfitPercent: 3, StopLossPercent: 6},
		models.IntentStartMartin:  {TakeProfitPercent: 2, StopLossPercent: 12},
	}
}

// LoadDefaults reads a YAML override file and merges it over the builtins.
// Only intents present in the file are overridden; unknown intents are
// rejected. An empty path returns the builtins unchanged.
func LoadDefaults(path string) (DefaultSet, error) {
	set := BuiltinDefaults()
	if path == "" {
		return set, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("strategy: read defaults file: %w", err)
	}

	var overrides map[string]Defaults
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("strategy: parse defaults file: %w", err)
	}

	for intent, d := range overrides {
		if _, known := set[intent]; !known {
			return nil, fmt.Errorf("strategy: defaults file names unknown strategy %q", intent)
		}
		merged := set[intent]
		if d.TakeProfitPercent > 0 {
			merged.TakeProfitPercent = d.TakeProfitPercent
		}
		if d.StopLossPercent > 0 {
			merged.StopLossPercent = d.StopLossPercent
		}
		if d.GridLevels > 0 {
			merged.GridLevels = d.GridLevels
		}
		set[intent] = merged
	}
	return set, nil
}

// labels are the user-facing Chinese strategy names.
var labels = map[string]string{
	models.IntentStartDCA:     "智能DCA",
	models.IntentStartGrid:    "网格",
	models.IntentStartMeanRev: "均值回归",
	models.IntentStartMartin:  "马丁格尔",
	models.IntentNone:         "暂时观望",
}

// Label returns the display label for a normalized intent, empty for chat.
func Label(intent string) string { return labels[intent] }
