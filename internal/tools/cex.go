// Package tools implements the executable tools exposed to the planner:
// exchange kline retrieval, indicator computation, on-chain AMM quoting, and
// execution preview assembly. Every tool serializes its result as a single
// JSON object with an "ok" field so the model sees a uniform contract.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quantbay/agentd/internal/agent"
	"github.com/quantbay/agentd/internal/market"
)

// sourceCEX tags every CEX-derived tool output.
const sourceCEX = "cex_binance"

// kline limits enforced on model-supplied arguments.
const (
	minKlineLimit = 1
	maxKlineLimit = 1000
)

var allowedIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

type klineArgs struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Limit    int    `json:"limit"`
}

func (a *klineArgs) normalize(defaultInterval string, defaultLimit int) error {
	if strings.TrimSpace(a.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	if a.Interval == "" {
		a.Interval = defaultInterval
	}
	if !allowedIntervals[a.Interval] {
		return fmt.Errorf("unsupported interval %q", a.Interval)
	}
	if a.Limit == 0 {
		a.Limit = defaultLimit
	}
	if a.Limit < minKlineLimit || a.Limit > maxKlineLimit {
		return fmt.Errorf("limit must be between %d and %d", minKlineLimit, maxKlineLimit)
	}
	return nil
}

// cexError serializes a model-visible failure in the tool output envelope.
func cexError(kind, message string) *agent.ToolResult {
	payload, _ := json.Marshal(map[string]any{
		"ok":     false,
		"source": sourceCEX,
		"error":  map[string]string{"type": kind, "message": message},
	})
	return &agent.ToolResult{Content: string(payload), IsError: true}
}

// KlinesTool fetches raw candlestick rows from the exchange.
type KlinesTool struct {
	client          *market.Client
	defaultInterval string
	defaultLimit    int
}

// NewKlinesTool builds the get_cex_klines tool.
func NewKlinesTool(client *market.Client, defaultInterval string, defaultLimit int) *KlinesTool {
	return &KlinesTool{client: client, defaultInterval: defaultInterval, defaultLimit: defaultLimit}
}

func (t *KlinesTool) Name() string { return "get_cex_klines" }

func (t *KlinesTool) Description() string {
	return "Fetch recent candlestick (kline) data for a trading pair from the exchange. " +
		"Use this to inspect raw price history before recommending a strategy."
}

func (t *KlinesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"symbol": {"type": "string", "description": "Trading pair, e.g. BTCUSDT or a bare base like ETH"},
			"interval": {"type": "string", "description": "Candle interval, e.g. 1h, 4h, 1d"},
			"limit": {"type": "integer", "description": "Number of candles, 1-1000"}
		},
		"required": ["symbol"]
	}`)
}

func (t *KlinesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args klineArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return cexError("invalid_params", err.Error()), nil
	}
	if err := args.normalize(t.defaultInterval, t.defaultLimit); err != nil {
		return cexError("invalid_params", err.Error()), nil
	}

	symbol := t.client.NormalizeSymbol(args.Symbol)
	klines, err := t.client.Klines(ctx, symbol, args.Interval, args.Limit)
	if err != nil {
		return cexError("upstream_error", err.Error()), nil
	}

	payload, err := json.Marshal(map[string]any{
		"ok":       true,
		"source":   sourceCEX,
		"symbol":   symbol,
		"interval": args.Interval,
		"limit":    args.Limit,
		"klines":   klines,
	})
	if err != nil {
		return nil, fmt.Errorf("tools: marshal klines output: %w", err)
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// FeaturesTool fetches klines and returns the computed indicator bundle
// instead of raw rows, keeping the model's context small.
type FeaturesTool struct {
	client          *market.Client
	defaultInterval string
	defaultLimit    int
}

// NewFeaturesTool builds the compute_kline_features tool.
func NewFeaturesTool(client *market.Client, defaultInterval string, defaultLimit int) *FeaturesTool {
	return &FeaturesTool{client: client, defaultInterval: defaultInterval, defaultLimit: defaultLimit}
}

func (t *FeaturesTool) Name() string { return "compute_kline_features" }

func (t *FeaturesTool) Description() string {
	return "Fetch recent klines for a trading pair and return computed technical features: " +
		"RSI, MACD, EMA, Bollinger bands, price and volume summary. Prefer this over raw klines " +
		"when deciding on a strategy."
}

func (t *FeaturesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"symbol": {"type": "string", "description": "Trading pair, e.g. BTCUSDT or a bare base like ETH"},
			"interval": {"type": "string", "description": "Candle interval, e.g. 1h, 4h, 1d"},
			"limit": {"type": "integer", "description": "Number of candles to compute over, 1-1000"}
		},
		"required": ["symbol"]
	}`)
}

func (t *FeaturesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args klineArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return cexError("invalid_params", err.Error()), nil
	}
	if err := args.normalize(t.defaultInterval, t.defaultLimit); err != nil {
		return cexError("invalid_params", err.Error()), nil
	}

	snapshot := t.client.FetchSnapshot(ctx, args.Symbol, args.Interval, args.Limit)
	if !snapshot.Ok {
		return cexError("upstream_error", snapshot.Error), nil
	}

	payload, err := json.Marshal(map[string]any{
		"ok":       true,
		"source":   sourceCEX,
		"symbol":   snapshot.Symbol,
		"interval": snapshot.Interval,
		"features": snapshot,
	})
	if err != nil {
		return nil, fmt.Errorf("tools: marshal features output: %w", err)
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}
