package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/quantbay/agentd/internal/agent"
)

const sourceAMM = "amm_uniswap_v2"

// Minimal read-only fragments of the V2 router and pair contracts.
const (
	routerABIJSON = `[{"name":"getAmountsOut","type":"function","stateMutability":"view",` +
		`"inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],` +
		`"outputs":[{"name":"amounts","type":"uint256[]"}]}]`

	pairABIJSON = `[{"name":"getReserves","type":"function","stateMutability":"view",` +
		`"inputs":[],` +
		`"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},` +
		`{"name":"blockTimestampLast","type":"uint32"}]}]`

	factoryABIJSON = `[{"name":"getPair","type":"function","stateMutability":"view",` +
		`"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],` +
		`"outputs":[{"name":"pair","type":"address"}]}]`
)

// AMMConfig locates the demo DEX deployment on the EVM parachain. Pair may be
// left empty when Factory is set; the pool is then discovered via getPair.
type AMMConfig struct {
	RPCURL       string
	Router       string
	Factory      string
	Pair         string
	WETH         string
	TokenAddress string
	TokenSymbol  string
}

// AMMQuoteTool quotes a PAS→token swap against the Uniswap V2 router and
// reports pool reserves. Read-only; it never builds or signs a transaction.
type AMMQuoteTool struct {
	client     *ethclient.Client
	routerABI  abi.ABI
	pairABI    abi.ABI
	factoryABI abi.ABI
	cfg        AMMConfig

	mu   sync.Mutex
	pair common.Address
}

// NewAMMQuoteTool dials the EVM RPC endpoint and prepares the contract ABIs.
func NewAMMQuoteTool(cfg AMMConfig) (*AMMQuoteTool, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("tools: amm: RPC URL is required")
	}
	if !common.IsHexAddress(cfg.Router) {
		return nil, fmt.Errorf("tools: amm: router address is required")
	}
	if !common.IsHexAddress(cfg.Pair) && !common.IsHexAddress(cfg.Factory) {
		return nil, fmt.Errorf("tools: amm: a pair or factory address is required")
	}

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("tools: amm: dial %s: %w", cfg.RPCURL, err)
	}
	routerABI, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		return nil, fmt.Errorf("tools: amm: parse router abi: %w", err)
	}
	pairABI, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		return nil, fmt.Errorf("tools: amm: parse pair abi: %w", err)
	}
	factoryABI, err := abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("tools: amm: parse factory abi: %w", err)
	}

	t := &AMMQuoteTool{
		client:     client,
		routerABI:  routerABI,
		pairABI:    pairABI,
		factoryABI: factoryABI,
		cfg:        cfg,
	}
	if common.IsHexAddress(cfg.Pair) {
		t.pair = common.HexToAddress(cfg.Pair)
	}
	return t, nil
}

func (t *AMMQuoteTool) Name() string { return "get_amm_quote" }

func (t *AMMQuoteTool) Description() string {
	return "Quote how much " + t.cfg.TokenSymbol + " a given amount of PAS buys on the demo " +
		"Uniswap V2 pool, including current pool reserves. Read-only; does not trade."
}

func (t *AMMQuoteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"amount_in": {"type": "string", "description": "PAS amount to quote, in wei (base-10 integer string)"}
		},
		"required": ["amount_in"]
	}`)
}

func ammError(kind, message string) *agent.ToolResult {
	payload, _ := json.Marshal(map[string]any{
		"ok":     false,
		"source": sourceAMM,
		"error":  map[string]string{"type": kind, "message": message},
	})
	return &agent.ToolResult{Content: string(payload), IsError: true}
}

func (t *AMMQuoteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		AmountIn string `json:"amount_in"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return ammError("invalid_params", err.Error()), nil
	}
	amountIn, ok := new(big.Int).SetString(strings.TrimSpace(args.AmountIn), 10)
	if !ok || amountIn.Sign() <= 0 {
		return ammError("invalid_params", "amount_in must be a positive base-10 integer"), nil
	}

	path := []common.Address{
		common.HexToAddress(t.cfg.WETH),
		common.HexToAddress(t.cfg.TokenAddress),
	}

	amounts, err := t.getAmountsOut(ctx, amountIn, path)
	if err != nil {
		return ammError("upstream_error", err.Error()), nil
	}
	reserve0, reserve1, err := t.getReserves(ctx)
	if err != nil {
		return ammError("upstream_error", err.Error()), nil
	}

	out := amounts[len(amounts)-1]
	payload, err := json.Marshal(map[string]any{
		"ok":         true,
		"source":     sourceAMM,
		"router":     t.cfg.Router,
		"path":       []string{t.cfg.WETH, t.cfg.TokenAddress},
		"token_out":  t.cfg.TokenSymbol,
		"amount_in":  amountIn.String(),
		"amount_out": out.String(),
		"reserves": map[string]string{
			"reserve0": reserve0.String(),
			"reserve1": reserve1.String(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tools: marshal amm output: %w", err)
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

func (t *AMMQuoteTool) getAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	data, err := t.routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("pack getAmountsOut: %w", err)
	}
	router := common.HexToAddress(t.cfg.Router)
	raw, err := t.client.CallContract(ctx, ethereum.CallMsg{To: &router, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call getAmountsOut: %w", err)
	}

	var amounts []*big.Int
	if err := t.routerABI.UnpackIntoInterface(&amounts, "getAmountsOut", raw); err != nil {
		return nil, fmt.Errorf("unpack getAmountsOut: %w", err)
	}
	if len(amounts) == 0 {
		return nil, fmt.Errorf("empty amounts from router")
	}
	return amounts, nil
}

// pairAddress returns the configured pool, discovering it through the factory
// on first use when only a factory address was given.
func (t *AMMQuoteTool) pairAddress(ctx context.Context) (common.Address, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pair != (common.Address{}) {
		return t.pair, nil
	}

	data, err := t.factoryABI.Pack("getPair",
		common.HexToAddress(t.cfg.WETH), common.HexToAddress(t.cfg.TokenAddress))
	if err != nil {
		return common.Address{}, fmt.Errorf("pack getPair: %w", err)
	}
	factory := common.HexToAddress(t.cfg.Factory)
	raw, err := t.client.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("call getPair: %w", err)
	}
	var pair common.Address
	if err := t.factoryABI.UnpackIntoInterface(&pair, "getPair", raw); err != nil {
		return common.Address{}, fmt.Errorf("unpack getPair: %w", err)
	}
	if pair == (common.Address{}) {
		return common.Address{}, fmt.Errorf("factory has no pool for the configured pair")
	}
	t.pair = pair
	return pair, nil
}

func (t *AMMQuoteTool) getReserves(ctx context.Context) (*big.Int, *big.Int, error) {
	pair, err := t.pairAddress(ctx)
	if err != nil {
		return nil, nil, err
	}
	data, err := t.pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("pack getReserves: %w", err)
	}
	raw, err := t.client.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: data}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("call getReserves: %w", err)
	}

	values, err := t.pairABI.Unpack("getReserves", raw)
	if err != nil || len(values) < 2 {
		return nil, nil, fmt.Errorf("unpack getReserves: %v", err)
	}
	reserve0, ok0 := values[0].(*big.Int)
	reserve1, ok1 := values[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("unexpected reserve types")
	}
	return reserve0, reserve1, nil
}
