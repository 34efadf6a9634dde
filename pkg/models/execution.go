package models

// Step kinds of a deterministic execution plan.
const (
	StepXCMTransfer   = "xcm_transfer"
	StepUniswapV2Swap = "uniswap_v2_swap"
)

// ChainRef locates one side of a cross-chain recipe.
type ChainRef struct {
	Chain     string `json:"chain"`
	Parachain uint32 `json:"parachain,omitempty"`
	Asset     string `json:"asset,omitempty"`
	EVMRPCURL string `json:"evm_rpc_url,omitempty"`
}

// TokenRef names the output token of a swap step.
type TokenRef struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address,omitempty"`
}

// RiskControls bound what a locally signed plan may do.
type RiskControls struct {
	SlippageBps     int `json:"slippage_bps"`
	DeadlineSeconds int `json:"deadline_seconds"`
}

// ExecutionStep is one signable step of an ExecutionPlan. Fields are a union
// over the step kinds; unused fields stay empty for a given kind.
type ExecutionStep struct {
	Kind string `json:"kind"`

	// xcm_transfer
	FromParachain uint32 `json:"from_parachain,omitempty"`
	ToParachain   uint32 `json:"to_parachain,omitempty"`
	Asset         string `json:"asset,omitempty"`
	Amount        string `json:"amount,omitempty"`

	// uniswap_v2_swap
	Router       string   `json:"router,omitempty"`
	AmountIn     string   `json:"amount_in,omitempty"`
	AmountOutMin string   `json:"amount_out_min,omitempty"`
	Path         []string `json:"path,omitempty"`
}

// ExecutionPlan is a deterministic multi-step cross-chain recipe produced by
// the buy fast-path. Unlike an ExecutionPreview it contains everything needed
// to sign locally; it is still never signed or broadcast by this service.
type ExecutionPlan struct {
	Type        string          `json:"type"`
	AmountInPAS string          `json:"amount_in_pas"`
	TokenOut    TokenRef        `json:"token_out"`
	Origin      ChainRef        `json:"origin"`
	Destination ChainRef        `json:"destination"`
	Risk        RiskControls    `json:"risk"`
	Steps       []ExecutionStep `json:"steps"`
}
