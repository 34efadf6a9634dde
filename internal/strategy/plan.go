package strategy

import (
	"fmt"

	"github.com/quantbay/agentd/internal/intent"
	"github.com/quantbay/agentd/pkg/models"
)

// Demo topology for the deterministic buy recipe: PAS leaves the relay chain
// over XCM into the EVM parachain, then swaps through the V2 pool there.
const (
	originChain      = "paseo"
	destinationChain = "paseo_asset_hub_evm"
	evmParachainID   = 1000
	nativeAsset      = "PAS"

	defaultSlippageBps     = 50
	defaultDeadlineSeconds = 600
)

// BuyPlanConfig locates the contracts a buy plan references.
type BuyPlanConfig struct {
	EVMRPCURL    string
	Router       string
	WETH         string
	TokenAddress string
	TokenSymbol  string
}

// BuildBuyPlan turns a parsed buy order into the deterministic cross-chain
// recipe: an XCM transfer of PAS to the EVM parachain followed by a V2 swap
// into the target token. The plan carries everything needed to sign locally
// but is never signed or sent by this service.
func BuildBuyPlan(order intent.BuyOrder, cfg BuyPlanConfig) *models.ExecutionPlan {
	tokenAddress := cfg.TokenAddress
	if order.TokenSymbol != cfg.TokenSymbol {
		// Only the demo token has a known deployment; other symbols get a
		// plan with the address left for the client to resolve.
		tokenAddress = ""
	}

	return &models.ExecutionPlan{
		Type:        models.IntentBuyToken,
		AmountInPAS: order.AmountPAS,
		TokenOut:    models.TokenRef{Symbol: order.TokenSymbol, Address: tokenAddress},
		Origin: models.ChainRef{
			Chain: originChain,
			Asset: nativeAsset,
		},
		Destination: models.ChainRef{
			Chain:     destinationChain,
			Parachain: evmParachainID,
			EVMRPCURL: cfg.EVMRPCURL,
		},
		Risk: models.RiskControls{
			SlippageBps:     defaultSlippageBps,
			DeadlineSeconds: defaultDeadlineSeconds,
		},
		Steps: []models.ExecutionStep{
			{
				Kind:        models.StepXCMTransfer,
				ToParachain: evmParachainID,
				Asset:       nativeAsset,
				Amount:      order.AmountPAS,
			},
			{
				Kind:         models.StepUniswapV2Swap,
				Router:       cfg.Router,
				AmountIn:     order.AmountPAS,
				AmountOutMin: "0",
				Path:         []string{cfg.WETH, tokenAddress},
			},
		},
	}
}

// BuyAssistantText is the canned bilingual reply for the buy fast-path.
func BuyAssistantText(order intent.BuyOrder) string {
	return fmt.Sprintf(
		"已生成跨链购买计划：用 %s PAS 购买 %s。请在本地钱包确认后签名执行。 "+
			"(Prepared a cross-chain buy plan: %s PAS for %s. Review and sign locally to execute.)",
		order.AmountPAS, order.TokenSymbol, order.AmountPAS, order.TokenSymbol,
	)
}
