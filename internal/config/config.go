// Package config loads the service configuration from AGENT_BACKEND_*
// environment variables. All values have working defaults so the service can
// start with nothing but a provider API key set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// envPrefix is prepended to every recognized variable name.
const envPrefix = "AGENT_BACKEND_"

// Provider names accepted for MODEL_PROVIDER.
const (
	ProviderDeepSeek  = "deepseek"
	ProviderOpenAI    = "openai"
	ProviderDashScope = "dashscope"
	ProviderAnthropic = "anthropic"
)

// Config is the full runtime configuration.
type Config struct {
	// HTTP
	HTTPAddr      string
	MaxInputChars int

	// Sessions
	SessionTTL time.Duration

	// LLM
	ModelProvider     string
	ModelName         string
	APIKey            string
	ProviderBaseURL   string
	UpstreamStreaming bool
	LLMTimeout        time.Duration
	LLMStreamTimeout  time.Duration // 0 disables
	ToolTimeout       time.Duration
	ToolMaxIters      int
	UseSimpleStrategy bool

	// SSE streaming
	StreamChunkSize    int
	StreamDelay        time.Duration
	StreamKeepalive    time.Duration
	StreamTotalTimeout time.Duration

	// CEX
	BinanceBaseURL  string
	CEXDefaultQuote string
	KlineInterval   string
	KlineLimit      int
	DefaultSymbol   string

	// EVM
	EVMRPCURL        string
	RouterAddress    string
	FactoryAddress   string
	PairAddress      string
	WETHAddress      string
	DemoTokenAddress string
	DemoTokenSymbol  string

	// Cross-chain
	CrossChainInboundToken string

	// Observability
	LogLevel     string
	LogFormat    string
	OTLPEndpoint string

	// Strategy defaults override file (optional YAML).
	StrategyConfigPath string

	// Test hook: suppress provider construction and background loops.
	DisableStartup bool
}

// FromEnv builds a Config from the process environment.
func FromEnv() *Config {
	cfg := &Config{
		HTTPAddr:      envString("HTTP_ADDR", ":8000"),
		MaxInputChars: envInt("MAX_INPUT_CHARS", 2000),

		SessionTTL: envSeconds("SESSION_TTL_SECONDS", 1800),

		ModelProvider:     strings.ToLower(envString("MODEL_PROVIDER", ProviderDeepSeek)),
		ModelName:         envString("MODEL_NAME", ""),
		ProviderBaseURL:   envString("MODEL_BASE_URL", ""),
		UpstreamStreaming: envBool("UPSTREAM_STREAMING", true),
		LLMTimeout:        envSeconds("LLM_TIMEOUT_SECONDS", 60),
		LLMStreamTimeout:  envSeconds("LLM_STREAM_TIMEOUT_SECONDS", 0),
		ToolTimeout:       envSeconds("TOOL_TIMEOUT_SECONDS", 20),
		ToolMaxIters:      envInt("TOOL_MAX_ITERS", 6),
		UseSimpleStrategy: envBool("USE_SIMPLE_STRATEGY", true),

		StreamChunkSize:    envInt("STREAM_CHUNK_SIZE", 12),
		StreamDelay:        envMillis("STREAM_DELAY_MS", 15),
		StreamKeepalive:    envSeconds("STREAM_KEEPALIVE_SECONDS", 2),
		StreamTotalTimeout: envSeconds("STREAM_TOTAL_TIMEOUT_SECONDS", 75),

		BinanceBaseURL:  envString("BINANCE_BASE_URL", CanonicalBinanceHost),
		CEXDefaultQuote: envString("CEX_DEFAULT_QUOTE", "USDT"),
		KlineInterval:   envString("CEX_KLINE_INTERVAL", "1h"),
		KlineLimit:      envInt("CEX_KLINE_LIMIT", 200),
		DefaultSymbol:   envString("DEFAULT_SYMBOL", "BTCUSDT"),

		EVMRPCURL:        envString("EVM_RPC_URL", ""),
		RouterAddress:    envString("UNISWAP_ROUTER_ADDRESS", ""),
		FactoryAddress:   envString("UNISWAP_FACTORY_ADDRESS", ""),
		PairAddress:      envString("UNISWAP_PAIR_ADDRESS", ""),
		WETHAddress:      envString("WETH_ADDRESS", ""),
		DemoTokenAddress: envString("DEMO_TOKEN_ADDRESS", ""),
		DemoTokenSymbol:  envString("DEMO_TOKEN_SYMBOL", "TokenDemo"),

		CrossChainInboundToken: envString("CROSSCHAIN_INBOUND_TOKEN", ""),

		LogLevel:     envString("LOG_LEVEL", "info"),
		LogFormat:    envString("LOG_FORMAT", "text"),
		OTLPEndpoint: envString("OTLP_ENDPOINT", ""),

		StrategyConfigPath: envString("STRATEGY_CONFIG", ""),

		DisableStartup: envBool("DISABLE_STARTUP", false),
	}

	if cfg.APIKey = envString("API_KEY", ""); cfg.APIKey == "" {
		switch cfg.ModelProvider {
		case ProviderAnthropic:
			cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case ProviderOpenAI:
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		case ProviderDeepSeek:
			cfg.APIKey = os.Getenv("DEEPSEEK_API_KEY")
		case ProviderDashScope:
			cfg.APIKey = os.Getenv("DASHSCOPE_API_KEY")
		}
	}

	if cfg.ModelName == "" {
		cfg.ModelName = defaultModelFor(cfg.ModelProvider)
	}
	if cfg.ProviderBaseURL == "" {
		cfg.ProviderBaseURL = defaultBaseURLFor(cfg.ModelProvider)
	}

	return cfg
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.ModelProvider {
	case ProviderDeepSeek, ProviderOpenAI, ProviderDashScope, ProviderAnthropic:
	default:
		return fmt.Errorf("config: unknown MODEL_PROVIDER %q", c.ModelProvider)
	}
	if c.MaxInputChars <= 0 {
		return fmt.Errorf("config: MAX_INPUT_CHARS must be positive")
	}
	if c.ToolMaxIters <= 0 {
		return fmt.Errorf("config: TOOL_MAX_ITERS must be positive")
	}
	return nil
}

// CanonicalBinanceHost is the primary klines host; FallbackBinanceHost is tried
// once when the primary is the canonical host and the request fails.
const (
	CanonicalBinanceHost = "https://api.binance.com"
	FallbackBinanceHost  = "https://data-api.binance.vision"
)

func defaultModelFor(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderDashScope:
		return "qwen-plus"
	default:
		return "deepseek-chat"
	}
}

func defaultBaseURLFor(provider string) string {
	switch provider {
	case ProviderDeepSeek:
		return "https://api.deepseek.com/v1"
	case ProviderDashScope:
		return "https://dashscope.aliyuncs.com/compatible-mode/v1"
	default:
		return ""
	}
}

func envString(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + name)); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func envBool(name string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(envPrefix + name))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func envSeconds(name string, fallback int) time.Duration {
	return time.Duration(envInt(name, fallback)) * time.Second
}

func envMillis(name string, fallback int) time.Duration {
	return time.Duration(envInt(name, fallback)) * time.Millisecond
}
