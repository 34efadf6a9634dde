package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.HTTPAddr != ":8000" {
		t.Errorf("HTTPAddr = %q, want :8000", cfg.HTTPAddr)
	}
	if cfg.MaxInputChars != 2000 {
		t.Errorf("MaxInputChars = %d, want 2000", cfg.MaxInputChars)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("SessionTTL = %v, want 30m", cfg.SessionTTL)
	}
	if cfg.ToolMaxIters != 6 {
		t.Errorf("ToolMaxIters = %d, want 6", cfg.ToolMaxIters)
	}
	if cfg.ToolTimeout != 20*time.Second {
		t.Errorf("ToolTimeout = %v, want 20s", cfg.ToolTimeout)
	}
	if cfg.StreamChunkSize != 12 {
		t.Errorf("StreamChunkSize = %d, want 12", cfg.StreamChunkSize)
	}
	if cfg.StreamDelay != 15*time.Millisecond {
		t.Errorf("StreamDelay = %v, want 15ms", cfg.StreamDelay)
	}
	if cfg.StreamTotalTimeout != 75*time.Second {
		t.Errorf("StreamTotalTimeout = %v, want 75s", cfg.StreamTotalTimeout)
	}
	if cfg.BinanceBaseURL != CanonicalBinanceHost {
		t.Errorf("BinanceBaseURL = %q, want %q", cfg.BinanceBaseURL, CanonicalBinanceHost)
	}
	if cfg.ModelProvider != ProviderDeepSeek {
		t.Errorf("ModelProvider = %q, want deepseek", cfg.ModelProvider)
	}
	if cfg.ModelName != "deepseek-chat" {
		t.Errorf("ModelName = %q, want deepseek-chat", cfg.ModelName)
	}
	if cfg.ProviderBaseURL == "" {
		t.Error("ProviderBaseURL empty for deepseek, want default base URL")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("AGENT_BACKEND_MAX_INPUT_CHARS", "500")
	t.Setenv("AGENT_BACKEND_MODEL_PROVIDER", "Anthropic")
	t.Setenv("AGENT_BACKEND_USE_SIMPLE_STRATEGY", "false")
	t.Setenv("AGENT_BACKEND_SESSION_TTL_SECONDS", "60")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg := FromEnv()
	if cfg.MaxInputChars != 500 {
		t.Errorf("MaxInputChars = %d, want 500", cfg.MaxInputChars)
	}
	if cfg.ModelProvider != ProviderAnthropic {
		t.Errorf("ModelProvider = %q, want anthropic", cfg.ModelProvider)
	}
	if cfg.UseSimpleStrategy {
		t.Error("UseSimpleStrategy = true, want false")
	}
	if cfg.SessionTTL != time.Minute {
		t.Errorf("SessionTTL = %v, want 1m", cfg.SessionTTL)
	}
	if cfg.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want provider env key", cfg.APIKey)
	}
	if cfg.ProviderBaseURL != "" {
		t.Errorf("ProviderBaseURL = %q, want empty for anthropic", cfg.ProviderBaseURL)
	}
}

func TestFromEnvBadIntFallsBack(t *testing.T) {
	t.Setenv("AGENT_BACKEND_TOOL_MAX_ITERS", "not-a-number")
	if got := FromEnv().ToolMaxIters; got != 6 {
		t.Errorf("ToolMaxIters = %d, want default 6", got)
	}
}

func TestValidate(t *testing.T) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	cfg.ModelProvider = "bedrock"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted unknown provider")
	}
	cfg = FromEnv()
	cfg.MaxInputChars = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted zero MAX_INPUT_CHARS")
	}
}
