// Package intent holds the deterministic fast-path parsers that run before any
// model call: buy-order extraction, intent-hint inference, and trading-pair
// symbol extraction. Everything here is regex and table driven and never fails
// with an error, only with "no match".
package intent

import (
	"regexp"
	"strings"
)

// Hint classifies user input before planning. A strategy hint triggers a
// market snapshot prefetch; chat skips it.
type Hint string

const (
	HintStrategy Hint = "strategy"
	HintChat     Hint = "chat"
)

// BuyOrder is the result of the deterministic buy fast-path.
type BuyOrder struct {
	// AmountPAS is the normalized decimal amount of PAS to spend.
	AmountPAS string
	// TokenSymbol is the output token symbol as written by the user.
	TokenSymbol string
}

// buyPatterns covers the English and Chinese surface forms of
// "buy <amount> PAS for <token>".
var buyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bbuy\s+(\d+(?:\.\d+)?)\s*PAS\s+(?:of\s+|for\s+|worth\s+of\s+)?([A-Za-z][A-Za-z0-9]*)`),
	regexp.MustCompile(`(?:给我买|帮我买|买入|买)\s*(\d+(?:\.\d+)?)\s*(?:个)?\s*PAS\s*(?:的|换|买)\s*([A-Za-z][A-Za-z0-9]*)`),
}

// ParseBuy extracts a deterministic buy order from free text. The second
// return is false when no pattern matches.
func ParseBuy(text string) (BuyOrder, bool) {
	for _, re := range buyPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		sym := m[2]
		if strings.EqualFold(sym, "PAS") {
			continue
		}
		return BuyOrder{AmountPAS: normalizeAmount(m[1]), TokenSymbol: sym}, true
	}
	return BuyOrder{}, false
}

// normalizeAmount strips trailing zeros from the fractional part, and the
// decimal point itself when nothing remains behind it.
func normalizeAmount(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// strategyKeywords is the fixed bilingual vocabulary that marks a message as a
// strategy request rather than small talk.
var strategyKeywords = []string{
	"策略", "定投", "网格", "建仓", "加仓", "止盈", "止损", "抄底", "做多", "做空",
	"行情", "趋势", "指标", "均线", "布林", "支撑", "压力", "回调", "仓位", "马丁",
	"strategy", "dca", "grid", "martingale", "invest", "trade", "trading",
	"long", "short", "entry", "take profit", "stop loss", "buy the dip",
	"rsi", "macd", "bollinger", "ema", "sma", "indicator", "signal",
	"support", "resistance", "trend", "volatility",
}

// InferHint classifies text as a strategy request or plain chat by keyword
// presence.
func InferHint(text string) Hint {
	lower := strings.ToLower(text)
	for _, kw := range strategyKeywords {
		if strings.Contains(lower, kw) {
			return HintStrategy
		}
	}
	return HintChat
}

// symbolAliases maps bilingual coin names to canonical base symbols.
var symbolAliases = map[string]string{
	"比特币": "BTC",
	"大饼":  "BTC",
	"以太坊": "ETH",
	"以太":  "ETH",
	"btc": "BTC",
	"eth": "ETH",
	"bnb": "BNB",
	"sol": "SOL",
	"xrp": "XRP",
	"ada": "ADA",
	"dot": "DOT",
}

// indicatorTokens are uppercase words that look like base symbols but name
// technical indicators. They never produce a pair.
var indicatorTokens = map[string]bool{
	"RSI": true, "MACD": true, "BOLL": true,
	"MA": true, "EMA": true, "SMA": true, "VWAP": true,
}

var (
	// Explicit pair, with or without a separator: ETH/USDT, ETH-USDT, ETHUSDT.
	pairRe = regexp.MustCompile(`(?i)\b([A-Z]{2,10})\s*[/-]\s*(USDT|USDC|BUSD|BTC|ETH)\b`)
	glueRe = regexp.MustCompile(`\b([A-Z]{2,8})(USDT|USDC|BUSD)\b`)
	bareRe = regexp.MustCompile(`\b([A-Z]{2,8})\b`)
)

// ExtractSymbol finds a trading pair in free text. Bare bases get defaultQuote
// appended; nothing recognizable yields defaultSymbol.
func ExtractSymbol(text, defaultQuote, defaultSymbol string) string {
	if m := pairRe.FindStringSubmatch(text); m != nil {
		base := strings.ToUpper(m[1])
		if !indicatorTokens[base] {
			return base + strings.ToUpper(m[2])
		}
	}

	upper := strings.ToUpper(text)
	if m := glueRe.FindStringSubmatch(upper); m != nil && !indicatorTokens[m[1]] {
		return m[1] + m[2]
	}

	// Chinese aliases beat bare uppercase words so "以太坊的RSI" maps to ETH.
	lower := strings.ToLower(text)
	for _, alias := range []string{"比特币", "大饼", "以太坊", "以太"} {
		if strings.Contains(lower, alias) {
			return symbolAliases[alias] + strings.ToUpper(defaultQuote)
		}
	}

	for _, m := range bareRe.FindAllStringSubmatch(upper, -1) {
		base := m[1]
		if indicatorTokens[base] || base == "USDT" || base == "USDC" || base == "BUSD" {
			continue
		}
		if _, known := symbolAliases[strings.ToLower(base)]; known {
			return base + strings.ToUpper(defaultQuote)
		}
	}

	return defaultSymbol
}
