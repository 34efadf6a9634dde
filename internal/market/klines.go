// Package market fetches CEX candlestick data and computes the technical
// indicator bundle fed to the planner and exposed through tools.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quantbay/agentd/internal/config"
)

// Kline is one candlestick. Price and volume fields keep the exchange's string
// form so no precision is lost on the wire.
type Kline struct {
	OpenTime  int64  `json:"open_time"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
	CloseTime int64  `json:"close_time"`
}

// Client fetches klines over the Binance-compatible REST surface.
type Client struct {
	baseURL      string
	defaultQuote string
	httpClient   *http.Client
}

// NewClient builds a klines client. timeout bounds each HTTP request.
func NewClient(baseURL, defaultQuote string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultQuote: strings.ToUpper(defaultQuote),
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// NormalizeSymbol upper-cases a base or pair and appends the default quote to
// bare bases ("eth" → "ETHUSDT", "ETH/USDT" → "ETHUSDT").
func (c *Client) NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("/", "", "-", "", " ", "").Replace(s)
	if s == "" {
		return s
	}
	for _, quote := range []string{"USDT", "USDC", "BUSD", "BTC", "ETH"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s
		}
	}
	return s + c.defaultQuote
}

// Klines fetches the most recent limit candles for symbol at interval. When
// the primary host is the canonical exchange host and the request fails, one
// retry goes to the regional fallback host.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	symbol = c.NormalizeSymbol(symbol)

	rows, err := c.fetch(ctx, c.baseURL, symbol, interval, limit)
	if err != nil && c.baseURL == config.CanonicalBinanceHost {
		rows, err = c.fetch(ctx, config.FallbackBinanceHost, symbol, interval, limit)
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) fetch(ctx context.Context, host, symbol, interval string, limit int) ([]Kline, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	endpoint := host + "/api/v3/klines?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("market: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("market: fetch klines: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("market: klines status %d from %s", resp.StatusCode, host)
	}

	// Binance returns an array of arrays with mixed number/string columns.
	var raw [][]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("market: decode klines: %w", err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		klines = append(klines, Kline{
			OpenTime:  asInt64(row[0]),
			Open:      asString(row[1]),
			High:      asString(row[2]),
			Low:       asString(row[3]),
			Close:     asString(row[4]),
			Volume:    asString(row[5]),
			CloseTime: asInt64(row[6]),
		})
	}
	return klines, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

// Closes converts the close column to floats, skipping unparseable rows.
func Closes(klines []Kline) []float64 {
	out := make([]float64, 0, len(klines))
	for _, k := range klines {
		if f, err := strconv.ParseFloat(k.Close, 64); err == nil {
			out = append(out, f)
		}
	}
	return out
}
