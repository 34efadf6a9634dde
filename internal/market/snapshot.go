package market

import (
	"context"
	"strconv"
	"time"
)

// minSnapshotKlines is the fewest candles the indicator bundle is computed
// from.
const minSnapshotKlines = 20

// Snapshot is the market state bundle embedded in planner prompts. Ok=false
// carries an Error string instead of data; callers never see a Go error.
type Snapshot struct {
	Ok        bool       `json:"ok"`
	Error     string     `json:"error,omitempty"`
	Symbol    string     `json:"symbol,omitempty"`
	Interval  string     `json:"interval,omitempty"`
	Timestamp string     `json:"timestamp,omitempty"`
	Price     Price      `json:"price,omitempty"`
	Volume    Volume     `json:"volume,omitempty"`
	Ind       Indicators `json:"indicators,omitempty"`
}

// Price summarizes current and 24h price action.
type Price struct {
	Current     float64 `json:"current"`
	High24h     float64 `json:"high_24h"`
	Low24h      float64 `json:"low_24h"`
	Change24Pct float64 `json:"change_24h_pct"`
}

// Volume compares the current candle's volume to the trailing 24h average.
type Volume struct {
	Current float64 `json:"current"`
	Avg24h  float64 `json:"avg_24h"`
	Ratio   float64 `json:"ratio"`
}

// Indicators is the latest value of each indicator in the bundle.
type Indicators struct {
	RSI14          float64 `json:"rsi_14"`
	MACD           float64 `json:"macd"`
	MACDSignal     float64 `json:"macd_signal"`
	MACDHistogram  float64 `json:"macd_histogram"`
	EMA12          float64 `json:"ema_12"`
	EMA26          float64 `json:"ema_26"`
	BollingerUpper float64 `json:"bollinger_upper"`
	BollingerMid   float64 `json:"bollinger_middle"`
	BollingerLower float64 `json:"bollinger_lower"`
}

// FetchSnapshot pulls klines and computes the full indicator bundle. Failures
// come back as Snapshot{Ok:false, Error:...}, never as a Go error.
func (c *Client) FetchSnapshot(ctx context.Context, symbol, interval string, limit int) Snapshot {
	symbol = c.NormalizeSymbol(symbol)
	if limit < minSnapshotKlines {
		limit = minSnapshotKlines
	}

	klines, err := c.Klines(ctx, symbol, interval, limit)
	if err != nil {
		return Snapshot{Ok: false, Error: err.Error(), Symbol: symbol}
	}
	return BuildSnapshot(symbol, interval, klines)
}

// BuildSnapshot computes the indicator bundle from already-fetched klines.
func BuildSnapshot(symbol, interval string, klines []Kline) Snapshot {
	if len(klines) < minSnapshotKlines {
		return Snapshot{
			Ok:     false,
			Error:  "insufficient klines: need at least " + strconv.Itoa(minSnapshotKlines),
			Symbol: symbol,
		}
	}

	closes := Closes(klines)
	if len(closes) < minSnapshotKlines {
		return Snapshot{Ok: false, Error: "insufficient parseable klines", Symbol: symbol}
	}

	// A 24h window of hourly candles; shorter histories use what is there.
	window := klines
	if len(window) > 24 {
		window = window[len(window)-24:]
	}

	high, low := 0.0, 0.0
	var volSum, volCount float64
	for i, k := range window {
		h, _ := strconv.ParseFloat(k.High, 64)
		l, _ := strconv.ParseFloat(k.Low, 64)
		v, _ := strconv.ParseFloat(k.Volume, 64)
		if i == 0 || h > high {
			high = h
		}
		if i == 0 || l < low {
			low = l
		}
		volSum += v
		volCount++
	}

	current := closes[len(closes)-1]
	windowCloses := closes
	if len(windowCloses) > 24 {
		windowCloses = windowCloses[len(windowCloses)-24:]
	}

	curVol, _ := strconv.ParseFloat(klines[len(klines)-1].Volume, 64)
	avgVol := volSum / volCount
	ratio := 0.0
	if avgVol > 0 {
		ratio = curVol / avgVol
	}

	macd, macdSignal, macdHist := MACD(closes)
	ema12 := latest(EMA(closes, 12))
	ema26 := latest(EMA(closes, 26))
	bbUpper, bbMid, bbLower := Bollinger(closes, 20)

	return Snapshot{
		Ok:        true,
		Symbol:    symbol,
		Interval:  interval,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Price: Price{
			Current:     current,
			High24h:     high,
			Low24h:      low,
			Change24Pct: PctChange(windowCloses),
		},
		Volume: Volume{Current: curVol, Avg24h: avgVol, Ratio: ratio},
		Ind: Indicators{
			RSI14:          RSI(closes, 14),
			MACD:           macd,
			MACDSignal:     macdSignal,
			MACDHistogram:  macdHist,
			EMA12:          ema12,
			EMA26:          ema26,
			BollingerUpper: bbUpper,
			BollingerMid:   bbMid,
			BollingerLower: bbLower,
		},
	}
}

func latest(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}
