package market

import "math"

// EMA returns the exponential moving average series for the given period.
// The first period values seed with a simple average; output length matches
// input. Returns nil when len(values) < period.
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, len(values))
	var seed float64
	for i := 0; i < period; i++ {
		seed += values[i]
		out[i] = seed / float64(i+1)
	}
	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI computes the Wilder-smoothed relative strength index and returns its
// latest value. Returns 50 when there is not enough data to compute one.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) <= period {
		return 50
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	for i := period + 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		g, l := 0.0, 0.0
		if delta > 0 {
			g = delta
		} else {
			l = -delta
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD computes MACD(12,26,9) and returns the latest (macd, signal, histogram)
// triple. Zeroes when there is not enough data.
func MACD(values []float64) (macd, signal, histogram float64) {
	fast := EMA(values, 12)
	slow := EMA(values, 26)
	if fast == nil || slow == nil {
		return 0, 0, 0
	}

	diff := make([]float64, len(values))
	for i := range values {
		diff[i] = fast[i] - slow[i]
	}
	signalSeries := EMA(diff, 9)
	if signalSeries == nil {
		return 0, 0, 0
	}

	last := len(values) - 1
	macd = diff[last]
	signal = signalSeries[last]
	return macd, signal, macd - signal
}

// Bollinger computes the 20-period Bollinger bands (2 standard deviations) and
// returns the latest (upper, middle, lower). Zeroes when there is not enough
// data.
func Bollinger(values []float64, period int) (upper, middle, lower float64) {
	if period <= 0 || len(values) < period {
		return 0, 0, 0
	}
	window := values[len(values)-period:]

	var sum float64
	for _, v := range window {
		sum += v
	}
	middle = sum / float64(period)

	var variance float64
	for _, v := range window {
		d := v - middle
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period))

	return middle + 2*sd, middle, middle - 2*sd
}

// PctChange returns the percent change from first to last value.
func PctChange(values []float64) float64 {
	if len(values) < 2 || values[0] == 0 {
		return 0
	}
	return (values[len(values)-1] - values[0]) / values[0] * 100
}

// LogReturnVolatility returns the standard deviation of log returns.
func LogReturnVolatility(values []float64) float64 {
	if len(values) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] <= 0 || values[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(values[i]/values[i-1]))
	}
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(returns)-1))
}
