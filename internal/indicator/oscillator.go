package indicator

import (
	"ta-enginev1/internal/model"
)

// RSI averages up-moves and down-moves over the trailing period+1 samples
// (period changes). A window with no losses is 100. The first period
// outputs are NaN.
func RSI(src []float64, period int) model.Line {
	out := model.NewLine(len(src))
	if period < 1 {
		return out
	}
	for i := period; i < len(src); i++ {
		var gain, loss float64
		for j := i - period + 1; j <= i; j++ {
			d := src[j] - src[j-1]
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
		}
		avgGain := gain / float64(period)
		avgLoss := loss / float64(period)
		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// stochSmoothing is the %K smoothing and %D length. Both are fixed at 3
// whatever the configured period.
const stochSmoothing = 3

// Stochastic returns %K and %D. The raw %K over period bars is 50 when the
// window has no range. Slow smooths %K with SMA(3) before %D is taken.
func Stochastic(highs, lows, closes []float64, period int, slow bool) (k, d model.Line) {
	raw := model.NewLine(len(closes))
	if period >= 1 {
		for i := period - 1; i < len(closes); i++ {
			hh := highest(highs, i, period)
			ll := lowest(lows, i, period)
			if hh == ll {
				raw[i] = 50
				continue
			}
			raw[i] = (closes[i] - ll) / (hh - ll) * 100
		}
	}
	k = raw
	if slow {
		k = SMA(raw, stochSmoothing)
	}
	d = SMA(k, stochSmoothing)
	return k, d
}

// MACD returns the MACD line, its signal EMA (seeded with macd[0]) and the
// histogram.
func MACD(src []float64, fast, slow, signal int) (macd, sig, hist model.Line) {
	macd = sub(EMA(src, fast), EMA(src, slow))
	sig = EMA(macd, signal)
	hist = sub(macd, sig)
	return macd, sig, hist
}
