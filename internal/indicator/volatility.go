package indicator

import (
	"math"

	"ta-enginev1/internal/model"
)

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|). Bar 0 has
// no previous close and uses high-low.
func TrueRange(highs, lows, closes []float64) model.Line {
	n := len(closes)
	out := make(model.Line, n)
	if n == 0 {
		return out
	}
	out[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		prev := closes[i-1]
		out[i] = math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-prev), math.Abs(lows[i]-prev)))
	}
	return out
}

// ATR is the SMA of True Range.
func ATR(highs, lows, closes []float64, period int) model.Line {
	return SMA(TrueRange(highs, lows, closes), period)
}

// BollingerBands holds the four Bollinger lines.
type BollingerBands struct {
	Upper, Middle, Lower, Bandwidth model.Line
}

// Bollinger computes bands around SMA(period) using the population standard
// deviation of the same window. Bandwidth is (upper-lower)/middle and 0
// when the middle is 0.
func Bollinger(src []float64, period int, up, down float64) BollingerBands {
	n := len(src)
	b := BollingerBands{
		Upper:     model.NewLine(n),
		Middle:    SMA(src, period),
		Lower:     model.NewLine(n),
		Bandwidth: model.NewLine(n),
	}
	if period < 1 {
		return b
	}
	for i := period - 1; i < n; i++ {
		mid := b.Middle[i]
		sd := popStdDev(src[i-period+1:i+1], mid)
		b.Upper[i] = mid + up*sd
		b.Lower[i] = mid - down*sd
		if mid == 0 {
			b.Bandwidth[i] = 0
			continue
		}
		b.Bandwidth[i] = (b.Upper[i] - b.Lower[i]) / mid
	}
	return b
}
