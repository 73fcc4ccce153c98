package indicator

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"ta-enginev1/internal/model"
)

// DirectionalLines holds the directional movement system outputs.
type DirectionalLines struct {
	ADX, PlusDI, MinusDI model.Line
}

// ADX computes +DI, -DI and DX from trailing-window sums of TR, +DM and -DM
// over period bars. No Wilder smoothing is applied and ADX is DX itself.
// Zero denominators give 0. The first period outputs are NaN.
func ADX(highs, lows, closes []float64, period int) DirectionalLines {
	n := len(closes)
	lines := DirectionalLines{
		ADX:     model.NewLine(n),
		PlusDI:  model.NewLine(n),
		MinusDI: model.NewLine(n),
	}
	if period < 1 || n <= period {
		return lines
	}

	tr := TrueRange(highs, lows, closes)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	for i := period; i < n; i++ {
		sumTR := sumWindow(tr, i, period)
		var pdi, mdi float64
		if sumTR != 0 {
			pdi = 100 * sumWindow(plusDM, i, period) / sumTR
			mdi = 100 * sumWindow(minusDM, i, period) / sumTR
		}
		var dx float64
		if pdi+mdi != 0 {
			dx = math.Abs(pdi-mdi) / (pdi + mdi) * 100
		}
		lines.PlusDI[i] = pdi
		lines.MinusDI[i] = mdi
		lines.ADX[i] = dx
	}
	return lines
}

// SARLines holds Parabolic SAR and its state per bar.
type SARLines struct {
	SAR, Trend, EP, AF model.Line
}

// ParabolicSAR follows Wilder's stop-and-reverse. The initial direction
// compares the midpoints of bars 0 and 1. The acceleration factor resets to
// minAF on a flip and grows by minAF (capped at maxAF) on each new extreme.
// Bar 0 is NaN.
func ParabolicSAR(highs, lows []float64, minAF, maxAF float64) SARLines {
	n := len(highs)
	out := SARLines{
		SAR:   model.NewLine(n),
		Trend: model.NewLine(n),
		EP:    model.NewLine(n),
		AF:    model.NewLine(n),
	}
	if n < 2 {
		return out
	}
	if maxAF < minAF {
		maxAF = minAF
	}

	long := highs[1]+lows[1] >= highs[0]+lows[0]
	var sar, ep float64
	if long {
		sar, ep = lows[0], highs[1]
	} else {
		sar, ep = highs[0], lows[1]
	}
	af := minAF
	record := func(i int) {
		out.SAR[i] = sar
		out.EP[i] = ep
		out.AF[i] = af
		if long {
			out.Trend[i] = 1
		} else {
			out.Trend[i] = -1
		}
	}
	record(1)

	for i := 2; i < n; i++ {
		sar += af * (ep - sar)
		if long {
			sar = math.Min(sar, math.Min(lows[i-1], lows[i-2]))
			switch {
			case lows[i] < sar:
				long = false
				sar, ep, af = ep, lows[i], minAF
			case highs[i] > ep:
				ep = highs[i]
				af = math.Min(af+minAF, maxAF)
			}
		} else {
			sar = math.Max(sar, math.Max(highs[i-1], highs[i-2]))
			switch {
			case highs[i] > sar:
				long = true
				sar, ep, af = ep, highs[i], minAF
			case lows[i] < ep:
				ep = lows[i]
				af = math.Min(af+minAF, maxAF)
			}
		}
		record(i)
	}
	return out
}

// RegressionLines holds the per-bar least-squares fit of a trailing window.
type RegressionLines struct {
	Value, Intercept, Slope model.Line
}

// LinearRegression fits y = intercept + slope*x over each trailing window
// with x = 0..period-1. Value is the fit at the last x.
func LinearRegression(src []float64, period int) RegressionLines {
	n := len(src)
	r := RegressionLines{
		Value:     model.NewLine(n),
		Intercept: model.NewLine(n),
		Slope:     model.NewLine(n),
	}
	if period < 2 {
		return r
	}
	xs := make([]float64, period)
	for i := range xs {
		xs[i] = float64(i)
	}
	last := float64(period - 1)
	for i := period - 1; i < n; i++ {
		alpha, beta := stat.LinearRegression(xs, src[i-period+1:i+1], nil, false)
		r.Value[i] = alpha + beta*last
		r.Intercept[i] = alpha
		r.Slope[i] = beta
	}
	return r
}

// SuperTrendLines holds SuperTrend and its final bands.
type SuperTrendLines struct {
	SuperTrend, Upper, Lower, Trend model.Line
}

// SuperTrend places ATR(atrPeriod) bands multiplier wide around hl2. A
// final band only moves toward price unless the previous close broke it;
// the trend flips when the close crosses the active band. Output starts at
// max(period, atrPeriod)-1.
func SuperTrend(highs, lows, closes []float64, period int, multiplier float64, atrPeriod int) SuperTrendLines {
	n := len(closes)
	st := SuperTrendLines{
		SuperTrend: model.NewLine(n),
		Upper:      model.NewLine(n),
		Lower:      model.NewLine(n),
		Trend:      model.NewLine(n),
	}
	if atrPeriod < 1 {
		return st
	}
	atr := ATR(highs, lows, closes, atrPeriod)
	start := maxInt(period, atrPeriod) - 1

	var finalUpper, finalLower float64
	var isLong bool
	for i := start; i < n; i++ {
		hl2 := (highs[i] + lows[i]) / 2
		basicUpper := hl2 + multiplier*atr[i]
		basicLower := hl2 - multiplier*atr[i]

		if i == start {
			finalUpper, finalLower = basicUpper, basicLower
			isLong = closes[i] >= hl2
		} else {
			if basicUpper < finalUpper || closes[i-1] > finalUpper {
				finalUpper = basicUpper
			}
			if basicLower > finalLower || closes[i-1] < finalLower {
				finalLower = basicLower
			}
			if isLong && closes[i] < finalLower {
				isLong = false
			} else if !isLong && closes[i] > finalUpper {
				isLong = true
			}
		}

		st.Upper[i] = finalUpper
		st.Lower[i] = finalLower
		if isLong {
			st.SuperTrend[i] = finalLower
			st.Trend[i] = 1
		} else {
			st.SuperTrend[i] = finalUpper
			st.Trend[i] = -1
		}
	}
	return st
}
