package indicator

import (
	"ta-enginev1/internal/model"
)

// SMA is the arithmetic mean of the trailing period values. The first
// period-1 outputs are NaN. Each window is summed afresh so the value at
// index i never carries drift from earlier windows.
func SMA(src []float64, period int) model.Line {
	out := model.NewLine(len(src))
	if period < 1 {
		return out
	}
	for i := period - 1; i < len(src); i++ {
		out[i] = sumWindow(src, i, period) / float64(period)
	}
	return out
}

// EMA is seeded with ema[0] = src[0] and has no NaN warm-up.
func EMA(src []float64, period int) model.Line {
	out := model.NewLine(len(src))
	if len(src) == 0 || period < 1 {
		return out
	}
	alpha := 2.0 / float64(period+1)
	out[0] = src[0]
	for i := 1; i < len(src); i++ {
		out[i] = src[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}

// WMA weights the trailing window 1..period, newest heaviest.
func WMA(src []float64, period int) model.Line {
	out := model.NewLine(len(src))
	if period < 1 {
		return out
	}
	denom := float64(period*(period+1)) / 2
	for i := period - 1; i < len(src); i++ {
		var acc float64
		for w := 1; w <= period; w++ {
			acc += float64(w) * src[i-period+w]
		}
		out[i] = acc / denom
	}
	return out
}

// DEMA is 2*EMA - EMA(EMA).
func DEMA(src []float64, period int) model.Line {
	e1 := EMA(src, period)
	e2 := EMA(e1, period)
	out := make(model.Line, len(src))
	for i := range out {
		out[i] = 2*e1[i] - e2[i]
	}
	return out
}

// TEMA is 3*E1 - 3*E2 + E3 over an EMA chain.
func TEMA(src []float64, period int) model.Line {
	e1 := EMA(src, period)
	e2 := EMA(e1, period)
	e3 := EMA(e2, period)
	out := make(model.Line, len(src))
	for i := range out {
		out[i] = 3*e1[i] - 3*e2[i] + e3[i]
	}
	return out
}

// TRIMA applies an SMA of length ceil(period/2) twice.
func TRIMA(src []float64, period int) model.Line {
	half := (period + 1) / 2
	return SMA(SMA(src, half), half)
}

// SMMA is Wilder's smoothed average, seeded with the SMA of the first
// period values.
func SMMA(src []float64, period int) model.Line {
	out := model.NewLine(len(src))
	if period < 1 || len(src) < period {
		return out
	}
	p := float64(period)
	out[period-1] = sumWindow(src, period-1, period) / p
	for i := period; i < len(src); i++ {
		out[i] = (out[i-1]*(p-1) + src[i]) / p
	}
	return out
}
