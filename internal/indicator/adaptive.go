package indicator

import (
	"math"

	"ta-enginev1/internal/model"
)

// kamaLookback is the efficiency-ratio window. It is fixed regardless of
// the fast/slow settings.
const kamaLookback = 10

// KAMA is Kaufman's adaptive moving average. The smoothing constant follows
// the efficiency ratio over the last 10 bars:
//
//	sc = (ER*(fastSC-slowSC) + slowSC)^2
//
// The first 10 outputs are the raw source.
func KAMA(src []float64, fast, slow int) model.Line {
	n := len(src)
	out := make(model.Line, n)
	fastSC := 2.0 / float64(fast+1)
	slowSC := 2.0 / float64(slow+1)

	for i := 0; i < n && i < kamaLookback; i++ {
		out[i] = src[i]
	}
	for i := kamaLookback; i < n; i++ {
		change := math.Abs(src[i] - src[i-kamaLookback])
		var volatility float64
		for j := i - kamaLookback + 1; j <= i; j++ {
			volatility += math.Abs(src[j] - src[j-1])
		}
		er := 0.0
		if volatility != 0 {
			er = change / volatility
		}
		sc := math.Pow(er*(fastSC-slowSC)+slowSC, 2)
		out[i] = out[i-1] + sc*(src[i]-out[i-1])
	}
	return out
}

const mamaWarmup = 10

// MAMA is a simplified phase-adaptive moving average in the spirit of
// Ehlers' MESA. It is not the full Hilbert transform: the in-phase and
// quadrature parts come from 3-bar differences of a 4-bar weighted smooth.
//
//	smooth[i] = (4p[i] + 3p[i-1] + 2p[i-2] + p[i-3]) / 10
//	I = smooth[i] - smooth[i-3],  Q = smooth[i-1] - smooth[i-4]
//	phase = atan2(Q, I) in degrees
//	alpha = clamp(fastLimit / max(prevPhase-phase, 1), slowLimit, fastLimit)
//
// The first 10 outputs of both lines are the raw source.
func MAMA(src []float64, fastLimit, slowLimit float64) (mama, fama model.Line) {
	n := len(src)
	mama = make(model.Line, n)
	fama = make(model.Line, n)
	if slowLimit > fastLimit {
		slowLimit = fastLimit
	}

	smooth := make([]float64, n)
	for i := 3; i < n; i++ {
		smooth[i] = (4*src[i] + 3*src[i-1] + 2*src[i-2] + src[i-3]) / 10
	}

	for i := 0; i < n && i < mamaWarmup; i++ {
		mama[i] = src[i]
		fama[i] = src[i]
	}

	var prevPhase float64
	for i := mamaWarmup; i < n; i++ {
		inPhase := smooth[i] - smooth[i-3]
		quad := smooth[i-1] - smooth[i-4]

		var phase float64
		if inPhase != 0 || quad != 0 {
			phase = math.Atan2(quad, inPhase) * 180 / math.Pi
		}
		delta := prevPhase - phase
		if delta < 1 {
			delta = 1
		}
		prevPhase = phase

		alpha := fastLimit / delta
		if alpha < slowLimit {
			alpha = slowLimit
		}
		if alpha > fastLimit {
			alpha = fastLimit
		}

		mama[i] = alpha*src[i] + (1-alpha)*mama[i-1]
		fama[i] = 0.5*alpha*mama[i] + (1-0.5*alpha)*fama[i-1]
	}
	return mama, fama
}

// T3 is Tillson's triple-smoothed average: six chained EMAs combined with
// coefficients derived from the volume factor a.
func T3(src []float64, period int, a float64) model.Line {
	e1 := EMA(src, period)
	e2 := EMA(e1, period)
	e3 := EMA(e2, period)
	e4 := EMA(e3, period)
	e5 := EMA(e4, period)
	e6 := EMA(e5, period)

	a2, a3 := a*a, a*a*a
	c1 := -a3
	c2 := 3*a2 + 3*a3
	c3 := -6*a2 - 3*a - 3*a3
	c4 := 1 + 3*a + a3 + 3*a2

	out := make(model.Line, len(src))
	for i := range out {
		out[i] = c1*e6[i] + c2*e5[i] + c3*e4[i] + c4*e3[i]
	}
	return out
}
