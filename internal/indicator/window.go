package indicator

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"ta-enginev1/internal/model"
)

// sumWindow returns the sum of src[i-period+1 : i+1].
// Any NaN in the window makes the sum NaN, which is how warm-up
// propagates through chained windows.
func sumWindow(src []float64, i, period int) float64 {
	return floats.Sum(src[i-period+1 : i+1])
}

func highest(src []float64, i, period int) float64 {
	return floats.Max(src[i-period+1 : i+1])
}

func lowest(src []float64, i, period int) float64 {
	return floats.Min(src[i-period+1 : i+1])
}

// popStdDev is the population standard deviation of the window around mean.
func popStdDev(window []float64, mean float64) float64 {
	var ss float64
	for _, v := range window {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(window)))
}

// sub returns a-b elementwise.
func sub(a, b []float64) model.Line {
	out := make(model.Line, len(a))
	floats.SubTo(out, a, b)
	return out
}

func nz(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
