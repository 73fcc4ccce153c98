package indicator

import (
	"math"
	"testing"

	"github.com/markcheno/go-talib"
	"github.com/stretchr/testify/assert"
)

// go-talib pads its warm-up region with zeros, so comparisons start at the
// first index where a full window exists.

func assertMatchesFrom(t *testing.T, label string, got []float64, want []float64, from int) {
	t.Helper()
	if !assert.Equal(t, len(want), len(got), label) {
		return
	}
	for i := from; i < len(want); i++ {
		if math.Abs(got[i]-want[i]) > 1e-6 {
			t.Errorf("%s[%d]: got %.10f, talib %.10f", label, i, got[i], want[i])
		}
	}
}

func TestAgainstTalib_WindowedAverages(t *testing.T) {
	s := wave(250)
	for _, p := range []int{2, 5, 14, 30} {
		assertMatchesFrom(t, "sma", SMA(s.Close, p), talib.Sma(s.Close, p), p-1)
		assertMatchesFrom(t, "wma", WMA(s.Close, p), talib.Wma(s.Close, p), p-1)
	}
}

func TestAgainstTalib_TRIMAOddPeriods(t *testing.T) {
	s := wave(250)
	for _, p := range []int{3, 7, 15, 21} {
		assertMatchesFrom(t, "trima", TRIMA(s.Close, p), talib.Trima(s.Close, p), p-1)
	}
}

func TestAgainstTalib_Bollinger(t *testing.T) {
	s := wave(250)
	upper, middle, lower := talib.BBands(s.Close, 20, 2, 1.5, talib.SMA)
	b := Bollinger(s.Close, 20, 2, 1.5)
	assertMatchesFrom(t, "upper", b.Upper, upper, 19)
	assertMatchesFrom(t, "middle", b.Middle, middle, 19)
	assertMatchesFrom(t, "lower", b.Lower, lower, 19)
}

func TestAgainstTalib_LinearRegression(t *testing.T) {
	s := wave(250)
	for _, p := range []int{5, 14} {
		r := LinearRegression(s.Close, p)
		assertMatchesFrom(t, "linearreg", r.Value, talib.LinearReg(s.Close, p), p-1)
		assertMatchesFrom(t, "linearreg_intercept", r.Intercept, talib.LinearRegIntercept(s.Close, p), p-1)
		assertMatchesFrom(t, "linearreg_slope", r.Slope, talib.LinearRegSlope(s.Close, p), p-1)
	}
}
