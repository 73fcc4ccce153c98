package vwap

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ta-enginev1/internal/model"
)

var t0 = time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)

func bar(offset time.Duration, h, l, c, v float64) model.Bar {
	return model.Bar{Time: t0.Add(offset), Open: c, High: h, Low: l, Close: c, Volume: v}
}

func TestCalculateWithBands_SingleBar(t *testing.T) {
	r := CalculateWithBands([]model.Bar{bar(0, 10, 8, 9, 100)}, Params{})
	require.Len(t, r.VWAP, 1)
	assert.Equal(t, 9.0, r.VWAP[0])
	assert.Equal(t, 9.0, r.TypicalPrices[0])
	assert.Equal(t, 0.0, r.StandardDeviations[0])
	assert.Equal(t, []float64{1, 2, 3}, r.Multipliers)
	require.Len(t, r.UpperBands, 3)
	require.Len(t, r.LowerBands, 3)
}

func TestCalculateWithBands_UniformVolumeIsMeanTypicalPrice(t *testing.T) {
	bars := []model.Bar{
		bar(0, 11, 9, 10, 50),
		bar(time.Minute, 13, 10, 12, 50),
		bar(2*time.Minute, 12, 9, 9, 50),
		bar(3*time.Minute, 15, 11, 14, 50),
	}
	r := CalculateWithBands(bars, Params{ResetInterval: ResetNone})
	var sum float64
	for i, b := range bars {
		sum += b.TypicalPrice()
		assert.InDelta(t, sum/float64(i+1), r.VWAP[i], 1e-12, "bar %d", i)
	}
}

func TestCalculateWithBands_BandInvariant(t *testing.T) {
	bars := make([]model.Bar, 30)
	for i := range bars {
		x := float64(i)
		c := 100 + 3*math.Sin(x/3)
		bars[i] = bar(time.Duration(i)*time.Minute, c+1, c-1.5, c, 100+20*math.Abs(math.Cos(x)))
	}
	r := CalculateWithBands(bars, Params{Multipliers: []float64{0.5, 2}})
	for k, m := range r.Multipliers {
		for i := range bars {
			assert.Equal(t, r.VWAP[i]+m*r.StandardDeviations[i], r.UpperBands[k][i])
			assert.Equal(t, r.VWAP[i]-m*r.StandardDeviations[i], r.LowerBands[k][i])
		}
	}
	assert.Greater(t, r.StandardDeviations[29], 0.0)
}

func TestCalculateWithBands_StdDevUsesContemporaneousVWAP(t *testing.T) {
	// tp0 = 10 (vwap0 = 10), tp1 = 20 with equal volume (vwap1 = 15)
	// deviations: bar0 0, bar1 5 -> sqrt((1*0 + 1*25)/2)
	bars := []model.Bar{bar(0, 10, 10, 10, 1), bar(time.Minute, 20, 20, 20, 1)}
	r := CalculateWithBands(bars, Params{})
	assert.Equal(t, 15.0, r.VWAP[1])
	assert.InDelta(t, math.Sqrt(12.5), r.StandardDeviations[1], 1e-12)
}

func TestCalculateWithBands_ZeroVolumeFallsBackToTypicalPrice(t *testing.T) {
	bars := []model.Bar{bar(0, 10, 8, 9, 0), bar(time.Minute, 13, 11, 12, 0)}
	r := CalculateWithBands(bars, Params{})
	assert.Equal(t, 9.0, r.VWAP[0])
	assert.Equal(t, 12.0, r.VWAP[1])
	assert.Equal(t, 0.0, r.StandardDeviations[1])
}

func TestCalculator_DailyReset(t *testing.T) {
	c := NewCalculator(Params{ResetInterval: ResetDaily})
	c.Push(bar(0, 10, 8, 9, 100))
	pt := c.Push(bar(24*time.Hour, 20, 18, 19, 40))

	assert.True(t, pt.Reset)
	assert.Equal(t, 40.0, c.Session().CumulativeVolume())
	assert.Equal(t, 1, c.Session().Len())
	assert.Equal(t, 19.0, pt.VWAP)
	assert.Equal(t, 1, c.Resets())
}

func TestCalculator_DailyResetHonoursLocation(t *testing.T) {
	// 23:30 and 00:30 UTC fall on the same day five hours west
	loc := time.FixedZone("UTC-5", -5*3600)
	first := model.Bar{Time: time.Date(2024, 3, 4, 23, 30, 0, 0, time.UTC), High: 10, Low: 8, Close: 9, Volume: 1}
	second := first
	second.Time = first.Time.Add(time.Hour)

	utc := NewCalculator(Params{})
	utc.Push(first)
	assert.True(t, utc.Push(second).Reset)

	west := NewCalculator(Params{Location: loc})
	west.Push(first)
	assert.False(t, west.Push(second).Reset)
}

func TestCalculator_SessionGap(t *testing.T) {
	c := NewCalculator(Params{ResetInterval: ResetSession})
	c.Push(bar(0, 10, 8, 9, 100))
	assert.False(t, c.Push(bar(4*time.Hour, 10, 8, 9, 100)).Reset, "a gap of exactly 4h keeps the session")
	assert.True(t, c.Push(bar(8*time.Hour+time.Second, 10, 8, 9, 100)).Reset)
	assert.Equal(t, 100.0, c.Session().CumulativeVolume())
}

func TestCalculator_NoneNeverResets(t *testing.T) {
	c := NewCalculator(Params{ResetInterval: ResetNone})
	c.Push(bar(0, 10, 8, 9, 100))
	c.Push(bar(72*time.Hour, 10, 8, 9, 100))
	assert.Equal(t, 200.0, c.Session().CumulativeVolume())
	assert.Zero(t, c.Resets())
}

func TestCalculator_PeekDoesNotAdvance(t *testing.T) {
	c := NewCalculator(Params{})
	c.Push(bar(0, 10, 8, 9, 100))

	forming := bar(time.Minute, 14, 10, 12, 100)
	peeked := c.Peek(forming)
	assert.InDelta(t, 10.5, peeked.VWAP, 1e-12)
	assert.Equal(t, 1, c.Session().Len())
	assert.Equal(t, 100.0, c.Session().CumulativeVolume())

	pushed := c.Push(forming)
	assert.Equal(t, peeked, pushed)

	nextDay := bar(24*time.Hour, 20, 18, 19, 10)
	p := c.Peek(nextDay)
	assert.True(t, p.Reset)
	assert.Equal(t, 19.0, p.VWAP)
	assert.Equal(t, 0, c.Resets())
}

func TestSession_AppendDoesNotAlias(t *testing.T) {
	base := NewSession(t0).Append(bar(0, 10, 8, 9, 100))
	a := base.Append(bar(time.Minute, 20, 18, 19, 100))
	b := base.Append(bar(time.Minute, 30, 28, 29, 100))

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 9.0, base.VWAP())
	assert.Equal(t, 14.0, a.VWAP())
	assert.Equal(t, 19.0, b.VWAP())
	assert.Equal(t, t0, a.Start())
}

func TestParseResetInterval(t *testing.T) {
	r, err := ParseResetInterval("Session")
	require.NoError(t, err)
	assert.Equal(t, ResetSession, r)

	r, err = ParseResetInterval("")
	require.NoError(t, err)
	assert.Equal(t, ResetDaily, r)

	_, err = ParseResetInterval("weekly")
	assert.Error(t, err)
}

func TestFormatBandsResult(t *testing.T) {
	r := BandsResult{
		VWAP:               model.Line{9.87654, math.NaN()},
		TypicalPrices:      model.Line{1.23456, 2.0},
		StandardDeviations: model.Line{0.33333, math.Inf(1)},
		UpperBands:         []model.Line{{10.20987, 11.111}},
		LowerBands:         []model.Line{{9.54321, -1.23789}},
		Multipliers:        []float64{1},
	}
	f := FormatBandsResult(r, 2)

	assert.Equal(t, 9.88, f.VWAP[0])
	assert.True(t, math.IsNaN(f.VWAP[1]))
	assert.Equal(t, []float64{1.23, 2}, []float64(f.TypicalPrices))
	assert.Equal(t, 0.33, f.StandardDeviations[0])
	assert.True(t, math.IsInf(f.StandardDeviations[1], 1))
	assert.Equal(t, []float64{10.21, 11.11}, []float64(f.UpperBands[0]))
	assert.Equal(t, []float64{9.54, -1.24}, []float64(f.LowerBands[0]))
	assert.Equal(t, []float64{1}, f.Multipliers)

	// input untouched
	assert.Equal(t, 9.87654, r.VWAP[0])
}

func TestFormatBandsResult_RoundsComputedResult(t *testing.T) {
	bars := []model.Bar{bar(0, 10.123, 8.456, 9.789, 100), bar(time.Minute, 11.37, 9.91, 10.05, 70)}
	r := CalculateWithBands(bars, Params{})
	f := FormatBandsResult(r, 2)
	require.Len(t, f.UpperBands, len(r.UpperBands))
	for i := range r.VWAP {
		assert.InDelta(t, r.VWAP[i], f.VWAP[i], 0.005+1e-12)
		assert.Equal(t, Round(r.VWAP[i], 2), f.VWAP[i])
	}
}
