package vwap

import (
	"math"

	"github.com/shopspring/decimal"

	"ta-enginev1/internal/model"
)

// FormatBandsResult returns a copy of r with every number rounded to
// decimals places, half away from zero on the shortest decimal form of each
// float. NaN and ±Inf are passed through. Shapes are preserved.
func FormatBandsResult(r BandsResult, decimals int) BandsResult {
	if decimals < 0 {
		decimals = 0
	}
	places := int32(decimals)
	out := BandsResult{
		VWAP:               roundLine(r.VWAP, places),
		TypicalPrices:      roundLine(r.TypicalPrices, places),
		StandardDeviations: roundLine(r.StandardDeviations, places),
		Multipliers:        roundLine(r.Multipliers, places),
	}
	if r.UpperBands != nil {
		out.UpperBands = make([]model.Line, len(r.UpperBands))
		for k, band := range r.UpperBands {
			out.UpperBands[k] = roundLine(band, places)
		}
	}
	if r.LowerBands != nil {
		out.LowerBands = make([]model.Line, len(r.LowerBands))
		for k, band := range r.LowerBands {
			out.LowerBands[k] = roundLine(band, places)
		}
	}
	return out
}

func roundLine(in []float64, places int32) model.Line {
	if in == nil {
		return nil
	}
	out := make(model.Line, len(in))
	for i, v := range in {
		out[i] = Round(v, places)
	}
	return out
}

// Round rounds v to places decimals. Non-finite values are returned as is.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
