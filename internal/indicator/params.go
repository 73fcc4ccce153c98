package indicator

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"ta-enginev1/internal/model"
)

// Typed parameter structs, one per family. They are decoded from a
// ParamMap after defaults are merged and bounds applied, and are read-only
// from then on.

// MAParams configures SMA, EMA, WMA, DEMA, TEMA, TRIMA and SMMA.
type MAParams struct {
	Period int    `mapstructure:"period"`
	Source string `mapstructure:"source"`
}

// KAMAParams configures Kaufman's adaptive moving average.
type KAMAParams struct {
	Fast   int    `mapstructure:"fast"`
	Slow   int    `mapstructure:"slow"`
	Source string `mapstructure:"source"`
}

// MAMAParams configures the phase-adaptive moving average.
type MAMAParams struct {
	FastLimit float64 `mapstructure:"fastlimit"`
	SlowLimit float64 `mapstructure:"slowlimit"`
	Source    string  `mapstructure:"source"`
}

// T3Params configures Tillson's T3.
type T3Params struct {
	Period  int     `mapstructure:"period"`
	VFactor float64 `mapstructure:"vfactor"`
	Source  string  `mapstructure:"source"`
}

// RSIParams configures RSI.
type RSIParams struct {
	Period int    `mapstructure:"period"`
	Source string `mapstructure:"source"`
}

// StochParams configures the stochastic oscillator. Type is fast or slow.
type StochParams struct {
	Period int    `mapstructure:"period"`
	Type   string `mapstructure:"type"`
}

// MACDParams configures MACD and its derived signal/histogram views.
type MACDParams struct {
	FastPeriod   int    `mapstructure:"fastperiod"`
	SlowPeriod   int    `mapstructure:"slowperiod"`
	SignalPeriod int    `mapstructure:"signalperiod"`
	Source       string `mapstructure:"source"`
}

// PeriodParams configures indicators whose only knob is a window length
// (ADX, +DI, -DI, ATR).
type PeriodParams struct {
	Period int `mapstructure:"period"`
}

// SARParams configures Parabolic SAR.
type SARParams struct {
	MinimumAF float64 `mapstructure:"minimum_af"`
	MaximumAF float64 `mapstructure:"maximum_af"`
}

// SuperTrendParams configures SuperTrend.
type SuperTrendParams struct {
	Period     int     `mapstructure:"period"`
	Multiplier float64 `mapstructure:"multiplier"`
	ATRPeriod  int     `mapstructure:"atr_period"`
}

// TrueRangeParams configures True Range. Smoothing > 1 applies a trailing SMA.
type TrueRangeParams struct {
	Smoothing int `mapstructure:"smoothing"`
}

// BollingerParams configures Bollinger Bands. NbDevUp and NbDevDn fall back
// to StdDev when unset.
type BollingerParams struct {
	Period  int      `mapstructure:"period"`
	StdDev  float64  `mapstructure:"stddev"`
	NbDevUp *float64 `mapstructure:"nbdevup"`
	NbDevDn *float64 `mapstructure:"nbdevdn"`
	Source  string   `mapstructure:"source"`
}

// Up returns the upper band multiplier.
func (p BollingerParams) Up() float64 {
	if p.NbDevUp != nil {
		return *p.NbDevUp
	}
	return p.StdDev
}

// Down returns the lower band multiplier.
func (p BollingerParams) Down() float64 {
	if p.NbDevDn != nil {
		return *p.NbDevDn
	}
	return p.StdDev
}

// PivotParams configures the pivot family. Level picks the primary line.
type PivotParams struct {
	Type  string `mapstructure:"type"`
	Level string `mapstructure:"level"`
}

// normalizeKeys lowercases parameter names so "fastPeriod" and "fastperiod"
// address the same setting. Later keys win when two spellings collide.
func normalizeKeys(p model.ParamMap) model.ParamMap {
	out := make(model.ParamMap, len(p))
	for k, v := range p {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

// decode fills out from the merged parameter map. Numbers arriving as
// strings or floats are converted; anything unconvertible is ErrInvalidParam.
func decode(in model.ParamMap, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(in)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParam, err)
	}
	return nil
}

func parseSource(s string) (model.Source, error) {
	src, err := model.ParseSource(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidParam, err)
	}
	return src, nil
}
