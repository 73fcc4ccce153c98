// Package indicator computes technical indicators over OHLCV series.
//
// Every indicator is a pure function of (series, params): nothing is cached
// between calls and inputs are never written to. Results are aligned 1:1 with
// the input series; warm-up entries are NaN rather than omitted.
//
// Names are resolved once into a closed Kind enum. Use New to build a
// Calculator that can be applied to many series, or Compute for one-shot use.
package indicator

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownIndicator is returned when a name resolves to no Kind.
	ErrUnknownIndicator = errors.New("unknown indicator")

	// ErrMissingField is returned when a series lacks a column the
	// indicator reads.
	ErrMissingField = errors.New("missing series field")

	// ErrInvalidParam is returned for parameters that cannot be decoded or
	// for enum values the indicator does not support.
	ErrInvalidParam = errors.New("invalid indicator parameter")
)

// Kind identifies one indicator algorithm.
type Kind int

const (
	KindUnknown Kind = iota

	// moving averages
	KindSMA
	KindEMA
	KindWMA
	KindDEMA
	KindTEMA
	KindTRIMA
	KindKAMA
	KindMAMA
	KindT3
	KindSMMA

	// oscillators
	KindRSI
	KindStoch
	KindMACD
	KindMACDSignal
	KindMACDHist

	// trend
	KindADX
	KindPlusDI
	KindMinusDI
	KindSAR
	KindLinReg
	KindLinRegIntercept
	KindLinRegSlope
	KindSuperTrend

	// volatility
	KindTrueRange
	KindATR
	KindBollinger

	// pivots
	KindPivot
	KindCamarillaExt
)

var kindNames = map[Kind]string{
	KindSMA:             "sma",
	KindEMA:             "ema",
	KindWMA:             "wma",
	KindDEMA:            "dema",
	KindTEMA:            "tema",
	KindTRIMA:           "trima",
	KindKAMA:            "kama",
	KindMAMA:            "mama",
	KindT3:              "t3",
	KindSMMA:            "smma",
	KindRSI:             "rsi",
	KindStoch:           "stoch",
	KindMACD:            "macd",
	KindMACDSignal:      "macd_signal",
	KindMACDHist:        "macd_hist",
	KindADX:             "adx",
	KindPlusDI:          "plus_di",
	KindMinusDI:         "minus_di",
	KindSAR:             "sar",
	KindLinReg:          "linearreg",
	KindLinRegIntercept: "linearreg_intercept",
	KindLinRegSlope:     "linearreg_slope",
	KindSuperTrend:      "supertrend",
	KindTrueRange:       "trange",
	KindATR:             "atr",
	KindBollinger:       "bbands",
	KindPivot:           "pivot",
	KindCamarillaExt:    "camarilla_ext",
}

// aliases maps alternative spellings (already canonicalized) to a Kind.
var aliases = map[string]Kind{
	"simple_moving_average":       KindSMA,
	"exponential_moving_average":  KindEMA,
	"weighted_moving_average":     KindWMA,
	"rma":                         KindSMMA,
	"stochastic":                  KindStoch,
	"macdsignal":                  KindMACDSignal,
	"macdhist":                    KindMACDHist,
	"macd_histogram":              KindMACDHist,
	"+di":                         KindPlusDI,
	"-di":                         KindMinusDI,
	"psar":                        KindSAR,
	"parabolic_sar":               KindSAR,
	"linear_regression":           KindLinReg,
	"linear_regression_intercept": KindLinRegIntercept,
	"linear_regression_slope":     KindLinRegSlope,
	"super_trend":                 KindSuperTrend,
	"true_range":                  KindTrueRange,
	"tr":                          KindTrueRange,
	"bollinger":                   KindBollinger,
	"bollinger_bands":             KindBollinger,
	"bb":                          KindBollinger,
	"pivot_points":                KindPivot,
	"pivots":                      KindPivot,
	"camarilla_extended":          KindCamarillaExt,
}

var lookup = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames)+len(aliases))
	for k, name := range kindNames {
		m[name] = k
	}
	for name, k := range aliases {
		m[name] = k
	}
	return m
}()

// canonicalize lowercases and trims the name and folds spaces and hyphens
// between words into underscores ("Parabolic SAR" -> "parabolic_sar").
// A leading sign is kept so "+DI" and "-DI" stay distinct.
func canonicalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	if len(s) < 2 {
		return s
	}
	head, rest := s[:1], s[1:]
	rest = strings.NewReplacer(" ", "_", "-", "_").Replace(rest)
	return head + rest
}

// ParseKind resolves a human or programmatic indicator name.
func ParseKind(name string) (Kind, error) {
	if k, ok := lookup[canonicalize(name)]; ok {
		return k, nil
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownIndicator, name)
}

// String returns the canonical name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Names returns every canonical indicator name in sorted order.
func Names() []string {
	names := make([]string, 0, len(kindNames))
	for _, name := range kindNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
