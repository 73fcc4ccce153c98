package indicator

import (
	"fmt"
	"strings"

	"ta-enginev1/internal/model"
)

const maxPeriod = 5000

// plan is a kind bound to its typed parameters: the columns it reads and
// the computation producing the primary line and metadata.
type plan struct {
	fields []model.Field
	run    func(s model.Series) (model.Line, map[string]model.Line)
}

type builder func(p model.ParamMap) (plan, error)

type entry struct {
	defaults model.ParamMap
	bounds   map[string]model.Bound
	build    builder
}

var (
	periodBound = model.Bound{Min: 1, Max: maxPeriod, Integer: true}
	hlc         = []model.Field{model.FieldHigh, model.FieldLow, model.FieldClose}
)

func maEntry(period int, fn func([]float64, int) model.Line) entry {
	return entry{
		defaults: model.ParamMap{"period": period, "source": string(model.SourceClose)},
		bounds:   map[string]model.Bound{"period": periodBound},
		build: func(p model.ParamMap) (plan, error) {
			var cfg MAParams
			if err := decode(p, &cfg); err != nil {
				return plan{}, err
			}
			src, err := parseSource(cfg.Source)
			if err != nil {
				return plan{}, err
			}
			return plan{
				fields: []model.Field{src.Field()},
				run: func(s model.Series) (model.Line, map[string]model.Line) {
					return fn(s.Values(src), cfg.Period), nil
				},
			}, nil
		},
	}
}

func macdEntry(primary string) entry {
	return entry{
		defaults: model.ParamMap{"fastperiod": 12, "slowperiod": 26, "signalperiod": 9, "source": string(model.SourceClose)},
		bounds: map[string]model.Bound{
			"fastperiod":   periodBound,
			"slowperiod":   periodBound,
			"signalperiod": periodBound,
		},
		build: func(p model.ParamMap) (plan, error) {
			var cfg MACDParams
			if err := decode(p, &cfg); err != nil {
				return plan{}, err
			}
			src, err := parseSource(cfg.Source)
			if err != nil {
				return plan{}, err
			}
			return plan{
				fields: []model.Field{src.Field()},
				run: func(s model.Series) (model.Line, map[string]model.Line) {
					macd, sig, hist := MACD(s.Values(src), cfg.FastPeriod, cfg.SlowPeriod, cfg.SignalPeriod)
					meta := map[string]model.Line{"macd": macd, "signal": sig, "histogram": hist}
					return meta[primary], meta
				},
			}, nil
		},
	}
}

func directionalEntry(primary string) entry {
	return entry{
		defaults: model.ParamMap{"period": 14},
		bounds:   map[string]model.Bound{"period": periodBound},
		build: func(p model.ParamMap) (plan, error) {
			var cfg PeriodParams
			if err := decode(p, &cfg); err != nil {
				return plan{}, err
			}
			return plan{
				fields: hlc,
				run: func(s model.Series) (model.Line, map[string]model.Line) {
					d := ADX(s.High, s.Low, s.Close, cfg.Period)
					meta := map[string]model.Line{"plus_di": d.PlusDI, "minus_di": d.MinusDI, "dx": d.ADX}
					return meta[primary], meta
				},
			}, nil
		},
	}
}

func linRegEntry(primary string) entry {
	return entry{
		defaults: model.ParamMap{"period": 14, "source": string(model.SourceClose)},
		bounds:   map[string]model.Bound{"period": {Min: 2, Max: maxPeriod, Integer: true}},
		build: func(p model.ParamMap) (plan, error) {
			var cfg MAParams
			if err := decode(p, &cfg); err != nil {
				return plan{}, err
			}
			src, err := parseSource(cfg.Source)
			if err != nil {
				return plan{}, err
			}
			return plan{
				fields: []model.Field{src.Field()},
				run: func(s model.Series) (model.Line, map[string]model.Line) {
					r := LinearRegression(s.Values(src), cfg.Period)
					meta := map[string]model.Line{"value": r.Value, "intercept": r.Intercept, "slope": r.Slope}
					return meta[primary], meta
				},
			}, nil
		},
	}
}

func pivotEntry(forced PivotType) entry {
	defaults := model.ParamMap{"type": string(PivotStandard), "level": "pivot"}
	if forced != "" {
		defaults["type"] = string(forced)
	}
	return entry{
		defaults: defaults,
		build: func(p model.ParamMap) (plan, error) {
			var cfg PivotParams
			if err := decode(p, &cfg); err != nil {
				return plan{}, err
			}
			typ := forced
			if typ == "" {
				var err error
				if typ, err = ParsePivotType(cfg.Type); err != nil {
					return plan{}, err
				}
			}
			level := strings.ToLower(strings.TrimSpace(cfg.Level))
			if !containsString(PivotLevels(typ), level) {
				return plan{}, fmt.Errorf("%w: level %q not produced by %s pivots", ErrInvalidParam, cfg.Level, typ)
			}
			return plan{
				fields: hlc,
				run: func(s model.Series) (model.Line, map[string]model.Line) {
					meta := Pivots(s.High, s.Low, s.Close, typ)
					return meta[level], meta
				},
			}, nil
		},
	}
}

var registry = map[Kind]entry{
	KindSMA:   maEntry(20, SMA),
	KindEMA:   maEntry(20, EMA),
	KindWMA:   maEntry(20, WMA),
	KindDEMA:  maEntry(20, DEMA),
	KindTEMA:  maEntry(20, TEMA),
	KindTRIMA: maEntry(20, TRIMA),
	KindSMMA:  maEntry(14, SMMA),

	KindKAMA: {
		defaults: model.ParamMap{"fast": 2, "slow": 30, "source": string(model.SourceClose)},
		bounds:   map[string]model.Bound{"fast": {Min: 1, Max: 500, Integer: true}, "slow": {Min: 1, Max: 500, Integer: true}},
		build: func(p model.ParamMap) (plan, error) {
			var cfg KAMAParams
			if err := decode(p, &cfg); err != nil {
				return plan{}, err
			}
			src, err := parseSource(cfg.Source)
			if err != nil {
				return plan{}, err
			}
			return plan{
				fields: []model.Field{src.Field()},
				run: func(s model.Series) (model.Line, map[string]model.Line) {
					return KAMA(s.Values(src), cfg.Fast, cfg.Slow), nil
				},
			}, nil
		},
	},

	KindMAMA: {
		defaults: model.ParamMap{"fastlimit": 0.5, "slowlimit": 0.05, "source": string(model.SourceClose)},
		bounds:   map[string]model.Bound{"fastlimit": {Min: 0.01, Max: 0.99}, "slowlimit": {Min: 0.01, Max: 0.99}},
		build: func(p model.ParamMap) (plan, error) {
			var cfg MAMAParams
			if err := decode(p, &cfg); err != nil {
				return plan{}, err
			}
			src, err := parseSource(cfg.Source)
			if err != nil {
				return plan{}, err
			}
			return plan{
				fields: []model.Field{src.Field()},
				run: func(s model.Series) (model.Line, map[string]model.Line) {
					mama, fama := MAMA(s.Values(src), cfg.FastLimit, cfg.SlowLimit)
					return mama, map[string]model.Line{"mama": mama, "fama": fama}
				},
			}, nil
		},
	},

	KindT3: {
		defaults: model.ParamMap{"period": 5, "vfactor": 0.7, "source": string(model.SourceClose)},
		bounds:   map[string]model.Bound{"period": periodBound, "vfactor": {Min: 0, Max: 1}},
		build: func(p model.ParamMap) (plan, error) {
			var cfg T3Params
			if err := decode(p, &cfg); err != nil {
				return plan{}, err
			}
			src, err := parseSource(cfg.Source)
			if err != nil {
				return plan{}, err
			}
			return plan{
				fields: []model.Field{src.Field()},
				run: func(s model.Series) (model.Line, map[string]model.Line) {
					return T3(s.Values(src), cfg.Period, cfg.VFactor), nil
				},
			}, nil
		},
	},

	KindRSI: {
		defaults: model.ParamMap{"period": 14, "source": string(model.SourceClose)},
		bounds:   map[string]model.Bound{"period": periodBound},
		build: func(p model.ParamMap) (plan, error) {
			var cfg RSIParams
			if err := decode(p, &cfg); err != nil {
				return plan{}, err
			}
			src, err := parseSource(cfg.Source)
			if err != nil {
				return plan{}, err
			}
			return plan{
				fields: []model.Field{src.Field()},
				run: func(s model.Series) (model.Line, map[string]model.Line) {
					return RSI(s.Values(src), cfg.Period), nil
				},
			}, nil
		},
	},

	KindStoch: {
		defaults: model.ParamMap{"period": 14, "type": "fast"},
		bounds:   map[string]model.Bound{"period": periodBound},
		build: func(p model.ParamMap) (plan, error) {
			var cfg StochParams
			if err := decode(p, &cfg); err != nil {
				return plan{}, err
			}
			var slow bool
			switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
			case "fast":
			case "slow":
				slow = true
			default:
				return plan{}, fmt.Errorf("%w: stochastic type %q", ErrInvalidParam, cfg.Type)
			}
			return plan{
				fields: hlc,
				run: func(s model.Series) (model.Line, map[string]model.Line) {
					k, d := Stochastic(s.High, s.Low, s.Close, cfg.Period, slow)
					meta := map[string]model.Line{"k": k, "d": d}
					if slow {
						return d, meta
					}
					return k, meta
				},
			}, nil
		},
	},

	KindMACD:       macdEntry("macd"),
	KindMACDSignal: macdEntry("signal"),
	KindMACDHist:   macdEntry("histogram"),

	KindADX:     directionalEntry("dx"),
	KindPlusDI:  directionalEntry("plus_di"),
	KindMinusDI: directionalEntry("minus_di"),

	KindSAR: {
		defaults: model.ParamMap{"minimum_af": 0.02, "maximum_af": 0.2},
		bounds:   map[string]model.Bound{"minimum_af": {Min: 0.001, Max: 1}, "maximum_af": {Min: 0.001, Max: 1}},
		build: func(p model.ParamMap) (plan, error) {
			var cfg SARParams
			if err := decode(p, &cfg); err != nil {
				return plan{}, err
			}
			return plan{
				fields: []model.Field{model.FieldHigh, model.FieldLow},
				run: func(s model.Series) (model.Line, map[string]model.Line) {
					l := ParabolicSAR(s.High, s.Low, cfg.MinimumAF, cfg.MaximumAF)
					return l.SAR, map[string]model.Line{"trend": l.Trend, "ep": l.EP, "af": l.AF}
				},
			}, nil
		},
	},

	KindLinReg:          linRegEntry("value"),
	KindLinRegIntercept: linRegEntry("intercept"),
	KindLinRegSlope:     linRegEntry("slope"),

	KindSuperTrend: {
		defaults: model.ParamMap{"period": 10, "multiplier": 3.0, "atr_period": 10},
		bounds: map[string]model.Bound{
			"period":     periodBound,
			"multiplier": {Min: 0.1, Max: 20},
			"atr_period": periodBound,
		},
		build: func(p model.ParamMap) (plan, error) {
			var cfg SuperTrendParams
			if err := decode(p, &cfg); err != nil {
				return plan{}, err
			}
			return plan{
				fields: hlc,
				run: func(s model.Series) (model.Line, map[string]model.Line) {
					st := SuperTrend(s.High, s.Low, s.Close, cfg.Period, cfg.Multiplier, cfg.ATRPeriod)
					return st.SuperTrend, map[string]model.Line{"upper": st.Upper, "lower": st.Lower, "trend": st.Trend}
				},
			}, nil
		},
	},

	KindTrueRange: {
		defaults: model.ParamMap{"smoothing": 1},
		bounds:   map[string]model.Bound{"smoothing": periodBound},
		build: func(p model.ParamMap) (plan, error) {
			var cfg TrueRangeParams
			if err := decode(p, &cfg); err != nil {
				return plan{}, err
			}
			return plan{
				fields: hlc,
				run: func(s model.Series) (model.Line, map[string]model.Line) {
					tr := TrueRange(s.High, s.Low, s.Close)
					if cfg.Smoothing > 1 {
						return SMA(tr, cfg.Smoothing), map[string]model.Line{"raw": tr}
					}
					return tr, nil
				},
			}, nil
		},
	},

	KindATR: {
		defaults: model.ParamMap{"period": 14},
		bounds:   map[string]model.Bound{"period": periodBound},
		build: func(p model.ParamMap) (plan, error) {
			var cfg PeriodParams
			if err := decode(p, &cfg); err != nil {
				return plan{}, err
			}
			return plan{
				fields: hlc,
				run: func(s model.Series) (model.Line, map[string]model.Line) {
					return ATR(s.High, s.Low, s.Close, cfg.Period), nil
				},
			}, nil
		},
	},

	KindBollinger: {
		defaults: model.ParamMap{"period": 20, "stddev": 2.0, "source": string(model.SourceClose)},
		bounds: map[string]model.Bound{
			"period":  periodBound,
			"stddev":  {Min: 0.1, Max: 10},
			"nbdevup": {Min: 0, Max: 10},
			"nbdevdn": {Min: 0, Max: 10},
		},
		build: func(p model.ParamMap) (plan, error) {
			var cfg BollingerParams
			if err := decode(p, &cfg); err != nil {
				return plan{}, err
			}
			src, err := parseSource(cfg.Source)
			if err != nil {
				return plan{}, err
			}
			up, down := cfg.Up(), cfg.Down()
			return plan{
				fields: []model.Field{src.Field()},
				run: func(s model.Series) (model.Line, map[string]model.Line) {
					b := Bollinger(s.Values(src), cfg.Period, up, down)
					return b.Middle, map[string]model.Line{
						"upper":     b.Upper,
						"middle":    b.Middle,
						"lower":     b.Lower,
						"bandwidth": b.Bandwidth,
					}
				},
			}, nil
		},
	},

	KindPivot:        pivotEntry(""),
	KindCamarillaExt: pivotEntry(PivotCamarillaExt),
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
