package model

import (
	"encoding/json"
	"math"
	"strconv"
)

// ParamMap is the loosely-typed parameter bag accepted at the engine
// boundary (HTTP, worker messages, YAML). Indicator families decode it into
// their own typed structs after ValidateParams.
type ParamMap map[string]any

// Clone returns a shallow copy. A nil map clones to an empty one.
func (p ParamMap) Clone() ParamMap {
	out := make(ParamMap, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Bound is an inclusive numeric range. Integer bounds truncate fractional
// values toward zero before clamping.
type Bound struct {
	Min     float64
	Max     float64
	Integer bool
}

// Clamp limits v to [Min, Max]. NaN clamps to Min.
func (b Bound) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return b.Min
	}
	if b.Integer && !math.IsInf(v, 0) {
		v = math.Trunc(v)
	}
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// ValidateParams overlays params on defaults and clamps every bounded
// numeric key. The inputs are not modified. Keys without a bound, and
// non-numeric values under a bounded key, are passed through unchanged;
// enum checks belong to the indicator that consumes the value.
func ValidateParams(params, defaults ParamMap, bounds map[string]Bound) ParamMap {
	merged := make(ParamMap, len(defaults)+len(params))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range params {
		if v == nil {
			continue
		}
		merged[k] = v
	}
	for k, b := range bounds {
		v, ok := merged[k]
		if !ok {
			continue
		}
		f, ok := AsFloat(v)
		if !ok {
			continue
		}
		merged[k] = b.Clamp(f)
	}
	return merged
}

// AsFloat converts the numeric shapes that arrive from JSON, YAML and Go
// callers. Numeric strings are accepted as well.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
