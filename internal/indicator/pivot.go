package indicator

import (
	"fmt"
	"strings"

	"ta-enginev1/internal/model"
)

// PivotType selects the pivot formula.
type PivotType string

const (
	PivotStandard     PivotType = "standard"
	PivotFibonacci    PivotType = "fibonacci"
	PivotCamarilla    PivotType = "camarilla"
	PivotCamarillaExt PivotType = "camarilla_extended"
)

// ParsePivotType accepts the type names in any case. "" is standard.
func ParsePivotType(s string) (PivotType, error) {
	t := PivotType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch t {
	case "", "classic", "floor":
		return PivotStandard, nil
	case PivotStandard, PivotFibonacci, PivotCamarilla, PivotCamarillaExt:
		return t, nil
	case "camarilla_ext":
		return PivotCamarillaExt, nil
	}
	return "", fmt.Errorf("%w: pivot type %q", ErrInvalidParam, s)
}

// PivotLevels returns the level names a pivot type produces.
func PivotLevels(t PivotType) []string {
	switch t {
	case PivotCamarillaExt:
		return []string{"pivot", "h1", "h2", "h3", "h4", "h5", "l1", "l2", "l3", "l4", "l5"}
	case PivotCamarilla:
		return []string{"pivot", "r1", "r2", "r3", "r4", "s1", "s2", "s3", "s4"}
	default:
		return []string{"pivot", "r1", "r2", "r3", "s1", "s2", "s3"}
	}
}

// Pivots computes every level of type t from the previous bar's high, low
// and close. Bar 0 has no previous bar so all levels are NaN there.
func Pivots(highs, lows, closes []float64, t PivotType) map[string]model.Line {
	n := len(closes)
	levels := PivotLevels(t)
	out := make(map[string]model.Line, len(levels))
	for _, name := range levels {
		out[name] = model.NewLine(n)
	}

	for i := 1; i < n; i++ {
		h, l, c := highs[i-1], lows[i-1], closes[i-1]
		p := (h + l + c) / 3
		r := h - l
		out["pivot"][i] = p

		switch t {
		case PivotFibonacci:
			out["r1"][i] = p + 0.382*r
			out["r2"][i] = p + 0.618*r
			out["r3"][i] = p + r
			out["s1"][i] = p - 0.382*r
			out["s2"][i] = p - 0.618*r
			out["s3"][i] = p - r
		case PivotCamarilla:
			for k, f := range camarillaFactors {
				out[fmt.Sprintf("r%d", k+1)][i] = c + r*f
				out[fmt.Sprintf("s%d", k+1)][i] = c - r*f
			}
		case PivotCamarillaExt:
			for k, f := range camarillaFactors {
				out[fmt.Sprintf("h%d", k+1)][i] = c + r*f
				out[fmt.Sprintf("l%d", k+1)][i] = c - r*f
			}
			var h5 float64
			if l != 0 {
				h5 = h / l * c
			}
			out["h5"][i] = h5
			out["l5"][i] = c - (h5 - c)
		default:
			out["r1"][i] = 2*p - l
			out["s1"][i] = 2*p - h
			out["r2"][i] = p + r
			out["s2"][i] = p - r
			out["r3"][i] = h + 2*(p-l)
			out["s3"][i] = l - 2*(h-p)
		}
	}
	return out
}

var camarillaFactors = [4]float64{1.1 / 12, 1.1 / 6, 1.1 / 4, 1.1 / 2}
