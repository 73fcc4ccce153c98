package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Line is an indicator output line aligned 1:1 with the input series.
// Warm-up entries are NaN; JSON has no NaN so they travel as null.
type Line []float64

// NewLine returns a line of n NaN values.
func NewLine(n int) Line {
	l := make(Line, n)
	for i := range l {
		l[i] = math.NaN()
	}
	return l
}

// Last returns the final value, or NaN for an empty line.
func (l Line) Last() float64 {
	if len(l) == 0 {
		return math.NaN()
	}
	return l[len(l)-1]
}

// MarshalJSON encodes NaN and ±Inf as null.
func (l Line) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.Grow(len(l) * 8)
	buf.WriteByte('[')
	for i, v := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf.WriteString("null")
			continue
		}
		buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes null entries back to NaN.
func (l *Line) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*l = nil
		return nil
	}
	out := make(Line, len(raw))
	for i, p := range raw {
		if p == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *p
	}
	*l = out
	return nil
}

// Result is the output of one indicator computation. Values is the primary
// line; Metadata carries auxiliary lines (MACD signal, Bollinger bands, ...).
// A Result is created fresh per call and owned by the caller.
type Result struct {
	Name     string          `json:"name"`
	Values   Line            `json:"values"`
	Metadata map[string]Line `json:"metadata,omitempty"`
}

// Line returns the named metadata line, or nil.
func (r Result) Line(name string) Line {
	if r.Metadata == nil {
		return nil
	}
	return r.Metadata[name]
}

// Latest returns the last primary value.
func (r Result) Latest() float64 { return r.Values.Last() }

// JSON returns the JSON-encoded result (ignoring errors for hot-path usage).
func (r *Result) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
