package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Bar is one OHLCV row. Prices and volume are plain float64; the engine
// never converts units.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// TypicalPrice returns (high+low+close)/3.
func (b Bar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}

// Series is the columnar form of an OHLCV time series. All columns are
// expected to share the length of Close; indicators that need a column
// reject a series whose column length differs.
//
// A Series is borrowed by the engine for the duration of one call and is
// never written to.
type Series struct {
	Time   []time.Time `json:"time,omitempty"`
	Open   []float64   `json:"open,omitempty"`
	High   []float64   `json:"high,omitempty"`
	Low    []float64   `json:"low,omitempty"`
	Close  []float64   `json:"close"`
	Volume []float64   `json:"volume,omitempty"`
}

// Len returns the number of bars, defined by the close column.
func (s Series) Len() int { return len(s.Close) }

// SeriesFromBars converts rows to columns.
func SeriesFromBars(bars []Bar) Series {
	n := len(bars)
	s := Series{
		Time:   make([]time.Time, n),
		Open:   make([]float64, n),
		High:   make([]float64, n),
		Low:    make([]float64, n),
		Close:  make([]float64, n),
		Volume: make([]float64, n),
	}
	for i, b := range bars {
		s.Time[i] = b.Time
		s.Open[i] = b.Open
		s.High[i] = b.High
		s.Low[i] = b.Low
		s.Close[i] = b.Close
		s.Volume[i] = b.Volume
	}
	return s
}

// Bars converts columns back to rows. Missing columns yield zero fields.
func (s Series) Bars() []Bar {
	bars := make([]Bar, s.Len())
	for i := range bars {
		b := Bar{Close: s.Close[i]}
		if i < len(s.Time) {
			b.Time = s.Time[i]
		}
		if i < len(s.Open) {
			b.Open = s.Open[i]
		}
		if i < len(s.High) {
			b.High = s.High[i]
		}
		if i < len(s.Low) {
			b.Low = s.Low[i]
		}
		if i < len(s.Volume) {
			b.Volume = s.Volume[i]
		}
		bars[i] = b
	}
	return bars
}

// Field names a column of a Series.
type Field string

const (
	FieldTime   Field = "time"
	FieldOpen   Field = "open"
	FieldHigh   Field = "high"
	FieldLow    Field = "low"
	FieldClose  Field = "close"
	FieldVolume Field = "volume"
)

// HasField reports whether the column is present with the full series length.
func (s Series) HasField(f Field) bool {
	n := s.Len()
	switch f {
	case FieldTime:
		return len(s.Time) == n
	case FieldOpen:
		return len(s.Open) == n
	case FieldHigh:
		return len(s.High) == n
	case FieldLow:
		return len(s.Low) == n
	case FieldClose:
		return true
	case FieldVolume:
		return len(s.Volume) == n
	}
	return false
}

// Source selects the price column an indicator reads.
type Source string

const (
	SourceOpen  Source = "open"
	SourceHigh  Source = "high"
	SourceLow   Source = "low"
	SourceClose Source = "close"
)

// ParseSource accepts open, high, low or close in any case.
func ParseSource(s string) (Source, error) {
	switch src := Source(strings.ToLower(strings.TrimSpace(s))); src {
	case SourceOpen, SourceHigh, SourceLow, SourceClose:
		return src, nil
	case "":
		return SourceClose, nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// Field returns the Series column backing the source.
func (src Source) Field() Field { return Field(src) }

// Values returns the column for src. The returned slice aliases the series.
func (s Series) Values(src Source) []float64 {
	switch src {
	case SourceOpen:
		return s.Open
	case SourceHigh:
		return s.High
	case SourceLow:
		return s.Low
	default:
		return s.Close
	}
}
