package model

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/multierr"
)

// ValidationReport lists every data-quality problem found in a series.
type ValidationReport struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// Err combines the report into one error, or nil when the series is valid.
func (r ValidationReport) Err() error {
	var err error
	for _, msg := range r.Errors {
		err = multierr.Append(err, errors.New(msg))
	}
	return err
}

// ValidateOHLCV checks the structural and per-bar invariants of a series and
// returns all violations instead of stopping at the first. It never fails:
// callers decide whether bad data gates the computation.
func ValidateOHLCV(s Series) ValidationReport {
	errs := make([]string, 0)
	addf := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	n := s.Len()
	columns := []struct {
		name string
		len  int
	}{
		{"time", len(s.Time)},
		{"open", len(s.Open)},
		{"high", len(s.High)},
		{"low", len(s.Low)},
		{"volume", len(s.Volume)},
	}
	aligned := true
	for _, c := range columns {
		if c.len != n {
			addf("length mismatch: %s has %d values, close has %d", c.name, c.len, n)
			aligned = false
		}
	}
	if !aligned {
		return ValidationReport{IsValid: false, Errors: errs}
	}

	for i := 0; i < n; i++ {
		o, h, l, c, v := s.Open[i], s.High[i], s.Low[i], s.Close[i], s.Volume[i]
		for _, f := range []struct {
			name string
			v    float64
		}{{"open", o}, {"high", h}, {"low", l}, {"close", c}, {"volume", v}} {
			if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
				addf("bar %d: %s is not a finite number", i, f.name)
			}
		}
		if h < l {
			addf("bar %d: high %g < low %g", i, h, l)
		}
		if o < l || o > h {
			addf("bar %d: open %g outside [low %g, high %g]", i, o, l, h)
		}
		if c < l || c > h {
			addf("bar %d: close %g outside [low %g, high %g]", i, c, l, h)
		}
		if v < 0 {
			addf("bar %d: negative volume %g", i, v)
		}
		if i > 0 && !s.Time[i].After(s.Time[i-1]) {
			addf("bar %d: timestamp %s not after previous %s", i,
				s.Time[i].Format("2006-01-02T15:04:05Z07:00"),
				s.Time[i-1].Format("2006-01-02T15:04:05Z07:00"))
		}
	}

	return ValidationReport{IsValid: len(errs) == 0, Errors: errs}
}
