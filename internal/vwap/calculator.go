package vwap

import (
	"time"

	"ta-enginev1/internal/model"
)

// DefaultMultipliers are the band widths used when none are configured.
var DefaultMultipliers = []float64{1, 2, 3}

// Params configures a VWAP calculation.
type Params struct {
	Multipliers   []float64     `json:"multipliers,omitempty" yaml:"multipliers"`
	ResetInterval ResetInterval `json:"resetInterval,omitempty" yaml:"reset_interval"`

	// Location is the calendar used by the daily rule. nil means UTC.
	Location *time.Location `json:"-" yaml:"-"`

	// SessionGap overrides DefaultSessionGap for the session rule.
	SessionGap time.Duration `json:"sessionGap,omitempty" yaml:"session_gap"`
}

func (p Params) withDefaults() Params {
	if len(p.Multipliers) == 0 {
		p.Multipliers = DefaultMultipliers
	}
	if p.ResetInterval == "" {
		p.ResetInterval = ResetDaily
	}
	if p.SessionGap <= 0 {
		p.SessionGap = DefaultSessionGap
	}
	return p
}

func (p Params) boundary() Boundary {
	switch p.ResetInterval {
	case ResetSession:
		return GapBoundary(p.SessionGap)
	case ResetNone:
		return NoBoundary
	default:
		return DailyBoundary(p.Location)
	}
}

// Point is the VWAP state after one bar.
type Point struct {
	Time         time.Time `json:"time"`
	TypicalPrice float64   `json:"typicalPrice"`
	VWAP         float64   `json:"vwap"`
	StdDev       float64   `json:"stdDev"`
	Upper        []float64 `json:"upper"`
	Lower        []float64 `json:"lower"`

	// Reset is true on the first bar of a session after a boundary.
	Reset bool `json:"reset,omitempty"`
}

// Calculator is the incremental form: push bars in time order and read a
// Point per bar. It is not safe for concurrent use.
type Calculator struct {
	params   Params
	boundary Boundary
	session  Session
	last     time.Time
	started  bool
	resets   int
}

// NewCalculator returns a calculator with defaults applied to p.
func NewCalculator(p Params) *Calculator {
	p = p.withDefaults()
	return &Calculator{params: p, boundary: p.boundary()}
}

// Params returns the effective parameters.
func (c *Calculator) Params() Params { return c.params }

// Push folds b into the current session, starting a new one first when the
// boundary rule fires between the previous bar and b.
func (c *Calculator) Push(b model.Bar) Point {
	next, reset := c.next(b)
	if reset {
		c.resets++
	}
	c.session = next
	c.last = b.Time
	c.started = true
	return c.point(b, next, reset)
}

// Peek returns the Point that Push(b) would produce without changing the
// calculator. It serves a bar that is still forming.
func (c *Calculator) Peek(b model.Bar) Point {
	next, reset := c.next(b)
	return c.point(b, next, reset)
}

func (c *Calculator) next(b model.Bar) (Session, bool) {
	switch {
	case !c.started:
		return NewSession(b.Time).Append(b), false
	case c.boundary(c.last, b.Time):
		return NewSession(b.Time).Append(b), true
	}
	return c.session.Append(b), false
}

func (c *Calculator) point(b model.Bar, s Session, reset bool) Point {
	vwap, sd := s.VWAP(), s.StdDev()
	pt := Point{
		Time:         b.Time,
		TypicalPrice: b.TypicalPrice(),
		VWAP:         vwap,
		StdDev:       sd,
		Upper:        make([]float64, len(c.params.Multipliers)),
		Lower:        make([]float64, len(c.params.Multipliers)),
		Reset:        reset,
	}
	for k, m := range c.params.Multipliers {
		pt.Upper[k] = vwap + m*sd
		pt.Lower[k] = vwap - m*sd
	}
	return pt
}

// Session returns the current session value.
func (c *Calculator) Session() Session { return c.session }

// Resets returns how many boundaries have fired.
func (c *Calculator) Resets() int { return c.resets }

// Reset drops all state.
func (c *Calculator) Reset() {
	c.session = Session{}
	c.last = time.Time{}
	c.started = false
	c.resets = 0
}

// BandsResult is the batch output, one entry per bar. UpperBands[k] and
// LowerBands[k] belong to Multipliers[k].
type BandsResult struct {
	VWAP               model.Line   `json:"vwap"`
	TypicalPrices      model.Line   `json:"typicalPrices"`
	StandardDeviations model.Line   `json:"standardDeviations"`
	UpperBands         []model.Line `json:"upperBands"`
	LowerBands         []model.Line `json:"lowerBands"`
	Multipliers        []float64    `json:"multipliers"`
}

// CalculateWithBands runs the calculator over bars, which must be in time
// order. Each call owns its sessions; nothing is shared between calls.
func CalculateWithBands(bars []model.Bar, p Params) BandsResult {
	c := NewCalculator(p)
	mults := c.params.Multipliers
	n := len(bars)
	r := BandsResult{
		VWAP:               make(model.Line, n),
		TypicalPrices:      make(model.Line, n),
		StandardDeviations: make(model.Line, n),
		UpperBands:         make([]model.Line, len(mults)),
		LowerBands:         make([]model.Line, len(mults)),
		Multipliers:        append([]float64(nil), mults...),
	}
	for k := range mults {
		r.UpperBands[k] = make(model.Line, n)
		r.LowerBands[k] = make(model.Line, n)
	}
	for i, b := range bars {
		pt := c.Push(b)
		r.VWAP[i] = pt.VWAP
		r.TypicalPrices[i] = pt.TypicalPrice
		r.StandardDeviations[i] = pt.StdDev
		for k := range mults {
			r.UpperBands[k][i] = pt.Upper[k]
			r.LowerBands[k][i] = pt.Lower[k]
		}
	}
	return r
}
