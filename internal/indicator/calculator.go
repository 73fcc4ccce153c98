package indicator

import (
	"fmt"

	"ta-enginev1/internal/model"
)

// Calculator is an indicator kind bound to validated, typed parameters.
// It holds no series state and is safe for concurrent use.
type Calculator struct {
	kind   Kind
	params model.ParamMap
	plan   plan
}

// New resolves name and params once. Unknown names fail with
// ErrUnknownIndicator, undecodable params with ErrInvalidParam.
func New(name string, params model.ParamMap) (*Calculator, error) {
	kind, err := ParseKind(name)
	if err != nil {
		return nil, err
	}
	return NewKind(kind, params)
}

// NewKind is New for an already resolved Kind.
func NewKind(kind Kind, params model.ParamMap) (*Calculator, error) {
	e, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: kind %d", ErrUnknownIndicator, int(kind))
	}
	merged := model.ValidateParams(normalizeKeys(params), e.defaults, e.bounds)
	p, err := e.build(merged)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	return &Calculator{kind: kind, params: merged, plan: p}, nil
}

// Kind returns the resolved indicator kind.
func (c *Calculator) Kind() Kind { return c.kind }

// Params returns a copy of the merged and clamped parameters.
func (c *Calculator) Params() model.ParamMap { return c.params.Clone() }

// Calculate runs the indicator over s. The series is only read. A column the
// indicator needs that is absent or of the wrong length fails with
// ErrMissingField.
func (c *Calculator) Calculate(s model.Series) (model.Result, error) {
	for _, f := range c.plan.fields {
		if !s.HasField(f) {
			return model.Result{}, fmt.Errorf("%s: %w: %s", c.kind, ErrMissingField, f)
		}
	}
	values, meta := c.plan.run(s)
	return model.Result{Name: c.kind.String(), Values: values, Metadata: meta}, nil
}

// Compute is the one-shot form of New followed by Calculate.
func Compute(name string, s model.Series, params model.ParamMap) (model.Result, error) {
	c, err := New(name, params)
	if err != nil {
		return model.Result{}, err
	}
	return c.Calculate(s)
}
