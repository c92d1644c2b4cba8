// Package eval classifies every pair of a distance matrix at one decision
// threshold and derives FAR and FRR.
package eval

import (
	"fmt"
	"strconv"

	ierrors "github.com/23skdu/irisgauge/internal/errors"
	"github.com/23skdu/irisgauge/internal/match"
	"github.com/23skdu/irisgauge/internal/matrix"
)

// Rate is a ratio that may be undefined because its denominator is zero.
// The zero value is Undefined.
type Rate struct {
	value   float64
	defined bool
}

// Defined returns a defined rate.
func Defined(v float64) Rate { return Rate{value: v, defined: true} }

// Undefined returns the undefined rate.
func Undefined() Rate { return Rate{} }

// ratio returns num/den, or Undefined when den is zero.
func ratio(num, den int64) Rate {
	if den == 0 {
		return Undefined()
	}
	return Defined(float64(num) / float64(den))
}

// Value returns the rate and whether it is defined.
func (r Rate) Value() (float64, bool) { return r.value, r.defined }

// IsDefined reports whether the rate has a value.
func (r Rate) IsDefined() bool { return r.defined }

// Ptr returns a pointer to the value, or nil when undefined.
func (r Rate) Ptr() *float64 {
	if !r.defined {
		return nil
	}
	v := r.value
	return &v
}

// FromPtr is the inverse of Ptr.
func FromPtr(p *float64) Rate {
	if p == nil {
		return Undefined()
	}
	return Defined(*p)
}

func (r Rate) String() string {
	if !r.defined {
		return "undefined"
	}
	return strconv.FormatFloat(r.value, 'g', -1, 64)
}

// Outcome holds the confusion counts of one threshold.
type Outcome struct {
	Threshold       float64
	Acceptance      int64 // genuine pair matched
	Rejection       int64 // impostor pair not matched
	FalseAcceptance int64 // impostor pair matched
	FalseRejection  int64 // genuine pair not matched
}

// Genuine returns the number of genuine pairs.
func (o Outcome) Genuine() int64 { return o.Acceptance + o.FalseRejection }

// Impostor returns the number of impostor pairs.
func (o Outcome) Impostor() int64 { return o.Rejection + o.FalseAcceptance }

// Matches returns the number of pairs classified as a match.
func (o Outcome) Matches() int64 { return o.Acceptance + o.FalseAcceptance }

// FAR is the fraction of impostor pairs accepted. Undefined without impostor pairs.
func (o Outcome) FAR() Rate { return ratio(o.FalseAcceptance, o.Impostor()) }

// FRR is the fraction of genuine pairs rejected. Undefined without genuine pairs.
func (o Outcome) FRR() Rate { return ratio(o.FalseRejection, o.Genuine()) }

// Err reports ErrEmptyClass when either rate is undefined.
func (o Outcome) Err() error {
	switch {
	case o.Genuine() == 0 && o.Impostor() == 0:
		return fmt.Errorf("%w: no pairs, FAR and FRR undefined", ierrors.ErrEmptyClass)
	case o.Impostor() == 0:
		return fmt.Errorf("%w: no impostor pairs, FAR undefined", ierrors.ErrEmptyClass)
	case o.Genuine() == 0:
		return fmt.Errorf("%w: no genuine pairs, FRR undefined", ierrors.ErrEmptyClass)
	}
	return nil
}

// Evaluate classifies each unordered pair of m exactly once: a pair matches
// iff its score is strictly below threshold.
func Evaluate(m *matrix.Matrix, threshold float64) Outcome {
	o := Outcome{Threshold: threshold}
	for _, c := range m.Cells() {
		matched := match.Accepts(c.Score, threshold)
		switch {
		case c.Genuine && matched:
			o.Acceptance++
		case c.Genuine:
			o.FalseRejection++
		case matched:
			o.FalseAcceptance++
		default:
			o.Rejection++
		}
	}
	return o
}
