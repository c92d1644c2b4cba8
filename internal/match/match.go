// Package match provides dissimilarity scores between iris templates.
package match

import (
	"errors"
	"fmt"

	"github.com/23skdu/irisgauge/internal/simd"
	"github.com/23skdu/irisgauge/internal/template"
)

var (
	// ErrShapeMismatch is returned when two templates have different dimensions.
	ErrShapeMismatch = errors.New("match: template shapes differ")
	// ErrNoOverlap is returned when the masks leave no position to compare.
	ErrNoOverlap = errors.New("match: no overlapping valid bits")
)

// Scorer computes a symmetric, deterministic dissimilarity. Lower is more similar.
// Name identifies the metric and its parameters; two scorers with the same
// name produce the same scores.
type Scorer interface {
	Score(a, b template.Template) (float64, error)
	Name() string
}

// Matcher decides whether two templates match at a threshold and reports a
// confidence in [0, 1].
type Matcher interface {
	Match(a, b template.Template, threshold float64) (bool, float64, error)
}

// Accepts is the decision rule shared by every matcher and by threshold
// evaluation: a pair matches iff its score is strictly below the threshold.
func Accepts(score, threshold float64) bool {
	return score < threshold
}

// Hamming is the fractional Hamming distance over bits valid in both masks,
// in [0, 1].
type Hamming struct{}

// Name implements Scorer.
func (Hamming) Name() string { return "hamming" }

// Score implements Scorer.
func (Hamming) Score(a, b template.Template) (float64, error) {
	if !a.SameShape(b) || len(a.Bits) != len(b.Bits) {
		return 0, fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, a.Rows, a.Cols, b.Rows, b.Cols)
	}
	diff, valid := simd.MaskedHammingDistance(a.Bits, b.Bits, a.Mask, b.Mask, a.Tail())
	if valid == 0 {
		return 0, ErrNoOverlap
	}
	return float64(diff) / float64(valid), nil
}

// Match implements Matcher.
func (h Hamming) Match(a, b template.Template, threshold float64) (bool, float64, error) {
	return decide(h, a, b, threshold)
}

// Rotation tolerates head tilt by taking the minimum fractional Hamming
// distance over circular column shifts of b in [-MaxShift, MaxShift].
type Rotation struct {
	MaxShift int
}

// Name implements Scorer.
func (r Rotation) Name() string { return fmt.Sprintf("rotation:%d", r.MaxShift) }

// Score implements Scorer. The minimum over symmetric shifts keeps the score
// symmetric in a and b.
func (r Rotation) Score(a, b template.Template) (float64, error) {
	best := -1.0
	var firstErr error
	for s := -r.MaxShift; s <= r.MaxShift; s++ {
		d, err := Hamming{}.Score(a, b.Rotate(s))
		if err != nil {
			if errors.Is(err, ErrShapeMismatch) {
				return 0, err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if best < 0 || d < best {
			best = d
		}
	}
	if best < 0 {
		return 0, firstErr
	}
	return best, nil
}

// Match implements Matcher.
func (r Rotation) Match(a, b template.Template, threshold float64) (bool, float64, error) {
	return decide(r, a, b, threshold)
}

func decide(s Scorer, a, b template.Template, threshold float64) (bool, float64, error) {
	d, err := s.Score(a, b)
	if err != nil {
		return false, 0, err
	}
	return Accepts(d, threshold), 1 - d, nil
}

// ByName returns the scorer for a configured metric name.
func ByName(name string, maxShift int) (Scorer, error) {
	switch name {
	case "hamming", "":
		return Hamming{}, nil
	case "rotation":
		if maxShift < 0 {
			return nil, fmt.Errorf("match: negative max shift %d", maxShift)
		}
		return Rotation{MaxShift: maxShift}, nil
	default:
		return nil, fmt.Errorf("match: unknown metric %q", name)
	}
}
