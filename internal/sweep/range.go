package sweep

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	ierrors "github.com/23skdu/irisgauge/internal/errors"
)

// maxThresholds bounds how many candidate thresholds one range may produce.
const maxThresholds = 1 << 22

// Range describes the candidate thresholds of a sweep. Exactly one of Step
// and Count selects the spacing: From + k*Step, or From + k*(To-From)/Count.
// Generation stops before To.
type Range struct {
	From  float64
	To    float64
	Step  float64
	Count int

	values []float64
}

// ScaledRange yields k/toX for every integer k in [fromX, toX).
// ScaledRange(1, 1000) is the default range 0.001 .. 0.999. Invalid bounds
// produce a range whose Thresholds call fails.
func ScaledRange(fromX, toX int) Range {
	if toX <= 0 || fromX < 0 || fromX >= toX {
		return Range{From: float64(fromX), To: float64(toX)}
	}
	values := make([]float64, 0, toX-fromX)
	for k := fromX; k < toX; k++ {
		values = append(values, float64(k)/float64(toX))
	}
	return Range{From: values[0], To: 1, values: values}
}

// Values builds a range from an explicit, strictly increasing list.
func Values(list ...float64) Range {
	values := make([]float64, len(list))
	copy(values, list)
	if values == nil {
		values = []float64{}
	}
	return Range{values: values}
}

// ParseValues parses a comma separated threshold list such as "5,30,70".
func ParseValues(s string) (Range, error) {
	var list []float64
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return Range{}, ierrors.NewValidationError("parse_thresholds",
				fmt.Sprintf("invalid threshold %q", field))
		}
		list = append(list, v)
	}
	return Values(list...), nil
}

// Thresholds returns the candidate thresholds in strictly increasing order.
func (r Range) Thresholds() ([]float64, error) {
	if r.values != nil {
		for k, v := range r.values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, ierrors.NewValidationError("thresholds", fmt.Sprintf("threshold %v is not finite", v))
			}
			if k > 0 && v <= r.values[k-1] {
				return nil, ierrors.NewValidationError("thresholds",
					fmt.Sprintf("thresholds must be strictly increasing: %v follows %v", v, r.values[k-1]))
			}
		}
		out := make([]float64, len(r.values))
		copy(out, r.values)
		return out, nil
	}

	for _, v := range []float64{r.From, r.To, r.Step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ierrors.NewValidationError("thresholds", "range bounds must be finite")
		}
	}
	if r.To <= r.From {
		return nil, ierrors.NewValidationError("thresholds",
			fmt.Sprintf("empty range: from %v is not below to %v", r.From, r.To))
	}

	var step float64
	switch {
	case r.Step > 0 && r.Count > 0:
		return nil, ierrors.NewValidationError("thresholds", "step and count are mutually exclusive")
	case r.Step > 0:
		step = r.Step
	case r.Count > 0:
		step = (r.To - r.From) / float64(r.Count)
	default:
		return nil, ierrors.NewValidationError("thresholds", "range needs a positive step or count")
	}
	if (r.To-r.From)/step > maxThresholds {
		return nil, ierrors.NewValidationError("thresholds",
			fmt.Sprintf("range yields more than %d thresholds", maxThresholds))
	}

	var out []float64
	for k := 0; ; k++ {
		v := r.From + float64(k)*step
		if v >= r.To || (r.Count > 0 && k >= r.Count) {
			break
		}
		if len(out) > 0 && v <= out[len(out)-1] {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (r Range) String() string {
	switch {
	case r.values != nil:
		if len(r.values) == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%v .. %v] (%d values)", r.values[0], r.values[len(r.values)-1], len(r.values))
	case r.Count > 0:
		return fmt.Sprintf("[%v, %v) count=%d", r.From, r.To, r.Count)
	default:
		return fmt.Sprintf("[%v, %v) step=%v", r.From, r.To, r.Step)
	}
}
