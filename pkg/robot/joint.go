package robot

import (
	"math"

	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
)

// clamp restricts v to the range [min, max].
func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Joint is a motorised joint with one or two degrees of freedom, e.g. a
// knee (pitch) or a shoulder (pitch, roll).
type Joint struct {
	name      string
	bounds    hw.BoundList
	positions []float64
}

// NewJoint creates a joint resting at the given positions.
func NewJoint(name string, bounds hw.BoundList, rest []float64) *Joint {
	j := &Joint{
		name:      name,
		bounds:    append(hw.BoundList(nil), bounds...),
		positions: make([]float64, len(bounds)),
	}
	for i := range j.positions {
		if i < len(rest) {
			j.positions[i] = clamp(rest[i], bounds[i].Min, bounds[i].Max)
		}
	}
	return j
}

func (j *Joint) Name() string         { return j.name }
func (j *Joint) Bounds() hw.BoundList { return j.bounds }

// Set moves one degree, clamped to the joint's physical limits.
// It returns NaN for a degree the joint does not have.
func (j *Joint) Set(degree int, value float64) float64 {
	if degree < 0 || degree >= len(j.positions) {
		return math.NaN()
	}
	b := j.bounds[degree]
	j.positions[degree] = clamp(value, b.Min, b.Max)
	return j.positions[degree]
}

// Value returns a Scalar for single-axis joints and a Pair otherwise.
func (j *Joint) Value() hw.Value {
	if len(j.positions) == 1 {
		return hw.Scalar(j.positions[0])
	}
	return hw.Pair{A: j.positions[0], B: j.positions[1]}
}
