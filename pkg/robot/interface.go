// Package robot models the physical actuator tree of a humanoid: limbs own
// named parts, and each part is exposed only through the small capability
// interfaces below. Nothing outside this package holds a concrete part type.
package robot

import "github.com/fenghuanghao1986/NAO-engine/pkg/hw"

// Bounded exposes the range of every degree of freedom of a part.
type Bounded interface {
	Bounds() hw.BoundList
}

// Actuator is a part that accepts commands. Set commands one degree and
// returns the value actually applied, which may be clamped by the part.
type Actuator interface {
	Bounded
	Set(degree int, value float64) float64
}

// Sensor is a part whose current value can be read.
type Sensor interface {
	Value() hw.Value
}

// Part is anything that hangs off a limb. Every part is a Sensor; parts
// that can be commanded are also Actuators.
type Part interface {
	Sensor
	Name() string
}

// Ensure the concrete parts satisfy their capabilities.
var (
	_ Actuator = (*Joint)(nil)
	_ Part     = (*Joint)(nil)
	_ Actuator = (*LEDGroup)(nil)
	_ Part     = (*LEDGroup)(nil)
	_ Part     = (*Gauge)(nil)
	_ Part     = (*Label)(nil)
)
