// Package hw holds the typed hardware state of the robot: the four value
// shapes a component can carry, the per-degree bound table, and the register
// map that is the last known state of every actuator and sensor.
package hw

import (
	"fmt"
	"math"
	"sort"
)

// Shape tags a Value variant. The numbering is part of the shared segment
// wire format.
type Shape uint8

const (
	ShapeInvalid Shape = iota
	ShapeScalar
	ShapePair
	ShapeText
	ShapeLedMap
)

func (s Shape) String() string {
	switch s {
	case ShapeScalar:
		return "scalar"
	case ShapePair:
		return "pair"
	case ShapeText:
		return "text"
	case ShapeLedMap:
		return "ledmap"
	}
	return fmt.Sprintf("shape(%d)", uint8(s))
}

// ParseShape is the inverse of Shape.String. Unknown names give
// ShapeInvalid.
func ParseShape(name string) Shape {
	for s := ShapeScalar; s <= ShapeLedMap; s++ {
		if s.String() == name {
			return s
		}
	}
	return ShapeInvalid
}

// Degrees returns how many bounded degrees of freedom a shape exposes when
// it is not an LED map. LED maps expose one degree per LED.
func (s Shape) Degrees() int {
	switch s {
	case ShapeScalar:
		return 1
	case ShapePair:
		return 2
	}
	return 0
}

// Value is one of Scalar, Pair, Text or LedMap. The set is closed.
type Value interface {
	Shape() Shape
	isValue()
}

// Scalar is a single-axis reading or command.
type Scalar float64

// Pair is a two-axis value, e.g. the pitch and roll of a shoulder.
type Pair struct {
	A, B float64
}

// Text is a string-valued sensor such as a firmware version.
type Text string

// LedMap maps LED names to their state.
type LedMap map[string]LEDState

func (Scalar) Shape() Shape { return ShapeScalar }
func (Pair) Shape() Shape   { return ShapePair }
func (Text) Shape() Shape   { return ShapeText }
func (LedMap) Shape() Shape { return ShapeLedMap }

func (Scalar) isValue() {}
func (Pair) isValue()   {}
func (Text) isValue()   {}
func (LedMap) isValue() {}

// LEDState is the colour an LED is lit with.
type LEDState uint8

const (
	LEDOff LEDState = iota
	LEDRed
	LEDGreen
	LEDBlue
	LEDWhite
)

// MaxLEDState is the largest valid LEDState.
const MaxLEDState = LEDWhite

func (s LEDState) String() string {
	switch s {
	case LEDOff:
		return "off"
	case LEDRed:
		return "red"
	case LEDGreen:
		return "green"
	case LEDBlue:
		return "blue"
	case LEDWhite:
		return "white"
	}
	return fmt.Sprintf("led(%d)", uint8(s))
}

// LEDFromFloat rounds a command value to the nearest LED state. Callers
// clamp to [0, MaxLEDState] first.
func LEDFromFloat(v float64) LEDState {
	r := math.Round(v)
	if r <= 0 {
		return LEDOff
	}
	if r >= float64(MaxLEDState) {
		return MaxLEDState
	}
	return LEDState(r)
}

// Names returns the LED names in sorted order. Degree i of an LED map
// component addresses Names()[i].
func (m LedMap) Names() []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clone returns a copy that shares no memory with v.
func Clone(v Value) Value {
	switch x := v.(type) {
	case LedMap:
		out := make(LedMap, len(x))
		for k, s := range x {
			out[k] = s
		}
		return out
	case Scalar, Pair, Text:
		return x
	}
	return nil
}

// Equal compares two values, including their shape.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case Scalar:
		y, ok := b.(Scalar)
		return ok && x == y
	case Pair:
		y, ok := b.(Pair)
		return ok && x == y
	case Text:
		y, ok := b.(Text)
		return ok && x == y
	case LedMap:
		y, ok := b.(LedMap)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, s := range x {
			if t, ok := y[k]; !ok || t != s {
				return false
			}
		}
		return true
	}
	return a == nil && b == nil
}

// Degree returns the numeric value of degree i, if the value has one.
func Degree(v Value, i int) (float64, bool) {
	switch x := v.(type) {
	case Scalar:
		if i == 0 {
			return float64(x), true
		}
	case Pair:
		switch i {
		case 0:
			return x.A, true
		case 1:
			return x.B, true
		}
	case LedMap:
		names := x.Names()
		if i >= 0 && i < len(names) {
			return float64(x[names[i]]), true
		}
	case Text:
	}
	return 0, false
}

// withDegree returns v with degree i replaced by f. The caller has already
// checked that the degree exists.
func withDegree(v Value, i int, f float64) Value {
	switch x := v.(type) {
	case Scalar:
		return Scalar(f)
	case Pair:
		if i == 0 {
			x.A = f
		} else {
			x.B = f
		}
		return x
	case LedMap:
		out := Clone(x).(LedMap)
		out[x.Names()[i]] = LEDFromFloat(f)
		return out
	case Text:
	}
	return v
}

// Format renders a value for logs and debug dumps.
func Format(v Value) string {
	switch x := v.(type) {
	case Scalar:
		return fmt.Sprintf("%.4f", float64(x))
	case Pair:
		return fmt.Sprintf("(%.4f, %.4f)", x.A, x.B)
	case Text:
		return fmt.Sprintf("%q", string(x))
	case LedMap:
		s := "{"
		for i, n := range x.Names() {
			if i > 0 {
				s += " "
			}
			s += n + ":" + x[n].String()
		}
		return s + "}"
	}
	return "<nil>"
}
