package robot

import (
	"math"
	"sort"

	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
)

// LEDGroup is a set of named LEDs commanded together, such as the eyes.
// Degree i addresses the i-th LED in name order.
type LEDGroup struct {
	name   string
	leds   []string
	states []hw.LEDState
}

// NewLEDGroup creates a group with every LED off.
func NewLEDGroup(name string, leds []string) *LEDGroup {
	sorted := append([]string(nil), leds...)
	sort.Strings(sorted)
	return &LEDGroup{name: name, leds: sorted, states: make([]hw.LEDState, len(sorted))}
}

func (g *LEDGroup) Name() string { return g.name }

// Bounds gives every LED the range of LED states.
func (g *LEDGroup) Bounds() hw.BoundList {
	bl := make(hw.BoundList, len(g.leds))
	for i := range bl {
		bl[i] = hw.Bound{Min: 0, Max: float64(hw.MaxLEDState)}
	}
	return bl
}

// Set lights one LED with the state nearest value.
func (g *LEDGroup) Set(degree int, value float64) float64 {
	if degree < 0 || degree >= len(g.leds) {
		return math.NaN()
	}
	g.states[degree] = hw.LEDFromFloat(clamp(value, 0, float64(hw.MaxLEDState)))
	return float64(g.states[degree])
}

func (g *LEDGroup) Value() hw.Value {
	m := make(hw.LedMap, len(g.leds))
	for i, n := range g.leds {
		m[n] = g.states[i]
	}
	return m
}

// Gauge is a read-only scalar sensor such as the battery charge. Its range
// is informational; only the driver process writes its value.
type Gauge struct {
	name  string
	rng   hw.Bound
	value float64
}

// NewGauge creates a gauge reading def.
func NewGauge(name string, rng hw.Bound, def float64) *Gauge {
	return &Gauge{name: name, rng: rng, value: def}
}

func (g *Gauge) Name() string         { return g.name }
func (g *Gauge) Bounds() hw.BoundList { return hw.BoundList{g.rng} }
func (g *Gauge) Value() hw.Value      { return hw.Scalar(g.value) }

// Label is a read-only text sensor.
type Label struct {
	name string
	text string
}

// NewLabel creates a label.
func NewLabel(name, text string) *Label {
	return &Label{name: name, text: text}
}

func (l *Label) Name() string    { return l.name }
func (l *Label) Value() hw.Value { return hw.Text(l.text) }
