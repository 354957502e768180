// Package dispatch routes component names to the actuator-tree capabilities
// that serve them. Callers address hardware by string name and never hold a
// reference to a part.
package dispatch

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/fenghuanghao1986/NAO-engine/pkg/errcode"
	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
	"github.com/fenghuanghao1986/NAO-engine/pkg/robot"
)

// Setter commands one degree of a component and returns the applied value.
type Setter struct {
	component string
	degrees   []func(float64) float64
}

// NewSetter builds a setter from one function per degree of freedom.
func NewSetter(component string, degrees ...func(float64) float64) Setter {
	return Setter{component: component, degrees: degrees}
}

// Degrees returns how many degrees the setter drives.
func (s Setter) Degrees() int { return len(s.degrees) }

// Set commands one degree. A degree the actuator does not have is an
// UnknownDegree failure.
func (s Setter) Set(degree int, value float64) (float64, error) {
	if degree < 0 || degree >= len(s.degrees) {
		return 0, errcode.New(errcode.UnknownDegree, "set", s.component, fmt.Sprintf("degree %d", degree))
	}
	applied := s.degrees[degree](value)
	if math.IsNaN(applied) {
		return 0, errcode.New(errcode.UnknownDegree, "set", s.component, fmt.Sprintf("degree %d refused", degree))
	}
	return applied, nil
}

// Getter reads a component's current value from its part.
type Getter func() hw.Value

// Tables holds the setter and getter tables and the bound table derived
// from the same walk of the actuator tree.
type Tables struct {
	setters map[string]Setter
	getters map[string]Getter
	bounds  *hw.BoundTable
}

// Build walks the tree once. Every actuator gets a setter with one closure
// per degree of freedom, every part gets a getter.
func Build(tree *robot.Tree) (*Tables, error) {
	t := &Tables{
		setters: make(map[string]Setter),
		getters: make(map[string]Getter),
		bounds:  hw.NewBoundTable(),
	}
	var err error
	tree.Walk(func(name string, p robot.Part) {
		if err != nil {
			return
		}
		t.getters[name] = p.Value

		b, ok := p.(robot.Bounded)
		if ok {
			if e := t.bounds.Set(name, b.Bounds()); e != nil {
				err = e
				return
			}
		}
		act, ok := p.(robot.Actuator)
		if !ok {
			return
		}
		fns := make([]func(float64) float64, len(act.Bounds()))
		for i := range fns {
			degree := i
			fns[i] = func(v float64) float64 { return act.Set(degree, v) }
		}
		t.setters[name] = NewSetter(name, fns...)
	})
	if err != nil {
		return nil, fmt.Errorf("build dispatch tables: %w", err)
	}
	return t, nil
}

// Setter resolves the setter for a component.
func (t *Tables) Setter(component string) (Setter, bool) {
	s, ok := t.setters[component]
	return s, ok
}

// Getter resolves the getter for a component.
func (t *Tables) Getter(component string) (Getter, bool) {
	g, ok := t.getters[component]
	return g, ok
}

// Bounds returns the bound table built alongside the dispatch tables.
func (t *Tables) Bounds() *hw.BoundTable { return t.bounds }

// Writable returns the components with a setter, sorted.
func (t *Tables) Writable() []string { return sortedKeys(t.setters) }

// Readable returns the components with a getter, sorted.
func (t *Tables) Readable() []string { return sortedKeys(t.getters) }

// Signature renders both tables and the bounds deterministically, so two
// builds from the same tree can be compared.
func (t *Tables) Signature() string {
	var sb strings.Builder
	sb.WriteString("set:")
	for _, n := range t.Writable() {
		fmt.Fprintf(&sb, " %s/%d", n, t.setters[n].Degrees())
	}
	sb.WriteString("\nget: ")
	sb.WriteString(strings.Join(t.Readable(), " "))
	sb.WriteString("\nbounds:\n")
	sb.WriteString(t.bounds.String())
	return sb.String()
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
