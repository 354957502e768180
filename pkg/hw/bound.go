package hw

import (
	"fmt"
	"sort"
	"strings"
)

// Bound is the [Min, Max] range of one degree of freedom, in radians.
type Bound struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Clamp restricts v to the bound and reports whether it had to.
func (b Bound) Clamp(v float64) (float64, bool) {
	if v < b.Min {
		return b.Min, true
	}
	if v > b.Max {
		return b.Max, true
	}
	return v, false
}

// Contains reports whether v lies inside the bound.
func (b Bound) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// BoundList holds one Bound per degree of freedom, in the positional order
// the actuator's setter expects.
type BoundList []Bound

// BoundTable maps component names to their bounds.
type BoundTable struct {
	bounds map[string]BoundList
}

// NewBoundTable creates an empty table.
func NewBoundTable() *BoundTable {
	return &BoundTable{bounds: make(map[string]BoundList)}
}

// Set stores a copy of the bounds for a component.
func (t *BoundTable) Set(component string, bl BoundList) error {
	for i, b := range bl {
		if b.Min > b.Max {
			return fmt.Errorf("bound %s[%d]: min %.4f > max %.4f", component, i, b.Min, b.Max)
		}
	}
	t.bounds[component] = append(BoundList(nil), bl...)
	return nil
}

// Lookup returns the bound for one degree of a component.
func (t *BoundTable) Lookup(component string, degree int) (Bound, bool) {
	bl, ok := t.bounds[component]
	if !ok || degree < 0 || degree >= len(bl) {
		return Bound{}, false
	}
	return bl[degree], true
}

// List returns the bounds of a component.
func (t *BoundTable) List(component string) (BoundList, bool) {
	bl, ok := t.bounds[component]
	return bl, ok
}

// Len returns the number of components with bounds.
func (t *BoundTable) Len() int { return len(t.bounds) }

// String renders the table deterministically. Two tables built from the same
// actuator tree render identically.
func (t *BoundTable) String() string {
	names := make([]string, 0, len(t.bounds))
	for n := range t.bounds {
		names = append(names, n)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, n := range names {
		fmt.Fprintf(&sb, "%s", n)
		for _, b := range t.bounds[n] {
			fmt.Fprintf(&sb, " [%g,%g]", b.Min, b.Max)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
