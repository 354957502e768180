package hw

import (
	"fmt"
	"math"
	"sort"

	"github.com/fenghuanghao1986/NAO-engine/pkg/errcode"
)

// Status is the outcome of a register write.
type Status int

const (
	Accepted Status = iota
	Clamped
	Rejected
)

func (s Status) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case Clamped:
		return "clamped"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// WriteResult describes what a write did. Err is set for Clamped
// (OutOfBoundsClamped) and Rejected writes.
type WriteResult struct {
	Status  Status
	Applied float64
	Err     error
}

// Registers is the register map: the last known value of every component.
// It is owned by a single goroutine and is not safe for concurrent use.
type Registers struct {
	values map[string]Value
	bounds *BoundTable
	dirty  map[string]struct{}
}

// NewRegisters creates an empty map validated against bounds.
func NewRegisters(bounds *BoundTable) *Registers {
	if bounds == nil {
		bounds = NewBoundTable()
	}
	return &Registers{
		values: make(map[string]Value),
		bounds: bounds,
		dirty:  make(map[string]struct{}),
	}
}

// Bounds returns the table writes are validated against.
func (r *Registers) Bounds() *BoundTable { return r.bounds }

// SetBounds swaps the bound table, e.g. after a reconfigure.
func (r *Registers) SetBounds(bounds *BoundTable) { r.bounds = bounds }

// Register creates an entry with its default value. A name that already
// exists keeps its value if the shape matches; a shape change is refused.
func (r *Registers) Register(component string, def Value) error {
	if def == nil {
		return fmt.Errorf("register %s: nil default", component)
	}
	if cur, ok := r.values[component]; ok {
		if cur.Shape() != def.Shape() {
			return fmt.Errorf("register %s: shape %s cannot change to %s", component, cur.Shape(), def.Shape())
		}
		return nil
	}
	r.values[component] = Clone(def)
	return nil
}

// Has reports whether a component is registered.
func (r *Registers) Has(component string) bool {
	_, ok := r.values[component]
	return ok
}

// Read returns a copy of a component's value.
func (r *Registers) Read(component string) (Value, error) {
	v, ok := r.values[component]
	if !ok {
		return nil, errcode.New(errcode.UnknownComponent, "read", component, "")
	}
	return Clone(v), nil
}

// Write validates one degree of a component against its bounds and applies
// it. Out-of-range values are clamped to the nearest bound, never rejected.
func (r *Registers) Write(component string, degree int, value float64) WriteResult {
	cur, ok := r.values[component]
	if !ok {
		return WriteResult{Status: Rejected, Err: errcode.New(errcode.UnknownComponent, "write", component, "")}
	}
	if _, has := Degree(cur, degree); !has {
		return WriteResult{Status: Rejected, Err: errcode.New(errcode.UnknownDegree, "write", component,
			fmt.Sprintf("degree %d of %s", degree, cur.Shape()))}
	}
	b, ok := r.bounds.Lookup(component, degree)
	if !ok {
		return WriteResult{Status: Rejected, Err: errcode.New(errcode.UnknownDegree, "write", component,
			fmt.Sprintf("no bound for degree %d", degree))}
	}
	if math.IsNaN(value) {
		return WriteResult{Status: Rejected, Err: errcode.New(errcode.InvalidValue, "write", component, "NaN")}
	}

	applied, clamped := b.Clamp(value)
	next := withDegree(cur, degree, applied)
	applied, _ = Degree(next, degree) // LED states round
	r.values[component] = next
	r.dirty[component] = struct{}{}

	if clamped {
		return WriteResult{Status: Clamped, Applied: applied, Err: errcode.New(errcode.OutOfBoundsClamped, "write", component,
			fmt.Sprintf("%.4f clamped to %.4f", value, applied))}
	}
	return WriteResult{Status: Accepted, Applied: applied}
}

// Store replaces a component's value wholesale without marking it dirty.
// It is the path synchronized driver values take into the map.
func (r *Registers) Store(component string, v Value) error {
	cur, ok := r.values[component]
	if !ok {
		return errcode.New(errcode.UnknownComponent, "store", component, "")
	}
	if v == nil || cur.Shape() != v.Shape() {
		got := ShapeInvalid
		if v != nil {
			got = v.Shape()
		}
		return errcode.New(errcode.CorruptRecord, "store", component,
			fmt.Sprintf("shape %s, want %s", got, cur.Shape()))
	}
	r.values[component] = Clone(v)
	return nil
}

// Dirty returns the components written since they were last cleared, in
// name order.
func (r *Registers) Dirty() []string {
	out := make([]string, 0, len(r.dirty))
	for n := range r.dirty {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// IsDirty reports whether a component has an unsynchronized write.
func (r *Registers) IsDirty(component string) bool {
	_, ok := r.dirty[component]
	return ok
}

// MarkDirty queues a component for the next push.
func (r *Registers) MarkDirty(component string) {
	if _, ok := r.values[component]; ok {
		r.dirty[component] = struct{}{}
	}
}

// ClearDirty marks a component synchronized.
func (r *Registers) ClearDirty(component string) {
	delete(r.dirty, component)
}

// Names returns every registered component in name order.
func (r *Registers) Names() []string {
	out := make([]string, 0, len(r.values))
	for n := range r.values {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered components.
func (r *Registers) Len() int { return len(r.values) }

// Snapshot copies the whole map.
func (r *Registers) Snapshot() map[string]Value {
	out := make(map[string]Value, len(r.values))
	for n, v := range r.values {
		out[n] = Clone(v)
	}
	return out
}
