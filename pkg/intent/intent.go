// Package intent carries requests to read or write hardware from other
// control modules to the hardware interface, and drains them once per frame.
package intent

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/fenghuanghao1986/NAO-engine/pkg/errcode"
	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
)

// Kind distinguishes reads from writes.
type Kind int

const (
	Read Kind = iota + 1
	Write
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind accepts "read" and "write".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "read":
		return Read, nil
	case "write":
		return Write, nil
	}
	return 0, fmt.Errorf("unknown intent kind %q", s)
}

// Intent is one request from a module. Payload holds one value per degree
// of freedom for writes and is empty for reads. If Reply is set it receives
// exactly one Result; it should be buffered.
type Intent struct {
	ID        uuid.UUID
	Module    string
	Component string
	Kind      Kind
	Payload   []float64
	Reply     chan<- Result
}

// NewRead builds a read intent.
func NewRead(module, component string) Intent {
	return Intent{ID: uuid.New(), Module: module, Component: component, Kind: Read}
}

// NewWrite builds a write intent. values[i] commands degree i.
func NewWrite(module, component string, values ...float64) Intent {
	return Intent{
		ID:        uuid.New(),
		Module:    module,
		Component: component,
		Kind:      Write,
		Payload:   append([]float64(nil), values...),
	}
}

// WithReply returns a copy of the intent that reports to ch.
func (i Intent) WithReply(ch chan<- Result) Intent {
	i.Reply = ch
	return i
}

// Result is the outcome of one intent.
type Result struct {
	ID        uuid.UUID
	Module    string
	Component string
	Kind      Kind

	// Status is the worst status across the degrees of a write, Accepted
	// for a successful read and Rejected for any failure.
	Status hw.Status
	// Applied holds the value applied per degree for writes.
	Applied []float64
	// Value is the register value after a read or write.
	Value hw.Value
	// Err is set for Clamped and Rejected results.
	Err error
}

// OK reports whether the intent was honored, possibly clamped.
func (r Result) OK() bool { return r.Status != hw.Rejected }

// Code returns the failure code, or errcode.OK.
func (r Result) Code() errcode.Code { return errcode.Of(r.Err) }
