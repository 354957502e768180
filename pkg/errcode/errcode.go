// Package errcode defines the stable failure codes reported by the hardware
// interface core. Codes are comparable strings that implement error, so they
// can be returned directly or wrapped in an *E that carries context.
package errcode

import "errors"

// Code is a stable failure identifier.
type Code string

func (c Code) Error() string { return string(c) }

const (
	OK Code = "ok"

	// Per-intent failures. Non-fatal.
	UnknownComponent   Code = "unknown_component"
	UnknownDegree      Code = "unknown_degree"
	OutOfBoundsClamped Code = "out_of_bounds_clamped"
	InvalidValue       Code = "invalid_value"

	// Per-cycle synchronization failures. Non-fatal.
	LockTimeout   Code = "lock_timeout"
	CorruptRecord Code = "corrupt_record"

	// Fatal to the operation that raised them.
	LifecycleViolation          Code = "lifecycle_violation"
	ActuatorConstructionFailure Code = "actuator_construction_failure"
	LayoutMismatch              Code = "layout_mismatch"

	Error Code = "error" // generic fallback
)

// Fatal reports whether a code aborts the surrounding operation.
func (c Code) Fatal() bool {
	switch c {
	case LifecycleViolation, ActuatorConstructionFailure, LayoutMismatch:
		return true
	}
	return false
}

// E wraps a Code with the operation, the component it concerns and an
// optional cause.
type E struct {
	C         Code
	Op        string
	Component string
	Msg       string
	Err       error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Component != "" {
		s += " [" + e.Component + "]"
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// New builds an *E for a component.
func New(c Code, op, component, msg string) *E {
	return &E{C: c, Op: op, Component: component, Msg: msg}
}

// Wrap builds an *E around a cause.
func Wrap(c Code, op string, err error) *E {
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	return Error
}

// Is reports whether err carries code c anywhere in its chain.
func Is(err error, c Code) bool {
	return err != nil && Of(err) == c
}
