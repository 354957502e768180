package intent

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/fenghuanghao1986/NAO-engine/internal/log"
	"github.com/fenghuanghao1986/NAO-engine/pkg/dispatch"
	"github.com/fenghuanghao1986/NAO-engine/pkg/errcode"
	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
)

// State is the processor's position in a frame.
type State int

const (
	Idle State = iota
	Draining
)

func (s State) String() string {
	if s == Draining {
		return "draining"
	}
	return "idle"
}

// Setters resolves component names to actuator setters.
type Setters interface {
	Setter(component string) (dispatch.Setter, bool)
}

// Processor applies intents to the register map and the actuator tree.
type Processor struct {
	logger *slog.Logger
	state  State
}

// NewProcessor creates an idle processor.
func NewProcessor(logger *slog.Logger) *Processor {
	return &Processor{logger: log.Or(logger)}
}

// State returns Draining while Drain runs.
func (p *Processor) State() State { return p.state }

// Drain processes the intents queued when it starts, oldest first. Intents
// pushed meanwhile wait for the next frame. One intent's failure never stops
// the others; every intent yields exactly one Result.
func (p *Processor) Drain(q *Queue, regs *hw.Registers, setters Setters) []Result {
	p.state = Draining
	defer func() { p.state = Idle }()

	n := q.Len()
	results := make([]Result, 0, n)
	for range n {
		in, ok := q.Pop()
		if !ok {
			break
		}
		res := p.process(in, regs, setters)
		if !res.OK() {
			p.logger.Warn("intent rejected",
				"module", in.Module,
				"component", in.Component,
				"kind", in.Kind.String(),
				"code", string(res.Code()),
			)
		}
		if in.Reply != nil {
			select {
			case in.Reply <- res:
			default:
				p.logger.Warn("intent reply dropped", "id", in.ID.String(), "module", in.Module)
			}
		}
		results = append(results, res)
	}
	return results
}

func (p *Processor) process(in Intent, regs *hw.Registers, setters Setters) Result {
	res := Result{ID: in.ID, Module: in.Module, Component: in.Component, Kind: in.Kind}
	switch in.Kind {
	case Write:
		p.write(in, regs, setters, &res)
	case Read:
		v, err := regs.Read(in.Component)
		if err != nil {
			res.Status, res.Err = hw.Rejected, err
			return res
		}
		res.Status, res.Value = hw.Accepted, v
	default:
		res.Status = hw.Rejected
		res.Err = errcode.New(errcode.InvalidValue, "process", in.Component, fmt.Sprintf("intent kind %d", in.Kind))
	}
	return res
}

func (p *Processor) write(in Intent, regs *hw.Registers, setters Setters, res *Result) {
	reject := func(err error) {
		res.Status, res.Err, res.Applied = hw.Rejected, err, nil
	}

	setter, ok := setters.Setter(in.Component)
	if !ok {
		reject(errcode.New(errcode.UnknownComponent, "write", in.Component, "no setter"))
		return
	}
	if len(in.Payload) == 0 || len(in.Payload) > setter.Degrees() {
		reject(errcode.New(errcode.UnknownDegree, "write", in.Component,
			fmt.Sprintf("%d values for %d degrees", len(in.Payload), setter.Degrees())))
		return
	}
	for i, v := range in.Payload {
		if math.IsNaN(v) {
			reject(errcode.New(errcode.InvalidValue, "write", in.Component, fmt.Sprintf("degree %d is NaN", i)))
			return
		}
	}

	res.Status = hw.Accepted
	res.Applied = make([]float64, len(in.Payload))
	for i, v := range in.Payload {
		wr := regs.Write(in.Component, i, v)
		if wr.Status == hw.Rejected {
			reject(wr.Err)
			return
		}
		applied, err := setter.Set(i, wr.Applied)
		if err != nil {
			reject(err)
			return
		}
		if applied != wr.Applied {
			// The part limited the command further than the bound table.
			regs.Write(in.Component, i, applied)
			wr.Status = hw.Clamped
			wr.Err = errcode.New(errcode.OutOfBoundsClamped, "set", in.Component,
				fmt.Sprintf("actuator applied %.4f for %.4f", applied, v))
		}
		res.Applied[i] = applied
		if wr.Status > res.Status {
			res.Status = wr.Status
		}
		if wr.Err != nil && res.Err == nil {
			res.Err = wr.Err
		}
	}
	res.Value, _ = regs.Read(in.Component)
}
