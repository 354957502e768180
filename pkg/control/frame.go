package control

import (
	"time"

	"github.com/rs/xid"

	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
	"github.com/fenghuanghao1986/NAO-engine/pkg/intent"
	"github.com/fenghuanghao1986/NAO-engine/pkg/shm"
)

// FrameResult is the outcome of one control cycle.
type FrameResult struct {
	ID       xid.ID
	Seq      uint64
	Start    time.Time
	Duration time.Duration

	// OK is false if any intent was rejected or the segment did not fully
	// synchronize. Clamped writes do not clear it.
	OK bool
	// Intents holds one result per intent drained, in queue order.
	Intents []intent.Result
	// Failures lists what did not synchronize, lock timeouts included.
	Failures []shm.Failure

	Pushed []string
	Pulled []string
}

// Rejected counts the intents that were not honored.
func (f FrameResult) Rejected() int {
	n := 0
	for _, r := range f.Intents {
		if !r.OK() {
			n++
		}
	}
	return n
}

// Observer receives every frame after it completes. It runs on the control
// loop and must not block; hand the frame to another goroutine instead.
type Observer interface {
	ObserveFrame(FrameResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(FrameResult)

func (f ObserverFunc) ObserveFrame(fr FrameResult) { f(fr) }

// Snapshot is an immutable view of the module published after every
// lifecycle change and frame. Other goroutines read it instead of the
// register map.
type Snapshot struct {
	State     State
	Robot     string
	ProfileID uint16
	// Frame is the last completed frame, nil before the first.
	Frame     *FrameResult
	Registers map[string]hw.Value
}

// Command describes one addressable component.
type Command struct {
	Component string       `json:"component"`
	Shape     hw.Shape     `json:"-"`
	Bounds    hw.BoundList `json:"bounds,omitempty"`
	Writable  bool         `json:"writable"`
}
