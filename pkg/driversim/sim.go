// Package driversim plays the hardware driver side of the shared segment
// for development without a robot. Commanded joint positions are followed
// at a bounded speed and echoed back as sensed values; gauges drift.
package driversim

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/fenghuanghao1986/NAO-engine/internal/log"
	"github.com/fenghuanghao1986/NAO-engine/pkg/errcode"
	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
	"github.com/fenghuanghao1986/NAO-engine/pkg/shm"
)

// Defaults for Config.
const (
	DefaultPeriod      = 10 * time.Millisecond
	DefaultLockTimeout = 5 * time.Millisecond
)

// Gauge is a simulated sensor that drains by Drain per step, stopping at 0.
type Gauge struct {
	Name  string
	Level float64
	Drain float64
}

// Config configures a Simulator.
type Config struct {
	Period      time.Duration
	LockTimeout time.Duration
	// MaxStep is the largest change per degree per step. Zero moves joints
	// to their target in one step.
	MaxStep float64
	Gauges  []Gauge
	Logger  *slog.Logger
}

// Stats counts what one step did.
type Stats struct {
	Commands int // records the engine changed
	Echoed   int // records written back
	Corrupt  int // records that failed to decode
}

type joint struct {
	position hw.Value
	target   hw.Value
	pending  bool
}

// Simulator is the driver side of one link.
type Simulator struct {
	link   *shm.Link
	cfg    Config
	logger *slog.Logger

	seen   []uint32
	joints map[int]*joint
	gauges []Gauge
}

// New creates a simulator over a link the engine formatted.
func New(link *shm.Link, cfg Config) *Simulator {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	return &Simulator{
		link:   link,
		cfg:    cfg,
		logger: log.Or(cfg.Logger).With("component", "driversim"),
		seen:   make([]uint32, len(link.Table.Names())),
		joints: make(map[int]*joint),
		gauges: append([]Gauge(nil), cfg.Gauges...),
	}
}

// Run steps every period until ctx is done. Lock timeouts are logged and
// retried on the next step. A LayoutMismatch ends Run: the engine
// reformatted the segment and the caller must open it again.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()
	s.logger.Info("driver simulator started", "components", len(s.seen), "period", s.cfg.Period)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st, err := s.Step(ctx)
			if errcode.Is(err, errcode.LayoutMismatch) {
				return err
			}
			if err != nil {
				s.logger.Debug("step skipped", "error", err)
				continue
			}
			if st.Corrupt > 0 {
				s.logger.Warn("corrupt records", "count", st.Corrupt)
			}
		}
	}
}

// Step takes the lock once, picks up new commands, moves every joint one
// step and updates the gauges.
func (s *Simulator) Step(ctx context.Context) (st Stats, err error) {
	lctx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	defer cancel()
	if err := s.link.Lock.Acquire(lctx); err != nil {
		return st, err
	}
	defer s.link.Lock.Release()

	t := s.link.Table
	if err := t.Check(); err != nil {
		return st, err
	}
	for slot := range t.Names() {
		rev, err := t.Revision(slot)
		if err != nil {
			return st, err
		}
		if rev != s.seen[slot] {
			s.seen[slot] = rev
			rec, err := t.Read(slot)
			if err != nil {
				st.Corrupt++
				continue
			}
			if rec.Value != nil {
				st.Commands++
				s.command(slot, rec.Value)
			}
		}

		j, ok := s.joints[slot]
		if !ok || !j.pending {
			continue
		}
		next := approach(j.position, j.target, s.cfg.MaxStep)
		if err := s.write(slot, next); err != nil {
			return st, err
		}
		j.position = next
		j.pending = !hw.Equal(next, j.target)
		st.Echoed++
	}

	for i := range s.gauges {
		g := &s.gauges[i]
		slot, ok := t.Slot(g.Name)
		if !ok {
			continue
		}
		level := math.Max(0, g.Level-g.Drain)
		if level == g.Level && s.seen[slot] != 0 {
			continue
		}
		g.Level = level
		if err := s.write(slot, hw.Scalar(g.Level)); err != nil {
			return st, err
		}
		st.Echoed++
	}
	return st, nil
}

// command records a new target. The first value seen for a component is
// taken as its current position.
func (s *Simulator) command(slot int, v hw.Value) {
	j, ok := s.joints[slot]
	if !ok {
		s.joints[slot] = &joint{position: v, target: v, pending: true}
		return
	}
	if j.position.Shape() != v.Shape() {
		j.position = v
	}
	j.target = v
	j.pending = true
}

func (s *Simulator) write(slot int, v hw.Value) error {
	rev, err := s.link.Table.Write(slot, v)
	if err != nil {
		return err
	}
	s.seen[slot] = rev
	return nil
}

// approach moves from toward to by at most step per degree. Values without
// numeric degrees jump.
func approach(from, to hw.Value, step float64) hw.Value {
	if step <= 0 {
		return to
	}
	move := func(a, b float64) float64 {
		if d := b - a; math.Abs(d) > step {
			return a + math.Copysign(step, d)
		}
		return b
	}
	switch t := to.(type) {
	case hw.Scalar:
		f, ok := from.(hw.Scalar)
		if !ok {
			return to
		}
		return hw.Scalar(move(float64(f), float64(t)))
	case hw.Pair:
		f, ok := from.(hw.Pair)
		if !ok {
			return to
		}
		return hw.Pair{A: move(f.A, t.A), B: move(f.B, t.B)}
	case hw.Text, hw.LedMap:
		return to
	}
	return to
}
