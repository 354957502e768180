// Package control owns the hardware interface lifecycle and runs its control
// cycle: drain pending intents into the register map and actuators, then
// synchronize the register map with the driver process.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/fenghuanghao1986/NAO-engine/internal/config"
	"github.com/fenghuanghao1986/NAO-engine/internal/log"
	"github.com/fenghuanghao1986/NAO-engine/pkg/dispatch"
	"github.com/fenghuanghao1986/NAO-engine/pkg/errcode"
	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
	"github.com/fenghuanghao1986/NAO-engine/pkg/intent"
	"github.com/fenghuanghao1986/NAO-engine/pkg/robot"
	"github.com/fenghuanghao1986/NAO-engine/pkg/shm"
)

// State is a lifecycle state.
type State int

const (
	Uninitialized State = iota
	Installed
	Running
	Uninstalled
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Installed:
		return "installed"
	case Running:
		return "running"
	case Uninstalled:
		return "uninstalled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Opener attaches the shared segment for a component set.
type Opener func(names []string) (*shm.Link, error)

// Options configures a Module. Zero fields take defaults.
type Options struct {
	// Profile describes the robot. Defaults to config.DefaultProfile.
	Profile *config.Profile

	// Build constructs the actuator tree. Defaults to robot.Build.
	Build robot.Builder

	// Open attaches the segment. Defaults to an in-process segment.
	// The engine's opener owns the layout and reformats on a mismatch.
	Open Opener

	// LockTimeout bounds each wait for the segment lock.
	LockTimeout time.Duration

	Logger    *slog.Logger
	Observers []Observer
}

// Module is the hardware interface: one per process, passed explicitly to
// whatever submits intents or drives frames. Submit may be called from any
// goroutine; the other operations serialize with each other.
type Module struct {
	mu     sync.Mutex
	opts   Options
	logger *slog.Logger

	state   State
	profile *config.Profile
	tree    *robot.Tree
	tables  *dispatch.Tables
	regs    *hw.Registers
	link    *shm.Link
	sync    *shm.Synchronizer

	queue *intent.Queue
	proc  *intent.Processor
	seq   uint64
	snap  atomic.Pointer[Snapshot]
}

// New creates an uninitialized module. Intents may be submitted before
// Install; they wait for the first frame.
func New(opts Options) *Module {
	if opts.Profile == nil {
		opts.Profile = config.DefaultProfile()
	}
	if opts.Build == nil {
		opts.Build = robot.Build
	}
	if opts.Open == nil {
		opts.Open = shm.NewMemoryLink
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = config.DefaultLockTimeout
	}
	logger := log.Or(opts.Logger).With("component", "control")
	m := &Module{
		opts:   opts,
		logger: logger,
		queue:  intent.NewQueue(),
		proc:   intent.NewProcessor(logger),
	}
	m.publish(nil)
	return m
}

// State returns the lifecycle state.
func (m *Module) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the last published view. It never blocks on a frame.
func (m *Module) Snapshot() *Snapshot { return m.snap.Load() }

// AddObserver registers an observer for subsequent frames.
func (m *Module) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts.Observers = append(m.opts.Observers, o)
}

// Install builds the actuator tree, the bound and dispatch tables and the
// register defaults, then attaches the shared segment. On failure nothing is
// kept and the module stays uninitialized.
func (m *Module) Install() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Uninitialized {
		return m.violation("install")
	}

	tree, tables, regs, err := m.construct("install", m.opts.Profile)
	if err != nil {
		return err
	}
	link, err := m.opts.Open(tables.Readable())
	if err != nil {
		tree.Release()
		return errcode.Wrap(errcode.ActuatorConstructionFailure, "install", fmt.Errorf("attach segment: %w", err))
	}

	m.profile = m.opts.Profile
	m.tree, m.tables, m.regs = tree, tables, regs
	m.link = link
	m.sync = shm.NewSynchronizer(link.Table, link.Lock, m.opts.LockTimeout, m.logger)
	m.state = Installed
	m.publish(nil)

	m.logger.Info("installed",
		"robot", m.profile.Robot,
		"components", regs.Len(),
		"writable", len(tables.Writable()),
	)
	return nil
}

// construct builds everything derived from a profile. Register defaults
// come from each part's current value.
func (m *Module) construct(op string, p *config.Profile) (*robot.Tree, *dispatch.Tables, *hw.Registers, error) {
	fail := func(err error) error {
		return errcode.Wrap(errcode.ActuatorConstructionFailure, op, err)
	}
	tree, err := m.opts.Build(p)
	if err != nil {
		return nil, nil, nil, fail(err)
	}
	tables, err := dispatch.Build(tree)
	if err != nil {
		tree.Release()
		return nil, nil, nil, fail(err)
	}
	regs := hw.NewRegisters(tables.Bounds())
	for _, name := range tables.Readable() {
		get, _ := tables.Getter(name)
		if err := regs.Register(name, get()); err != nil {
			tree.Release()
			return nil, nil, nil, fail(err)
		}
	}
	return tree, tables, regs, nil
}

// Reconfigure rebuilds the tree, bounds and dispatch tables from the
// profile at path (the current profile when path is empty) tagged with id.
// Pending intents are kept. Components whose shape is unchanged keep their
// value and pending push; new components start at their default. The
// segment is reattached only when the component set changes.
func (m *Module) Reconfigure(path string, id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Installed && m.state != Running {
		return m.violation("reconfigure")
	}

	var p *config.Profile
	if path == "" {
		cp := *m.profile
		p = &cp
	} else {
		loaded, err := config.LoadProfile(path)
		if err != nil {
			return errcode.Wrap(errcode.ActuatorConstructionFailure, "reconfigure", err)
		}
		p = loaded
	}
	p.ID = id

	tree, tables, regs, err := m.construct("reconfigure", p)
	if err != nil {
		return err
	}
	for _, name := range regs.Names() {
		old, err := m.regs.Read(name)
		if err != nil {
			continue
		}
		m.carry(name, old, m.regs.IsDirty(name), regs, tables)
	}

	link, synchronizer := m.link, m.sync
	if !slices.Equal(tables.Readable(), m.link.Table.Names()) {
		// A new layout starts with unwritten records: command every
		// actuator again.
		for _, name := range tables.Writable() {
			regs.MarkDirty(name)
		}
		link, err = m.opts.Open(tables.Readable())
		if err != nil {
			tree.Release()
			return errcode.Wrap(errcode.ActuatorConstructionFailure, "reconfigure", fmt.Errorf("attach segment: %w", err))
		}
		synchronizer = shm.NewSynchronizer(link.Table, link.Lock, m.opts.LockTimeout, m.logger)
		if err := m.link.Close(); err != nil {
			m.logger.Warn("close previous segment", "error", err)
		}
	}

	m.tree.Release()
	m.profile = p
	m.tree, m.tables, m.regs = tree, tables, regs
	m.link, m.sync = link, synchronizer
	m.publish(nil)

	m.logger.Info("reconfigured", "robot", p.Robot, "id", id, "components", regs.Len())
	return nil
}

// carry moves a component's value into a new build. Sensor values are
// copied. Actuator values are clamped to the new bounds and commanded on
// the new tree, so the tree and the register map agree. The component is
// pushed again when it was pending or its value changed.
func (m *Module) carry(name string, old hw.Value, pending bool, regs *hw.Registers, tables *dispatch.Tables) {
	cur, err := regs.Read(name)
	if err != nil || cur.Shape() != old.Shape() {
		return
	}
	if lm, ok := old.(hw.LedMap); ok && !slices.Equal(lm.Names(), cur.(hw.LedMap).Names()) {
		return
	}
	if err := regs.Store(name, old); err != nil {
		return
	}
	setter, ok := tables.Setter(name)
	if !ok {
		if pending {
			regs.MarkDirty(name)
		}
		return
	}

	for i := 0; i < setter.Degrees(); i++ {
		v, ok := hw.Degree(old, i)
		if !ok {
			break
		}
		if b, ok := tables.Bounds().Lookup(name, i); ok && !b.Contains(v) {
			m.logger.Info("carried value outside new bound", "component", name, "degree", i, "value", v, "bound", b)
		}
		wr := regs.Write(name, i, v)
		if wr.Status == hw.Rejected {
			continue
		}
		applied, err := setter.Set(i, wr.Applied)
		if err == nil && applied != wr.Applied {
			regs.Write(name, i, applied)
		}
	}

	now, _ := regs.Read(name)
	if !pending && hw.Equal(now, old) {
		regs.ClearDirty(name)
	}
}

// Start moves an installed module to running.
func (m *Module) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Installed {
		return m.violation("start")
	}
	m.state = Running
	m.publish(nil)
	return nil
}

// RunFrame runs one cycle: every intent queued when it starts is applied,
// then the register map is synchronized with the segment. Per-intent and
// per-record failures are reported in the result; the error is only set
// for a lifecycle violation.
func (m *Module) RunFrame(ctx context.Context) (FrameResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Running {
		return FrameResult{}, m.violation("run frame")
	}

	m.seq++
	fr := FrameResult{ID: xid.New(), Seq: m.seq, Start: time.Now()}
	fr.Intents = m.proc.Drain(m.queue, m.regs, m.tables)

	rep := m.sync.Sync(ctx, m.regs)
	fr.Failures = rep.Failures
	fr.Pushed, fr.Pulled = rep.Pushed, rep.Pulled
	fr.OK = rep.OK() && fr.Rejected() == 0
	fr.Duration = time.Since(fr.Start)

	if len(rep.Failures) > 0 {
		m.logger.Warn("frame sync incomplete",
			"frame", fr.ID.String(),
			"failures", len(rep.Failures),
			"first", rep.Failures[0].Error(),
		)
	}
	m.publish(&fr)
	for _, o := range m.opts.Observers {
		o.ObserveFrame(fr)
	}
	return fr, nil
}

// Run drives frames every period until ctx is done or a frame is refused.
func (m *Module) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	m.logger.Info("control loop started", "hz", int(time.Second/period))
	defer m.logger.Info("control loop stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.RunFrame(ctx); err != nil {
				return err
			}
		}
	}
}

// Submit queues an intent for the next frame.
func (m *Module) Submit(in intent.Intent) error {
	if !m.queue.Push(in) {
		return errcode.New(errcode.LifecycleViolation, "submit", in.Component, "module uninstalled")
	}
	return nil
}

// Uninstall releases the tree and the segment and refuses further intents.
// Pending intents are answered with LifecycleViolation. It is safe in any
// state and after a failed Install.
func (m *Module) Uninstall() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Uninstalled {
		return nil
	}

	for _, in := range m.queue.Close() {
		if in.Reply == nil {
			continue
		}
		res := intent.Result{
			ID: in.ID, Module: in.Module, Component: in.Component, Kind: in.Kind,
			Status: hw.Rejected,
			Err:    errcode.New(errcode.LifecycleViolation, "uninstall", in.Component, "intent discarded"),
		}
		select {
		case in.Reply <- res:
		default:
		}
	}

	var err error
	if m.tree != nil {
		m.tree.Release()
	}
	if m.link != nil {
		err = m.link.Close()
	}
	m.state = Uninstalled
	m.publish(nil)
	m.logger.Info("uninstalled")
	return err
}

// Commands lists every component with its bounds and whether it takes
// writes. It is empty before Install.
func (m *Module) Commands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tables == nil || m.state == Uninstalled {
		return nil
	}
	writable := m.tables.Writable()
	var out []Command
	for _, name := range m.tables.Readable() {
		c := Command{Component: name}
		if v, err := m.regs.Read(name); err == nil {
			c.Shape = v.Shape()
		}
		c.Bounds, _ = m.tables.Bounds().List(name)
		_, c.Writable = slices.BinarySearch(writable, name)
		out = append(out, c)
	}
	return out
}

// Signature renders the dispatch and bound tables, for comparing builds.
func (m *Module) Signature() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tables == nil {
		return ""
	}
	return m.tables.Signature()
}

func (m *Module) violation(op string) error {
	return errcode.New(errcode.LifecycleViolation, op, "", fmt.Sprintf("not allowed while %s", m.state))
}

func (m *Module) lastFrame() *FrameResult {
	if s := m.snap.Load(); s != nil {
		return s.Frame
	}
	return nil
}

// publish replaces the snapshot. Callers hold mu.
func (m *Module) publish(fr *FrameResult) {
	s := &Snapshot{State: m.state, Frame: fr}
	if fr == nil {
		s.Frame = m.lastFrame()
	}
	if m.profile != nil {
		s.Robot, s.ProfileID = m.profile.Robot, m.profile.ID
	}
	if m.regs != nil && m.state != Uninstalled {
		s.Registers = m.regs.Snapshot()
	}
	m.snap.Store(s)
}
