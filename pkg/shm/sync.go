package shm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fenghuanghao1986/NAO-engine/internal/log"
	"github.com/fenghuanghao1986/NAO-engine/pkg/errcode"
	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
)

// Failure is one component (or, for lock failures, the whole pass) that did
// not synchronize.
type Failure struct {
	Component string
	Code      errcode.Code
	Err       error
}

func (f Failure) Error() string {
	if f.Component == "" {
		return fmt.Sprintf("sync: %v", f.Err)
	}
	return fmt.Sprintf("sync %s: %v", f.Component, f.Err)
}

// Report describes one synchronization pass.
type Report struct {
	Locked   bool
	Pushed   []string
	Pulled   []string
	Failures []Failure
	Held     time.Duration
}

// OK reports whether the pass ran and every record synchronized.
func (r Report) OK() bool { return r.Locked && len(r.Failures) == 0 }

// Synchronizer reconciles a register map with a segment table.
type Synchronizer struct {
	table   *Table
	lock    Locker
	timeout time.Duration
	logger  *slog.Logger

	// seen holds the last revision observed per slot, whoever wrote it.
	seen []uint32
}

// NewSynchronizer creates a synchronizer that waits at most timeout for the
// lock. Records already present in the segment are pulled on the first pass.
func NewSynchronizer(table *Table, lock Locker, timeout time.Duration, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		table:   table,
		lock:    lock,
		timeout: timeout,
		logger:  log.Or(logger),
		seen:    make([]uint32, len(table.Names())),
	}
}

// Table returns the segment table.
func (s *Synchronizer) Table() *Table { return s.table }

// Sync runs one pass: push dirty registers, pull records the driver
// advanced. If the lock is not acquired within the timeout nothing on either
// side changes and the dirty set is kept for the next pass. The lock is
// released on every path out of the pass.
func (s *Synchronizer) Sync(ctx context.Context, regs *hw.Registers) (rep Report) {
	lctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.lock.Acquire(lctx); err != nil {
		code := errcode.Of(err)
		if code != errcode.LockTimeout {
			code = errcode.Error
		}
		rep.Failures = append(rep.Failures, Failure{Code: code, Err: err})
		return rep
	}
	rep.Locked = true
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sync pass panicked", "panic", r)
			rep.Failures = append(rep.Failures, Failure{Code: errcode.Error, Err: fmt.Errorf("panic: %v", r)})
		}
		if err := s.lock.Release(); err != nil {
			s.logger.Error("release segment lock", "error", err)
			rep.Failures = append(rep.Failures, Failure{Code: errcode.Error, Err: err})
		}
		rep.Held = time.Since(start)
	}()

	written := s.push(regs, &rep)
	s.pull(regs, written, &rep)
	return rep
}

// push writes every dirty register into its record.
func (s *Synchronizer) push(regs *hw.Registers, rep *Report) map[int]bool {
	written := make(map[int]bool)
	for _, name := range regs.Dirty() {
		regs.ClearDirty(name)

		slot, ok := s.table.Slot(name)
		if !ok {
			rep.Failures = append(rep.Failures, Failure{Component: name, Code: errcode.UnknownComponent,
				Err: errcode.New(errcode.UnknownComponent, "push", name, "no record in segment")})
			continue
		}
		v, err := regs.Read(name)
		if err != nil {
			rep.Failures = append(rep.Failures, Failure{Component: name, Code: errcode.Of(err), Err: err})
			continue
		}
		rev, err := s.table.Write(slot, v)
		if err != nil {
			rep.Failures = append(rep.Failures, Failure{Component: name, Code: errcode.CorruptRecord, Err: err})
			continue
		}
		s.seen[slot] = rev
		written[slot] = true
		rep.Pushed = append(rep.Pushed, name)
	}
	return written
}

// pull copies records whose revision moved since they were last seen. A
// record written by push in this pass is never overwritten.
func (s *Synchronizer) pull(regs *hw.Registers, written map[int]bool, rep *Report) {
	for slot, name := range s.table.Names() {
		if written[slot] {
			continue
		}
		rev, err := s.table.Revision(slot)
		if err != nil {
			rep.Failures = append(rep.Failures, Failure{Component: name, Code: errcode.CorruptRecord, Err: err})
			continue
		}
		if rev == s.seen[slot] {
			continue
		}
		// Advance even on failure so a damaged revision is reported once.
		s.seen[slot] = rev

		rec, err := s.table.Read(slot)
		if err != nil {
			rep.Failures = append(rep.Failures, Failure{Component: name, Code: errcode.CorruptRecord, Err: err})
			continue
		}
		if rec.Value == nil || !regs.Has(name) {
			continue
		}
		if err := regs.Store(name, rec.Value); err != nil {
			rep.Failures = append(rep.Failures, Failure{Component: name, Code: errcode.Of(err), Err: err})
			continue
		}
		rep.Pulled = append(rep.Pulled, name)
	}
}
