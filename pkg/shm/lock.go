package shm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/semaphore"

	"github.com/fenghuanghao1986/NAO-engine/pkg/errcode"
)

// Locker is the mutual exclusion both processes take before touching the
// segment. Acquire gives up when ctx is done and reports LockTimeout.
type Locker interface {
	Acquire(ctx context.Context) error
	Release() error
	Close() error
}

// DefaultRetryDelay is how often FileLock polls while waiting.
const DefaultRetryDelay = 200 * time.Microsecond

// ErrNotHeld is returned by Release when the lock is not held.
var ErrNotHeld = errors.New("lock not held")

// FileLock is a cross-process lock on a file, flock(2) semantics. Two
// FileLocks on the same path exclude each other even within one process.
type FileLock struct {
	fl    *flock.Flock
	retry time.Duration
}

// NewFileLock creates the lock file if needed. It does not acquire it.
func NewFileLock(path string) *FileLock {
	return &FileLock{fl: flock.New(path), retry: DefaultRetryDelay}
}

func (l *FileLock) Acquire(ctx context.Context) error {
	ok, err := l.fl.TryLockContext(ctx, l.retry)
	if err != nil {
		if ctx.Err() != nil {
			return errcode.Wrap(errcode.LockTimeout, "acquire", err)
		}
		return fmt.Errorf("acquire %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return errcode.New(errcode.LockTimeout, "acquire", "", l.fl.Path())
	}
	return nil
}

func (l *FileLock) Release() error {
	if !l.fl.Locked() {
		return ErrNotHeld
	}
	return l.fl.Unlock()
}

// Close releases the lock if held and closes the file.
func (l *FileLock) Close() error {
	return l.fl.Close()
}

// SemaphoreLock is a binary semaphore for two parties in one process, as
// when the driver is simulated in-process. Handles made with Peer share the
// semaphore but track their own ownership.
type SemaphoreLock struct {
	sem  *semaphore.Weighted
	held atomic.Bool
}

// NewSemaphoreLock creates an unheld lock.
func NewSemaphoreLock() *SemaphoreLock {
	return &SemaphoreLock{sem: semaphore.NewWeighted(1)}
}

// Peer returns another handle on the same semaphore.
func (l *SemaphoreLock) Peer() *SemaphoreLock {
	return &SemaphoreLock{sem: l.sem}
}

func (l *SemaphoreLock) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return errcode.Wrap(errcode.LockTimeout, "acquire", err)
	}
	l.held.Store(true)
	return nil
}

func (l *SemaphoreLock) Release() error {
	if !l.held.CompareAndSwap(true, false) {
		return ErrNotHeld
	}
	l.sem.Release(1)
	return nil
}

// Close releases the semaphore if this handle holds it.
func (l *SemaphoreLock) Close() error {
	if l.held.Load() {
		return l.Release()
	}
	return nil
}
