package shm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AttachTimeout bounds the wait for the lock while attaching.
const AttachTimeout = time.Second

// Link is one process's handle on the shared segment: the mapped bytes,
// the record table and the lock guarding them.
type Link struct {
	Segment Segment
	Table   *Table
	Lock    Locker

	borrowed bool // segment owned by another handle
}

// NewMemoryLink builds an in-process link. Use Peer for the driver side.
func NewMemoryLink(names []string) (*Link, error) {
	return attach(NewMemorySegment(SegmentSize(len(names))), NewSemaphoreLock(), names, Attach)
}

func attach(seg Segment, lock Locker, names []string, bind func(Segment, []string) (*Table, error)) (*Link, error) {
	t, err := func() (*Table, error) {
		ctx, cancel := context.WithTimeout(context.Background(), AttachTimeout)
		defer cancel()
		if err := lock.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("lock segment for attach: %w", err)
		}
		defer lock.Release()
		return bind(seg, names)
	}()
	if err != nil {
		seg.Close()
		lock.Close()
		return nil, err
	}
	return &Link{Segment: seg, Table: t, Lock: lock}, nil
}

// Peer returns a second handle on an in-process link, as the driver side
// would hold. It panics for file-backed links, which peers open themselves.
func (l *Link) Peer() *Link {
	sl, ok := l.Lock.(*SemaphoreLock)
	if !ok {
		panic("shm: Peer needs an in-process link")
	}
	return &Link{Segment: l.Segment, Table: l.Table, Lock: sl.Peer(), borrowed: true}
}

// Close releases the lock if held and unmaps the segment. A peer handle
// only gives up its lock.
func (l *Link) Close() error {
	if l == nil {
		return nil
	}
	if l.borrowed {
		return l.Lock.Close()
	}
	return errors.Join(l.Lock.Close(), l.Segment.Close())
}
