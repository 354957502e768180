// Package shm synchronizes the register map with a memory segment shared
// with the hardware driver process. Access to the segment is serialized by a
// cross-process lock that is only ever waited on for a bounded time.
package shm

import (
	"fmt"
	"io"
	"sync"
)

// Segment is a byte region both processes address identically. It may be
// backed by a mapped file or, for tests and simulation, plain memory.
type Segment interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Size() int64
}

// MemorySegment is an in-process Segment.
type MemorySegment struct {
	mu     sync.Mutex
	buf    []byte
	closed bool
}

// NewMemorySegment allocates a zeroed segment of size bytes.
func NewMemorySegment(size int) *MemorySegment {
	return &MemorySegment{buf: make([]byte, size)}
}

func (m *MemorySegment) Size() int64 { return int64(len(m.buf)) }

func (m *MemorySegment) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(len(p), off); err != nil {
		return 0, err
	}
	return copy(p, m.buf[off:]), nil
}

func (m *MemorySegment) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(len(p), off); err != nil {
		return 0, err
	}
	return copy(m.buf[off:], p), nil
}

// Close marks the segment unusable. Other handles sharing it are affected.
func (m *MemorySegment) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MemorySegment) check(n int, off int64) error {
	if m.closed {
		return io.ErrClosedPipe
	}
	if off < 0 || off+int64(n) > int64(len(m.buf)) {
		return fmt.Errorf("segment access [%d, %d) outside %d bytes", off, off+int64(n), len(m.buf))
	}
	return nil
}

// Corrupt overwrites raw bytes, bypassing the record codec. It exists so
// tests and the driver simulator can inject damaged records.
func (m *MemorySegment) Corrupt(off int64, p []byte) {
	m.mu.Lock()
	copy(m.buf[off:], p)
	m.mu.Unlock()
}
