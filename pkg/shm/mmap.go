//go:build unix

package shm

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/fenghuanghao1986/NAO-engine/pkg/errcode"
)

// MappedSegment is a Segment backed by a shared file mapping, typically a
// file under /dev/shm that the driver process maps as well.
type MappedSegment struct {
	f    *os.File
	data []byte
}

// OpenMapped maps path read-write, creating it and growing it to size bytes
// when needed.
func OpenMapped(path string, size int) (*MappedSegment, error) {
	return openMapped(path, size, os.O_RDWR|os.O_CREATE)
}

// MapExisting maps a file another process created. The file must already
// hold size bytes.
func MapExisting(path string, size int) (*MappedSegment, error) {
	return openMapped(path, size, os.O_RDWR)
}

func openMapped(path string, size, flag int) (*MappedSegment, error) {
	f, err := os.OpenFile(path, flag, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat segment: %w", err)
	}
	if st.Size() < int64(size) {
		if flag&os.O_CREATE == 0 {
			f.Close()
			return nil, errcode.New(errcode.LayoutMismatch, "map segment", "",
				fmt.Sprintf("%s holds %d bytes, need %d", path, st.Size(), size))
		}
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("grow segment: %w", err)
		}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap segment: %w", err)
	}
	return &MappedSegment{f: f, data: data}, nil
}

func (m *MappedSegment) Size() int64 { return int64(len(m.data)) }

func (m *MappedSegment) ReadAt(p []byte, off int64) (int, error) {
	if m.data == nil {
		return 0, io.ErrClosedPipe
	}
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("segment read [%d, %d) outside %d bytes", off, off+int64(len(p)), len(m.data))
	}
	return copy(p, m.data[off:]), nil
}

func (m *MappedSegment) WriteAt(p []byte, off int64) (int, error) {
	if m.data == nil {
		return 0, io.ErrClosedPipe
	}
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("segment write [%d, %d) outside %d bytes", off, off+int64(len(p)), len(m.data))
	}
	return copy(m.data[off:], p), nil
}

// Close unmaps the segment. The backing file stays for the other process.
func (m *MappedSegment) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}
