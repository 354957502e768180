package shm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/fenghuanghao1986/NAO-engine/pkg/errcode"
	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
)

// Record is one decoded component record. Value is nil until the record
// has been written at least once (Revision 0).
type Record struct {
	Name     string
	Value    hw.Value
	Revision uint32
}

// Table addresses the records of a segment by component name. Slots are
// assigned in name order, so both processes derive the same layout from the
// same component set. Callers hold the lock around every access.
type Table struct {
	seg   Segment
	names []string
	index map[string]int
	gen   uint32
}

// Attach formats a blank segment for names, or verifies that an already
// formatted one carries exactly these names.
func Attach(seg Segment, names []string) (*Table, error) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	var hdr [HeaderSize]byte
	if _, err := seg.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if hdr == ([HeaderSize]byte{}) {
		return format(seg, sorted, 1)
	}

	t, err := Discover(seg)
	if err != nil {
		return nil, err
	}
	if err := t.matches(sorted); err != nil {
		return nil, err
	}
	return t, nil
}

// Claim is Attach for the process that owns the layout. A segment
// formatted for other names, or not readable as a segment at all, is
// reformatted under the next generation; every record starts unwritten.
// Peers holding the old layout see it through Check.
func Claim(seg Segment, names []string) (*Table, error) {
	t, err := Attach(seg, names)
	if !errcode.Is(err, errcode.LayoutMismatch) {
		return t, err
	}

	var gen [4]byte
	if _, rerr := seg.ReadAt(gen[:], offGeneration); rerr != nil {
		return nil, fmt.Errorf("read generation: %w", rerr)
	}
	// Drop the header first so nothing discovers a half-written layout.
	if _, werr := seg.WriteAt(make([]byte, HeaderSize), 0); werr != nil {
		return nil, fmt.Errorf("clear header: %w", werr)
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	next := binary.LittleEndian.Uint32(gen[:]) + 1
	if next == 0 {
		next = 1
	}
	return format(seg, sorted, next)
}

func (t *Table) matches(sorted []string) error {
	if len(t.names) != len(sorted) {
		return errcode.New(errcode.LayoutMismatch, "attach", "",
			fmt.Sprintf("segment has %d records, want %d", len(t.names), len(sorted)))
	}
	for i, n := range sorted {
		if t.names[i] != n {
			return errcode.New(errcode.LayoutMismatch, "attach", n,
				fmt.Sprintf("slot %d holds %q", i, t.names[i]))
		}
	}
	return nil
}

// Discover reads the layout a segment was formatted with.
func Discover(seg Segment) (*Table, error) {
	count, gen, err := readHeader(seg)
	if err != nil {
		return nil, err
	}
	if int64(SegmentSize(count)) > seg.Size() {
		return nil, errcode.New(errcode.LayoutMismatch, "discover", "",
			fmt.Sprintf("%d records need %d bytes, segment has %d", count, SegmentSize(count), seg.Size()))
	}

	t := &Table{seg: seg, names: make([]string, count), index: make(map[string]int, count), gen: gen}
	var name [NameSize]byte
	for i := 0; i < count; i++ {
		if _, err := seg.ReadAt(name[:], recordOffset(i)); err != nil {
			return nil, fmt.Errorf("read name %d: %w", i, err)
		}
		t.names[i] = decodeName(name[:])
		t.index[t.names[i]] = i
	}
	return t, nil
}

// readHeader validates the header and returns the record count and the
// layout generation.
func readHeader(seg Segment) (int, uint32, error) {
	var hdr [HeaderSize]byte
	if _, err := seg.ReadAt(hdr[:], 0); err != nil {
		return 0, 0, fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(hdr[0:4], magic[:]) {
		return 0, 0, errcode.New(errcode.LayoutMismatch, "discover", "", "bad magic")
	}
	if v := binary.LittleEndian.Uint16(hdr[4:]); v != Version {
		return 0, 0, errcode.New(errcode.LayoutMismatch, "discover", "", fmt.Sprintf("version %d, want %d", v, Version))
	}
	if rs := binary.LittleEndian.Uint32(hdr[8:]); rs != RecordSize {
		return 0, 0, errcode.New(errcode.LayoutMismatch, "discover", "", fmt.Sprintf("record size %d, want %d", rs, RecordSize))
	}
	return int(binary.LittleEndian.Uint16(hdr[6:])), binary.LittleEndian.Uint32(hdr[offGeneration:]), nil
}

func format(seg Segment, sorted []string, gen uint32) (*Table, error) {
	if len(sorted) > 0xFFFF {
		return nil, fmt.Errorf("too many components: %d", len(sorted))
	}
	if int64(SegmentSize(len(sorted))) > seg.Size() {
		return nil, fmt.Errorf("segment of %d bytes cannot hold %d records", seg.Size(), len(sorted))
	}

	t := &Table{seg: seg, names: sorted, index: make(map[string]int, len(sorted)), gen: gen}
	rec := make([]byte, RecordSize)
	for i, n := range sorted {
		if _, dup := t.index[n]; dup {
			return nil, fmt.Errorf("duplicate component %q", n)
		}
		name, err := encodeName(n)
		if err != nil {
			return nil, err
		}
		clear(rec)
		copy(rec, name[:])
		if _, err := seg.WriteAt(rec, recordOffset(i)); err != nil {
			return nil, fmt.Errorf("write record %d: %w", i, err)
		}
		t.index[n] = i
	}

	// The header goes last so a reader never sees a valid header over
	// unwritten records.
	var hdr [HeaderSize]byte
	copy(hdr[0:4], magic[:])
	binary.LittleEndian.PutUint16(hdr[4:], Version)
	binary.LittleEndian.PutUint16(hdr[6:], uint16(len(sorted)))
	binary.LittleEndian.PutUint32(hdr[8:], RecordSize)
	binary.LittleEndian.PutUint32(hdr[offGeneration:], gen)
	if _, err := seg.WriteAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return t, nil
}

// Generation is the layout generation the table was built from.
func (t *Table) Generation() uint32 { return t.gen }

// Check reports LayoutMismatch once the segment has been reformatted
// since the table was built.
func (t *Table) Check() error {
	count, gen, err := readHeader(t.seg)
	if err != nil {
		return err
	}
	if gen != t.gen || count != len(t.names) {
		return errcode.New(errcode.LayoutMismatch, "check", "",
			fmt.Sprintf("segment now generation %d with %d records, table has generation %d", gen, count, t.gen))
	}
	return nil
}

// Names returns the component in each slot.
func (t *Table) Names() []string { return t.names }

// Slot returns the slot of a component.
func (t *Table) Slot(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Revision reads a slot's revision counter.
func (t *Table) Revision(slot int) (uint32, error) {
	var b [4]byte
	if _, err := t.seg.ReadAt(b[:], recordOffset(slot)+offRevision); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// Read decodes a slot. Damage is reported as CorruptRecord.
func (t *Table) Read(slot int) (Record, error) {
	if slot < 0 || slot >= len(t.names) {
		return Record{}, fmt.Errorf("slot %d out of range", slot)
	}
	buf := make([]byte, RecordSize)
	if _, err := t.seg.ReadAt(buf, recordOffset(slot)); err != nil {
		return Record{}, err
	}
	rec := Record{
		Name:     t.names[slot],
		Revision: binary.LittleEndian.Uint32(buf[offRevision:]),
	}
	if rec.Revision == 0 {
		return rec, nil
	}

	tag := buf[offTag]
	payload := buf[offPayload:offCRC]
	if got, want := binary.LittleEndian.Uint32(buf[offCRC:]), checksum(tag, payload); got != want {
		return rec, errcode.New(errcode.CorruptRecord, "read", rec.Name, fmt.Sprintf("checksum %08x, want %08x", got, want))
	}
	v, err := decodePayload(hw.Shape(tag), payload)
	if err != nil {
		return rec, &errcode.E{C: errcode.CorruptRecord, Op: "read", Component: rec.Name, Err: err}
	}
	rec.Value = v
	return rec, nil
}

// Write encodes a value into its slot and advances the revision, which it
// returns. Revision 0 is reserved for never-written records.
func (t *Table) Write(slot int, v hw.Value) (uint32, error) {
	if slot < 0 || slot >= len(t.names) {
		return 0, fmt.Errorf("slot %d out of range", slot)
	}
	payload, err := encodePayload(v)
	if err != nil {
		return 0, &errcode.E{C: errcode.CorruptRecord, Op: "write", Component: t.names[slot], Err: err}
	}
	rev, err := t.Revision(slot)
	if err != nil {
		return 0, err
	}
	rev++
	if rev == 0 {
		rev = 1
	}

	body := make([]byte, RecordSize-offTag)
	tag := byte(v.Shape())
	body[0] = tag
	copy(body[offPayload-offTag:], payload[:])
	binary.LittleEndian.PutUint32(body[offCRC-offTag:], checksum(tag, payload[:]))
	binary.LittleEndian.PutUint32(body[offRevision-offTag:], rev)
	if _, err := t.seg.WriteAt(body, recordOffset(slot)+offTag); err != nil {
		return 0, err
	}
	return rev, nil
}
