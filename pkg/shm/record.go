package shm

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
)

// Segment layout, little endian. Both processes must agree on every
// constant here; changing one means redeploying both.
//
//	header  [0,16):   magic "NAOS" | version u16 | count u16 | record size u32 | generation u32
//	record  [0,288):  name [32] | tag u8 | reserved [3] | payload [244] | crc32 u32 | revision u32
const (
	Version = 1

	HeaderSize  = 16
	RecordSize  = 288
	NameSize    = 32
	PayloadSize = 244

	offGeneration = 12

	offTag      = 32
	offPayload  = 36
	offCRC      = offPayload + PayloadSize
	offRevision = offCRC + 4

	// MaxText is the longest Text payload.
	MaxText = PayloadSize - 2
	// MaxLEDs and MaxLEDName bound an LedMap payload.
	MaxLEDs    = 15
	MaxLEDName = 14
	ledEntry   = 16
)

var magic = [4]byte{'N', 'A', 'O', 'S'}

// SegmentSize returns the bytes needed for n records.
func SegmentSize(n int) int {
	return HeaderSize + n*RecordSize
}

func recordOffset(slot int) int64 {
	return int64(HeaderSize + slot*RecordSize)
}

// encodePayload serializes a value into its union payload.
func encodePayload(v hw.Value) ([PayloadSize]byte, error) {
	var p [PayloadSize]byte
	switch x := v.(type) {
	case hw.Scalar:
		binary.LittleEndian.PutUint64(p[0:], math.Float64bits(float64(x)))
	case hw.Pair:
		binary.LittleEndian.PutUint64(p[0:], math.Float64bits(x.A))
		binary.LittleEndian.PutUint64(p[8:], math.Float64bits(x.B))
	case hw.Text:
		if len(x) > MaxText {
			return p, fmt.Errorf("text of %d bytes exceeds %d", len(x), MaxText)
		}
		binary.LittleEndian.PutUint16(p[0:], uint16(len(x)))
		copy(p[2:], x)
	case hw.LedMap:
		names := x.Names()
		if len(names) > MaxLEDs {
			return p, fmt.Errorf("%d leds exceed %d", len(names), MaxLEDs)
		}
		p[0] = byte(len(names))
		for i, n := range names {
			if n == "" || len(n) > MaxLEDName {
				return p, fmt.Errorf("led name %q must be 1..%d bytes", n, MaxLEDName)
			}
			e := p[1+i*ledEntry:]
			e[0] = byte(len(n))
			copy(e[1:1+MaxLEDName], n)
			e[ledEntry-1] = byte(x[n])
		}
	default:
		return p, fmt.Errorf("cannot encode %T", v)
	}
	return p, nil
}

// decodePayload is the inverse of encodePayload. Anything a well-behaved
// peer could not have written is an error.
func decodePayload(tag hw.Shape, p []byte) (hw.Value, error) {
	switch tag {
	case hw.ShapeScalar:
		f := math.Float64frombits(binary.LittleEndian.Uint64(p[0:]))
		if !finite(f) {
			return nil, fmt.Errorf("scalar is not finite")
		}
		return hw.Scalar(f), nil
	case hw.ShapePair:
		a := math.Float64frombits(binary.LittleEndian.Uint64(p[0:]))
		b := math.Float64frombits(binary.LittleEndian.Uint64(p[8:]))
		if !finite(a) || !finite(b) {
			return nil, fmt.Errorf("pair is not finite")
		}
		return hw.Pair{A: a, B: b}, nil
	case hw.ShapeText:
		n := int(binary.LittleEndian.Uint16(p[0:]))
		if n > MaxText {
			return nil, fmt.Errorf("text length %d exceeds %d", n, MaxText)
		}
		return hw.Text(p[2 : 2+n]), nil
	case hw.ShapeLedMap:
		n := int(p[0])
		if n > MaxLEDs {
			return nil, fmt.Errorf("led count %d exceeds %d", n, MaxLEDs)
		}
		m := make(hw.LedMap, n)
		for i := 0; i < n; i++ {
			e := p[1+i*ledEntry:]
			l := int(e[0])
			if l == 0 || l > MaxLEDName {
				return nil, fmt.Errorf("led %d name length %d", i, l)
			}
			st := hw.LEDState(e[ledEntry-1])
			if st > hw.MaxLEDState {
				return nil, fmt.Errorf("led %d state %d", i, st)
			}
			m[string(e[1:1+l])] = st
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown shape tag %d", uint8(tag))
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// checksum covers the tag and the payload.
func checksum(tag byte, payload []byte) uint32 {
	h := crc32.NewIEEE()
	h.Write([]byte{tag})
	h.Write(payload)
	return h.Sum32()
}

// encodeName pads a component name into the record name field.
func encodeName(name string) ([NameSize]byte, error) {
	var b [NameSize]byte
	if name == "" || len(name) > NameSize {
		return b, fmt.Errorf("component name %q must be 1..%d bytes", name, NameSize)
	}
	copy(b[:], name)
	return b, nil
}

func decodeName(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
