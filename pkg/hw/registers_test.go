package hw

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenghuanghao1986/NAO-engine/pkg/errcode"
)

func newTestRegisters(t *testing.T) *Registers {
	t.Helper()
	bt := NewBoundTable()
	require.NoError(t, bt.Set("head.yaw", BoundList{{Min: -2, Max: 2}}))
	require.NoError(t, bt.Set("larm.shoulder", BoundList{{Min: -2.0857, Max: 2.0857}, {Min: -0.3142, Max: 1.3265}}))
	require.NoError(t, bt.Set("eyes", BoundList{{Min: 0, Max: 4}, {Min: 0, Max: 4}}))

	r := NewRegisters(bt)
	require.NoError(t, r.Register("head.yaw", Scalar(0)))
	require.NoError(t, r.Register("larm.shoulder", Pair{}))
	require.NoError(t, r.Register("eyes", LedMap{"left": LEDOff, "right": LEDOff}))
	require.NoError(t, r.Register("system.version", Text("2.1.4")))
	return r
}

func TestRegisters_Write(t *testing.T) {
	tests := []struct {
		name      string
		component string
		degree    int
		value     float64
		status    Status
		applied   float64
		code      errcode.Code
	}{
		{"in range", "head.yaw", 0, 1.0, Accepted, 1.0, errcode.OK},
		{"above max clamps", "head.yaw", 0, 3.0, Clamped, 2.0, errcode.OutOfBoundsClamped},
		{"below min clamps", "head.yaw", 0, -7, Clamped, -2.0, errcode.OutOfBoundsClamped},
		{"exact bound", "head.yaw", 0, 2.0, Accepted, 2.0, errcode.OK},
		{"pair second degree", "larm.shoulder", 1, 2.0, Clamped, 1.3265, errcode.OutOfBoundsClamped},
		{"unknown component", "tail.wag", 0, 1, Rejected, 0, errcode.UnknownComponent},
		{"degree out of range", "head.yaw", 1, 1, Rejected, 0, errcode.UnknownDegree},
		{"negative degree", "larm.shoulder", -1, 1, Rejected, 0, errcode.UnknownDegree},
		{"text has no degrees", "system.version", 0, 1, Rejected, 0, errcode.UnknownDegree},
		{"NaN rejected", "head.yaw", 0, math.NaN(), Rejected, 0, errcode.InvalidValue},
		{"led rounds", "eyes", 1, 2.4, Accepted, 2, errcode.OK},
		{"led clamps", "eyes", 0, 9, Clamped, 4, errcode.OutOfBoundsClamped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegisters(t)
			res := r.Write(tt.component, tt.degree, tt.value)
			assert.Equal(t, tt.status, res.Status)
			assert.InDelta(t, tt.applied, res.Applied, 1e-9)
			assert.Equal(t, tt.code, errcode.Of(res.Err))
			assert.Equal(t, tt.status != Rejected, r.IsDirty(tt.component))
		})
	}
}

func TestRegisters_WriteVisibleToRead(t *testing.T) {
	r := newTestRegisters(t)

	r.Write("larm.shoulder", 0, 0.5)
	r.Write("larm.shoulder", 1, 0.25)
	v, err := r.Read("larm.shoulder")
	require.NoError(t, err)
	assert.Equal(t, Pair{A: 0.5, B: 0.25}, v)

	r.Write("eyes", 1, float64(LEDBlue))
	v, err = r.Read("eyes")
	require.NoError(t, err)
	assert.Equal(t, LedMap{"left": LEDOff, "right": LEDBlue}, v)
}

func TestRegisters_ReadIsACopy(t *testing.T) {
	r := newTestRegisters(t)
	v, err := r.Read("eyes")
	require.NoError(t, err)
	v.(LedMap)["left"] = LEDRed

	again, _ := r.Read("eyes")
	assert.Equal(t, LEDOff, again.(LedMap)["left"])
}

func TestRegisters_ReadUnknown(t *testing.T) {
	r := newTestRegisters(t)
	_, err := r.Read("nope")
	assert.True(t, errcode.Is(err, errcode.UnknownComponent))
}

func TestRegisters_ShapeIsFixed(t *testing.T) {
	r := newTestRegisters(t)
	assert.Error(t, r.Register("head.yaw", Pair{}))
	assert.NoError(t, r.Register("head.yaw", Scalar(1.5)))

	v, _ := r.Read("head.yaw")
	assert.Equal(t, Scalar(0), v, "re-registering keeps the live value")

	err := r.Store("head.yaw", Text("x"))
	assert.True(t, errcode.Is(err, errcode.CorruptRecord))
}

func TestRegisters_StoreDoesNotDirty(t *testing.T) {
	r := newTestRegisters(t)
	require.NoError(t, r.Store("head.yaw", Scalar(0.3)))
	assert.Empty(t, r.Dirty())

	r.Write("head.yaw", 0, 0.1)
	r.Write("larm.shoulder", 0, 0.1)
	assert.Equal(t, []string{"head.yaw", "larm.shoulder"}, r.Dirty())
	r.ClearDirty("head.yaw")
	assert.Equal(t, []string{"larm.shoulder"}, r.Dirty())
}

func TestBoundTable(t *testing.T) {
	bt := NewBoundTable()
	assert.Error(t, bt.Set("bad", BoundList{{Min: 1, Max: 0}}))
	require.NoError(t, bt.Set("b", BoundList{{Min: 0, Max: 1.5}}))
	require.NoError(t, bt.Set("a", BoundList{{Min: -2, Max: 2}}))

	b, ok := bt.Lookup("b", 0)
	assert.True(t, ok)
	assert.True(t, b.Contains(1.5))
	assert.False(t, b.Contains(1.6))
	_, ok = bt.Lookup("b", 1)
	assert.False(t, ok)

	assert.Equal(t, "a [-2,2]\nb [0,1.5]\n", bt.String())
}

func TestEqualAndClone(t *testing.T) {
	values := []Value{Scalar(1), Pair{1, 2}, Text("hi"), LedMap{"a": LEDRed}}
	for _, v := range values {
		assert.True(t, Equal(v, Clone(v)), v.Shape().String())
	}
	assert.False(t, Equal(Scalar(1), Pair{1, 0}))
	assert.False(t, Equal(LedMap{"a": LEDRed}, LedMap{"a": LEDBlue}))
	assert.Equal(t, "{a:red b:off}", Format(LedMap{"b": LEDOff, "a": LEDRed}))
}
