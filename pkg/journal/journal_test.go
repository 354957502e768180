package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ilog "github.com/fenghuanghao1986/NAO-engine/internal/log"
	"github.com/fenghuanghao1986/NAO-engine/pkg/control"
	"github.com/fenghuanghao1986/NAO-engine/pkg/errcode"
	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
	"github.com/fenghuanghao1986/NAO-engine/pkg/intent"
	"github.com/fenghuanghao1986/NAO-engine/pkg/shm"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "frames.db"), ilog.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, j.Close()) })
	return j
}

func testFrame(seq uint64) control.FrameResult {
	return control.FrameResult{
		ID:       xid.New(),
		Seq:      seq,
		Start:    time.UnixMilli(1_700_000_000_000 + int64(seq)),
		Duration: 250 * time.Microsecond,
		OK:       true,
		Intents: []intent.Result{
			{Component: "head.yaw", Kind: intent.Write, Status: hw.Accepted},
		},
		Pushed: []string{"head.yaw"},
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(" ", nil)
	assert.Error(t, err)
}

func TestRecordAndRecent(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	ok := testFrame(1)
	bad := testFrame(2)
	bad.OK = false
	bad.Intents = append(bad.Intents, intent.Result{
		Component: "tail.wag", Kind: intent.Write, Status: hw.Rejected,
		Err: errcode.New(errcode.UnknownComponent, "write", "tail.wag", "no setter"),
	})
	bad.Failures = []shm.Failure{{Code: errcode.LockTimeout, Err: errors.New("timed out")}}

	require.NoError(t, j.Record(ctx, ok))
	require.NoError(t, j.Record(ctx, bad))

	got, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, bad.ID.String(), got[0].ID, "newest first")
	assert.False(t, got[0].OK)
	assert.Equal(t, 2, got[0].Intents)
	assert.Equal(t, 1, got[0].Rejected)
	require.Len(t, got[0].Failures, 2)
	assert.Equal(t, Failure{Source: "intent", Component: "tail.wag", Code: "unknown_component",
		Message: bad.Intents[1].Err.Error()}, got[0].Failures[0])
	assert.Equal(t, "sync", got[0].Failures[1].Source)
	assert.Equal(t, string(errcode.LockTimeout), got[0].Failures[1].Code)

	assert.True(t, got[1].OK)
	assert.Empty(t, got[1].Failures)
	assert.Equal(t, ok.Start.UTC(), got[1].Start)
	assert.Equal(t, 250*time.Microsecond, got[1].Duration)
	assert.Equal(t, 1, got[1].Pushed)

	limited, err := j.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordRejectsDuplicateFrame(t *testing.T) {
	j := openJournal(t)
	fr := testFrame(1)
	require.NoError(t, j.Record(context.Background(), fr))
	assert.Error(t, j.Record(context.Background(), fr))
}

func TestObserveFrameFlushesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.db")
	j, err := Open(path, ilog.Discard())
	require.NoError(t, err)

	for i := uint64(1); i <= 5; i++ {
		j.ObserveFrame(testFrame(i))
	}
	j.ObserveFrame(control.FrameResult{ID: xid.New(), Seq: 6, OK: true}) // idle
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
	j.ObserveFrame(testFrame(7)) // after close: ignored

	j, err = Open(path, ilog.Discard())
	require.NoError(t, err)
	defer j.Close()
	got, err := j.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, uint64(5), got[0].Seq)
	assert.Zero(t, j.Dropped())
}
