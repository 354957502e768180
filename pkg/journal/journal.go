// Package journal keeps a sqlite record of control frames that did
// something: applied intents, pushed or pulled records, or failed.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fenghuanghao1986/NAO-engine/internal/log"
	"github.com/fenghuanghao1986/NAO-engine/pkg/control"
)

// DefaultBuffer is how many frames may wait for the writer before new ones
// are dropped.
const DefaultBuffer = 256

const schema = `
CREATE TABLE IF NOT EXISTS frames (
    id          TEXT PRIMARY KEY,
    seq         INTEGER NOT NULL,
    started_at  INTEGER NOT NULL,
    duration_us INTEGER NOT NULL,
    ok          INTEGER NOT NULL,
    intents     INTEGER NOT NULL,
    rejected    INTEGER NOT NULL,
    pushed      INTEGER NOT NULL,
    pulled      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS frames_seq ON frames (seq);
CREATE TABLE IF NOT EXISTS failures (
    frame_id  TEXT NOT NULL REFERENCES frames (id),
    source    TEXT NOT NULL,
    component TEXT NOT NULL,
    code      TEXT NOT NULL,
    message   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS failures_frame ON failures (frame_id);
`

// Failure is one journaled intent or sync failure.
type Failure struct {
	Source    string `json:"source"` // "intent" or "sync"
	Component string `json:"component"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Entry is one journaled frame.
type Entry struct {
	ID       string        `json:"id"`
	Seq      uint64        `json:"seq"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	OK       bool          `json:"ok"`
	Intents  int           `json:"intents"`
	Rejected int           `json:"rejected"`
	Pushed   int           `json:"pushed"`
	Pulled   int           `json:"pulled"`
	Failures []Failure     `json:"failures,omitempty"`
}

// Journal writes frames on its own goroutine. It is a control.Observer.
type Journal struct {
	db      *sql.DB
	logger  *slog.Logger
	frames  chan control.FrameResult
	wg      sync.WaitGroup
	mu      sync.RWMutex // guards closed against ObserveFrame
	closed  bool
	dropped atomic.Uint64
}

// Open opens or creates the journal database at path.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	j := &Journal{
		db:     db,
		logger: log.Or(logger).With("component", "journal"),
		frames: make(chan control.FrameResult, DefaultBuffer),
	}
	j.wg.Add(1)
	go j.run()
	return j, nil
}

// ObserveFrame queues a frame for writing. Idle frames are skipped, and
// frames are dropped rather than waited for when the writer falls behind.
func (j *Journal) ObserveFrame(fr control.FrameResult) {
	if idle(fr) {
		return
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.frames <- fr:
	default:
		if j.dropped.Add(1)%100 == 1 {
			j.logger.Warn("journal behind, dropping frames", "dropped", j.dropped.Load())
		}
	}
}

// Dropped returns how many frames were not journaled.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

func idle(fr control.FrameResult) bool {
	return fr.OK && len(fr.Intents) == 0 && len(fr.Pushed) == 0 && len(fr.Pulled) == 0
}

func (j *Journal) run() {
	defer j.wg.Done()
	for fr := range j.frames {
		if err := j.Record(context.Background(), fr); err != nil {
			j.logger.Error("record frame", "frame", fr.ID.String(), "error", err)
		}
	}
}

// Record writes one frame and its failures.
func (j *Journal) Record(ctx context.Context, fr control.FrameResult) (err error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ok := 0
	if fr.OK {
		ok = 1
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO frames (id, seq, started_at, duration_us, ok, intents, rejected, pushed, pulled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fr.ID.String(), int64(fr.Seq), fr.Start.UTC().UnixMilli(), fr.Duration.Microseconds(), ok,
		len(fr.Intents), fr.Rejected(), len(fr.Pushed), len(fr.Pulled),
	)
	if err != nil {
		return fmt.Errorf("insert frame: %w", err)
	}

	for _, f := range failures(fr) {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO failures (frame_id, source, component, code, message) VALUES (?, ?, ?, ?, ?)`,
			fr.ID.String(), f.Source, f.Component, f.Code, f.Message,
		)
		if err != nil {
			return fmt.Errorf("insert failure: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func failures(fr control.FrameResult) []Failure {
	var out []Failure
	for _, r := range fr.Intents {
		if r.OK() {
			continue
		}
		out = append(out, Failure{Source: "intent", Component: r.Component, Code: string(r.Code()), Message: errString(r.Err)})
	}
	for _, f := range fr.Failures {
		out = append(out, Failure{Source: "sync", Component: f.Component, Code: string(f.Code), Message: errString(f.Err)})
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Recent returns up to limit frames, newest first, with their failures.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, seq, started_at, duration_us, ok, intents, rejected, pushed, pulled
		 FROM frames ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                   Entry
			seq, startMs, durUs int64
			ok                  int64
		)
		if err := rows.Scan(&e.ID, &seq, &startMs, &durUs, &ok, &e.Intents, &e.Rejected, &e.Pushed, &e.Pulled); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		e.Seq = uint64(seq)
		e.Start = time.UnixMilli(startMs).UTC()
		e.Duration = time.Duration(durUs) * time.Microsecond
		e.OK = ok != 0
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frames: %w", err)
	}

	for i := range out {
		if out[i].Failures, err = j.failuresOf(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (j *Journal) failuresOf(ctx context.Context, frameID string) ([]Failure, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT source, component, code, message FROM failures WHERE frame_id = ? ORDER BY rowid`, frameID)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.Source, &f.Component, &f.Code, &f.Message); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Close stops accepting frames, writes the ones already queued and closes
// the database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.frames)
	j.mu.Unlock()

	j.wg.Wait()
	return j.db.Close()
}

var _ control.Observer = (*Journal)(nil)
