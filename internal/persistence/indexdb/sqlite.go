// Package indexdb is a queryable SQLite read-model of the world's output: one row
// per published snapshot plus one row per applied control or admin override.
// The zstd JSONL logs stay the source of truth; the index may drop rows under load.
package indexdb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/Arnav-102/UrbanPulse/internal/sim/city"
	"github.com/Arnav-102/UrbanPulse/internal/sim/world"
)

type SQLiteIndex struct {
	db    *sqlx.DB
	runID string

	// mu guards sends on ch against Close.
	mu   sync.RWMutex
	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropSnapshot atomic.Uint64
	dropAudit    atomic.Uint64
	writeErrors  atomic.Uint64
}

type reqKind int

const (
	reqSnapshot reqKind = iota + 1
	reqAudit
	reqFlush
)

type req struct {
	kind reqKind

	snapshot SnapshotRow
	audit    ControlRow
	done     chan struct{}
}

// SnapshotRow is the stored summary of one tick. Ticks restart at 1 with every
// process, so rows are ordered by Seq and tagged with the RunID that wrote them.
type SnapshotRow struct {
	Seq       int64   `db:"seq" json:"seq"`
	RunID     string  `db:"run_id" json:"run_id"`
	Tick      int64   `db:"tick" json:"tick"`
	Timestamp float64 `db:"ts" json:"timestamp"`
	Hour      float64 `db:"hour" json:"simulated_hour"`
	Weather   string  `db:"weather" json:"weather"`
	Health    float64 `db:"health" json:"city_health_score"`
	Digest    string  `db:"digest" json:"digest"`
	RawJSON   string  `db:"raw_json" json:"-"`
}

// Snapshot decodes the full snapshot stored with the row.
func (r SnapshotRow) Snapshot() (city.Snapshot, error) {
	var s city.Snapshot
	err := json.Unmarshal([]byte(r.RawJSON), &s)
	return s, err
}

type ControlRow struct {
	Seq       int64   `db:"seq" json:"seq"`
	RunID     string  `db:"run_id" json:"run_id"`
	Tick      int64   `db:"tick" json:"tick"`
	RequestID string  `db:"request_id" json:"request_id,omitempty"`
	Kind      string  `db:"kind" json:"kind"`
	District  string  `db:"district" json:"district,omitempty"`
	Action    string  `db:"action" json:"action,omitempty"`
	Weather   string  `db:"weather" json:"weather,omitempty"`
	Hour      float64 `db:"hour" json:"hour"`
	Expires   float64 `db:"expires" json:"expires_at_hour,omitempty"`
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	DropAuditTotal    uint64 `json:"drop_audit_total"`
	WriteErrorTotal   uint64 `json:"write_error_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:    db,
		runID: uuid.NewString(),
		ch:    make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sqlx.DB) error {
	// Files written before rows carried a run id keyed snapshots on tick alone.
	// The index is a rebuildable read-model, so those tables are dropped.
	for _, table := range []string{"snapshots", "controls"} {
		legacy, err := missingColumn(db, table, "run_id")
		if err != nil {
			return err
		}
		if legacy {
			if _, err := db.Exec(`DROP TABLE ` + table); err != nil {
				return err
			}
		}
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			ts REAL NOT NULL,
			hour REAL NOT NULL,
			weather TEXT NOT NULL,
			health REAL NOT NULL,
			digest TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS controls (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			district TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL DEFAULT '',
			weather TEXT NOT NULL DEFAULT '',
			hour REAL NOT NULL,
			expires REAL NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_tick ON snapshots(tick);`,
		`CREATE INDEX IF NOT EXISTS idx_controls_district_tick ON controls(district, tick);`,
	}
	for _, st := range stmts {
		if _, err := db.Exec(st); err != nil {
			return err
		}
	}
	return nil
}

// missingColumn reports whether table exists but lacks column.
func missingColumn(db *sqlx.DB, table, column string) (bool, error) {
	var cols []struct {
		CID     int     `db:"cid"`
		Name    string  `db:"name"`
		Type    string  `db:"type"`
		NotNull int     `db:"notnull"`
		Default *string `db:"dflt_value"`
		PK      int     `db:"pk"`
	}
	if err := db.Select(&cols, `PRAGMA table_info(`+table+`)`); err != nil {
		return false, err
	}
	if len(cols) == 0 {
		return false, nil
	}
	for _, c := range cols {
		if c.Name == column {
			return false, nil
		}
	}
	return true, nil
}

// RunID identifies the rows written by this process.
func (s *SQLiteIndex) RunID() string { return s.runID }

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordSnapshot implements world.SnapshotSink. It never blocks the caller.
func (s *SQLiteIndex) RecordSnapshot(snap city.Snapshot) {
	if s == nil || s.closed.Load() {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		s.writeErrors.Add(1)
		return
	}
	row := SnapshotRow{
		RunID:     s.runID,
		Tick:      int64(snap.Tick),
		Timestamp: snap.Timestamp,
		Hour:      snap.SimulatedHour,
		Weather:   string(snap.Weather),
		Health:    snap.CityHealthScore,
		Digest:    snap.Digest(),
		RawJSON:   string(raw),
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: row}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropSnapshot.Add(1)
	}
}

// WriteAudit implements world.AuditLogger.
func (s *SQLiteIndex) WriteAudit(entry world.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	row := ControlRow{
		RunID:     s.runID,
		Tick:      int64(entry.Tick),
		RequestID: entry.RequestID,
		Kind:      entry.Op.Kind,
		District:  entry.Op.District,
		Action:    entry.Op.Action,
		Weather:   entry.Op.Weather,
		Hour:      entry.Hour,
		Expires:   entry.Expires,
	}
	if entry.Op.Kind == world.OpHour {
		row.Hour = entry.Op.Hour
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: row}:
	default:
		s.dropAudit.Add(1)
	}
	return nil
}

// Flush waits until everything queued before the call is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	s.mu.RLock()
	if s.closed.Load() {
		s.mu.RUnlock()
		return nil
	}
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		DropAuditTotal:    s.dropAudit.Load(),
		WriteErrorTotal:   s.writeErrors.Load(),
	}
}

// Recent returns up to limit snapshot rows, newest first.
func (s *SQLiteIndex) Recent(ctx context.Context, limit int) ([]SnapshotRow, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []SnapshotRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT seq, run_id, tick, ts, hour, weather, health, digest, raw_json FROM snapshots ORDER BY seq DESC LIMIT ?`, limit)
	return rows, err
}

// SnapshotAt returns the most recently written row for tick, whichever run
// wrote it.
func (s *SQLiteIndex) SnapshotAt(ctx context.Context, tick uint64) (SnapshotRow, error) {
	var row SnapshotRow
	err := s.db.GetContext(ctx, &row,
		`SELECT seq, run_id, tick, ts, hour, weather, health, digest, raw_json FROM snapshots WHERE tick = ? ORDER BY seq DESC LIMIT 1`, int64(tick))
	return row, err
}

// Controls returns up to limit control/admin rows, newest first. An empty
// district matches every row.
func (s *SQLiteIndex) Controls(ctx context.Context, district string, limit int) ([]ControlRow, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []ControlRow
	q := `SELECT seq, run_id, tick, request_id, kind, district, action, weather, hour, expires FROM controls`
	args := []any{}
	if district != "" {
		q += ` WHERE district = ?`
		args = append(args, district)
	}
	q += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)
	err := s.db.SelectContext(ctx, &rows, q, args...)
	return rows, err
}

func (s *SQLiteIndex) loop() {
	var (
		tx            *sqlx.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 200
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.Beginx()
		if err != nil {
			s.writeErrors.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		s.writeErrors.Add(1)
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqSnapshot:
			if _, err := tx.NamedExec(`INSERT INTO snapshots(run_id,tick,ts,hour,weather,health,digest,raw_json)
				VALUES(:run_id,:tick,:ts,:hour,:weather,:health,:digest,:raw_json)`, r.snapshot); err != nil {
				rollback()
				continue
			}
			opCount++
		case reqAudit:
			if _, err := tx.NamedExec(`INSERT INTO controls(run_id,tick,request_id,kind,district,action,weather,hour,expires)
				VALUES(:run_id,:tick,:request_id,:kind,:district,:action,:weather,:hour,:expires)`, r.audit); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
