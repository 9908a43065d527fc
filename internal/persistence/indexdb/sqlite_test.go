package indexdb

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/Arnav-102/UrbanPulse/internal/sim/city"
	"github.com/Arnav-102/UrbanPulse/internal/sim/forecast"
	"github.com/Arnav-102/UrbanPulse/internal/sim/world"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqSnapshot}

	s.RecordSnapshot(city.Snapshot{Tick: 2})
	_ = s.WriteAudit(world.AuditEntry{Tick: 2})

	st := s.Stats()
	if st.DropSnapshotTotal != 1 {
		t.Fatalf("DropSnapshotTotal=%d want=1", st.DropSnapshotTotal)
	}
	if st.DropAuditTotal != 1 {
		t.Fatalf("DropAuditTotal=%d want=1", st.DropAuditTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_RecentAndControls(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index", "urbanpulse.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()

	state, err := city.NewState(city.Config{StartHour: 6}, forecast.Curve{}, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	var last city.Snapshot
	for i := 0; i < 5; i++ {
		if i == 2 {
			it := state.Apply("Downtown", city.OptimizeTraffic)
			_ = idx.WriteAudit(world.AuditEntry{
				Tick:      state.TickCount(),
				RequestID: "req-1",
				Op:        world.Op{Kind: world.OpControl, District: "Downtown", Action: string(city.OptimizeTraffic)},
				Hour:      state.Clock().Hour,
				Expires:   it.ExpiresAtHour,
			})
		}
		last, err = state.Tick(time.Unix(int64(1000+i), 0))
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
		idx.RecordSnapshot(last)
	}
	_ = idx.WriteAudit(world.AuditEntry{Tick: 5, Op: world.Op{Kind: world.OpHour, Hour: 18}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	rows, err := idx.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 3 || rows[0].Tick != 5 || rows[2].Tick != 3 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if rows[0].Digest != last.Digest() {
		t.Fatalf("digest mismatch")
	}
	snap, err := rows[0].Snapshot()
	if err != nil {
		t.Fatalf("decode raw snapshot: %v", err)
	}
	if len(snap.Districts) != 4 || snap.SimulatedHour != last.SimulatedHour {
		t.Fatalf("raw snapshot mismatch: %+v", snap)
	}

	at, err := idx.SnapshotAt(ctx, 1)
	if err != nil || at.Tick != 1 || at.Timestamp != 1000 {
		t.Fatalf("SnapshotAt: %+v %v", at, err)
	}

	all, err := idx.Controls(ctx, "", 10)
	if err != nil {
		t.Fatalf("Controls: %v", err)
	}
	if len(all) != 2 || all[0].Kind != world.OpHour || all[0].Hour != 18 {
		t.Fatalf("unexpected controls: %+v", all)
	}
	dt, err := idx.Controls(ctx, "Downtown", 10)
	if err != nil || len(dt) != 1 || dt[0].RequestID != "req-1" || dt[0].Action != "OPTIMIZE_TRAFFIC" {
		t.Fatalf("district filter: %+v %v", dt, err)
	}
}

func TestSQLiteIndex_ClosedIsNoop(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "x.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	idx.RecordSnapshot(city.Snapshot{Tick: 1})
	if err := idx.WriteAudit(world.AuditEntry{}); err != nil {
		t.Fatalf("WriteAudit after close: %v", err)
	}
	if err := idx.Flush(context.Background()); err != nil {
		t.Fatalf("Flush after close: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func recordTicks(t *testing.T, idx *SQLiteIndex, seed int64, n int) {
	t.Helper()
	state, err := city.NewState(city.Config{StartHour: 6}, forecast.Curve{}, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	for i := 0; i < n; i++ {
		snap, err := state.Tick(time.Unix(int64(2000+i), 0))
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
		idx.RecordSnapshot(snap)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestSQLiteIndex_ReopenKeepsNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.sqlite")

	first, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	recordTicks(t, first, 1, 6)
	firstRun := first.RunID()
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	if second.RunID() == firstRun || second.RunID() == "" {
		t.Fatalf("run id not fresh: %q vs %q", second.RunID(), firstRun)
	}
	recordTicks(t, second, 2, 2)

	ctx := context.Background()
	rows, err := second.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows=%d want 3", len(rows))
	}
	if rows[0].Tick != 2 || rows[1].Tick != 1 || rows[2].Tick != 6 {
		t.Fatalf("order by tick leaked across runs: %d %d %d", rows[0].Tick, rows[1].Tick, rows[2].Tick)
	}
	if rows[0].RunID != second.RunID() || rows[1].RunID != second.RunID() || rows[2].RunID != firstRun {
		t.Fatalf("run ids: %+v", rows)
	}
	if !(rows[0].Seq > rows[1].Seq && rows[1].Seq > rows[2].Seq) {
		t.Fatalf("seq not descending: %d %d %d", rows[0].Seq, rows[1].Seq, rows[2].Seq)
	}

	at, err := second.SnapshotAt(ctx, 1)
	if err != nil || at.RunID != second.RunID() {
		t.Fatalf("SnapshotAt should return the latest run's tick: %+v %v", at, err)
	}
	old, err := second.SnapshotAt(ctx, 6)
	if err != nil || old.RunID != firstRun {
		t.Fatalf("SnapshotAt(6): %+v %v", old, err)
	}
}
