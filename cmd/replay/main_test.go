package main

import (
	"strings"
	"testing"

	persistlog "github.com/Arnav-102/UrbanPulse/internal/persistence/log"
	"github.com/Arnav-102/UrbanPulse/internal/sim/city"
	"github.com/Arnav-102/UrbanPulse/internal/sim/tuning"
	"github.com/Arnav-102/UrbanPulse/internal/sim/world"
)

func recordRun(t *testing.T, tune tuning.Tuning, ticks int) []world.TickLogEntry {
	t.Helper()
	dir := t.TempDir()
	w, err := world.NewFromTuning(tune, nil)
	if err != nil {
		t.Fatalf("NewFromTuning: %v", err)
	}
	tl := persistlog.NewTickLogger(dir)
	w.AddTickLogger(tl)
	for i := 0; i < ticks; i++ {
		switch i {
		case 2:
			_ = w.ApplyOp(world.Op{Kind: world.OpControl, District: "Downtown", Action: string(city.OptimizeTraffic)})
		case 5:
			_ = w.ApplyOp(world.Op{Kind: world.OpWeather, Weather: "Storm"})
			_ = w.ApplyOp(world.Op{Kind: world.OpControl, District: "Industrial District", Action: string(city.ResolveIncident)})
		case 11:
			_ = w.ApplyOp(world.Op{Kind: world.OpHour, Hour: 22})
		}
		if _, err := w.StepOnce(); err != nil {
			t.Fatalf("StepOnce: %v", err)
		}
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	entries, err := persistlog.ReadTicks(dir)
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(entries) != ticks {
		t.Fatalf("entries=%d want %d", len(entries), ticks)
	}
	return entries
}

func TestVerify_ReproducesRecordedRun(t *testing.T) {
	tune := tuning.Defaults()
	tune.Weather.ChangeProb = 0.3
	entries := recordRun(t, tune, 30)

	checked, err := verify(tune, entries, 0)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if checked != 30 {
		t.Fatalf("checked=%d want 30", checked)
	}

	checked, err = verify(tune, entries, 10)
	if err != nil || checked != 10 {
		t.Fatalf("to_tick: checked=%d err=%v", checked, err)
	}
}

func TestVerify_DetectsDivergence(t *testing.T) {
	tune := tuning.Defaults()
	entries := recordRun(t, tune, 8)

	tampered := append([]world.TickLogEntry(nil), entries...)
	tampered[4].Digest = "0000"
	if _, err := verify(tune, tampered, 0); err == nil || !strings.Contains(err.Error(), "tick 5") {
		t.Fatalf("expected mismatch at tick 5, got %v", err)
	}

	other := tune
	other.Seed = tune.Seed + 1
	if _, err := verify(other, entries, 0); err == nil {
		t.Fatalf("expected a different seed to diverge")
	}

	if _, err := verify(tune, entries[1:], 0); err == nil {
		t.Fatalf("expected gap error")
	}
}

func TestVerify_StopsAtRestart(t *testing.T) {
	tune := tuning.Defaults()
	first := recordRun(t, tune, 5)
	second := recordRun(t, tune, 3)

	checked, err := verify(tune, append(first, second...), 0)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if checked != 5 {
		t.Fatalf("checked=%d want 5", checked)
	}
}
