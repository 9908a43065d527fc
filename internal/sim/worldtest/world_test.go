package worldtest

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Arnav-102/UrbanPulse/internal/protocol"
	"github.com/Arnav-102/UrbanPulse/internal/sim/city"
	"github.com/Arnav-102/UrbanPulse/internal/sim/forecast"
	"github.com/Arnav-102/UrbanPulse/internal/sim/world"
)

func TestControl_OptimizeTrafficDowntown(t *testing.T) {
	h := NewHarness(t, Options{StartHour: 6, Seed: 1})
	res := h.Control("Downtown", city.OptimizeTraffic)
	resp := protocol.NewControlResponse("", res.District, string(res.Action), res.Intervention.ExpiresAtHour)
	if resp.Status != "success" || resp.Message != "OPTIMIZE_TRAFFIC applied to Downtown" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	o := h.Subscribe(8)
	msg := o.NextAfter(0)
	d, ok := msg.District("Downtown")
	if !ok || d.Intervention != city.OptimizeTraffic {
		t.Fatalf("Downtown intervention=%q", d.Intervention)
	}
	for _, other := range []string{"Uptown", "Industrial District", "Suburbs"} {
		if r, _ := msg.District(other); r.Intervention != "" {
			t.Fatalf("%s should have no intervention, got %q", other, r.Intervention)
		}
	}
}

func TestObservers_ShareOneClock(t *testing.T) {
	h := NewHarness(t, Options{StartHour: 6, Seed: 2})
	a := h.Subscribe(64)
	b := h.Subscribe(64)

	first := a.NextAfter(0)
	// b joined at most one tick later and is handed the latest snapshot on join.
	got := b.NextAfter(first.Tick - 1)
	if got.Tick != first.Tick || got.SimulatedHour != first.SimulatedHour || got.CityHealthScore != first.CityHealthScore {
		t.Fatalf("observers diverged: a=%+v b=%+v", first.Snapshot, got.Snapshot)
	}

	// Each tick advances the single shared clock by one step, whatever the number of observers.
	next := a.Next()
	if next.Tick != first.Tick+1 {
		t.Fatalf("tick %d followed by %d", first.Tick, next.Tick)
	}
	want := math.Mod(first.SimulatedHour+0.25, 24)
	if math.Abs(next.SimulatedHour-want) > 1e-9 {
		t.Fatalf("hour=%v want %v", next.SimulatedHour, want)
	}
}

func TestTicksPauseWithoutObservers(t *testing.T) {
	h := NewHarness(t, Options{StartHour: 6, Seed: 3})
	time.Sleep(50 * time.Millisecond)
	if v := h.State(); v.Tick != 0 || v.Clock.Hour != 6 {
		t.Fatalf("clock advanced without observers: %+v", v)
	}

	o := h.Subscribe(4)
	o.NextAfter(0)
	o.Leave()
	// Let the leave land, then confirm the clock stops moving.
	time.Sleep(30 * time.Millisecond)
	before := h.State().Tick
	time.Sleep(50 * time.Millisecond)
	if after := h.State().Tick; after != before {
		t.Fatalf("ticks continued after last observer left: %d -> %d", before, after)
	}
}

func TestTickWithoutObservers(t *testing.T) {
	h := NewHarness(t, Options{StartHour: 6, Seed: 4, TickWithoutObservers: true})
	deadline := time.Now().Add(2 * time.Second)
	for h.State().Tick < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("world did not tick on its own")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestResolveIncident_NextTickHasNoIncidents(t *testing.T) {
	h := NewHarness(t, Options{
		StartHour:  17,
		Seed:       5,
		Forecaster: forecast.Func(func(float64) (float64, error) { return 95, nil }),
	})
	o := h.Subscribe(64)
	applied := h.Control("Industrial District", city.ResolveIncident).Tick
	for i := 0; i < 5; i++ {
		msg := o.NextAfter(applied)
		d, _ := msg.District("Industrial District")
		if d.ActiveIncidents != 0 {
			t.Fatalf("tick %d: incidents=%d want 0", msg.Tick, d.ActiveIncidents)
		}
		applied = msg.Tick
	}
}

func TestIntervention_ExpiresAfterDuration(t *testing.T) {
	h := NewHarness(t, Options{StartHour: 6, Seed: 6, Registry: city.RegistryConfig{Mode: city.ExpiryElapsed}})
	o := h.Subscribe(256)
	start := h.Control("Suburbs", city.EmergencyRoute).Tick

	// 6h of simulated time at 0.25h per tick is 24 ticks; expiry needs strictly more.
	var last protocol.SnapshotMsg
	last.Tick = start
	for last.Tick < start+26 {
		last = o.NextAfter(last.Tick)
		d, _ := last.District("Suburbs")
		active := d.Intervention == city.EmergencyRoute
		if last.Tick <= start+24 && !active {
			t.Fatalf("tick %d: intervention expired early", last.Tick)
		}
		if last.Tick >= start+25 && active {
			t.Fatalf("tick %d: intervention should have expired", last.Tick)
		}
	}
	if v := h.State(); len(v.Interventions) != 0 {
		t.Fatalf("expired intervention still stored: %+v", v.Interventions)
	}
}

func TestAdminOverrides(t *testing.T) {
	h := NewHarness(t, Options{StartHour: 6, Seed: 7})
	ctx, cancel := h.Context()
	defer cancel()
	if err := h.W.SetWeather(ctx, city.Storm); err != nil {
		t.Fatalf("SetWeather: %v", err)
	}
	if err := h.W.SetHour(ctx, 23.9); err != nil {
		t.Fatalf("SetHour: %v", err)
	}
	if err := h.W.SetHour(ctx, 24); !errors.Is(err, city.ErrInvalidClock) {
		t.Fatalf("expected ErrInvalidClock, got %v", err)
	}
	if err := h.W.SetWeather(ctx, "Fog"); !errors.Is(err, city.ErrUnknownWeather) {
		t.Fatalf("expected ErrUnknownWeather, got %v", err)
	}
	v := h.State()
	if v.Weather != city.Storm || v.Clock.Hour != 23.9 {
		t.Fatalf("state=%+v", v)
	}

	o := h.Subscribe(4)
	msg := o.NextAfter(0)
	if msg.SimulatedHour < 0 || msg.SimulatedHour >= 0.25 {
		t.Fatalf("hour after wrap=%v", msg.SimulatedHour)
	}
}

func TestStoppedWorldRefusesRequests(t *testing.T) {
	h := NewHarness(t, Options{Seed: 8})
	h.Stop()
	ctx, cancel := h.Context()
	defer cancel()
	if _, err := h.W.RequestControl(ctx, "", "Downtown", city.OptimizeTraffic); !errors.Is(err, world.ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if _, err := h.W.State(ctx); !errors.Is(err, world.ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
