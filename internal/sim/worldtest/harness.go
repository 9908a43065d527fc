// Package worldtest drives a running world through its exported API only.
package worldtest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Arnav-102/UrbanPulse/internal/protocol"
	"github.com/Arnav-102/UrbanPulse/internal/sim/city"
	"github.com/Arnav-102/UrbanPulse/internal/sim/forecast"
	"github.com/Arnav-102/UrbanPulse/internal/sim/world"
)

// Harness runs World.Run in the background and stops it when the test ends.
type Harness struct {
	T *testing.T
	W *world.World

	cancel   context.CancelFunc
	errCh    chan error
	stopOnce sync.Once
	nextID   atomic.Uint64
}

type Options struct {
	TickPeriod           time.Duration
	TickWithoutObservers bool
	StartHour            float64
	Seed                 int64
	Forecaster           forecast.Forecaster
	Registry             city.RegistryConfig
}

func NewHarness(t *testing.T, opts Options) *Harness {
	t.Helper()
	if opts.TickPeriod <= 0 {
		opts.TickPeriod = 10 * time.Millisecond
	}
	if opts.Forecaster == nil {
		opts.Forecaster = forecast.Curve{}
	}
	state, err := city.NewState(city.Config{
		StartHour:         opts.StartHour,
		WeatherChangeProb: 0.05,
		Registry:          opts.Registry,
	}, opts.Forecaster, rand.New(rand.NewSource(opts.Seed)))
	if err != nil {
		t.Fatalf("city.NewState: %v", err)
	}
	w, err := world.New(world.WorldConfig{
		TickPeriod:           opts.TickPeriod,
		TickWithoutObservers: opts.TickWithoutObservers,
	}, state, nil)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Harness{T: t, W: w, cancel: cancel, errCh: make(chan error, 1)}
	go func() { h.errCh <- w.Run(ctx) }()
	t.Cleanup(h.Stop)
	return h
}

func (h *Harness) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		select {
		case <-h.errCh:
		case <-time.After(2 * time.Second):
			h.T.Errorf("world loop did not stop")
		}
	})
}

func (h *Harness) Context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}

// Observer is a subscribed push stream.
type Observer struct {
	ID  string
	Out chan []byte
	h   *Harness
}

func (h *Harness) Subscribe(queue int) *Observer {
	h.T.Helper()
	o := &Observer{
		ID:  fmt.Sprintf("O%d", h.nextID.Add(1)),
		Out: make(chan []byte, queue),
		h:   h,
	}
	h.W.ObserverJoin() <- world.ObserverJoinRequest{SessionID: o.ID, Out: o.Out}
	return o
}

func (o *Observer) Leave() {
	o.h.W.ObserverLeave() <- o.ID
}

// Next waits for the next snapshot message.
func (o *Observer) Next() protocol.SnapshotMsg {
	o.h.T.Helper()
	select {
	case b, ok := <-o.Out:
		if !ok {
			o.h.T.Fatalf("observer %s closed", o.ID)
		}
		var msg protocol.SnapshotMsg
		if err := json.Unmarshal(b, &msg); err != nil {
			o.h.T.Fatalf("decode snapshot: %v", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		o.h.T.Fatalf("observer %s: timed out waiting for snapshot", o.ID)
	}
	return protocol.SnapshotMsg{}
}

// NextAfter skips snapshots until one with a tick greater than tick arrives.
func (o *Observer) NextAfter(tick uint64) protocol.SnapshotMsg {
	o.h.T.Helper()
	for i := 0; i < 1000; i++ {
		msg := o.Next()
		if msg.Tick > tick {
			return msg
		}
	}
	o.h.T.Fatalf("observer %s: no snapshot after tick %d", o.ID, tick)
	return protocol.SnapshotMsg{}
}

func (h *Harness) Control(district string, action city.Kind) world.ControlResult {
	h.T.Helper()
	ctx, cancel := h.Context()
	defer cancel()
	res, err := h.W.RequestControl(ctx, "", district, action)
	if err != nil {
		h.T.Fatalf("RequestControl(%s,%s): %v", district, action, err)
	}
	return res
}

func (h *Harness) State() world.StateView {
	h.T.Helper()
	ctx, cancel := h.Context()
	defer cancel()
	v, err := h.W.State(ctx)
	if err != nil {
		h.T.Fatalf("State: %v", err)
	}
	return v
}
