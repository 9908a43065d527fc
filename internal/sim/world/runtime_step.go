package world

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Arnav-102/UrbanPulse/internal/protocol"
	"github.com/Arnav-102/UrbanPulse/internal/sim/city"
)

// StepOnce advances the city by a single tick using the same ordering semantics as
// the loop. It must not be called while Run is active; it is intended for replays
// and tests.
func (w *World) StepOnce() (city.Snapshot, error) {
	return w.step()
}

// ApplyOp applies a recorded op directly. Like StepOnce, it must not be called
// while Run is active.
func (w *World) ApplyOp(op Op) error {
	switch op.Kind {
	case OpControl:
		w.applyControl(controlReq{District: op.District, Action: city.Kind(op.Action)})
		return nil
	case OpWeather, OpHour:
		return w.applyAdmin(op)
	default:
		return fmt.Errorf("world: unknown op kind %q", op.Kind)
	}
}

func (w *World) step() (city.Snapshot, error) {
	start := time.Now()
	snap, err := w.state.Tick(w.now())
	if err != nil {
		w.failedTicks++
		w.log.WithError(err).WithField("tick", w.state.TickCount()+1).Error("tick abandoned")
		if w.recorder != nil {
			w.recorder.TickFailed()
		}
		w.publishMetrics()
		return city.Snapshot{}, err
	}
	dur := time.Since(start)
	w.last = &snap

	ops := w.pending
	w.pending = nil
	if len(w.tickLoggers) > 0 {
		entry := TickLogEntry{
			Tick:    snap.Tick,
			Hour:    snap.SimulatedHour,
			Weather: snap.Weather,
			Health:  snap.CityHealthScore,
			Ops:     ops,
			Digest:  snap.Digest(),
		}
		for _, l := range w.tickLoggers {
			if err := l.WriteTick(entry); err != nil {
				w.log.WithError(err).Warn("tick log write failed")
			}
		}
	}

	if len(w.observers) > 0 {
		b, err := encodeSnapshot(snap)
		if err != nil {
			w.log.WithError(err).Error("encode snapshot")
		} else {
			for _, ch := range w.observers {
				sendLatest(ch, b)
			}
		}
	}
	for _, sink := range w.snapshotSinks {
		sink.RecordSnapshot(snap)
	}
	if w.recorder != nil {
		w.recorder.ObserveTick(snap, dur)
	}
	w.lastStep = dur
	w.publishMetrics()

	w.log.WithFields(logrus.Fields{
		"tick":    snap.Tick,
		"hour":    snap.SimulatedHour,
		"weather": snap.Weather,
		"health":  snap.CityHealthScore,
	}).Debug("tick")
	return snap, nil
}

func (w *World) applyControl(req controlReq) ControlResult {
	it := w.state.Apply(req.District, req.Action)
	op := Op{Kind: OpControl, District: req.District, Action: string(req.Action)}
	w.pending = append(w.pending, op)
	w.controls++

	fields := logrus.Fields{
		"district": req.District,
		"action":   req.Action,
		"expires":  it.ExpiresAtHour,
	}
	if req.RequestID != "" {
		fields["request_id"] = req.RequestID
	}
	if !req.Action.Modeled() {
		w.log.WithFields(fields).Warn("control stored without modeled effect")
	} else {
		w.log.WithFields(fields).Info("control applied")
	}

	w.audit(req.RequestID, op, it.ExpiresAtHour)
	if w.recorder != nil {
		w.recorder.ControlApplied(string(req.Action))
	}
	w.publishMetrics()
	return ControlResult{
		District:     req.District,
		Action:       req.Action,
		Intervention: it,
		Tick:         w.state.TickCount(),
	}
}

func (w *World) applyAdmin(op Op) error {
	switch op.Kind {
	case OpWeather:
		if err := w.state.SetWeather(city.Weather(op.Weather)); err != nil {
			return err
		}
	case OpHour:
		if err := w.state.SetHour(op.Hour); err != nil {
			return err
		}
	default:
		return fmt.Errorf("world: unknown admin op %q", op.Kind)
	}
	w.pending = append(w.pending, op)
	w.log.WithFields(logrus.Fields{"op": op.Kind, "weather": op.Weather, "hour": op.Hour}).Info("admin override")
	w.audit("", op, 0)
	if w.recorder != nil {
		w.recorder.AdminApplied(op.Kind)
	}
	w.publishMetrics()
	return nil
}

func (w *World) audit(requestID string, op Op, expires float64) {
	if len(w.auditLoggers) == 0 {
		return
	}
	entry := AuditEntry{
		Tick:      w.state.TickCount(),
		RequestID: requestID,
		Op:        op,
		Hour:      w.state.Clock().Hour,
		Expires:   expires,
	}
	for _, l := range w.auditLoggers {
		if err := l.WriteAudit(entry); err != nil {
			w.log.WithError(err).Warn("audit log write failed")
		}
	}
}

func (w *World) view() StateView {
	v := StateView{
		Tick:          w.state.TickCount(),
		Clock:         w.state.Clock(),
		Weather:       w.state.Weather(),
		Interventions: w.state.Interventions(),
		Observers:     len(w.observers),
	}
	if w.last != nil {
		last := *w.last
		v.Last = &last
	}
	return v
}

func encodeSnapshot(snap city.Snapshot) ([]byte, error) {
	return json.Marshal(protocol.NewSnapshotMsg(snap))
}
