package world

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

func (w *World) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrStopped
	}
	defer close(w.done)
	defer w.closeObservers()

	ticker := time.NewTicker(w.cfg.TickPeriod)
	defer ticker.Stop()

	w.log.WithFields(logrus.Fields{
		"tick_period": w.cfg.TickPeriod,
		"hour":        w.state.Clock().Hour,
		"weather":     w.state.Weather(),
	}).Info("world loop started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case req := <-w.control:
			req.Resp <- w.applyControl(req)
		case req := <-w.admin:
			req.Resp <- w.applyAdmin(req.Op)
		case req := <-w.query:
			req.Resp <- w.view()
		case <-ticker.C:
			if len(w.observers) == 0 && !w.cfg.TickWithoutObservers {
				continue
			}
			w.step()
		}
	}
}

func (w *World) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.Out == nil {
		return
	}
	if req.SessionID == "" {
		close(req.Out)
		return
	}
	if _, dup := w.observers[req.SessionID]; dup || len(w.observers) >= w.cfg.MaxObservers {
		w.log.WithField("session", req.SessionID).Warn("observer rejected")
		close(req.Out)
		return
	}
	w.observers[req.SessionID] = req.Out
	if w.last != nil {
		if b, err := encodeSnapshot(*w.last); err == nil {
			sendLatest(req.Out, b)
		}
	}
	w.log.WithFields(logrus.Fields{"session": req.SessionID, "observers": len(w.observers)}).Info("observer joined")
	w.observersChanged()
}

func (w *World) handleObserverLeave(id string) {
	if _, ok := w.observers[id]; !ok {
		return
	}
	delete(w.observers, id)
	w.log.WithFields(logrus.Fields{"session": id, "observers": len(w.observers)}).Info("observer left")
	w.observersChanged()
}

func (w *World) observersChanged() {
	if w.recorder != nil {
		w.recorder.SetObservers(len(w.observers))
	}
	w.publishMetrics()
}

func (w *World) closeObservers() {
	for id, ch := range w.observers {
		close(ch)
		delete(w.observers, id)
	}
}

// sendLatest delivers b without blocking, dropping the oldest queued message when
// the subscriber is behind.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
