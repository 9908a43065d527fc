package world

import (
	"context"

	"github.com/Arnav-102/UrbanPulse/internal/sim/city"
)

// RequestControl queues a control command and waits for the loop to apply it.
// It never waits for a tick: commands are applied between ticks as soon as the
// loop picks them up. A full queue yields ErrBusy.
func (w *World) RequestControl(ctx context.Context, requestID, district string, action city.Kind) (ControlResult, error) {
	resp := make(chan ControlResult, 1)
	req := controlReq{RequestID: requestID, District: district, Action: action, Resp: resp}
	if err := enqueue(ctx, w, w.control, req); err != nil {
		return ControlResult{}, err
	}
	return await(ctx, w, resp)
}

func (w *World) SetWeather(ctx context.Context, weather city.Weather) error {
	return w.requestAdmin(ctx, Op{Kind: OpWeather, Weather: string(weather)})
}

func (w *World) SetHour(ctx context.Context, hour float64) error {
	return w.requestAdmin(ctx, Op{Kind: OpHour, Hour: hour})
}

func (w *World) requestAdmin(ctx context.Context, op Op) error {
	resp := make(chan error, 1)
	if err := enqueue(ctx, w, w.admin, adminReq{Op: op, Resp: resp}); err != nil {
		return err
	}
	err, waitErr := await(ctx, w, resp)
	if waitErr != nil {
		return waitErr
	}
	return err
}

// State returns a consistent view of the simulation between ticks.
func (w *World) State(ctx context.Context) (StateView, error) {
	resp := make(chan StateView, 1)
	if err := enqueue(ctx, w, w.query, stateReq{Resp: resp}); err != nil {
		return StateView{}, err
	}
	return await(ctx, w, resp)
}

func enqueue[T any](ctx context.Context, w *World, ch chan T, req T) error {
	select {
	case <-w.done:
		return ErrStopped
	default:
	}
	select {
	case ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBusy
	}
}

func await[T any](ctx context.Context, w *World, resp chan T) (T, error) {
	var zero T
	select {
	case v := <-resp:
		return v, nil
	case <-w.done:
		// The loop may have answered right before exiting.
		select {
		case v := <-resp:
			return v, nil
		default:
		}
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
