// Package city is the simulation state engine: the simulated clock, the weather
// process, the intervention registry, per-district metric derivation and the city
// health aggregate.
//
// Nothing in this package is safe for concurrent use. The world loop owns a State
// and serializes every read and write through its own goroutine.
package city

import (
	"errors"
	"fmt"
	"math"
)

const HoursPerDay = 24.0

var ErrInvalidClock = errors.New("city: invalid clock")

// Clock is the simulated time of day plus the total simulated hours elapsed since
// the state was created. Hour is always in [0,24); Total never decreases.
type Clock struct {
	Hour  float64 `json:"hour"`
	Total float64 `json:"total_hours"`
}

func NewClock(startHour float64) (Clock, error) {
	c := Clock{Hour: startHour}
	if err := c.Validate(); err != nil {
		return Clock{}, err
	}
	return c, nil
}

// Advance moves the clock forward by step hours, wrapping the hour of day.
func (c Clock) Advance(step float64) Clock {
	return Clock{
		Hour:  wrapHour(c.Hour + step),
		Total: c.Total + step,
	}
}

func (c Clock) Validate() error {
	if math.IsNaN(c.Hour) || c.Hour < 0 || c.Hour >= HoursPerDay {
		return fmt.Errorf("%w: hour %v outside [0,24)", ErrInvalidClock, c.Hour)
	}
	if math.IsNaN(c.Total) || c.Total < 0 {
		return fmt.Errorf("%w: total %v", ErrInvalidClock, c.Total)
	}
	return nil
}

func wrapHour(h float64) float64 {
	h = math.Mod(h, HoursPerDay)
	if h < 0 {
		h += HoursPerDay
	}
	// Mod of a value a hair below a multiple of 24 can round up to 24.
	if h >= HoursPerDay {
		h = 0
	}
	return h
}
