// Package forecast supplies the base traffic-density signal for a simulated hour.
//
// The city engine treats every Forecaster as opaque: it only relies on the result
// staying within [0,100]. Implementations normalize the hour themselves, so callers
// may pass values outside [0,24) (including negative phase-shifted hours).
package forecast

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/Arnav-102/UrbanPulse/internal/sim/tuning"
)

const (
	MinDensity = 0.0
	MaxDensity = 100.0
)

var ErrNoSamples = errors.New("forecast: no training samples")

type Forecaster interface {
	Forecast(hour float64) (float64, error)
}

// Func adapts a plain function to Forecaster.
type Func func(hour float64) (float64, error)

func (f Func) Forecast(hour float64) (float64, error) { return f(hour) }

// NormalizeHour maps any hour onto [0,24).
func NormalizeHour(h float64) float64 {
	h = math.Mod(h, 24)
	if h < 0 {
		h += 24
	}
	if h >= 24 {
		h = 0
	}
	return h
}

func clampDensity(v float64) float64 {
	if v < MinDensity {
		return MinDensity
	}
	if v > MaxDensity {
		return MaxDensity
	}
	return v
}

// Curve is the deterministic daily profile: a night/day base level plus a morning
// peak around 08:00 and a taller evening peak around 17:00.
type Curve struct{}

func (Curve) Forecast(hour float64) (float64, error) {
	return clampDensity(curveAt(NormalizeHour(hour))), nil
}

func curveAt(h float64) float64 {
	base := 5.0
	if h >= 6 && h <= 22 {
		base = 20
	}
	morning := 60 * math.Exp(-0.5*math.Pow((h-8)/2, 2))
	evening := 70 * math.Exp(-0.5*math.Pow((h-17)/2, 2))
	return base + morning + evening
}

// Build constructs the forecaster selected by tuning. Training, if any, happens
// here exactly once.
func Build(cfg tuning.ForecastTuning, seed int64) (Forecaster, error) {
	var f Forecaster
	switch cfg.Model {
	case "", "curve":
		f = Curve{}
	case "model":
		days := cfg.TrainingDays
		if days <= 0 {
			days = 30
		}
		rng := rand.New(rand.NewSource(seed))
		m, err := Fit(Synthesize(days, cfg.NoiseStdDev, rng))
		if err != nil {
			return nil, fmt.Errorf("train forecast model: %w", err)
		}
		f = m
	default:
		return nil, fmt.Errorf("forecast: unknown model %q", cfg.Model)
	}
	if cfg.JitterAmp > 0 {
		f = NewJitter(f, seed, cfg.JitterAmp, cfg.JitterScale)
	}
	return f, nil
}
