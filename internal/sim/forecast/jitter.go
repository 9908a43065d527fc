package forecast

import (
	opensimplex "github.com/ojrac/opensimplex-go"
)

// Jitter layers smooth simplex noise over another forecaster. Consecutive calls
// at nearby hours see correlated offsets, so the signal wanders instead of
// flickering; successive calls at the same hour drift along a second axis.
type Jitter struct {
	base  Forecaster
	noise opensimplex.Noise
	amp   float64
	scale float64
	calls float64
}

func NewJitter(base Forecaster, seed int64, amplitude, scale float64) *Jitter {
	if scale <= 0 {
		scale = 0.35
	}
	return &Jitter{
		base:  base,
		noise: opensimplex.New(seed),
		amp:   amplitude,
		scale: scale,
	}
}

// Forecast is not safe for concurrent use; the city state calls it from one goroutine.
func (j *Jitter) Forecast(hour float64) (float64, error) {
	v, err := j.base.Forecast(hour)
	if err != nil {
		return 0, err
	}
	j.calls += 0.01
	n := j.noise.Eval2(NormalizeHour(hour)*j.scale, j.calls)
	return clampDensity(v + n*j.amp), nil
}
