package forecast

import (
	"fmt"
	"math"
	"math/rand"
)

type Sample struct {
	Hour    int
	Traffic float64
}

// Synthesize generates days*24 hourly samples from the daily curve with gaussian
// noise, clipped to the density range.
func Synthesize(days int, stddev float64, rng *rand.Rand) []Sample {
	out := make([]Sample, 0, days*24)
	for d := 0; d < days; d++ {
		for h := 0; h < 24; h++ {
			v := curveAt(float64(h))
			if stddev > 0 {
				v += rng.NormFloat64() * stddev
			}
			out = append(out, Sample{Hour: h, Traffic: clampDensity(v)})
		}
	}
	return out
}

// HourlyModel predicts the mean observed traffic for the nearest whole hour.
type HourlyModel struct {
	means [24]float64
}

// Fit averages samples per hour. Every hour of the day must be covered.
func Fit(samples []Sample) (*HourlyModel, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	var sum [24]float64
	var n [24]int
	for _, s := range samples {
		if s.Hour < 0 || s.Hour > 23 {
			return nil, fmt.Errorf("forecast: sample hour %d out of range", s.Hour)
		}
		sum[s.Hour] += s.Traffic
		n[s.Hour]++
	}
	m := &HourlyModel{}
	for h := 0; h < 24; h++ {
		if n[h] == 0 {
			return nil, fmt.Errorf("%w for hour %d", ErrNoSamples, h)
		}
		m.means[h] = clampDensity(sum[h] / float64(n[h]))
	}
	return m, nil
}

func (m *HourlyModel) Forecast(hour float64) (float64, error) {
	h := int(math.Round(NormalizeHour(hour))) % 24
	return m.means[h], nil
}

// Table returns the fitted per-hour means.
func (m *HourlyModel) Table() [24]float64 { return m.means }
