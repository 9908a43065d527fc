package city

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

type Weather string

const (
	Clear  Weather = "Clear"
	Rain   Weather = "Rain"
	Cloudy Weather = "Cloudy"
	Storm  Weather = "Storm"
)

// AllWeather is the resampling set; order matters for seeded reproducibility.
var AllWeather = [...]Weather{Clear, Rain, Cloudy, Storm}

var ErrUnknownWeather = errors.New("city: unknown weather")

// Effects are what a weather state does to every district this tick.
type Effects struct {
	TrafficBonus         float64 `json:"traffic_bonus"`
	ResponseDelayMinutes float64 `json:"response_delay_minutes"`
	IncidentMultiplier   float64 `json:"incident_multiplier"`
}

func (w Weather) Effects() (Effects, error) {
	switch w {
	case Clear, Cloudy:
		return Effects{IncidentMultiplier: 1.0}, nil
	case Rain:
		return Effects{TrafficBonus: 10, ResponseDelayMinutes: 2, IncidentMultiplier: 1.5}, nil
	case Storm:
		return Effects{TrafficBonus: 20, ResponseDelayMinutes: 5, IncidentMultiplier: 3.0}, nil
	default:
		return Effects{}, fmt.Errorf("%w: %q", ErrUnknownWeather, string(w))
	}
}

// ParseWeather accepts any casing ("rain", "RAIN", "Rain").
func ParseWeather(s string) (Weather, error) {
	for _, w := range AllWeather {
		if strings.EqualFold(strings.TrimSpace(s), string(w)) {
			return w, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownWeather, s)
}

// RollWeather keeps the current weather, or with probability pChange resamples
// uniformly from all states (the current one included).
func RollWeather(cur Weather, pChange float64, rng *rand.Rand) Weather {
	if rng.Float64() < pChange {
		return AllWeather[rng.Intn(len(AllWeather))]
	}
	return cur
}
