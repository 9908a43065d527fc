package world

import (
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Arnav-102/UrbanPulse/internal/sim/city"
	"github.com/Arnav-102/UrbanPulse/internal/sim/forecast"
	"github.com/Arnav-102/UrbanPulse/internal/sim/tuning"
)

// NewFromTuning builds the forecaster, city state and world from one tuning
// file. The same tuning (seed included) always yields the same tick sequence,
// which is what replays rely on.
func NewFromTuning(tune tuning.Tuning, logger logrus.FieldLogger) (*World, error) {
	f, err := forecast.Build(tune.Forecast, tune.Seed)
	if err != nil {
		return nil, err
	}
	state, err := city.NewState(city.Config{
		HourStep:          tune.HourStep,
		StartHour:         tune.StartHour,
		InitialWeather:    city.Weather(tune.Weather.Initial),
		WeatherChangeProb: tune.Weather.ChangeProb,
		Registry: city.RegistryConfig{
			DurationHours: tune.Interventions.DurationHours,
			WindowHours:   tune.Interventions.WindowHours,
			Mode:          city.ExpiryMode(tune.Interventions.ExpiryMode),
		},
	}, f, rand.New(rand.NewSource(tune.Seed)))
	if err != nil {
		return nil, err
	}
	return New(WorldConfig{
		TickPeriod:           time.Duration(tune.TickPeriodMs) * time.Millisecond,
		TickWithoutObservers: tune.TickWithoutObservers,
		MaxObservers:         tune.Limits.MaxObservers,
	}, state, logger)
}
