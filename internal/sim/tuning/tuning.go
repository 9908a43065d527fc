package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickPeriodMs         int     `yaml:"tick_period_ms"`
	HourStep             float64 `yaml:"hour_step"`
	StartHour            float64 `yaml:"start_hour"`
	TickWithoutObservers bool    `yaml:"tick_without_observers"`
	Seed                 int64   `yaml:"seed"`

	Weather       WeatherTuning      `yaml:"weather"`
	Interventions InterventionTuning `yaml:"interventions"`
	Forecast      ForecastTuning     `yaml:"forecast"`
	Limits        Limits             `yaml:"limits"`
}

type WeatherTuning struct {
	Initial    string  `yaml:"initial"`
	ChangeProb float64 `yaml:"change_prob"`
}

type InterventionTuning struct {
	DurationHours float64 `yaml:"duration_hours"`
	// ExpiryMode is "elapsed" (default) or "window" (bounded-distance check that
	// drops controls applied late in the evening).
	ExpiryMode  string  `yaml:"expiry_mode"`
	WindowHours float64 `yaml:"window_hours"`
}

type ForecastTuning struct {
	// Model is "curve" or "model".
	Model        string  `yaml:"model"`
	TrainingDays int     `yaml:"training_days"`
	NoiseStdDev  float64 `yaml:"noise_stddev"`
	JitterAmp    float64 `yaml:"jitter_amplitude"`
	JitterScale  float64 `yaml:"jitter_scale"`
}

type Limits struct {
	ControlPerSecond float64 `yaml:"control_per_second"`
	ControlBurst     int     `yaml:"control_burst"`
	ObserverQueue    int     `yaml:"observer_queue"`
	MaxObservers     int     `yaml:"max_observers"`
}

// Defaults returns the reference constants.
func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickPeriodMs:    2000,
		HourStep:        0.25,
		StartHour:       6.0,
		Seed:            42,
		Weather: WeatherTuning{
			Initial:    "Clear",
			ChangeProb: 0.05,
		},
		Interventions: InterventionTuning{
			DurationHours: 6.0,
			ExpiryMode:    "elapsed",
			WindowHours:   20.0,
		},
		Forecast: ForecastTuning{
			Model:        "model",
			TrainingDays: 30,
			NoiseStdDev:  5,
			JitterScale:  0.35,
		},
		Limits: Limits{
			ControlPerSecond: 5,
			ControlBurst:     10,
			ObserverQueue:    8,
			MaxObservers:     256,
		},
	}
}

// Load reads a tuning file on top of Defaults, so partial files are fine.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickPeriodMs <= 0 {
		return fmt.Errorf("tick_period_ms must be > 0, got %d", t.TickPeriodMs)
	}
	if t.HourStep <= 0 || t.HourStep >= 24 {
		return fmt.Errorf("hour_step must be in (0,24), got %v", t.HourStep)
	}
	if t.StartHour < 0 || t.StartHour >= 24 {
		return fmt.Errorf("start_hour must be in [0,24), got %v", t.StartHour)
	}
	if t.Weather.ChangeProb < 0 || t.Weather.ChangeProb > 1 {
		return fmt.Errorf("weather.change_prob must be in [0,1], got %v", t.Weather.ChangeProb)
	}
	if t.Interventions.DurationHours <= 0 {
		return fmt.Errorf("interventions.duration_hours must be > 0")
	}
	switch t.Interventions.ExpiryMode {
	case "window", "elapsed":
	default:
		return fmt.Errorf("interventions.expiry_mode: unknown %q", t.Interventions.ExpiryMode)
	}
	switch t.Forecast.Model {
	case "curve", "model":
	default:
		return fmt.Errorf("forecast.model: unknown %q", t.Forecast.Model)
	}
	return nil
}
