package city

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/Arnav-102/UrbanPulse/internal/sim/forecast"
)

type Config struct {
	HourStep          float64
	StartHour         float64
	InitialWeather    Weather
	WeatherChangeProb float64
	Registry          RegistryConfig
}

func (c *Config) applyDefaults() {
	if c.HourStep <= 0 {
		c.HourStep = 0.25
	}
	if c.InitialWeather == "" {
		c.InitialWeather = Clear
	}
}

// Snapshot is one tick's complete view of the city. Treat it as immutable once
// returned from Tick; consumers share the Districts slice.
type Snapshot struct {
	Tick            uint64           `json:"tick"`
	Timestamp       float64          `json:"timestamp"`
	SimulatedHour   float64          `json:"simulated_hour"`
	CityHealthScore float64          `json:"city_health_score"`
	Weather         Weather          `json:"weather"`
	Districts       []DistrictRecord `json:"districts"`
}

func (s Snapshot) District(name string) (DistrictRecord, bool) {
	for _, d := range s.Districts {
		if d.Name == name {
			return d, true
		}
	}
	return DistrictRecord{}, false
}

// Digest hashes everything but the wall-clock timestamp, so two runs with the
// same seed, forecaster and control sequence produce the same digests.
func (s Snapshot) Digest() string {
	h := sha256.New()
	var tmp [8]byte
	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		h.Write(tmp[:])
	}
	writeF64 := func(v float64) { writeU64(math.Float64bits(v)) }
	writeStr := func(v string) {
		writeU64(uint64(len(v)))
		h.Write([]byte(v))
	}

	writeU64(s.Tick)
	writeF64(s.SimulatedHour)
	writeF64(s.CityHealthScore)
	writeStr(string(s.Weather))
	writeU64(uint64(len(s.Districts)))
	for _, d := range s.Districts {
		writeStr(d.Name)
		writeF64(d.TrafficDensity)
		writeF64(d.ForecastedTraffic)
		writeF64(d.AirQualityIndex)
		writeF64(d.NoiseLevel)
		writeU64(uint64(d.ActiveIncidents))
		writeF64(d.EnergyDemand)
		writeF64(d.EmergencyResponseMinutes)
		writeStr(string(d.Intervention))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// State is the single mutable simulation state: clock, weather and registry.
type State struct {
	cfg        Config
	clock      Clock
	weather    Weather
	registry   *Registry
	forecaster forecast.Forecaster
	rng        *rand.Rand
	tick       uint64
}

func NewState(cfg Config, f forecast.Forecaster, rng *rand.Rand) (*State, error) {
	cfg.applyDefaults()
	if f == nil {
		return nil, fmt.Errorf("city: nil forecaster")
	}
	if rng == nil {
		return nil, fmt.Errorf("city: nil rng")
	}
	clock, err := NewClock(cfg.StartHour)
	if err != nil {
		return nil, err
	}
	if _, err := cfg.InitialWeather.Effects(); err != nil {
		return nil, err
	}
	reg, err := NewRegistry(cfg.Registry)
	if err != nil {
		return nil, err
	}
	return &State{
		cfg:        cfg,
		clock:      clock,
		weather:    cfg.InitialWeather,
		registry:   reg,
		forecaster: f,
		rng:        rng,
	}, nil
}

// Tick advances the clock, rolls the weather and derives every district. On error
// the clock, weather and registry are left exactly as they were.
func (s *State) Tick(now time.Time) (Snapshot, error) {
	next := s.clock.Advance(s.cfg.HourStep)
	if err := next.Validate(); err != nil {
		return Snapshot{}, err
	}
	weather := RollWeather(s.weather, s.cfg.WeatherChangeProb, s.rng)
	fx, err := weather.Effects()
	if err != nil {
		return Snapshot{}, err
	}

	var evict []string
	records := make([]DistrictRecord, 0, len(Districts))
	for _, name := range Districts {
		it, ok, expired := s.registry.Peek(name, next)
		if expired {
			evict = append(evict, name)
		}
		var kind Kind
		if ok {
			kind = it.Kind
		}
		rec, err := Derive(name, next.Hour, fx, kind, s.forecaster, s.rng)
		if err != nil {
			return Snapshot{}, fmt.Errorf("derive %s: %w", name, err)
		}
		records = append(records, rec)
	}

	s.clock = next
	s.weather = weather
	s.registry.Evict(evict...)
	s.tick++

	return Snapshot{
		Tick:            s.tick,
		Timestamp:       float64(now.UnixNano()) / 1e9,
		SimulatedHour:   next.Hour,
		CityHealthScore: CityHealth(records),
		Weather:         weather,
		Districts:       records,
	}, nil
}

// Apply records an intervention at the current simulated time.
func (s *State) Apply(district string, kind Kind) Intervention {
	return s.registry.Apply(district, kind, s.clock)
}

// ActiveKind looks up (and lazily expires) the intervention for a district.
func (s *State) ActiveKind(district string) (Kind, bool) {
	return s.registry.Active(district, s.clock)
}

func (s *State) Interventions() []Intervention { return s.registry.List() }

func (s *State) Clock() Clock      { return s.clock }
func (s *State) Weather() Weather  { return s.weather }
func (s *State) TickCount() uint64 { return s.tick }
func (s *State) Config() Config    { return s.cfg }

func (s *State) SetWeather(w Weather) error {
	if _, err := w.Effects(); err != nil {
		return err
	}
	s.weather = w
	return nil
}

// SetHour jumps the time of day. Total elapsed time is left alone so elapsed-mode
// expiry keeps counting real simulated progress only.
func (s *State) SetHour(h float64) error {
	c := Clock{Hour: h, Total: s.clock.Total}
	if err := c.Validate(); err != nil {
		return err
	}
	s.clock = c
	return nil
}
