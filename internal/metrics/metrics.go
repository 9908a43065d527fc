// Package metrics exposes world and transport signals to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Arnav-102/UrbanPulse/internal/sim/city"
)

// Collector implements world.Recorder on its own registry.
type Collector struct {
	registry *prometheus.Registry

	tickDuration  prometheus.Histogram
	ticksTotal    prometheus.Counter
	ticksFailed   prometheus.Counter
	simHour       prometheus.Gauge
	cityHealth    prometheus.Gauge
	weather       *prometheus.GaugeVec
	traffic       *prometheus.GaugeVec
	aqi           *prometheus.GaugeVec
	response      *prometheus.GaugeVec
	incidents     *prometheus.GaugeVec
	observers     prometheus.Gauge
	controls      *prometheus.CounterVec
	controlReject *prometheus.CounterVec
	admin         *prometheus.CounterVec
}

func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "urbanpulse"
	}
	c := &Collector{registry: prometheus.NewRegistry()}

	c.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "world",
		Name:      "tick_duration_seconds",
		Help:      "Time spent computing one tick.",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
	})
	c.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "world", Name: "ticks_total",
		Help: "Ticks published.",
	})
	c.ticksFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "world", Name: "ticks_failed_total",
		Help: "Ticks abandoned because the forecaster failed.",
	})
	c.simHour = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "city", Name: "simulated_hour",
		Help: "Simulated hour of day of the last snapshot.",
	})
	c.cityHealth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "city", Name: "health_score",
		Help: "City health score of the last snapshot.",
	})
	c.weather = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "city", Name: "weather",
		Help: "1 for the current weather state, 0 otherwise.",
	}, []string{"weather"})
	c.traffic = districtGauge(namespace, "traffic_density", "Traffic density per district.")
	c.aqi = districtGauge(namespace, "air_quality_index", "Air quality index per district.")
	c.response = districtGauge(namespace, "emergency_response_minutes", "Emergency response time per district.")
	c.incidents = districtGauge(namespace, "active_incidents", "Active incidents per district.")
	c.observers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "transport", Name: "observers",
		Help: "Attached push subscribers.",
	})
	c.controls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "control", Name: "applied_total",
		Help: "Control commands applied, by action.",
	}, []string{"action"})
	c.controlReject = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "control", Name: "rejected_total",
		Help: "Control commands rejected, by error code.",
	}, []string{"code"})
	c.admin = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "admin", Name: "overrides_total",
		Help: "Admin overrides applied, by kind.",
	}, []string{"kind"})

	c.registry.MustRegister(
		c.tickDuration, c.ticksTotal, c.ticksFailed,
		c.simHour, c.cityHealth, c.weather,
		c.traffic, c.aqi, c.response, c.incidents,
		c.observers, c.controls, c.controlReject, c.admin,
		collectors.NewGoCollector(),
	)
	return c
}

func districtGauge(namespace, name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "district", Name: name, Help: help,
	}, []string{"district"})
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveTick(snap city.Snapshot, d time.Duration) {
	c.tickDuration.Observe(d.Seconds())
	c.ticksTotal.Inc()
	c.simHour.Set(snap.SimulatedHour)
	c.cityHealth.Set(snap.CityHealthScore)
	for _, w := range city.AllWeather {
		v := 0.0
		if w == snap.Weather {
			v = 1
		}
		c.weather.WithLabelValues(string(w)).Set(v)
	}
	for _, r := range snap.Districts {
		c.traffic.WithLabelValues(r.Name).Set(r.TrafficDensity)
		c.aqi.WithLabelValues(r.Name).Set(r.AirQualityIndex)
		c.response.WithLabelValues(r.Name).Set(r.EmergencyResponseMinutes)
		c.incidents.WithLabelValues(r.Name).Set(float64(r.ActiveIncidents))
	}
}

func (c *Collector) TickFailed() { c.ticksFailed.Inc() }

// ControlApplied counts by action; unmodeled actions share one label value.
func (c *Collector) ControlApplied(action string) {
	if !city.Kind(action).Modeled() {
		action = "other"
	}
	c.controls.WithLabelValues(action).Inc()
}

func (c *Collector) ControlRejected(code string) { c.controlReject.WithLabelValues(code).Inc() }
func (c *Collector) AdminApplied(kind string)     { c.admin.WithLabelValues(kind).Inc() }
func (c *Collector) SetObservers(n int)           { c.observers.Set(float64(n)) }
