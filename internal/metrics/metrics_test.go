package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Arnav-102/UrbanPulse/internal/sim/city"
)

func gaugeValue(t *testing.T, c *Collector, name string, label string) float64 {
	t.Helper()
	mfs, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label != "" {
				match := false
				for _, lp := range m.GetLabel() {
					if lp.GetValue() == label {
						match = true
					}
				}
				if !match {
					continue
				}
			}
			switch {
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s{%s} not found", name, label)
	return 0
}

func TestCollector_ObserveTick(t *testing.T) {
	c := NewCollector("test")
	snap := city.Snapshot{
		Tick:            1,
		SimulatedHour:   6.25,
		CityHealthScore: 71.5,
		Weather:         city.Rain,
		Districts: []city.DistrictRecord{
			{Name: "Downtown", TrafficDensity: 42, AirQualityIndex: 80, EmergencyResponseMinutes: 9, ActiveIncidents: 1},
		},
	}
	c.ObserveTick(snap, 2*time.Millisecond)
	c.TickFailed()
	c.SetObservers(3)

	if v := gaugeValue(t, c, "test_city_health_score", ""); v != 71.5 {
		t.Fatalf("health=%v", v)
	}
	if v := gaugeValue(t, c, "test_district_traffic_density", "Downtown"); v != 42 {
		t.Fatalf("traffic=%v", v)
	}
	if v := gaugeValue(t, c, "test_city_weather", "Rain"); v != 1 {
		t.Fatalf("rain=%v", v)
	}
	if v := gaugeValue(t, c, "test_city_weather", "Clear"); v != 0 {
		t.Fatalf("clear=%v", v)
	}
	if v := gaugeValue(t, c, "test_world_ticks_failed_total", ""); v != 1 {
		t.Fatalf("failed=%v", v)
	}
	if v := gaugeValue(t, c, "test_transport_observers", ""); v != 3 {
		t.Fatalf("observers=%v", v)
	}
}

func TestCollector_ControlLabels(t *testing.T) {
	c := NewCollector("")
	c.ControlApplied("OPTIMIZE_TRAFFIC")
	c.ControlApplied("CLOSE_ROADS")
	c.ControlApplied("PAINT_BRIDGES")
	c.ControlRejected("E_BAD_REQUEST")
	c.AdminApplied("weather")

	if v := gaugeValue(t, c, "urbanpulse_control_applied_total", "other"); v != 2 {
		t.Fatalf("other=%v", v)
	}
	if v := gaugeValue(t, c, "urbanpulse_control_applied_total", "OPTIMIZE_TRAFFIC"); v != 1 {
		t.Fatalf("optimize=%v", v)
	}
	if v := gaugeValue(t, c, "urbanpulse_control_rejected_total", "E_BAD_REQUEST"); v != 1 {
		t.Fatalf("rejected=%v", v)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("test")
	c.SetObservers(1)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "test_transport_observers 1") {
		t.Fatalf("metrics output missing observers gauge:\n%s", body)
	}
}
