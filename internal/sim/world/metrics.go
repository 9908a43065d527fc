package world

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick       uint64  `json:"tick"`
	Hour       float64 `json:"hour"`
	Weather    string  `json:"weather"`
	CityHealth float64 `json:"city_health_score"`

	Observers     int    `json:"observers"`
	Interventions int    `json:"interventions"`
	FailedTicks   uint64 `json:"failed_ticks"`
	Controls      uint64 `json:"controls"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`
}

type QueueDepths struct {
	Control int `json:"control"`
	Admin   int `json:"admin"`
	Query   int `json:"query"`
	Join    int `json:"join"`
	Leave   int `json:"leave"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func (w *World) publishMetrics() {
	m := WorldMetrics{
		Tick:          w.state.TickCount(),
		Hour:          w.state.Clock().Hour,
		Weather:       string(w.state.Weather()),
		Observers:     len(w.observers),
		Interventions: len(w.state.Interventions()),
		FailedTicks:   w.failedTicks,
		Controls:      w.controls,
		QueueDepths: QueueDepths{
			Control: len(w.control),
			Admin:   len(w.admin),
			Query:   len(w.query),
			Join:    len(w.observerJoin),
			Leave:   len(w.observerLeave),
		},
	}
	if w.last != nil {
		m.CityHealth = w.last.CityHealthScore
	}
	m.StepMS = float64(w.lastStep.Microseconds()) / 1000
	w.metrics.Store(m)
}
