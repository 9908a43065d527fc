package world

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Arnav-102/UrbanPulse/internal/sim/city"
)

var (
	// ErrBusy is returned when the loop's request queue is full.
	ErrBusy = errors.New("world: busy")
	// ErrStopped is returned once Run has exited.
	ErrStopped = errors.New("world: stopped")
)

type WorldConfig struct {
	TickPeriod           time.Duration
	TickWithoutObservers bool
	MaxObservers         int
	QueueSize            int
}

func (c *WorldConfig) applyDefaults() {
	if c.TickPeriod <= 0 {
		c.TickPeriod = 2 * time.Second
	}
	if c.MaxObservers <= 0 {
		c.MaxObservers = 256
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
}

// ObserverJoinRequest registers a push subscriber. Out receives one marshaled
// SNAPSHOT message per tick; the world closes Out when the join is rejected or
// when Run exits. After ObserverLeave the world never touches Out again.
type ObserverJoinRequest struct {
	SessionID string
	Out       chan []byte
}

// Op is a state mutation applied between ticks. Ops are recorded in the tick log
// in the order they were applied so a replay can reproduce them.
type Op struct {
	Kind     string  `json:"kind"`
	District string  `json:"district,omitempty"`
	Action   string  `json:"action,omitempty"`
	Weather  string  `json:"weather,omitempty"`
	Hour     float64 `json:"hour,omitempty"`
}

const (
	OpControl = "control"
	OpWeather = "weather"
	OpHour    = "hour"
)

type ControlResult struct {
	District     string
	Action       city.Kind
	Intervention city.Intervention
	Tick         uint64
}

type controlReq struct {
	RequestID string
	District  string
	Action    city.Kind
	Resp      chan ControlResult
}

type adminReq struct {
	Op   Op
	Resp chan error
}

// StateView is a consistent read of the simulation state between ticks.
type StateView struct {
	Tick          uint64              `json:"tick"`
	Clock         city.Clock          `json:"clock"`
	Weather       city.Weather        `json:"weather"`
	Interventions []city.Intervention `json:"interventions"`
	Observers     int                 `json:"observers"`
	Last          *city.Snapshot      `json:"last_snapshot,omitempty"`
}

type stateReq struct {
	Resp chan StateView
}

type TickLogEntry struct {
	Tick    uint64       `json:"tick"`
	Hour    float64      `json:"hour"`
	Weather city.Weather `json:"weather"`
	Health  float64      `json:"city_health_score"`
	Ops     []Op         `json:"ops,omitempty"`
	Digest  string       `json:"digest"`
}

type AuditEntry struct {
	Tick      uint64  `json:"tick"`
	RequestID string  `json:"request_id,omitempty"`
	Op        Op      `json:"op"`
	Hour      float64 `json:"hour"`
	Expires   float64 `json:"expires_at_hour,omitempty"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

// SnapshotSink receives every published snapshot. It is called from the world
// loop, so implementations must not block.
type SnapshotSink interface {
	RecordSnapshot(snap city.Snapshot)
}

// Recorder receives runtime signals for an external metrics backend.
type Recorder interface {
	ObserveTick(snap city.Snapshot, d time.Duration)
	TickFailed()
	ControlApplied(action string)
	AdminApplied(kind string)
	SetObservers(n int)
}

// World is a single-threaded owner of the city state.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg   WorldConfig
	state *city.State
	log   logrus.FieldLogger
	now   func() time.Time

	observers map[string]chan []byte
	pending   []Op
	last      *city.Snapshot

	control       chan controlReq
	admin         chan adminReq
	query         chan stateReq
	observerJoin  chan ObserverJoinRequest
	observerLeave chan string

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	running  atomic.Bool

	tickLoggers   []TickLogger
	auditLoggers  []AuditLogger
	snapshotSinks []SnapshotSink
	recorder      Recorder

	failedTicks uint64
	controls    uint64
	lastStep    time.Duration
	metrics     atomic.Value
}

func New(cfg WorldConfig, state *city.State, logger logrus.FieldLogger) (*World, error) {
	if state == nil {
		return nil, errors.New("world: nil state")
	}
	cfg.applyDefaults()
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		logger = l
	}
	w := &World{
		cfg:           cfg,
		state:         state,
		log:           logger,
		now:           time.Now,
		observers:     map[string]chan []byte{},
		control:       make(chan controlReq, cfg.QueueSize),
		admin:         make(chan adminReq, cfg.QueueSize),
		query:         make(chan stateReq, cfg.QueueSize),
		observerJoin:  make(chan ObserverJoinRequest, cfg.QueueSize),
		observerLeave: make(chan string, cfg.QueueSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	w.publishMetrics()
	return w, nil
}

// Sinks must be registered before Run.
func (w *World) AddTickLogger(l TickLogger)     { w.tickLoggers = append(w.tickLoggers, l) }
func (w *World) AddAuditLogger(l AuditLogger)   { w.auditLoggers = append(w.auditLoggers, l) }
func (w *World) AddSnapshotSink(s SnapshotSink) { w.snapshotSinks = append(w.snapshotSinks, s) }
func (w *World) SetRecorder(r Recorder)         { w.recorder = r }

func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) ObserverJoin() chan<- ObserverJoinRequest { return w.observerJoin }
func (w *World) ObserverLeave() chan<- string             { return w.observerLeave }

// Done is closed when Run returns.
func (w *World) Done() <-chan struct{} { return w.done }
