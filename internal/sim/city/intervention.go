package city

import (
	"fmt"
	"math"
	"sort"
)

// Kind is the action carried by a control command. Only the three constants below
// change district metrics; any other value is stored and ignored by the deriver.
type Kind string

const (
	OptimizeTraffic Kind = "OPTIMIZE_TRAFFIC"
	EmergencyRoute  Kind = "EMERGENCY_ROUTE"
	ResolveIncident Kind = "RESOLVE_INCIDENT"
)

func (k Kind) Modeled() bool {
	switch k {
	case OptimizeTraffic, EmergencyRoute, ResolveIncident:
		return true
	}
	return false
}

type ExpiryMode string

const (
	// ExpiryElapsed expires an entry once more than DurationHours of simulated
	// time has passed since it was applied. This is the default.
	ExpiryElapsed ExpiryMode = "elapsed"
	// ExpiryWindow treats an entry as expired once the hour of day is past
	// ExpiresAtHour but within WindowHours of it. Opt-in parity mode only: an
	// entry applied at or after 24-DurationHours wraps past midnight, so the very
	// next tick already reads it as expired and evening controls never take effect.
	ExpiryWindow ExpiryMode = "window"
)

type RegistryConfig struct {
	DurationHours float64
	WindowHours   float64
	Mode          ExpiryMode
}

func (c *RegistryConfig) applyDefaults() {
	if c.DurationHours <= 0 {
		c.DurationHours = 6.0
	}
	if c.WindowHours <= 0 {
		c.WindowHours = 20.0
	}
	if c.Mode == "" {
		c.Mode = ExpiryElapsed
	}
}

type Intervention struct {
	District      string  `json:"district"`
	Kind          Kind    `json:"kind"`
	ExpiresAtHour float64 `json:"expires_at_hour"`
	AppliedAt     float64 `json:"applied_at_total_hours"`
}

// Registry holds at most one intervention per district; a newer one replaces
// the older one outright.
type Registry struct {
	cfg   RegistryConfig
	items map[string]Intervention
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	cfg.applyDefaults()
	switch cfg.Mode {
	case ExpiryWindow, ExpiryElapsed:
	default:
		return nil, fmt.Errorf("city: unknown expiry mode %q", cfg.Mode)
	}
	return &Registry{cfg: cfg, items: map[string]Intervention{}}, nil
}

func (r *Registry) Apply(district string, kind Kind, now Clock) Intervention {
	it := Intervention{
		District:      district,
		Kind:          kind,
		ExpiresAtHour: wrapHour(now.Hour + r.cfg.DurationHours),
		AppliedAt:     now.Total,
	}
	r.items[district] = it
	return it
}

// Active returns the effect for district, evicting it first if it has expired.
func (r *Registry) Active(district string, now Clock) (Kind, bool) {
	it, ok, expired := r.Peek(district, now)
	if expired {
		delete(r.items, district)
		return "", false
	}
	if !ok {
		return "", false
	}
	return it.Kind, true
}

// Peek reports the intervention for district without mutating the registry.
// expired is true when an entry exists but should be evicted at now.
func (r *Registry) Peek(district string, now Clock) (it Intervention, ok bool, expired bool) {
	it, ok = r.items[district]
	if !ok {
		return Intervention{}, false, false
	}
	if r.isExpired(it, now) {
		return Intervention{}, false, true
	}
	return it, true, false
}

func (r *Registry) Evict(districts ...string) {
	for _, d := range districts {
		delete(r.items, d)
	}
}

func (r *Registry) isExpired(it Intervention, now Clock) bool {
	switch r.cfg.Mode {
	case ExpiryWindow:
		return now.Hour > it.ExpiresAtHour && math.Abs(now.Hour-it.ExpiresAtHour) < r.cfg.WindowHours
	default:
		return now.Total-it.AppliedAt > r.cfg.DurationHours
	}
}

// List returns the stored interventions sorted by district, expired or not.
func (r *Registry) List() []Intervention {
	out := make([]Intervention, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].District < out[j].District })
	return out
}

func (r *Registry) Len() int { return len(r.items) }
