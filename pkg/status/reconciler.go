// Package status computes the point-in-time, health-check-aware state of
// configured services: up, pending or down, plus profile eligibility. It is
// read-only apart from clearing stale start markers, and safe to call
// repeatedly for polling.
package status

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/devloop/pkg/engine"
)

type State string

const (
	StateUp      State = "up"
	StatePending State = "pending"
	StateDown    State = "down"
)

// Report is the reconciled status of one service.
type Report struct {
	Name      string      `json:"name"`
	Kind      engine.Kind `json:"kind"`
	State     State       `json:"state"`
	Enabled   bool        `json:"enabled"`
	PID       int         `json:"pid,omitempty"`
	StartedAt time.Time   `json:"started_at,omitempty"`
}

// DefaultProbeTimeout bounds one URL health-check GET. A hung dependency
// must not stall status computation.
const DefaultProbeTimeout = 2 * time.Second

// Reconciler derives service state from backend observations, start markers
// and healthchecks.
type Reconciler struct {
	Backends     map[engine.Kind]engine.Backend
	Markers      engine.MarkerStore
	IsAlive      func(pid int) bool
	Now          func() time.Time
	HTTPClient   *http.Client
	ProbeTimeout time.Duration
}

func NewReconciler(backends map[engine.Kind]engine.Backend, markers engine.MarkerStore, isAlive func(int) bool) *Reconciler {
	return &Reconciler{
		Backends:     backends,
		Markers:      markers,
		IsAlive:      isAlive,
		Now:          time.Now,
		HTTPClient:   &http.Client{},
		ProbeTimeout: DefaultProbeTimeout,
	}
}

// Report classifies one service.
//
// Backend shows it running: a numeric healthcheck compares elapsed time
// since the observed start, a URL healthcheck issues one bounded GET where
// only a 2xx means up. A failing or timed-out probe means "not ready yet",
// never "crashed", so it reports pending while the backend shows life.
//
// Backend shows nothing yet: a live start marker bridges the gap as pending;
// a marker whose PID is dead is cleared as a side effect and the service
// reports down.
func (r *Reconciler) Report(ctx context.Context, spec engine.ServiceSpec, profile string) Report {
	rep := Report{
		Name:    spec.Name,
		Kind:    spec.Kind,
		Enabled: spec.EligibleFor(profile),
	}

	obs := r.observe(ctx, spec)
	if obs.Running {
		// The backend confirms visibility; any bridge marker is satisfied.
		r.clearMarker(spec.Name)
		rep.PID = obs.PID
		rep.StartedAt = obs.StartedAt
		rep.State = r.classifyRunning(ctx, spec, obs)
		return rep
	}

	if !obs.Present {
		if r.markerLive(spec.Name) {
			rep.State = StatePending
			return rep
		}
		rep.State = StateDown
		return rep
	}

	// Present but not running (e.g. an exited container): down, and any
	// stale marker is cleaned up on this read.
	r.cleanStaleMarker(spec.Name)
	rep.State = StateDown
	return rep
}

// IsUp implements engine.RuntimeInspector. For reconciliation purposes a
// pending service counts as up: it needs no start and may be stopped.
func (r *Reconciler) IsUp(ctx context.Context, spec engine.ServiceSpec) (bool, error) {
	rep := r.Report(ctx, spec, "")
	return rep.State != StateDown, nil
}

func (r *Reconciler) classifyRunning(ctx context.Context, spec engine.ServiceSpec, obs engine.Observation) State {
	hc := spec.Healthcheck
	if hc.IsURL() {
		if r.probeURL(ctx, hc.URL) {
			return StateUp
		}
		return StatePending
	}
	elapsed := r.Now().Sub(obs.StartedAt)
	if elapsed >= time.Duration(hc.Seconds)*time.Second {
		return StateUp
	}
	return StatePending
}

// probeURL issues one GET with a bounded timeout. Any transport error,
// timeout or non-2xx response is a negative probe, not an error.
func (r *Reconciler) probeURL(ctx context.Context, url string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, r.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		log.Debug().Str("url", url).Err(err).Msg("healthcheck request build failed")
		return false
	}
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (r *Reconciler) observe(ctx context.Context, spec engine.ServiceSpec) engine.Observation {
	backend, ok := r.Backends[spec.Kind]
	if !ok {
		return engine.Observation{}
	}
	obs, err := backend.QueryStatus(ctx, spec.Name)
	if err != nil {
		// Degrade to "no observation"; markers and down-state handling
		// take over.
		log.Warn().Str("service", spec.Name).Err(err).Msg("backend status query failed")
		return engine.Observation{}
	}
	return obs
}

// markerLive reports whether a start marker exists and still stands for an
// in-flight start. Markers with a dead PID are cleared on read.
func (r *Reconciler) markerLive(name string) bool {
	if r.Markers == nil {
		return false
	}
	m, ok, err := r.Markers.Get(name)
	if err != nil || !ok {
		return false
	}
	if m.PID > 0 {
		if r.IsAlive != nil && r.IsAlive(m.PID) {
			return true
		}
		r.clearMarker(name)
		return false
	}
	// Container markers carry a runtime ID instead of a PID; they stand
	// until the backend reports the container, or a stop clears them.
	return m.ContainerID != ""
}

func (r *Reconciler) cleanStaleMarker(name string) {
	if r.Markers == nil {
		return
	}
	m, ok, err := r.Markers.Get(name)
	if err != nil || !ok {
		return
	}
	if m.PID > 0 && r.IsAlive != nil && r.IsAlive(m.PID) {
		return
	}
	r.clearMarker(name)
}

func (r *Reconciler) clearMarker(name string) {
	if r.Markers == nil {
		return
	}
	if err := r.Markers.Clear(name); err != nil {
		log.Warn().Str("service", name).Err(err).Msg("clear start marker failed")
	}
}
