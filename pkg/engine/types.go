package engine

import (
	"context"
	"time"
)

// Kind selects the backend a service runs on.
type Kind string

const (
	KindNative    Kind = "native"
	KindContainer Kind = "container"
)

// DefaultHealthcheckSeconds is the post-start delay applied when a service
// declares no healthcheck of its own.
const DefaultHealthcheckSeconds = 5

// Healthcheck classifies a running service as ready or not. Exactly one mode
// is active: a URL to poll with GET, or a fixed number of seconds to wait
// after the observed start.
type Healthcheck struct {
	Seconds int    `json:"seconds,omitempty"`
	URL     string `json:"url,omitempty"`
}

func (h Healthcheck) IsURL() bool { return h.URL != "" }

// ServiceSpec describes one startable unit. Specs are immutable for the
// duration of an invocation; the engine never mutates them.
type ServiceSpec struct {
	Name        string            `json:"name"`
	Kind        Kind              `json:"kind"`
	Command     []string          `json:"command,omitempty"`
	Image       string            `json:"image,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	DependsOn   []string          `json:"depends_on,omitempty"`
	Healthcheck Healthcheck       `json:"healthcheck"`
	Profiles    []string          `json:"profiles,omitempty"`
}

// EligibleFor reports whether the spec may start by default under the given
// profile. An empty profile set means "always eligible".
func (s ServiceSpec) EligibleFor(profile string) bool {
	if len(s.Profiles) == 0 {
		return true
	}
	for _, p := range s.Profiles {
		if p == profile {
			return true
		}
	}
	return false
}

// Operation is a top-level request against a project's services.
type Operation string

const (
	OpStart   Operation = "start"
	OpStop    Operation = "stop"
	OpRestart Operation = "restart"
)

// Action is one start or stop of one service. Actions are ephemeral, created
// fresh per planning pass.
type Action struct {
	Op          Operation   `json:"op"`
	Kind        Kind        `json:"kind"`
	Service     string      `json:"service"`
	Healthcheck Healthcheck `json:"healthcheck"`
}

// Wave is a set of actions with no dependency edge between any two. Order
// within a wave carries no meaning.
type Wave []Action

// ActionPlan is an ordered sequence of waves. Wave i+1 may not begin until
// every action in wave i has settled.
type ActionPlan struct {
	Op    Operation `json:"op"`
	Waves []Wave    `json:"waves"`
}

func (p ActionPlan) Empty() bool { return p.NumActions() == 0 }

func (p ActionPlan) NumActions() int {
	n := 0
	for _, w := range p.Waves {
		n += len(w)
	}
	return n
}

// ServiceNames returns every service named by the plan, in wave order.
func (p ActionPlan) ServiceNames() []string {
	out := make([]string, 0, p.NumActions())
	for _, w := range p.Waves {
		for _, a := range w {
			out = append(out, a.Service)
		}
	}
	return out
}

// Observation is a backend's point-in-time view of one service.
type Observation struct {
	Present   bool      `json:"present"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Handle identifies a started service: a PID for native processes, an opaque
// runtime ID for containers.
type Handle struct {
	PID       int       `json:"pid,omitempty"`
	ID        string    `json:"id,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Backend starts, stops and inspects services of one kind. Implementations
// own their retry policy; the engine never retries.
type Backend interface {
	Start(ctx context.Context, spec ServiceSpec) (Handle, error)
	Stop(ctx context.Context, name string) error
	QueryStatus(ctx context.Context, name string) (Observation, error)
}

// Marker is persisted when a start has been issued but the backend may not
// show the service yet. It bridges the gap between "start requested" and
// "backend shows it running".
type Marker struct {
	PID         int       `json:"start_pid,omitempty"`
	ContainerID string    `json:"container_id,omitempty"`
	RequestedAt time.Time `json:"start_requested_at,omitempty"`
}

// MarkerStore persists start markers across invocations.
type MarkerStore interface {
	Record(name string, m Marker) error
	Clear(name string) error
	Get(name string) (Marker, bool, error)
}

// RuntimeInspector answers "does this service currently need no start?".
// A service counts as up when it is observed running or visibly starting
// (pending); only a fully down service is a start candidate.
type RuntimeInspector interface {
	IsUp(ctx context.Context, spec ServiceSpec) (bool, error)
}
