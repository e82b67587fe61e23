package engine

import "time"

const (
	EventPlanStarted     = "plan.started"
	EventPlanFinished    = "plan.finished"
	EventWaveStarted     = "wave.started"
	EventWaveFinished    = "wave.finished"
	EventActionStarted   = "action.started"
	EventActionSucceeded = "action.succeeded"
	EventActionFailed    = "action.failed"
)

// Event is one progress notification from the executor.
type Event struct {
	Type    string    `json:"type"`
	Op      Operation `json:"op,omitempty"`
	Service string    `json:"service,omitempty"`
	Wave    int       `json:"wave"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// Sink receives executor progress events. The executor owns no global output
// state; whoever runs it decides where events go.
type Sink interface {
	Emit(Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}
