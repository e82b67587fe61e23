package events

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/devloop/pkg/engine"
)

// BusSink publishes executor events to the progress topic, tagged with one
// run ID per sink. Publish failures are logged, never surfaced; a progress
// event must not fail an action.
type BusSink struct {
	Bus   *Bus
	RunID string
}

var _ engine.Sink = (*BusSink)(nil)

func NewBusSink(bus *Bus) *BusSink {
	return &BusSink{Bus: bus, RunID: uuid.NewString()}
}

func (s *BusSink) Emit(ev engine.Event) {
	if err := s.Bus.PublishEvent(Envelope{RunID: s.RunID, Event: ev}); err != nil {
		log.Debug().Err(err).Msg("publish progress event")
	}
}
