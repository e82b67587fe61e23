// Package events carries executor progress over an in-memory watermill bus,
// so rendering stays outside the engine.
package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/devloop/pkg/engine"
)

const TopicProgress = "devloop.events"

// Envelope wraps one engine event for the wire, tagged with the run it
// belongs to.
type Envelope struct {
	RunID string       `json:"run_id"`
	Event engine.Event `json:"event"`
}

// Bus is an in-process progress channel between the executor and whoever
// renders its events. Publishes block until the subscriber acks, so a
// PublishEvent that returned means the envelope was delivered.
type Bus struct {
	Router     *message.Router
	Publisher  message.Publisher
	Subscriber message.Subscriber

	startOnce sync.Once
}

func NewInMemoryBus() (*Bus, error) {
	logger := watermill.NopLogger{}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            1024,
		BlockPublishUntilSubscriberAck: true,
	}, logger)

	r, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "new watermill router")
	}
	return &Bus{
		Router:     r,
		Publisher:  pubsub,
		Subscriber: pubsub,
	}, nil
}

// SubscribeEvents registers fn for every progress envelope. Must be called
// before Start.
func (b *Bus) SubscribeEvents(name string, fn func(Envelope)) {
	b.Router.AddConsumerHandler(name, TopicProgress, b.Subscriber, func(msg *message.Message) error {
		var env Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			// Ack malformed payloads; redelivering them cannot help.
			log.Debug().Err(err).Msg("drop malformed progress envelope")
			return nil
		}
		fn(env)
		return nil
	})
}

// PublishEvent marshals and delivers one envelope to every subscriber.
func (b *Bus) PublishEvent(env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal progress envelope")
	}
	if err := b.Publisher.Publish(TopicProgress, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		return errors.Wrap(err, "publish progress envelope")
	}
	return nil
}

// Start runs the router in the background and blocks until it is ready to
// deliver. The in-memory pubsub drops anything published before a subscriber
// is attached, so callers must not emit until Start has returned. The router
// stops when ctx is cancelled.
func (b *Bus) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	b.startOnce.Do(func() {
		go func() {
			errCh <- b.Router.Run(ctx)
		}()
	})
	select {
	case <-b.Router.Running():
		return nil
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "run progress bus")
		}
		return errors.New("progress bus stopped before becoming ready")
	}
}
