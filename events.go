package strata

import (
	"context"
	"time"

	"github.com/autom8ter/machine/v4"
	"github.com/segmentio/ksuid"
)

// EventsChannel is the bus channel lifecycle events are published on
const EventsChannel = "strata.events"

// Event is a notification emitted after a meta operation completes successfully.
// Events are observational only - there are no delivery guarantees.
type Event struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Collection string    `json:"collection,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (g *Gateway) publishEvent(ctx context.Context, op MetaOperation) {
	g.machine.Publish(ctx, machine.Message{
		Channel: EventsChannel,
		Body: Event{
			ID:         ksuid.New().String(),
			Kind:       op.Kind(),
			Collection: op.Collection(),
			Timestamp:  time.Now(),
		},
	})
}

// Watch streams lifecycle events to fn until the context is cancelled or fn returns false
func (g *Gateway) Watch(ctx context.Context, fn func(event Event) (bool, error)) error {
	return g.machine.Subscribe(ctx, EventsChannel, func(ctx context.Context, msg machine.Message) (bool, error) {
		event, ok := msg.Body.(Event)
		if !ok {
			return true, nil
		}
		return fn(event)
	})
}
