package realtime

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Relay carries messages between instances.
type Relay interface {
	Publish(ctx context.Context, msg Message) error
}

// Publisher routes service events. With a Relay, every instance (this one
// included) receives the message through its forwarder; without one, or when
// the relay fails, the message goes straight to the local Hub.
type Publisher struct {
	Hub   *Hub
	Relay Relay
}

// Publish delivers an event to userID.
func (p *Publisher) Publish(ctx context.Context, userID, event string, data any) {
	msg := Message{UserID: userID, Event: event, Data: data, At: time.Now().UTC()}
	if p.Relay != nil {
		err := p.Relay.Publish(ctx, msg)
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("event", event).Msg("relay publish failed; delivering locally")
	}
	if p.Hub != nil {
		p.Hub.Broadcast(msg)
	}
}
