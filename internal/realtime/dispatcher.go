package realtime

import (
	"go.uber.org/zap"

	"github.com/relatim/backend/internal/chat"
)

// Dispatcher fans a persisted message out to the live channels of its
// participants. Delivery is best-effort and fire-and-forget: durability
// lives in the message store, and a peer that misses the push recovers
// via its next history fetch.
type Dispatcher struct {
	registry *Registry
	logger   *zap.Logger
}

// NewDispatcher constructs a Dispatcher over the given registry.
func NewDispatcher(registry *Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// Deliver pushes a new_message event to the sender's and recipient's
// channels. Each push is independent: an absent channel or a full buffer
// is silent and never fails the other push or the caller.
func (d *Dispatcher) Deliver(message chat.Message) {
	event := Event{Type: EventNewMessage, Message: &message}

	targets := []string{message.SenderID, message.RecipientID}
	if message.SenderID == message.RecipientID {
		targets = targets[:1]
	}

	for _, userID := range targets {
		channel, ok := d.registry.Lookup(userID)
		if !ok {
			d.logger.Debug("delivery miss, user not connected",
				zap.String("user_id", userID),
				zap.Int64("message_id", message.ID))
			continue
		}
		if !channel.Enqueue(event) {
			d.logger.Debug("delivery dropped, channel not accepting",
				zap.String("user_id", userID),
				zap.Int64("message_id", message.ID))
		}
	}
}
