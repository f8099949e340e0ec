package realtime

import "github.com/relatim/backend/internal/chat"

// EventNewMessage announces a freshly persisted message to a live channel.
const EventNewMessage = "new_message"

// Event is the frame pushed to a live channel.
type Event struct {
	Type    string        `json:"type"`
	Message *chat.Message `json:"message,omitempty"`
}
