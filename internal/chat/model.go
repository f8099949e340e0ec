package chat

import "time"

// Direction classifies a message relative to the user viewing it.
type Direction string

const (
	// DirectionOutgoing marks a message the viewer sent.
	DirectionOutgoing Direction = "outgoing"
	// DirectionIncoming marks a message the viewer received.
	DirectionIncoming Direction = "incoming"
)

// Conversation is the canonical thread between an unordered pair of users.
// The pair is stored in ascending order so that lookup by either ordering
// resolves to the same row.
type Conversation struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UserAID   string    `gorm:"column:user_a_id;size:190;not null;uniqueIndex:idx_conversations_pair,priority:1" json:"user_a_id"`
	UserBID   string    `gorm:"column:user_b_id;size:190;not null;uniqueIndex:idx_conversations_pair,priority:2" json:"user_b_id"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Conversation) TableName() string {
	return "conversations"
}

// Message is an immutable persisted message. Ids come from the store's
// auto-increment sequence, so id order is assignment order.
type Message struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ConversationID string    `gorm:"column:conversation_id;size:190;not null;index:idx_messages_conversation" json:"conversation_id"`
	SenderID       string    `gorm:"column:sender_id;size:190;not null" json:"sender_id"`
	RecipientID    string    `gorm:"column:recipient_id;size:190;not null" json:"recipient_id"`
	Text           string    `gorm:"column:text;type:text;not null" json:"text"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "messages"
}

// DirectedMessage annotates a message with its viewer-relative direction.
// Direction is derived, never stored.
type DirectedMessage struct {
	Message
	Direction Direction `json:"direction"`
}
