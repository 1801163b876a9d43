package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is the canonical record for a 1:1 user pair. UpdatedAt is a
// cached copy of the newest message's creation time (or the conversation's
// own creation time while it has no messages) and orders conversation lists.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationSummary is one row of a user's conversation list: the other
// participant plus a preview of the most recent message, if any.
type ConversationSummary struct {
	ID            uuid.UUID  `json:"id"`
	UpdatedAt     time.Time  `json:"updated_at"`
	OtherUserID   uuid.UUID  `json:"other_user_id"`
	OtherUsername string     `json:"other_user"`
	LastMessage   *string    `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_time,omitempty"`
}
