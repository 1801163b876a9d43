package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is one persisted, immutable chat message. IDs are ULIDs, so their
// lexical order matches insertion order and breaks created_at ties.
// SenderName is denormalized at read time, never stored on the row.
type Message struct {
	ID             string    `json:"id"` // ULID
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
