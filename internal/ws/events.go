package ws

import (
	"encoding/json"
	"errors"

	"github.com/eldtechnologies/courier/internal/models"
)

// Client-to-server event names.
const (
	EventJoinConversation = "join_conversation"
	EventSendMessage      = "send_message"
)

// Server-to-client event names.
const (
	EventNewMessage = "new_message"
	EventJoined     = "joined"
	EventError      = "error"
)

// Envelope frames every event on the wire: a tag plus a typed payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload is the payload of a join_conversation event.
type JoinPayload struct {
	ConversationID string `json:"conversation_id"`
}

// SendPayload is the payload of a send_message event. SenderID is accepted
// for wire compatibility but must match the authenticated session.
type SendPayload struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id,omitempty"`
	Content        string `json:"content"`
}

// DecodeJoin parses and validates a join_conversation payload.
func DecodeJoin(raw json.RawMessage) (*JoinPayload, error) {
	var p JoinPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.New("malformed join_conversation payload")
	}
	if p.ConversationID == "" {
		return nil, errors.New("conversation_id is required")
	}
	return &p, nil
}

// DecodeSend parses and validates a send_message payload.
func DecodeSend(raw json.RawMessage) (*SendPayload, error) {
	var p SendPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.New("malformed send_message payload")
	}
	if p.ConversationID == "" {
		return nil, errors.New("conversation_id is required")
	}
	if p.Content == "" {
		return nil, errors.New("content is required")
	}
	return &p, nil
}

func encodeEvent(event string, payload interface{}) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	data, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return nil
	}
	return data
}

// NewMessageEvent frames a persisted message for delivery to subscribers.
func NewMessageEvent(msg *models.Message) []byte {
	return encodeEvent(EventNewMessage, msg)
}

// JoinedEvent acknowledges a successful subscription.
func JoinedEvent(conversationID string) []byte {
	return encodeEvent(EventJoined, JoinPayload{ConversationID: conversationID})
}

// ErrorEvent frames a failure report for the originating connection.
func ErrorEvent(message string) []byte {
	return encodeEvent(EventError, map[string]string{"message": message})
}
