package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/courier/internal/models"
)

func TestDecodeSendValidation(t *testing.T) {
	if _, err := DecodeSend(json.RawMessage(`{"conversation_id":"c1","content":"hi"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeSend(json.RawMessage(`{"content":"hi"}`)); err == nil {
		t.Fatal("expected error for missing conversation_id")
	}
	if _, err := DecodeSend(json.RawMessage(`{"conversation_id":"c1"}`)); err == nil {
		t.Fatal("expected error for missing content")
	}
	if _, err := DecodeSend(json.RawMessage(`not json`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestDecodeJoinValidation(t *testing.T) {
	p, err := DecodeJoin(json.RawMessage(`{"conversation_id":"c1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if p.ConversationID != "c1" {
		t.Fatalf("expected conversation c1, got %q", p.ConversationID)
	}
	if _, err := DecodeJoin(json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for missing conversation_id")
	}
}

func TestNewMessageEventShape(t *testing.T) {
	msg := &models.Message{
		ID:             "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		ConversationID: uuid.Must(uuid.NewV7()),
		SenderID:       uuid.Must(uuid.NewV7()),
		SenderName:     "alice",
		Content:        "hi",
		CreatedAt:      time.Now().UTC(),
	}

	var env Envelope
	if err := json.Unmarshal(NewMessageEvent(msg), &env); err != nil {
		t.Fatal(err)
	}
	if env.Event != EventNewMessage {
		t.Fatalf("expected event %q, got %q", EventNewMessage, env.Event)
	}

	var got models.Message
	if err := json.Unmarshal(env.Payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != msg.ID || got.Content != "hi" || got.SenderName != "alice" {
		t.Fatalf("payload mismatch: %+v", got)
	}
}

func TestErrorEventShape(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal(ErrorEvent("boom"), &env); err != nil {
		t.Fatal(err)
	}
	if env.Event != EventError {
		t.Fatalf("expected event %q, got %q", EventError, env.Event)
	}
	var payload map[string]string
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["message"] != "boom" {
		t.Fatalf("expected message boom, got %q", payload["message"])
	}
}
