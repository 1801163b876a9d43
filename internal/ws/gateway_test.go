package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/courier/internal/models"
	"github.com/eldtechnologies/courier/internal/store"
)

type gatewayFixture struct {
	hub     *Hub
	gateway *Gateway
	db      *store.SQLiteStore
	alice   *models.User
	bob     *models.User
	carol   *models.User
	conv    uuid.UUID
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	ctx := context.Background()

	db, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)

	mkUser := func(name string) *models.User {
		u, err := db.CreateUser(ctx, name, name+"@example.com", "hash")
		if err != nil {
			t.Fatal(err)
		}
		return u
	}
	alice := mkUser("alice")
	bob := mkUser("bob")
	carol := mkUser("carol")

	conv, _, err := db.FindOrCreateConversation(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatal(err)
	}

	hub := newTestHub(t)
	return &gatewayFixture{
		hub:     hub,
		gateway: NewGateway(db, hub, nil, zerolog.Nop()),
		db:      db,
		alice:   alice,
		bob:     bob,
		carol:   carol,
		conv:    conv.ID,
	}
}

func (f *gatewayFixture) connect(t *testing.T, u *models.User) *Client {
	t.Helper()
	c := &Client{
		hub:      f.hub,
		gateway:  f.gateway,
		logger:   zerolog.Nop(),
		userID:   u.ID,
		username: u.Username,
		send:     make(chan []byte, 16),
		topics:   make(map[string]bool),
	}
	f.hub.Register(c)
	return c
}

func decodeEvent(t *testing.T, data []byte) (string, json.RawMessage) {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	return env.Event, env.Payload
}

func joinPayload(conv uuid.UUID) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"conversation_id":%q}`, conv))
}

func sendPayload(conv uuid.UUID, content string) json.RawMessage {
	raw, _ := json.Marshal(SendPayload{ConversationID: conv.String(), Content: content})
	return raw
}

func TestJoinParticipant(t *testing.T) {
	f := newGatewayFixture(t)
	c := f.connect(t, f.alice)

	f.gateway.HandleJoin(c, joinPayload(f.conv))

	event, payload := decodeEvent(t, recv(t, c))
	if event != EventJoined {
		t.Fatalf("expected %q, got %q: %s", EventJoined, event, payload)
	}
}

func TestJoinNonParticipantRejected(t *testing.T) {
	f := newGatewayFixture(t)
	c := f.connect(t, f.carol)

	f.gateway.HandleJoin(c, joinPayload(f.conv))

	event, _ := decodeEvent(t, recv(t, c))
	if event != EventError {
		t.Fatalf("expected %q, got %q", EventError, event)
	}

	// The rejected client must not receive subsequent traffic.
	f.hub.Broadcast(f.conv.String(), []byte("leak"))
	assertQuiet(t, c)
}

func TestSendPersistsAndFansOut(t *testing.T) {
	f := newGatewayFixture(t)
	alice := f.connect(t, f.alice)
	bob := f.connect(t, f.bob)

	f.gateway.HandleJoin(alice, joinPayload(f.conv))
	f.gateway.HandleJoin(bob, joinPayload(f.conv))
	recv(t, alice) // joined
	recv(t, bob)   // joined

	f.gateway.HandleSend(alice, sendPayload(f.conv, "hi bob"))

	for _, c := range []*Client{alice, bob} {
		event, payload := decodeEvent(t, recv(t, c))
		if event != EventNewMessage {
			t.Fatalf("expected %q, got %q: %s", EventNewMessage, event, payload)
		}
		var msg models.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Content != "hi bob" || msg.SenderName != "alice" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	}

	msgs, err := f.db.ListMessages(context.Background(), f.conv)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi bob" {
		t.Fatalf("message not persisted: %+v", msgs)
	}
}

func TestSendDeliveryOrder(t *testing.T) {
	f := newGatewayFixture(t)
	alice := f.connect(t, f.alice)
	bob := f.connect(t, f.bob)

	f.gateway.HandleJoin(alice, joinPayload(f.conv))
	f.gateway.HandleJoin(bob, joinPayload(f.conv))
	recv(t, alice)
	recv(t, bob)

	for i := 0; i < 5; i++ {
		f.gateway.HandleSend(alice, sendPayload(f.conv, fmt.Sprintf("m%d", i)))
	}

	var lastID string
	for i := 0; i < 5; i++ {
		_, payload := decodeEvent(t, recv(t, bob))
		var msg models.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Content != fmt.Sprintf("m%d", i) {
			t.Fatalf("delivery out of order at %d: %q", i, msg.Content)
		}
		if msg.ID <= lastID {
			t.Fatalf("message ids must be increasing: %q after %q", msg.ID, lastID)
		}
		lastID = msg.ID
	}
}

func TestSendSenderMismatchRejected(t *testing.T) {
	f := newGatewayFixture(t)
	alice := f.connect(t, f.alice)

	f.gateway.HandleJoin(alice, joinPayload(f.conv))
	recv(t, alice)

	raw, _ := json.Marshal(SendPayload{
		ConversationID: f.conv.String(),
		SenderID:       f.bob.ID.String(),
		Content:        "spoofed",
	})
	f.gateway.HandleSend(alice, raw)

	event, _ := decodeEvent(t, recv(t, alice))
	if event != EventError {
		t.Fatalf("expected %q, got %q", EventError, event)
	}

	msgs, err := f.db.ListMessages(context.Background(), f.conv)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatal("spoofed message must not be persisted")
	}
}

func TestSendNonParticipantRejected(t *testing.T) {
	f := newGatewayFixture(t)
	carol := f.connect(t, f.carol)

	f.gateway.HandleSend(carol, sendPayload(f.conv, "intruding"))

	event, _ := decodeEvent(t, recv(t, carol))
	if event != EventError {
		t.Fatalf("expected %q, got %q", EventError, event)
	}
}

func TestSendOversizedContentRejected(t *testing.T) {
	f := newGatewayFixture(t)
	alice := f.connect(t, f.alice)

	big := make([]byte, maxContentBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	f.gateway.HandleSend(alice, sendPayload(f.conv, string(big)))

	event, _ := decodeEvent(t, recv(t, alice))
	if event != EventError {
		t.Fatalf("expected %q, got %q", EventError, event)
	}
}
