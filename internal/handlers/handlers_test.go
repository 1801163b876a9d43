package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/courier/internal/api"
	"github.com/eldtechnologies/courier/internal/config"
	"github.com/eldtechnologies/courier/internal/store"
	"github.com/eldtechnologies/courier/internal/ws"
)

type fixture struct {
	router http.Handler
	db     *store.SQLiteStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)

	cfg := &config.Config{
		Port:      "0",
		Env:       "test",
		JWTSecret: "handlers-test-secret",
	}

	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	gateway := ws.NewGateway(db, hub, nil, zerolog.Nop())
	router := api.NewRouter(cfg, zerolog.Nop(), db, nil, hub, gateway)

	return &fixture{router: router, db: db}
}

// do performs a JSON request against the router, with an optional bearer token.
func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

type session struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

func (f *fixture) register(t *testing.T, username string) session {
	t.Helper()
	rec := f.do(t, "POST", "/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct horse battery",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d: %s", username, rec.Code, rec.Body.String())
	}
	var s session
	decodeBody(t, rec, &s)
	if s.Token == "" || s.UserID == "" {
		t.Fatalf("register %s: incomplete session: %+v", username, s)
	}
	return s
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)

	cases := []map[string]string{
		{"username": "ab", "email": "a@example.com", "password": "longenough"},
		{"username": "alice", "email": "not-an-email", "password": "longenough"},
		{"username": "alice", "email": "a@example.com", "password": "short"},
	}
	for _, body := range cases {
		if rec := f.do(t, "POST", "/register", "", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %v, got %d", body, rec.Code)
		}
	}
}

func TestRegisterDuplicate(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")

	rec := f.do(t, "POST", "/register", "", map[string]string{
		"username": "alice",
		"email":    "alice2@example.com",
		"password": "correct horse battery",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate username, got %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")

	rec := f.do(t, "POST", "/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "correct horse battery",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var s session
	decodeBody(t, rec, &s)
	if s.Username != "alice" || s.Token == "" {
		t.Fatalf("unexpected session: %+v", s)
	}

	// Wrong password and unknown email produce the same response.
	for _, body := range []map[string]string{
		{"email": "alice@example.com", "password": "wrong password"},
		{"email": "nobody@example.com", "password": "correct horse battery"},
	} {
		rec := f.do(t, "POST", "/login", "", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %v, got %d", body, rec.Code)
		}
		var errBody map[string]string
		decodeBody(t, rec, &errBody)
		if errBody["error"] != "invalid email or password" {
			t.Fatalf("unexpected error message: %q", errBody["error"])
		}
	}
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)

	// No token is unauthorized; a garbage token is forbidden.
	if rec := f.do(t, "GET", "/users", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := f.do(t, "GET", "/users", "not-a-jwt", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with invalid token, got %d", rec.Code)
	}
}

func TestListUsersExcludesCaller(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	f.register(t, "bob")
	f.register(t, "carol")

	rec := f.do(t, "GET", "/users", alice.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var users []struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	decodeBody(t, rec, &users)
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	for _, u := range users {
		if u.ID == alice.UserID {
			t.Fatal("directory must not include the caller")
		}
	}
}

func TestConversationFindOrCreate(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")

	var first struct {
		ConversationID string `json:"conversation_id"`
		Exists         bool   `json:"exists"`
	}
	rec := f.do(t, "POST", "/conversations", alice.Token, map[string]string{"other_user_id": bob.UserID})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &first)
	if first.Exists {
		t.Fatal("first create should report exists=false")
	}

	// Bob asking for the same pair gets the same conversation back.
	var second struct {
		ConversationID string `json:"conversation_id"`
		Exists         bool   `json:"exists"`
	}
	rec = f.do(t, "POST", "/conversations", bob.Token, map[string]string{"other_user_id": alice.UserID})
	decodeBody(t, rec, &second)
	if !second.Exists {
		t.Fatal("second create should report exists=true")
	}
	if second.ConversationID != first.ConversationID {
		t.Fatalf("expected one conversation, got %s and %s", first.ConversationID, second.ConversationID)
	}
}

func TestConversationEdgeCases(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")

	// Self-conversation is rejected.
	rec := f.do(t, "POST", "/conversations", alice.Token, map[string]string{"other_user_id": alice.UserID})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for self conversation, got %d", rec.Code)
	}

	// Unknown participant is not found.
	rec = f.do(t, "POST", "/conversations", alice.Token, map[string]string{"other_user_id": "019d2f6a-0000-7000-8000-000000000000"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", rec.Code)
	}
}

func TestMessagesRoundTrip(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")

	var conv struct {
		ConversationID string `json:"conversation_id"`
	}
	rec := f.do(t, "POST", "/conversations", alice.Token, map[string]string{"other_user_id": bob.UserID})
	decodeBody(t, rec, &conv)

	// History starts empty.
	rec = f.do(t, "GET", "/messages/"+conv.ConversationID, alice.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	seedMessage(t, f, conv.ConversationID, alice.UserID, "hi bob")
	seedMessage(t, f, conv.ConversationID, bob.UserID, "hi alice")

	rec = f.do(t, "GET", "/messages/"+conv.ConversationID, bob.Token, nil)
	var msgs []struct {
		SenderName string `json:"sender_name"`
		Content    string `json:"content"`
	}
	decodeBody(t, rec, &msgs)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].SenderName != "alice" || msgs[0].Content != "hi bob" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].SenderName != "bob" || msgs[1].Content != "hi alice" {
		t.Fatalf("unexpected second message: %+v", msgs[1])
	}

	// Bob's conversation list now previews alice's conversation.
	rec = f.do(t, "GET", "/conversations", bob.Token, nil)
	var convs []struct {
		OtherUser   string  `json:"other_user"`
		LastMessage *string `json:"last_message"`
	}
	decodeBody(t, rec, &convs)
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	if convs[0].OtherUser != "alice" {
		t.Fatalf("expected other participant alice, got %q", convs[0].OtherUser)
	}
	if convs[0].LastMessage == nil || *convs[0].LastMessage != "hi alice" {
		t.Fatalf("unexpected preview: %v", convs[0].LastMessage)
	}
}

func TestMessagesRequireMembership(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")
	carol := f.register(t, "carol")

	var conv struct {
		ConversationID string `json:"conversation_id"`
	}
	rec := f.do(t, "POST", "/conversations", alice.Token, map[string]string{"other_user_id": bob.UserID})
	decodeBody(t, rec, &conv)

	rec = f.do(t, "GET", "/messages/"+conv.ConversationID, carol.Token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-participant, got %d", rec.Code)
	}

	rec = f.do(t, "GET", "/messages/019d2f6a-0000-7000-8000-000000000000", alice.Token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown conversation, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Status string `json:"status"`
	}
	decodeBody(t, rec, &body)
	if body.Status != "healthy" {
		t.Fatalf("expected healthy, got %q", body.Status)
	}
}

func seedMessage(t *testing.T, f *fixture, convID, senderID, content string) {
	t.Helper()
	cid, err := uuid.Parse(convID)
	if err != nil {
		t.Fatal(err)
	}
	sid, err := uuid.Parse(senderID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.db.AppendMessage(context.Background(), cid, sid, content); err != nil {
		t.Fatal(err)
	}
}
