package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialTestPump upgrades a connection server-side, queues the given frames,
// closes the send channel, and starts the write pump. Returns the client
// side of the connection.
func dialTestPump(t *testing.T, queued ...string) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		c := &Client{
			conn:   conn,
			send:   make(chan []byte, len(queued)+1),
			topics: make(map[string]bool),
		}
		for _, m := range queued {
			c.trySend([]byte(m))
		}
		c.closeSend()
		go c.writePump()
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestWritePumpFlushesThenCloses(t *testing.T) {
	conn := dialTestPump(t, "one", "two")

	for _, want := range []string{"one", "two"} {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if mt != websocket.TextMessage || string(data) != want {
			t.Fatalf("expected text frame %q, got type %d payload %q", want, mt, data)
		}
	}

	// After the queue drains the pump sends a close frame. An empty text
	// frame here means the pump kept writing from the closed channel.
	mt, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected close, got frame type %d payload %q", mt, data)
	}
	if _, ok := err.(*websocket.CloseError); !ok {
		t.Fatalf("expected close error, got %v", err)
	}
}

func TestWritePumpClosedWithEmptyQueue(t *testing.T) {
	conn := dialTestPump(t)

	mt, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected close, got frame type %d payload %q", mt, data)
	}
}
