package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/courier/internal/auth"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer. Leaves headroom over the
	// content cap for the JSON envelope.
	maxFrameSize = 16 * 1024

	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one live websocket connection bound to an authenticated user.
type Client struct {
	hub     *Hub
	gateway *Gateway
	conn    *websocket.Conn
	logger  zerolog.Logger

	userID   uuid.UUID
	username string

	// sendMu guards send against the close: the hub may tear a client down
	// while its readPump is still producing replies, and a send on a closed
	// channel would panic the sender.
	sendMu     sync.Mutex
	sendClosed bool
	send       chan []byte

	// topics is owned by the hub goroutine.
	topics map[string]bool
}

// trySend queues data for the write pump. Reports false, without blocking,
// when the buffer is full or the connection is being torn down.
func (c *Client) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel exactly once. Only the hub calls this.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// ServeWS upgrades an authenticated HTTP request to a websocket connection
// and starts its pumps.
func ServeWS(hub *Hub, gateway *Gateway, logger zerolog.Logger, w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	userID, err := claims.Subject()
	if err != nil {
		http.Error(w, `{"error":"invalid token"}`, http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:      hub,
		gateway:  gateway,
		conn:     conn,
		logger:   logger.With().Str("user_id", userID.String()).Logger(),
		userID:   userID,
		username: claims.Username,
		send:     make(chan []byte, sendBufferSize),
		topics:   make(map[string]bool),
	}
	hub.Register(client)

	go client.writePump()
	go client.readPump()
}

// reply queues an event for this connection only. Drops the event if the
// buffer is full or the connection is already being torn down.
func (c *Client) reply(data []byte) {
	if data == nil {
		return
	}
	c.trySend(data)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read failed")
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.reply(ErrorEvent("malformed event"))
			continue
		}

		switch env.Event {
		case EventJoinConversation:
			c.gateway.HandleJoin(c, env.Payload)
		case EventSendMessage:
			c.gateway.HandleSend(c, env.Payload)
		default:
			c.reply(ErrorEvent("unknown event: " + env.Event))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Flush any queued events in the same wake-up.
			n := len(c.send)
			for i := 0; i < n; i++ {
				queued, ok := <-c.send
				if !ok {
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
