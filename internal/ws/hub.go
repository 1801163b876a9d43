package ws

import (
	"context"

	"github.com/eldtechnologies/courier/internal/metrics"
)

// subscription pairs a client with the conversation topic it wants.
type subscription struct {
	client *Client
	topic  string
}

// broadcastMessage carries one framed event to every subscriber of a topic.
type broadcastMessage struct {
	topic string
	data  []byte
}

// Hub is the process-wide registry of live connections and their
// conversation subscriptions. All state is owned by the Run goroutine, so no
// locking is needed; other goroutines interact through channels only.
//
// Delivery is fire-and-forget: a publish fans out to exactly the clients
// subscribed to that topic at that moment, and a slow client is dropped
// rather than allowed to stall the others.
type Hub struct {
	clients map[*Client]bool
	topics  map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	broadcast  chan broadcastMessage

	// done is closed when Run returns, so senders stop blocking on a hub
	// that is no longer draining its channels.
	done chan struct{}
}

// NewHub creates an empty hub. Run must be started before use.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		topics:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		broadcast:  make(chan broadcastMessage),
		done:       make(chan struct{}),
	}
}

// Register adds a connection to the hub. No-op after shutdown.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister removes a connection and all of its subscriptions.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Subscribe adds the connection to a conversation topic. Subscriptions are
// additive; one connection may follow many conversations.
func (h *Hub) Subscribe(c *Client, topic string) {
	select {
	case h.subscribe <- subscription{client: c, topic: topic}:
	case <-h.done:
	}
}

// Broadcast delivers data to every connection currently subscribed to the
// topic. Connections that subscribe afterwards do not receive it.
func (h *Hub) Broadcast(topic string, data []byte) {
	select {
	case h.broadcast <- broadcastMessage{topic: topic, data: data}:
	case <-h.done:
	}
}

// Run owns the registry state until the context is canceled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = true
			metrics.WSConnections.Inc()

		case client := <-h.unregister:
			if _, ok := h.clients[client]; !ok {
				continue
			}
			delete(h.clients, client)
			for topic := range client.topics {
				h.dropFromTopic(topic, client)
			}
			client.closeSend()
			metrics.WSConnections.Dec()

		case sub := <-h.subscribe:
			if _, ok := h.clients[sub.client]; !ok {
				continue
			}
			room := h.topics[sub.topic]
			if room == nil {
				room = make(map[*Client]bool)
				h.topics[sub.topic] = room
			}
			room[sub.client] = true
			sub.client.topics[sub.topic] = true

		case msg := <-h.broadcast:
			for client := range h.topics[msg.topic] {
				if client.trySend(msg.data) {
					metrics.FanoutDeliveries.Inc()
					continue
				}
				// Slow consumer: drop it entirely rather than block fanout.
				delete(h.clients, client)
				for topic := range client.topics {
					h.dropFromTopic(topic, client)
				}
				client.closeSend()
				metrics.WSConnections.Dec()
			}
		}
	}
}

func (h *Hub) dropFromTopic(topic string, client *Client) {
	room, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(room, client)
	if len(room) == 0 {
		delete(h.topics, topic)
	}
}
