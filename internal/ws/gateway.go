package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/courier/internal/metrics"
	"github.com/eldtechnologies/courier/internal/models"
	"github.com/eldtechnologies/courier/internal/store"
)

// Content larger than this is rejected before hitting storage.
const maxContentBytes = 8192

const opTimeout = 10 * time.Second

// Indexer enqueues a message for background search indexing. May be nil
// when no queue is configured.
type Indexer interface {
	EnqueueIndex(ctx context.Context, msg *models.Message) error
}

// Gateway bridges websocket events and the data store. Appends are
// serialized per conversation so that commit order matches fanout order.
type Gateway struct {
	db      store.DataStore
	hub     *Hub
	indexer Indexer
	logger  zerolog.Logger

	// locks holds one *sync.Mutex per conversation ID.
	locks sync.Map
}

func NewGateway(db store.DataStore, hub *Hub, indexer Indexer, logger zerolog.Logger) *Gateway {
	return &Gateway{
		db:      db,
		hub:     hub,
		indexer: indexer,
		logger:  logger,
	}
}

func (g *Gateway) conversationLock(id string) *sync.Mutex {
	mu, _ := g.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// HandleJoin subscribes the client to a conversation's live feed after
// checking it is a participant.
func (g *Gateway) HandleJoin(c *Client, raw json.RawMessage) {
	payload, err := DecodeJoin(raw)
	if err != nil {
		c.reply(ErrorEvent(err.Error()))
		return
	}

	convID, err := uuid.Parse(payload.ConversationID)
	if err != nil {
		c.reply(ErrorEvent("invalid conversation id"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	ok, err := g.db.IsParticipant(ctx, convID, c.userID)
	if err != nil {
		g.logger.Error().Err(err).Str("conversation_id", convID.String()).Msg("join membership check failed")
		c.reply(ErrorEvent("could not join conversation"))
		return
	}
	if !ok {
		c.reply(ErrorEvent("not a participant of this conversation"))
		return
	}

	g.hub.Subscribe(c, convID.String())
	c.reply(JoinedEvent(convID.String()))
}

// HandleSend persists a message and fans it out to everyone subscribed to
// the conversation, sender included.
func (g *Gateway) HandleSend(c *Client, raw json.RawMessage) {
	payload, err := DecodeSend(raw)
	if err != nil {
		c.reply(ErrorEvent(err.Error()))
		return
	}

	// The sender identity comes from the session, never from the payload.
	if payload.SenderID != "" && payload.SenderID != c.userID.String() {
		c.reply(ErrorEvent("sender does not match session"))
		return
	}

	if len(payload.Content) > maxContentBytes {
		c.reply(ErrorEvent("message too long"))
		return
	}

	convID, err := uuid.Parse(payload.ConversationID)
	if err != nil {
		c.reply(ErrorEvent("invalid conversation id"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	ok, err := g.db.IsParticipant(ctx, convID, c.userID)
	if err != nil {
		g.logger.Error().Err(err).Str("conversation_id", convID.String()).Msg("send membership check failed")
		c.reply(ErrorEvent("could not send message"))
		return
	}
	if !ok {
		c.reply(ErrorEvent("not a participant of this conversation"))
		return
	}

	topic := convID.String()
	mu := g.conversationLock(topic)
	mu.Lock()
	msg, err := g.db.AppendMessage(ctx, convID, c.userID, payload.Content)
	if err != nil {
		mu.Unlock()
		if errors.Is(err, store.ErrNotFound) {
			c.reply(ErrorEvent("conversation not found"))
			return
		}
		g.logger.Error().Err(err).Str("conversation_id", topic).Msg("message append failed")
		c.reply(ErrorEvent("could not send message"))
		return
	}
	g.hub.Broadcast(topic, NewMessageEvent(msg))
	mu.Unlock()

	metrics.MessagesSent.Inc()

	if g.indexer != nil {
		if err := g.indexer.EnqueueIndex(ctx, msg); err != nil {
			g.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("index enqueue failed")
		}
	}
}
