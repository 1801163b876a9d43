// Package tasks wires background jobs through asynq. The only job today is
// search indexing: message writes enqueue a task so the hot send path never
// blocks on Redis index updates.
package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/courier/internal/models"
	"github.com/eldtechnologies/courier/internal/store"
)

const TaskTypeIndexMessage = "search:index_message"

type indexMessagePayload struct {
	MessageID string    `json:"message_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Client enqueues tasks. It satisfies ws.Indexer.
type Client struct {
	client *asynq.Client
}

func NewClient(redisURL string) (*Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, err
	}
	return &Client{client: asynq.NewClient(opt)}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueIndex schedules a message for search indexing. Tasks are retried a
// few times and then dropped; the index is best effort.
func (c *Client) EnqueueIndex(ctx context.Context, msg *models.Message) error {
	payload, err := json.Marshal(indexMessagePayload{
		MessageID: msg.ID,
		Content:   msg.Content,
		Timestamp: msg.CreatedAt,
	})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskTypeIndexMessage, payload, asynq.MaxRetry(3), asynq.Timeout(30*time.Second))
	_, err = c.client.EnqueueContext(ctx, task)
	return err
}

// NewServer builds an asynq worker that processes indexing tasks against the
// given Redis search store.
func NewServer(redisURL string, rs *store.RedisStore, logger zerolog.Logger) (*asynq.Server, *asynq.ServeMux, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, nil, err
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 4,
		Queues:      map[string]int{"default": 1},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeIndexMessage, func(ctx context.Context, t *asynq.Task) error {
		var p indexMessagePayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			logger.Error().Err(err).Msg("bad index task payload")
			return nil // not retryable
		}
		if err := rs.IndexMessage(ctx, p.MessageID, p.Content, p.Timestamp); err != nil {
			logger.Warn().Err(err).Str("message_id", p.MessageID).Msg("index write failed")
			return err
		}
		return nil
	})

	return srv, mux, nil
}
