package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const searchTTL = 30 * 24 * time.Hour

// RedisStore handles Redis operations: the message search index and the
// backing client for rate limiting.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for middleware that shares the
// connection (rate limiting).
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// searchWordKey returns the key for a search word index.
func searchWordKey(word string) string {
	return fmt.Sprintf("search:words:%s", strings.ToLower(word))
}

// wordRegex matches word characters for search tokenization.
var wordRegex = regexp.MustCompile(`\w+`)

// Tokenize splits text into the lowercase index tokens used by the search
// index. Words shorter than three characters are skipped and duplicates
// removed.
func Tokenize(text string) []string {
	words := wordRegex.FindAllString(strings.ToLower(text), -1)

	seen := make(map[string]bool, len(words))
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		if len(word) < 3 || seen[word] {
			continue
		}
		seen[word] = true
		tokens = append(tokens, word)
	}
	return tokens
}

// IndexMessage indexes message content for search. Members are message IDs,
// scored by the message timestamp in unix milliseconds.
func (s *RedisStore) IndexMessage(ctx context.Context, messageID, content string, at time.Time) error {
	score := float64(at.UnixMilli())
	for _, word := range Tokenize(content) {
		key := searchWordKey(word)
		if err := s.client.ZAdd(ctx, key, redis.Z{
			Score:  score,
			Member: messageID,
		}).Err(); err != nil {
			return err
		}
		s.client.Expire(ctx, key, searchTTL)
	}
	return nil
}

// SearchMessages returns message IDs matching all query tokens, newest
// first. Multi-word queries intersect the per-word sets.
func (s *RedisStore) SearchMessages(ctx context.Context, tokens []string, limit int) ([]string, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	keys := make([]string, len(tokens))
	for i, t := range tokens {
		keys[i] = searchWordKey(t)
	}

	if len(keys) == 1 {
		return s.client.ZRevRangeByScore(ctx, keys[0], &redis.ZRangeBy{
			Min:   "-inf",
			Max:   "+inf",
			Count: int64(limit),
		}).Result()
	}

	tempKey := fmt.Sprintf("search:temp:%d", time.Now().UnixNano())
	if err := s.client.ZInterStore(ctx, tempKey, &redis.ZStore{
		Keys:      keys,
		Aggregate: "MIN",
	}).Err(); err != nil {
		return nil, err
	}
	defer s.client.Del(ctx, tempKey)

	return s.client.ZRevRange(ctx, tempKey, 0, int64(limit)-1).Result()
}
