package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/courier/internal/models"
)

var (
	// ErrDuplicateUser is returned when a username or email is already taken.
	ErrDuplicateUser = errors.New("user already exists")

	// ErrNotFound is returned when a referenced user or conversation does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSelfConversation is returned when both conversation participants are the same user.
	ErrSelfConversation = errors.New("conversation requires two distinct users")
)

// DataStore defines the interface for persistent storage of users,
// conversations and messages. Both PostgresStore and SQLiteStore implement
// this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsersExcept(ctx context.Context, selfID uuid.UUID) ([]models.User, error)
	CountUsers(ctx context.Context) (int64, error)

	// Conversation operations. FindOrCreateConversation returns the single
	// conversation for the unordered pair (a, b), creating it atomically on
	// first use. The existed flag reports whether it was already present.
	FindOrCreateConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, bool, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListConversationsForUser(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	TouchConversation(ctx context.Context, conversationID uuid.UUID, at time.Time) error
	CountConversations(ctx context.Context) (int64, error)

	// Message operations. AppendMessage persists the message and advances the
	// owning conversation's updated_at to the message's creation time in the
	// same transaction.
	AppendMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	CountMessages(ctx context.Context) (int64, error)
}

// pairKey builds the canonical key for an unordered user pair. Sorting the
// ids makes the pair's uniqueness enforceable by a single unique constraint.
func pairKey(a, b uuid.UUID) string {
	as, bs := a.String(), b.String()
	if as > bs {
		as, bs = bs, as
	}
	return as + ":" + bs
}

// newConversationID generates a time-ordered UUID v7.
func newConversationID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
