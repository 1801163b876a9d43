package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/courier/internal/models"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, username, email, password_hash, created_at
	`, uuid.Must(uuid.NewV7()), username, email, passwordHash).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, email, password_hash, created_at
		FROM users WHERE id = $1
	`, id).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, email, password_hash, created_at
		FROM users WHERE email = $1
	`, email).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// ListUsersExcept retrieves all users except the given one.
func (s *PostgresStore) ListUsersExcept(ctx context.Context, selfID uuid.UUID) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, email, created_at
		FROM users
		WHERE id <> $1
		ORDER BY username
	`, selfID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the total number of users.
func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// FindOrCreateConversation returns the unique conversation for the pair
// (a, b), creating it when absent. The lookup and the creation run in one
// transaction, and the unique constraint on pair_key closes the window in
// which two concurrent callers could both observe "not found": the loser of
// the insert race re-reads the winner's row instead of creating a duplicate.
func (s *PostgresStore) FindOrCreateConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, bool, error) {
	if a == b {
		return nil, false, ErrSelfConversation
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	var known int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM users WHERE id = $1 OR id = $2
	`, a, b).Scan(&known)
	if err != nil {
		return nil, false, err
	}
	if known != 2 {
		return nil, false, ErrNotFound
	}

	conv := &models.Conversation{}
	err = tx.QueryRow(ctx, `
		SELECT c.id, c.created_at, c.updated_at
		FROM conversations c
		INNER JOIN conversation_participants cp1 ON c.id = cp1.conversation_id
		INNER JOIN conversation_participants cp2 ON c.id = cp2.conversation_id
		WHERE cp1.user_id = $1 AND cp2.user_id = $2
	`, a, b).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return conv, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	key := pairKey(a, b)
	err = tx.QueryRow(ctx, `
		INSERT INTO conversations (id, pair_key)
		VALUES ($1, $2)
		ON CONFLICT (pair_key) DO NOTHING
		RETURNING id, created_at, updated_at
	`, newConversationID(), key).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race: a concurrent transaction created the conversation.
		err = tx.QueryRow(ctx, `
			SELECT id, created_at, updated_at FROM conversations WHERE pair_key = $1
		`, key).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
		if err != nil {
			return nil, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return conv, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	// Both participant rows commit with the conversation or not at all.
	_, err = tx.Exec(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2), ($1, $3)
	`, conv.ID, a, b)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return conv, false, nil
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, created_at, updated_at FROM conversations WHERE id = $1
	`, id).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return conv, nil
}

// ListConversationsForUser returns a user's conversations ordered by most
// recent activity, each with the other participant and a preview of the
// newest message. Conversations without messages are included with a null
// preview.
func (s *PostgresStore) ListConversationsForUser(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.updated_at, u.id, u.username, lm.content, lm.created_at
		FROM conversations c
		INNER JOIN conversation_participants cp ON cp.conversation_id = c.id AND cp.user_id = $1
		INNER JOIN conversation_participants cpo ON cpo.conversation_id = c.id AND cpo.user_id <> $1
		INNER JOIN users u ON u.id = cpo.user_id
		LEFT JOIN LATERAL (
			SELECT content, created_at
			FROM messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) lm ON TRUE
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.ConversationSummary
	for rows.Next() {
		var cs models.ConversationSummary
		if err := rows.Scan(&cs.ID, &cs.UpdatedAt, &cs.OtherUserID, &cs.OtherUsername, &cs.LastMessage, &cs.LastMessageAt); err != nil {
			return nil, err
		}
		summaries = append(summaries, cs)
	}
	return summaries, rows.Err()
}

// IsParticipant reports whether the user belongs to the conversation.
func (s *PostgresStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)
	`, conversationID, userID).Scan(&ok)
	return ok, err
}

// TouchConversation sets the conversation's updated_at timestamp.
func (s *PostgresStore) TouchConversation(ctx context.Context, conversationID uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET updated_at = $2 WHERE id = $1
	`, conversationID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountConversations returns the total number of conversations.
func (s *PostgresStore) CountConversations(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n)
	return n, err
}

// AppendMessage persists a message and advances the conversation's
// updated_at to the message's creation time in the same transaction.
func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) (*models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	msg := &models.Message{
		ID:             ulid.Make().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, msg.ID, conversationID, senderID, content).Scan(&msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		SELECT username FROM users WHERE id = $1
	`, senderID).Scan(&msg.SenderName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE conversations SET updated_at = $2 WHERE id = $1
	`, conversationID, msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns a conversation's messages ascending by creation time,
// ULID id as the tie-break, with the sender name joined at read time.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, u.username, m.content, m.created_at
		FROM messages m
		INNER JOIN users u ON m.sender_id = u.id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at ASC, m.id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage retrieves a single message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	m := &models.Message{}
	err := s.pool.QueryRow(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, u.username, m.content, m.created_at
		FROM messages m
		INNER JOIN users u ON m.sender_id = u.id
		WHERE m.id = $1
	`, id).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Content, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// CountMessages returns the total number of messages.
func (s *PostgresStore) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}
