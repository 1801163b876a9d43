package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/courier/internal/models"
)

// SQLiteStore handles SQLite database operations. It is the development
// fallback when DATABASE_URL is not configured and implements the same
// DataStore contract as PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/courier.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/courier.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent appends.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		pair_key TEXT UNIQUE NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		PRIMARY KEY (conversation_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		sender_id TEXT NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_time
		ON messages (conversation_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_participants_user
		ON conversation_participants (user_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isSQLiteUniqueViolation(err error) bool {
	var sqErr sqlite3.Error
	return errors.As(err, &sqErr) && sqErr.Code == sqlite3.ErrConstraint
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	user := &models.User{
		ID:           uuid.Must(uuid.NewV7()),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID.String(), username, email, passwordHash, user.CreatedAt)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}
	return user, nil
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	var id string
	err := row.Scan(&id, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, created_at
		FROM users WHERE id = ?
	`, id.String()))
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, created_at
		FROM users WHERE email = ?
	`, email))
}

// ListUsersExcept retrieves all users except the given one.
func (s *SQLiteStore) ListUsersExcept(ctx context.Context, selfID uuid.UUID) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, created_at
		FROM users
		WHERE id <> ?
		ORDER BY username
	`, selfID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var id string
		if err := rows.Scan(&id, &u.Username, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		if u.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the total number of users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// FindOrCreateConversation returns the unique conversation for the pair,
// creating it when absent. INSERT OR IGNORE against the pair_key constraint
// makes concurrent creation converge on a single row: after the insert, the
// row is re-read by pair_key and the existed flag is derived from whether our
// candidate id survived.
func (s *SQLiteStore) FindOrCreateConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, bool, error) {
	if a == b {
		return nil, false, ErrSelfConversation
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	var known int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users WHERE id = ? OR id = ?
	`, a.String(), b.String()).Scan(&known)
	if err != nil {
		return nil, false, err
	}
	if known != 2 {
		return nil, false, ErrNotFound
	}

	key := pairKey(a, b)
	candidate := newConversationID()
	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (id, pair_key, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, candidate.String(), key, now, now); err != nil {
		return nil, false, err
	}

	conv := &models.Conversation{}
	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at FROM conversations WHERE pair_key = ?
	`, key).Scan(&id, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, false, err
	}
	if conv.ID, err = uuid.Parse(id); err != nil {
		return nil, false, err
	}

	existed := conv.ID != candidate
	if !existed {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id)
			VALUES (?, ?), (?, ?)
		`, id, a.String(), id, b.String()); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return conv, existed, nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var rawID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at FROM conversations WHERE id = ?
	`, id.String()).Scan(&rawID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if conv.ID, err = uuid.Parse(rawID); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversationsForUser returns a user's conversations ordered by most
// recent activity with the other participant and newest-message preview.
func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.updated_at, u.id, u.username,
			(SELECT content FROM messages
				WHERE conversation_id = c.id
				ORDER BY created_at DESC, id DESC LIMIT 1),
			(SELECT created_at FROM messages
				WHERE conversation_id = c.id
				ORDER BY created_at DESC, id DESC LIMIT 1)
		FROM conversations c
		INNER JOIN conversation_participants cp ON cp.conversation_id = c.id AND cp.user_id = ?
		INNER JOIN conversation_participants cpo ON cpo.conversation_id = c.id AND cpo.user_id <> ?
		INNER JOIN users u ON u.id = cpo.user_id
		ORDER BY c.updated_at DESC
	`, userID.String(), userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.ConversationSummary
	for rows.Next() {
		var cs models.ConversationSummary
		var convID, otherID string
		if err := rows.Scan(&convID, &cs.UpdatedAt, &otherID, &cs.OtherUsername, &cs.LastMessage, &cs.LastMessageAt); err != nil {
			return nil, err
		}
		if cs.ID, err = uuid.Parse(convID); err != nil {
			return nil, err
		}
		if cs.OtherUserID, err = uuid.Parse(otherID); err != nil {
			return nil, err
		}
		summaries = append(summaries, cs)
	}
	return summaries, rows.Err()
}

// IsParticipant reports whether the user belongs to the conversation.
func (s *SQLiteStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID.String(), userID.String()).Scan(&n)
	return n > 0, err
}

// TouchConversation sets the conversation's updated_at timestamp.
func (s *SQLiteStore) TouchConversation(ctx context.Context, conversationID uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, at.UTC(), conversationID.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountConversations returns the total number of conversations.
func (s *SQLiteStore) CountConversations(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n)
	return n, err
}

// AppendMessage persists a message and advances the conversation's
// updated_at in the same transaction.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	msg := &models.Message{
		ID:             ulid.Make().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}

	err = tx.QueryRowContext(ctx, `
		SELECT username FROM users WHERE id = ?
	`, senderID.String()).Scan(&msg.SenderName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, conversationID.String(), senderID.String(), content, msg.CreatedAt); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, msg.CreatedAt, conversationID.String()); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns a conversation's messages in creation order with the
// sender name joined at read time.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, u.username, m.content, m.created_at
		FROM messages m
		INNER JOIN users u ON m.sender_id = u.id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at ASC, m.id ASC
	`, conversationID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		m, err := scanSQLiteMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// GetMessage retrieves a single message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, u.username, m.content, m.created_at
		FROM messages m
		INNER JOIN users u ON m.sender_id = u.id
		WHERE m.id = ?
	`, id)
	m, err := scanSQLiteMessage(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// CountMessages returns the total number of messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

func scanSQLiteMessage(scan func(...any) error) (*models.Message, error) {
	m := &models.Message{}
	var convID, senderID string
	if err := scan(&m.ID, &convID, &senderID, &m.SenderName, &m.Content, &m.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if m.ConversationID, err = uuid.Parse(convID); err != nil {
		return nil, err
	}
	if m.SenderID, err = uuid.Parse(senderID); err != nil {
		return nil, err
	}
	return m, nil
}
