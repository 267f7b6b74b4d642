package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/lumeon-ai/converse/internal/logger"
)

// PostgresStore holds the shared connection pool for both services. The pool
// health-checks idle connections, so a dropped connection is replaced rather
// than handed to a query.
type PostgresStore struct {
	pool         *pgxpool.Pool
	log          *logger.Logger
	embeddingDim int
}

func NewPostgresStore(ctx context.Context, databaseURL string, embeddingDim int, log *logger.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	s := &PostgresStore{
		pool:         pool,
		log:          log.With("component", "store"),
		embeddingDim: embeddingDim,
	}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector extension: %w", err)
	}

	schema := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS users (
        id BIGSERIAL PRIMARY KEY,
        username TEXT UNIQUE NOT NULL,
        email TEXT UNIQUE NOT NULL,
        full_name TEXT NOT NULL DEFAULT '',
        hashed_password TEXT NOT NULL,
        disabled BOOLEAN NOT NULL DEFAULT FALSE,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );

    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        user_id BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
        title TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        conversation_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
        sender TEXT NOT NULL CHECK (sender IN ('user', 'ai')),
        content TEXT NOT NULL,
        timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, timestamp);

    CREATE TABLE IF NOT EXISTS message_embeddings (
        id BIGSERIAL PRIMARY KEY,
        session_id TEXT NOT NULL,
        sender TEXT NOT NULL,
        content_hash TEXT,
        content_preview TEXT,
        embedding vector(%d) NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS idx_message_embeddings_session ON message_embeddings (session_id);
    CREATE INDEX IF NOT EXISTS idx_message_embeddings_embedding_cos ON message_embeddings
        USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64);
    `, s.embeddingDim)

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// User methods

func (s *PostgresStore) CreateUser(ctx context.Context, username, email, fullName, hashedPassword string) (*User, error) {
	var user User
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, email, full_name, hashed_password) VALUES ($1, $2, $3, $4)
         RETURNING id, username, email, full_name, hashed_password, disabled, created_at, updated_at`,
		username, email, fullName, hashedPassword,
	).Scan(&user.ID, &user.Username, &user.Email, &user.FullName, &user.HashedPassword, &user.Disabled, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return &user, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUser(ctx, "username", username)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email", email)
}

func (s *PostgresStore) getUser(ctx context.Context, column, value string) (*User, error) {
	var user User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email, full_name, hashed_password, disabled, created_at, updated_at
         FROM users WHERE `+column+` = $1`, value,
	).Scan(&user.ID, &user.Username, &user.Email, &user.FullName, &user.HashedPassword, &user.Disabled, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// Conversation methods

func (s *PostgresStore) CreateConversation(ctx context.Context, userID int64, title string) (*Conversation, error) {
	if title == "" {
		title = "New Conversation"
	}
	var conv Conversation
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, user_id, title) VALUES ($1, $2, $3)
         RETURNING id, user_id, title, created_at, updated_at`,
		uuid.NewString(), userID, title,
	).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	return &conv, nil
}

func (s *PostgresStore) GetConversationsByUser(ctx context.Context, userID int64, skip, limit int) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations
         WHERE user_id = $1 ORDER BY updated_at DESC OFFSET $2 LIMIT $3`,
		userID, skip, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	conversations := []Conversation{}
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// GetConversation returns the conversation only when it belongs to userID,
// nil otherwise.
func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string, userID int64) (*Conversation, error) {
	var conv Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations
         WHERE id = $1 AND user_id = $2`,
		conversationID, userID,
	).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	return &conv, nil
}

// Message methods

func (s *PostgresStore) CreateMessage(ctx context.Context, conversationID, sender, content string) (*Message, error) {
	var msg Message
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (id, conversation_id, sender, content) VALUES ($1, $2, $3, $4)
         RETURNING id, conversation_id, sender, content, timestamp`,
		uuid.NewString(), conversationID, sender, content,
	).Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Content, &msg.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	// Keep the parent's updated_at truthful so conversation listings sort by
	// latest activity. Best effort, the message itself is already committed.
	if _, err := s.pool.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`, conversationID,
	); err != nil {
		s.log.Error("failed to touch conversation updated_at", "conversation_id", conversationID, "error", err)
	}

	return &msg, nil
}

func (s *PostgresStore) GetMessagesByConversation(ctx context.Context, conversationID string, skip, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, sender, content, timestamp FROM messages
         WHERE conversation_id = $1 ORDER BY timestamp ASC OFFSET $2 LIMIT $3`,
		conversationID, skip, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
