// Package postgres stores conversations in PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zhouzirui/persona-relay/backend/internal/model/chat"
	"github.com/zhouzirui/persona-relay/backend/internal/storage"
)

// PGStore is a storage.Store backed by PostgreSQL.
type PGStore struct {
	db *pgxpool.Pool
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*PGStore, error) {
	if databaseURL == "" {
		return nil, errors.New("postgres: DATABASE_URL is empty")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool. The caller keeps ownership of schema setup (see Migrate).
func New(pool *pgxpool.Pool) *PGStore {
	return &PGStore{db: pool}
}

// Close implements storage.Store.
func (s *PGStore) Close() error {
	s.db.Close()
	return nil
}

type txWriter struct {
	tx pgx.Tx
}

func (w txWriter) CreateConversation(ctx context.Context, sessionName, personaName string, at time.Time) (int64, error) {
	var id int64
	err := w.tx.QueryRow(ctx,
		`INSERT INTO relay_conversations (session_name, persona_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 RETURNING id`,
		sessionName, personaName, at,
	).Scan(&id)
	return id, err
}

func (w txWriter) AppendMessage(ctx context.Context, conversationID int64, m chat.Message) error {
	_, err := w.tx.Exec(ctx,
		`INSERT INTO relay_messages (conversation_id, seq, role, content, created_at)
		 VALUES ($1, COALESCE((SELECT MAX(seq) FROM relay_messages WHERE conversation_id = $1), 0) + 1, $2, $3, $4)`,
		conversationID, string(m.Role), m.Content, m.Timestamp,
	)
	return err
}

// Atomically implements storage.Store.
func (s *PGStore) Atomically(ctx context.Context, fn func(storage.Writer) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(txWriter{tx: tx})
	})
}

// ListConversations implements storage.Store.
func (s *PGStore) ListConversations(ctx context.Context) ([]chat.ConversationSummary, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, session_name, persona_name, created_at, updated_at
		 FROM relay_conversations ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list conversations: %w", err)
	}
	defer rows.Close()

	out := []chat.ConversationSummary{}
	for rows.Next() {
		var c chat.ConversationSummary
		if err := rows.Scan(&c.ID, &c.SessionName, &c.PersonaName, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan conversation: %w", err)
		}
		c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list conversations: %w", err)
	}
	return out, nil
}

// GetConversation implements storage.Store.
func (s *PGStore) GetConversation(ctx context.Context, id int64) (chat.Conversation, error) {
	var c chat.Conversation
	err := s.db.QueryRow(ctx,
		`SELECT id, session_name, persona_name, created_at, updated_at
		 FROM relay_conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.SessionName, &c.PersonaName, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Conversation{}, storage.ErrNotFound
	}
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("postgres: get conversation: %w", err)
	}
	c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()

	if c.Messages, err = s.GetMessages(ctx, id); err != nil {
		return chat.Conversation{}, err
	}
	return c, nil
}

// GetMessages implements storage.Store, ordered by seq.
func (s *PGStore) GetMessages(ctx context.Context, id int64) ([]chat.Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT role, content, created_at FROM relay_messages
		 WHERE conversation_id = $1 ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: list messages: %w", err)
	}
	defer rows.Close()

	out := []chat.Message{}
	for rows.Next() {
		var m chat.Message
		var role string
		if err := rows.Scan(&role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		m.Role = chat.Role(role)
		m.Timestamp = m.Timestamp.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list messages: %w", err)
	}
	return out, nil
}
