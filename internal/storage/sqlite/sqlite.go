// Package sqlite stores conversations in a local SQLite file using the
// pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhouzirui/persona-relay/backend/internal/model/chat"
	"github.com/zhouzirui/persona-relay/backend/internal/storage"
)

// DefaultPath matches the file name used by earlier deployments.
const DefaultPath = "chatbot_conversations.db"

// timeLayout is fixed-width so text ordering equals time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_name TEXT NOT NULL,
	persona_name TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	seq             INTEGER NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	timestamp       TEXT NOT NULL,
	UNIQUE (conversation_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC, id DESC);
`

// Store is a storage.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// SQLite allows one writer; a single connection keeps transactions from
	// tripping over each other and makes ":memory:" usable.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

type txWriter struct {
	tx *sql.Tx
}

func (w txWriter) CreateConversation(ctx context.Context, sessionName, personaName string, at time.Time) (int64, error) {
	ts := formatTime(at)
	res, err := w.tx.ExecContext(ctx,
		`INSERT INTO conversations (session_name, persona_name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sessionName, personaName, ts, ts)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (w txWriter) AppendMessage(ctx context.Context, conversationID int64, m chat.Message) error {
	_, err := w.tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, seq, role, content, timestamp)
		 VALUES (?, COALESCE((SELECT MAX(seq) FROM messages WHERE conversation_id = ?), 0) + 1, ?, ?, ?)`,
		conversationID, conversationID, string(m.Role), m.Content, formatTime(m.Timestamp))
	return err
}

// Atomically implements storage.Store.
func (s *Store) Atomically(ctx context.Context, fn func(storage.Writer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	if err := fn(txWriter{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// ListConversations implements storage.Store.
func (s *Store) ListConversations(ctx context.Context) ([]chat.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_name, persona_name, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list conversations: %w", err)
	}
	defer rows.Close()

	out := []chat.ConversationSummary{}
	for rows.Next() {
		var c chat.ConversationSummary
		var created, updated string
		if err := rows.Scan(&c.ID, &c.SessionName, &c.PersonaName, &created, &updated); err != nil {
			return nil, fmt.Errorf("sqlite: scan conversation: %w", err)
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if c.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation implements storage.Store.
func (s *Store) GetConversation(ctx context.Context, id int64) (chat.Conversation, error) {
	var c chat.Conversation
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_name, persona_name, created_at, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.SessionName, &c.PersonaName, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Conversation{}, storage.ErrNotFound
	}
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("sqlite: get conversation: %w", err)
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return chat.Conversation{}, err
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return chat.Conversation{}, err
	}

	c.Messages, err = s.GetMessages(ctx, id)
	if err != nil {
		return chat.Conversation{}, err
	}
	return c, nil
}

// GetMessages implements storage.Store. Messages come back in insertion order.
func (s *Store) GetMessages(ctx context.Context, id int64) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, timestamp FROM messages WHERE conversation_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list messages: %w", err)
	}
	defer rows.Close()

	out := []chat.Message{}
	for rows.Next() {
		var m chat.Message
		var role, ts string
		if err := rows.Scan(&role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		m.Role = chat.Role(role)
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}
