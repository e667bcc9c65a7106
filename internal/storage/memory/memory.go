// Package memory is a process-local storage.Store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/persona-relay/backend/internal/model/chat"
	"github.com/zhouzirui/persona-relay/backend/internal/storage"
)

type record struct {
	summary  chat.ConversationSummary
	messages []chat.Message
}

// Store keeps conversations in maps. Writes inside Atomically are staged and
// published under the lock only when the callback succeeds.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*record
}

// New returns an empty store.
func New() *Store {
	return &Store{byID: make(map[int64]*record)}
}

type stagedWriter struct {
	store  *Store
	staged map[int64]*record
	order  []int64
}

func (w *stagedWriter) CreateConversation(_ context.Context, sessionName, personaName string, at time.Time) (int64, error) {
	w.store.mu.Lock()
	w.store.nextID++
	id := w.store.nextID
	w.store.mu.Unlock()

	w.staged[id] = &record{summary: chat.ConversationSummary{
		ID:          id,
		SessionName: sessionName,
		PersonaName: personaName,
		CreatedAt:   at,
		UpdatedAt:   at,
	}}
	w.order = append(w.order, id)
	return id, nil
}

func (w *stagedWriter) AppendMessage(_ context.Context, conversationID int64, m chat.Message) error {
	rec, ok := w.staged[conversationID]
	if !ok {
		return storage.ErrNotFound
	}
	rec.messages = append(rec.messages, m)
	return nil
}

// Atomically implements storage.Store.
func (s *Store) Atomically(ctx context.Context, fn func(storage.Writer) error) error {
	w := &stagedWriter{store: s, staged: make(map[int64]*record)}
	if err := fn(w); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range w.order {
		s.byID[id] = w.staged[id]
	}
	return nil
}

// ListConversations implements storage.Store.
func (s *Store) ListConversations(_ context.Context) ([]chat.ConversationSummary, error) {
	s.mu.RLock()
	out := make([]chat.ConversationSummary, 0, len(s.byID))
	for _, rec := range s.byID {
		out = append(out, rec.summary)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// GetConversation implements storage.Store.
func (s *Store) GetConversation(_ context.Context, id int64) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return chat.Conversation{}, storage.ErrNotFound
	}
	return chat.Conversation{
		ConversationSummary: rec.summary,
		Messages:            append([]chat.Message{}, rec.messages...),
	}, nil
}

// GetMessages implements storage.Store.
func (s *Store) GetMessages(ctx context.Context, id int64) ([]chat.Message, error) {
	c, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.Messages, nil
}

// Close implements storage.Store.
func (s *Store) Close() error { return nil }
