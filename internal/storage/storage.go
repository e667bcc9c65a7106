// Package storage defines the durable home of saved conversations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zhouzirui/persona-relay/backend/internal/model/chat"
)

// ErrNotFound is returned when a conversation id has no record.
var ErrNotFound = errors.New("storage: conversation not found")

// Writer is the write side handed to Atomically. It is only valid inside the callback.
type Writer interface {
	CreateConversation(ctx context.Context, sessionName, personaName string, at time.Time) (int64, error)
	AppendMessage(ctx context.Context, conversationID int64, m chat.Message) error
}

// Store persists transcripts. Implementations must make everything written
// inside one Atomically call visible all together or not at all.
type Store interface {
	Atomically(ctx context.Context, fn func(Writer) error) error
	ListConversations(ctx context.Context) ([]chat.ConversationSummary, error)
	GetConversation(ctx context.Context, id int64) (chat.Conversation, error)
	GetMessages(ctx context.Context, id int64) ([]chat.Message, error)
	Close() error
}

// Transcript is one save request.
type Transcript struct {
	SessionName string
	PersonaName string
	SavedAt     time.Time
	Messages    []chat.Message
}

// SaveTranscript writes t as a new conversation and returns its id.
func SaveTranscript(ctx context.Context, s Store, t Transcript) (int64, error) {
	if len(t.Messages) == 0 {
		return 0, errors.New("storage: transcript has no messages")
	}
	if t.SavedAt.IsZero() {
		t.SavedAt = time.Now().UTC()
	}

	var id int64
	err := s.Atomically(ctx, func(w Writer) error {
		var err error
		id, err = w.CreateConversation(ctx, t.SessionName, t.PersonaName, t.SavedAt)
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		for i, m := range t.Messages {
			if err := w.AppendMessage(ctx, id, m); err != nil {
				return fmt.Errorf("append message %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}
