package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/persona-relay/backend/internal/model/chat"
	"github.com/zhouzirui/persona-relay/backend/internal/storage"
	"github.com/zhouzirui/persona-relay/backend/internal/storage/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sample(name string, at time.Time) storage.Transcript {
	return storage.Transcript{
		SessionName: name,
		PersonaName: "Technical Code Assistant",
		SavedAt:     at,
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: "Wie sortiere ich eine Liste?", Timestamp: at.Add(-3 * time.Second)},
			{Role: chat.RoleAssistant, Content: "Mit sort.Slice.", Timestamp: at.Add(-2 * time.Second)},
			// Same timestamp as the previous message: order must follow insertion.
			{Role: chat.RoleUser, Content: "Danke", Timestamp: at.Add(-2 * time.Second)},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 8, 30, 0, 123456789, time.UTC)

	in := sample("Sortieren", at)
	id, err := storage.SaveTranscript(ctx, s, in)
	require.NoError(t, err)
	require.Positive(t, id)

	got, err := s.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Sortieren", got.SessionName)
	assert.Equal(t, "Technical Code Assistant", got.PersonaName)
	assert.True(t, at.Equal(got.CreatedAt))
	assert.True(t, at.Equal(got.UpdatedAt))
	if diff := cmp.Diff(in.Messages, got.Messages); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)
	_, err := s.GetConversation(context.Background(), 42)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRollbackOnError(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	err := s.Atomically(ctx, func(w storage.Writer) error {
		id, err := w.CreateConversation(ctx, "half", "p", time.Now())
		if err != nil {
			return err
		}
		if err := w.AppendMessage(ctx, id, chat.Message{Role: chat.RoleUser, Content: "x", Timestamp: time.Now()}); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.EqualError(t, err, "abort")

	list, err := s.ListConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestListOrderedByUpdatedDesc(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	older, err := storage.SaveTranscript(ctx, s, sample("old", at))
	require.NoError(t, err)
	// Sub-second difference must still order correctly.
	newer, err := storage.SaveTranscript(ctx, s, sample("new", at.Add(500*time.Millisecond)))
	require.NoError(t, err)
	tie, err := storage.SaveTranscript(ctx, s, sample("tie", at))
	require.NoError(t, err)

	list, err := s.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int64{newer, tie, older}, []int64{list[0].ID, list[1].ID, list[2].ID})
}

func TestConcurrentSaves(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	const n = 16
	ids := make([]int64, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			id, err := storage.SaveTranscript(ctx, s, sample(fmt.Sprintf("s%d", i), at))
			ids[i] = id
			return err
		})
	}
	require.NoError(t, g.Wait())

	seen := map[int64]bool{}
	for _, id := range ids {
		require.False(t, seen[id], "duplicate conversation id %d", id)
		seen[id] = true

		msgs, err := s.GetMessages(ctx, id)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "Danke", msgs[2].Content)
	}
}
