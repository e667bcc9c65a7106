package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-relay/backend/internal/model/chat"
	"github.com/zhouzirui/persona-relay/backend/internal/storage"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	assert.Equal(t, "0001_conversations", migrations[0].Name)
	assert.Contains(t, migrations[0].Up, "relay_conversations")
	assert.Contains(t, migrations[0].Down, "DROP TABLE")
	assert.Len(t, migrations[0].Checksum, 64)
	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Name, migrations[i].Name)
	}
}

// TestStoreIntegration runs against a real database when TEST_DATABASE_URL is set.
func TestStoreIntegration(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	s, err := Open(ctx, url)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Migrate(ctx)
	require.NoError(t, err)
	// A second run is a no-op.
	ran, err := s.Migrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, ran)

	at := time.Now().UTC().Truncate(time.Microsecond)
	in := storage.Transcript{
		SessionName: "integration",
		PersonaName: "Business Consultant",
		SavedAt:     at,
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: "Hallo", Timestamp: at},
			{Role: chat.RoleAssistant, Content: "Guten Tag", Timestamp: at},
		},
	}
	id, err := storage.SaveTranscript(ctx, s, in)
	require.NoError(t, err)

	got, err := s.GetConversation(ctx, id)
	require.NoError(t, err)
	if diff := cmp.Diff(in.Messages, got.Messages); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}

	_, err = s.GetConversation(ctx, -1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
