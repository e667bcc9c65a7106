package persona_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-relay/backend/internal/model/persona"
)

func TestSeedCatalog(t *testing.T) {
	store, err := persona.NewMemoryStore(persona.Seed())
	require.NoError(t, err)

	items := store.List()
	require.Len(t, items, 4)
	assert.Equal(t, "1", items[0].Key)

	p, ok := store.FindByID("2")
	require.True(t, ok)
	assert.Equal(t, "Creative Storyteller", p.Name)
	assert.Equal(t, 100, p.TopK)
	assert.Equal(t, persona.DefaultMaxOutputTokens, p.MaxOutputTokens)

	_, ok = store.FindByID("9")
	assert.False(t, ok)
}

func TestNewMemoryStoreRejectsInvalid(t *testing.T) {
	cases := map[string]persona.Persona{
		"missing key":   {Name: "x", Temperature: 1, TopP: 1, TopK: 1, MaxOutputTokens: 1},
		"temperature":   {Key: "a", Name: "x", Temperature: 2.5, TopP: 1, TopK: 1, MaxOutputTokens: 1},
		"top p zero":    {Key: "a", Name: "x", Temperature: 1, TopP: 0, TopK: 1, MaxOutputTokens: 1},
		"top k":         {Key: "a", Name: "x", Temperature: 1, TopP: 1, TopK: 0, MaxOutputTokens: 1},
		"output tokens": {Key: "a", Name: "x", Temperature: 1, TopP: 1, TopK: 1, MaxOutputTokens: -1},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := persona.NewMemoryStore([]persona.Persona{p})
			assert.Error(t, err)
		})
	}
}

func TestNewMemoryStoreDefaultsOutputTokens(t *testing.T) {
	store, err := persona.NewMemoryStore([]persona.Persona{
		{Key: "a", Name: "x", Temperature: 1, TopP: 1, TopK: 1},
	})
	require.NoError(t, err)

	p, ok := store.FindByID("a")
	require.True(t, ok)
	assert.Equal(t, persona.DefaultMaxOutputTokens, p.MaxOutputTokens)
}

func TestNewMemoryStoreRejectsDuplicateKeys(t *testing.T) {
	seed := persona.Seed()
	_, err := persona.NewMemoryStore(append(seed, seed[0]))
	assert.ErrorContains(t, err, "duplicate")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	body := `personas:
  - key: pirate
    name: Captain
    instruction: Talk like a pirate.
    temperature: 1.1
    top_p: 0.9
    top_k: 20
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	store, err := persona.LoadFile(path)
	require.NoError(t, err)

	p, ok := store.FindByID("pirate")
	require.True(t, ok)
	assert.Equal(t, "Talk like a pirate.", p.Instruction)
	assert.InDelta(t, 1.1, p.Temperature, 1e-9)
	assert.Equal(t, persona.DefaultMaxOutputTokens, p.MaxOutputTokens)
}

func TestLoadFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("personas: []\n"), 0o600))

	_, err := persona.LoadFile(path)
	assert.Error(t, err)
}
