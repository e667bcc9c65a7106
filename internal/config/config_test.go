package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-relay/backend/internal/service/ai"
	"github.com/zhouzirui/persona-relay/backend/internal/service/ratelimit"
)

var managedEnv = []string{
	"PORT", "CORS_ALLOWED_ORIGINS", "AI_PROVIDER", "PROVIDER_TIMEOUT", "GEMINI_API_KEY", "API_KEY",
	"GEMINI_MODEL", "ARK_API_KEY", "ARK_ACCESS_KEY", "ARK_SECRET_KEY", "ARK_MODEL", "Model",
	"ARK_BASE_URL", "ARK_REGION", "RATE_LIMIT_WINDOW", "RATE_LIMIT_SWEEP", "RATE_LIMIT_START",
	"RATE_LIMIT_SEND", "STORAGE_DRIVER", "SQLITE_PATH", "DATABASE_URL", "LOG_LEVEL", "LOG_FORMAT",
	"PERSONAS_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range managedEnv {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.Server.Addr)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, ProviderGemini, cfg.AI.Provider)
	assert.Equal(t, 60*time.Second, cfg.AI.Timeout)
	assert.Equal(t, ai.DefaultGeminiModel, cfg.AI.Gemini.Model)
	assert.Equal(t, StorageSQLite, cfg.Storage.Driver)
	assert.Equal(t, "chatbot_conversations.db", cfg.Storage.SQLitePath)
	assert.Equal(t, LogConfig{Level: "info", Format: "json"}, cfg.Log)

	limits := cfg.RateLimit.Limiter()
	assert.Equal(t, ratelimit.DefaultWindow, limits.Window)
	assert.Equal(t, ratelimit.DefaultStartLimit, limits.Limits[ratelimit.KindStart])
	assert.Equal(t, ratelimit.DefaultSendLimit, limits.Limits[ratelimit.KindSend])
	assert.Equal(t, ratelimit.DefaultWindow, cfg.RateLimit.SweepInterval)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("AI_PROVIDER", "ARK")
	t.Setenv("PROVIDER_TIMEOUT", "15")
	t.Setenv("API_KEY", "legacy-key")
	t.Setenv("ARK_API_KEY", "ark-key")
	t.Setenv("Model", "doubao-pro")
	t.Setenv("RATE_LIMIT_WINDOW", "2m")
	t.Setenv("RATE_LIMIT_SEND", "0")
	t.Setenv("STORAGE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, ProviderArk, cfg.AI.Provider)
	assert.Equal(t, 15*time.Second, cfg.AI.Timeout)
	assert.Equal(t, "legacy-key", cfg.AI.Gemini.APIKey)
	assert.Equal(t, "doubao-pro", cfg.AI.Ark.Model)
	assert.True(t, cfg.AI.Ark.Enabled())
	assert.Equal(t, 2*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 2*time.Minute, cfg.RateLimit.SweepInterval)
	assert.Zero(t, cfg.RateLimit.SendLimit)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":             "80 80",
		"AI_PROVIDER":      "openai",
		"PROVIDER_TIMEOUT": "soon",
		"RATE_LIMIT_START": "five",
		"STORAGE_DRIVER":   "mongo",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestPostgresRequiresURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_DRIVER", "postgres")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost/relay")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/relay", cfg.Storage.DatabaseURL)
}
