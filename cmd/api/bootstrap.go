package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhouzirui/persona-relay/backend/internal/config"
	"github.com/zhouzirui/persona-relay/backend/internal/model/persona"
	"github.com/zhouzirui/persona-relay/backend/internal/service/ai"
	"github.com/zhouzirui/persona-relay/backend/internal/storage"
	"github.com/zhouzirui/persona-relay/backend/internal/storage/memory"
	"github.com/zhouzirui/persona-relay/backend/internal/storage/postgres"
	"github.com/zhouzirui/persona-relay/backend/internal/storage/sqlite"
)

func loadPersonas(cfg *config.Config) (persona.Store, error) {
	if cfg.PersonasFile == "" {
		store, err := persona.NewMemoryStore(persona.Seed())
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := persona.LoadFile(cfg.PersonasFile)
	if err != nil {
		return nil, fmt.Errorf("load personas from %s: %w", cfg.PersonasFile, err)
	}
	return store, nil
}

// newGateway returns nil when credentials are missing; the server still runs
// and session starts report MISSING_API_KEY.
func newGateway(ctx context.Context, cfg *config.Config, logger *zap.Logger) ai.Gateway {
	var (
		gw  ai.Gateway
		err error
	)
	switch cfg.AI.Provider {
	case config.ProviderArk:
		var ark *ai.ArkGateway
		if ark, err = ai.NewArkGateway(cfg.AI.Ark, logger); err == nil {
			gw = ark
		}
	default:
		var gemini *ai.GeminiGateway
		if gemini, err = ai.NewGeminiGateway(ctx, cfg.AI.Gemini, logger); err == nil {
			gw = gemini
		}
	}

	switch {
	case errors.Is(err, ai.ErrMissingAPIKey):
		logger.Warn("provider credentials not configured, chat start will fail until they are set",
			zap.String("provider", string(cfg.AI.Provider)))
	case err != nil:
		logger.Error("provider initialization failed", zap.String("provider", string(cfg.AI.Provider)), zap.Error(err))
	default:
		logger.Info("provider gateway ready", zap.String("provider", string(cfg.AI.Provider)))
	}
	return gw
}

// openStore opens the configured persistence backend. migrate applies pending
// Postgres migrations; SQLite always ensures its schema on open.
func openStore(ctx context.Context, cfg config.StorageConfig, migrate bool) (storage.Store, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return memory.New(), nil
	case config.StoragePostgres:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if migrate {
			if _, err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, err
			}
		}
		return pg, nil
	default:
		return sqlite.Open(ctx, cfg.SQLitePath)
	}
}
