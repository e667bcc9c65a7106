package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/persona-relay/backend/internal/handler"
	"github.com/zhouzirui/persona-relay/backend/internal/service/chat"
	"github.com/zhouzirui/persona-relay/backend/internal/service/exchange"
	"github.com/zhouzirui/persona-relay/backend/internal/service/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	personaStore, err := loadPersonas(cfg)
	if err != nil {
		return err
	}
	logger.Info("persona catalog loaded", zap.Int("personas", len(personaStore.List())))

	gateway := newGateway(ctx, cfg, logger)

	store, err := openStore(ctx, cfg.Storage, true)
	if err != nil {
		return err
	}
	defer store.Close()

	limiter := ratelimit.New(cfg.RateLimit.Limiter(), ratelimit.WithLogger(logger))

	engine := exchange.New(exchange.Deps{
		Personas:        personaStore,
		Gateway:         gateway,
		Registry:        chat.NewRegistry(),
		Limiter:         limiter,
		Store:           store,
		Logger:          logger,
		ProviderTimeout: cfg.AI.Timeout,
	})

	router := handler.NewRouter(personaStore, engine, handler.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return limiter.Run(gctx, cfg.RateLimit.SweepInterval)
	})
	g.Go(func() error {
		logger.Info("persona relay listening", zap.String("addr", cfg.Server.Addr))
		return runServer(gctx, srv)
	})
	return g.Wait()
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
