// Package app assembles the arena server process: logging router, ledger
// store, lifecycle controller, ingress hub, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Skriptersz/agariogambling/internal/config"
	"github.com/Skriptersz/agariogambling/internal/ingress"
	"github.com/Skriptersz/agariogambling/internal/ledger"
	"github.com/Skriptersz/agariogambling/internal/lifecycle"
	"github.com/Skriptersz/agariogambling/internal/observability"
	"github.com/Skriptersz/agariogambling/internal/telemetry"
	"github.com/Skriptersz/agariogambling/logging"
	loggingSinks "github.com/Skriptersz/agariogambling/logging/sinks"
)

// Config carries the process-level wiring for Run.
type Config struct {
	Logger        telemetry.Logger
	Env           config.Config
	Observability observability.Config
}

// Run assembles and serves the arena until ctx is cancelled or the listener
// fails. Recovery of unfinished matches happens before the first request is
// accepted.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	fallbackLogger := log.Default()
	if provider, ok := telemetryLogger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}

	logConfig := logging.DefaultConfig()
	sinks := map[string]logging.Sink{
		"console": loggingSinks.NewConsole(os.Stdout),
	}

	router, err := logging.NewRouter(logConfig, logging.SystemClock{}, fallbackLogger, sinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(ctx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	observabilityCfg := cfg.Observability
	if cfg.Env.EnablePprofTrace {
		observabilityCfg.EnablePprofTrace = true
	}

	var store ledger.Store
	var registrar ledger.Registrar
	var repo lifecycle.Repository
	if cfg.Env.DatabaseURL == "" {
		telemetryLogger.Printf("no DATABASE_URL set, running the in-memory ledger")
		mem := ledger.NewMemStore(router)
		store, registrar = mem, mem
		repo = lifecycle.NewMemRepository()
	} else {
		pool, err := pgxpool.New(ctx, cfg.Env.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open postgres pool: %w", err)
		}
		defer pool.Close()
		if err := ledger.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("failed to apply ledger schema: %w", err)
		}
		if err := lifecycle.EnsureRepositorySchema(ctx, pool); err != nil {
			return fmt.Errorf("failed to apply match record schema: %w", err)
		}
		pg := ledger.NewPgStore(pool, ledger.HouseAccountID, router)
		store, registrar = pg, pg
		repo = lifecycle.NewPgRepository(pool)
	}

	controller := lifecycle.NewController(lifecycle.Config{
		Store:     store,
		Repo:      repo,
		Logger:    telemetryLogger,
		Publisher: router,
		MapRadius: cfg.Env.MapRadius,
	})
	defer controller.Shutdown()

	tokens := ingress.NewSignedTokens(cfg.Env.JWTSecret)
	hub := ingress.NewHub(ingress.HubConfig{
		Gateway:   controller,
		Auth:      tokens,
		Logger:    telemetryLogger,
		Publisher: router,
	})
	controller.SetBroadcaster(hub)

	if err := controller.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover unfinished matches: %w", err)
	}

	// Wait-timer sweep: promote or cancel lobbies that sat too long.
	sweepDone := make(chan struct{})
	defer close(sweepDone)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-sweepDone:
				return
			case <-ticker.C:
				controller.ExpireLobbies(ctx, cfg.Env.LobbyWait)
			}
		}
	}()

	handler := NewHTTPHandler(HTTPHandlerConfig{
		Controller:    controller,
		Store:         store,
		Registrar:     registrar,
		Tokens:        tokens,
		WS:            ingress.NewHandler(hub, ingress.HandlerConfig{Logger: telemetryLogger}),
		Logger:        telemetryLogger,
		Router:        router,
		Observability: observabilityCfg,
	})

	srv := &http.Server{Addr: cfg.Env.Addr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	telemetryLogger.Printf("arena listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
