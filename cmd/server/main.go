// Parley - AI conversation coach server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/parley-labs/parley/internal/ai"
	"github.com/parley-labs/parley/internal/api"
	"github.com/parley-labs/parley/internal/config"
	"github.com/parley-labs/parley/internal/identity"
	"github.com/parley-labs/parley/internal/middleware"
	"github.com/parley-labs/parley/internal/relay"
	"github.com/parley-labs/parley/internal/session"
	"github.com/parley-labs/parley/internal/store"
	"github.com/parley-labs/parley/internal/turn"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	// Model backend client and turn pipeline.
	backend := ai.NewClient(cfg.AI)
	guard := turn.NewInflightGuard(cfg.Turn.Timeout)
	orchestrator := turn.NewOrchestrator(repo, backend, cfg.Turn.HistoryWindow)
	turnHandler := turn.NewHandler(orchestrator, guard, cfg.Turn.Timeout)
	sessionHandler := session.NewHandler(repo, guard)
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterRoutes(r)
	sessionHandler.RegisterRoutes(r)
	turnHandler.RegisterRoutes(r)

	// Upgrade routing: the duplex chat proxy lives outside chi so that
	// unknown upgrade paths can be rejected by destroying the raw socket.
	upgrades := relay.NewUpgradeRouter(r)
	upgrades.Register("/ws/chat", relay.NewHandler(
		cfg.AI.RealtimeURL,
		cfg.Relay.QueueCapacity,
		cfg.Relay.HeartbeatInterval,
	))

	// Create server.
	// Note: SSE and proxied websocket connections require long write
	// timeouts, so WriteTimeout stays at 0.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      upgrades,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
