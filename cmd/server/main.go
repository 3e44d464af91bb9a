// Presence server for the class social media application.
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
	"github.com/mousti0113/class-social-media-sub003/internal/api"
	"github.com/mousti0113/class-social-media-sub003/internal/config"
	"github.com/mousti0113/class-social-media-sub003/internal/identity"
	"github.com/mousti0113/class-social-media-sub003/internal/middleware"
	"github.com/mousti0113/class-social-media-sub003/internal/presence"
	"github.com/mousti0113/class-social-media-sub003/internal/store"
	"github.com/mousti0113/class-social-media-sub003/internal/transport"
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

	slog.Info("Starting presence server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close user directory", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("User directory connected")

	// Initialize the presence core: broadcaster observes registry edges.
	bcast := presence.NewBroadcaster(cfg.SendQueueSize)
	reg := presence.NewRegistry(bcast)
	idp := identity.NewDirectoryProvider(repo)

	// Initialize handlers.
	restHandler := api.NewHandler(repo, reg)
	wsHandler := transport.NewWebSocketHandler(
		repo, idp, reg, bcast,
		cfg.Reconnect.HeartbeatIncoming, cfg.Reconnect.HeartbeatOutgoing,
		cfg.FrontendURL, cfg.IsDevelopment(),
	)

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	restHandler.RegisterRoutes(r)
	r.Get("/ws", wsHandler.ServeHTTP)

	// Note: no WriteTimeout, the /ws channel stays open indefinitely.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the stale-session reaper. It is a slow backstop for sessions
	// whose owning process vanished; missed heartbeats on the channel are
	// the primary offline detection.
	presence.StartReaper(ctx, reg, cfg.ReaperInterval, cfg.InactivityThreshold)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	// Reject new registrations and broadcast mass-offline before the
	// channels are torn down.
	reg.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
