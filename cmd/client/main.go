// Presence client demo: connects to the presence server, follows the
// online set, and logs reconnection phase changes.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mousti0113/class-social-media-sub003/internal/client"
	"github.com/mousti0113/class-social-media-sub003/internal/config"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
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
	if cfg.AuthToken == "" {
		slog.Error("AUTH_TOKEN is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := client.NewPresenceStore()

	// One-time roster bootstrap against the directory endpoint.
	roster := client.NewHTTPRoster(httpBaseURL(cfg.ServerURL), cfg.AuthToken)
	if err := store.Bootstrap(ctx, roster); err != nil {
		slog.Warn("Roster bootstrap failed, continuing without roster", "error", err)
	}

	dialer := client.NewWebSocketDialer(cfg.ServerURL, cfg.AuthToken)
	ctrl := client.NewController(dialer, cfg.Reconnect)

	go store.Run(ctx, ctrl.Frames())
	go func() {
		for tr := range ctrl.Transitions() {
			slog.Info("Connection phase change", "from", tr.From.String(), "to", tr.To.String(), "reason", tr.Reason)
			if tr.To == client.Connected {
				slog.Info("Online users", "count", len(store.Online()))
			}
		}
	}()

	// Periodically print the observed online set.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				slog.Info("Presence", "online", store.Online(), "known_users", store.KnownUsers())
			case <-ctx.Done():
				return
			}
		}
	}()

	ctrl.Run(ctx)
	slog.Info("Client stopped")
}

// httpBaseURL derives the REST base URL from the websocket endpoint.
func httpBaseURL(wsURL string) string {
	base := wsURL
	base = strings.Replace(base, "ws://", "http://", 1)
	base = strings.Replace(base, "wss://", "https://", 1)
	if i := strings.Index(base, "/ws"); i > 0 {
		base = base[:i]
	}
	return base
}
