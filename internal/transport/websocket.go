// Package transport serves the long-lived duplex presence channel.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/mousti0113/class-social-media-sub003/internal/domain"
	"github.com/mousti0113/class-social-media-sub003/internal/identity"
	"github.com/mousti0113/class-social-media-sub003/internal/presence"
	"github.com/mousti0113/class-social-media-sub003/internal/store"
)

// protocolErrorLimit is the number of consecutive malformed frames tolerated
// before the connection degrades to a transport failure and is closed.
const protocolErrorLimit = 5

// WebSocketHandler handles presence channel connections.
type WebSocketHandler struct {
	repo  store.Directory
	idp   identity.Provider
	reg   *presence.Registry
	bcast *presence.Broadcaster

	// sendInterval is the server->client liveness cadence; recvInterval is
	// the cadence expected from the client.
	sendInterval time.Duration
	recvInterval time.Duration

	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new presence channel handler.
func NewWebSocketHandler(
	repo store.Directory,
	idp identity.Provider,
	reg *presence.Registry,
	bcast *presence.Broadcaster,
	sendInterval, recvInterval time.Duration,
	allowedOrigin string,
	isDev bool,
) *WebSocketHandler {
	return &WebSocketHandler{
		repo:          repo,
		idp:           idp,
		reg:           reg,
		bcast:         bcast,
		sendInterval:  sendInterval,
		recvInterval:  recvInterval,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := identity.TokenFromRequest(r)
	userID, err := h.idp.Authenticate(r.Context(), token)
	if err != nil {
		if errors.Is(err, identity.ErrAuthentication) {
			slog.Warn("Presence connection rejected", "ip", identity.IPFromRequest(r))
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		slog.Error("Authentication lookup failed", "error", err)
		http.Error(w, "authentication unavailable", http.StatusInternalServerError)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	sessionID, err := presence.NewSessionID()
	if err != nil {
		slog.Error("Failed to generate session id", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	// Attach before registering so no diff can slip between the snapshot
	// and the live stream; the subscription buffers until Open.
	sub := h.bcast.Attach(sessionID)
	defer h.bcast.Detach(sessionID)

	meta := transportMeta(r)
	snapshot, err := h.reg.RegisterSession(sessionID, userID, meta)
	if err != nil {
		slog.Warn("Session registration rejected", "error", err, "user_id", userID)
		return
	}
	defer h.reg.Remove(sessionID)
	sub.Open(snapshot)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	// Read loop: client heartbeats -> session liveness.
	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(ctx, ws, userID, sessionID)
	}()

	// Write loop: presence frames and server heartbeats -> client.
	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, ws, sub, userID)
	}()

	wg.Wait()
	slog.Info("Presence channel closed", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop consumes inbound frames. Client silence beyond 1.5x the expected
// heartbeat cadence is treated as a dead peer even if the transport never
// closed, covering silent network black-holes.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	deadline := h.recvInterval + h.recvInterval/2
	protocolErrors := 0

	for {
		readCtx, cancel := context.WithTimeout(ctx, deadline)
		_, message, err := ws.Read(readCtx)
		cancel()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return
			case errors.Is(err, context.DeadlineExceeded):
				slog.Warn("Client heartbeat missed, dropping session", "user_id", userID, "session_id", sessionID)
			case websocket.CloseStatus(err) != -1:
				slog.Debug("WebSocket closed by client", "user_id", userID)
			default:
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var frame presence.Frame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Type == "" {
			// Malformed frames are dropped; the channel stays usable unless
			// they repeat, at which point it degrades to a transport failure.
			protocolErrors++
			slog.Warn("Dropping malformed frame", "user_id", userID, "consecutive", protocolErrors)
			if protocolErrors >= protocolErrorLimit {
				slog.Warn("Too many malformed frames, closing channel", "user_id", userID, "session_id", sessionID)
				return
			}
			continue
		}
		protocolErrors = 0

		switch frame.Type {
		case presence.FrameHeartbeat:
			h.reg.Touch(sessionID)
		default:
			slog.Debug("Ignoring unexpected frame type", "type", frame.Type, "user_id", userID)
		}

		// Update directory last-seen asynchronously with timeout.
		go func() {
			updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.repo.UpdateLastSeen(updateCtx, userID, time.Now()); err != nil {
				slog.Warn("Failed to update last seen", "error", err, "user_id", userID)
			}
		}()
	}
}

func (h *WebSocketHandler) writeLoop(ctx context.Context, ws *websocket.Conn, sub *presence.Subscription, userID string) {
	ticker := time.NewTicker(h.sendInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-sub.C():
			if !ok {
				// Queue overflow or detach; force the client onto its own
				// reconnection path.
				slog.Warn("Presence stream ended for channel", "user_id", userID, "overflow", sub.Failed())
				return
			}
			if err := h.writeFrame(ctx, ws, frame); err != nil {
				slog.Debug("WebSocket write error", "error", err, "user_id", userID)
				return
			}
		case <-ticker.C:
			if err := h.writeFrame(ctx, ws, presence.HeartbeatFrame()); err != nil {
				slog.Debug("Heartbeat write error", "error", err, "user_id", userID)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *WebSocketHandler) writeFrame(ctx context.Context, ws *websocket.Conn, frame presence.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

func transportMeta(r *http.Request) domain.TransportMeta {
	return domain.TransportMeta{
		RemoteAddr: identity.IPFromRequest(r),
		UserAgent:  r.Header.Get("User-Agent"),
	}
}
