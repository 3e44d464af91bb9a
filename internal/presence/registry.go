package presence

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mousti0113/class-social-media-sub003/internal/domain"
)

// ErrRegistryClosed is returned by Register after the registry has shut down.
var ErrRegistryClosed = errors.New("session registry is closed")

// TransitionListener receives per-user presence edges. Callbacks fire while
// the registry lock is held, so implementations must only do non-blocking
// work (enqueueing, counter updates) and must never call back into the
// registry.
type TransitionListener interface {
	// BecameOnline fires exactly once per 0->1 edge of a user's session
	// count. sessionID identifies the session that caused the edge.
	BecameOnline(userID, sessionID string)
	// BecameOffline fires exactly once per 1->0 edge.
	BecameOffline(userID, sessionID string)
}

// Registry is the authoritative store mapping session identifiers to user
// identity and liveness metadata. A single mutex guards both the session map
// and the derived per-user index so the 0<->1 transition detection is
// linearizable with register/touch/remove/sweep.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	byUser   map[string]map[string]struct{}
	listener TransitionListener
	closed   bool
}

// NewRegistry creates an empty registry. listener may be nil.
func NewRegistry(listener TransitionListener) *Registry {
	return &Registry{
		sessions: make(map[string]*domain.Session),
		byUser:   make(map[string]map[string]struct{}),
		listener: listener,
	}
}

// Register creates a session for userID with a freshly generated session ID.
// It fails only after Close.
func (r *Registry) Register(userID string, meta domain.TransportMeta) (*domain.Session, error) {
	sessionID, err := NewSessionID()
	if err != nil {
		return nil, err
	}
	sess, _, err := r.register(sessionID, userID, meta, false)
	return sess, err
}

// RegisterSession registers a session under a caller-supplied session ID and
// atomically captures the online set as of the registration. The transport
// layer generates the ID up front so it can attach its broadcast
// subscription before the session becomes visible; the returned snapshot
// always includes userID itself.
func (r *Registry) RegisterSession(sessionID, userID string, meta domain.TransportMeta) ([]string, error) {
	_, snapshot, err := r.register(sessionID, userID, meta, true)
	return snapshot, err
}

func (r *Registry) register(sessionID, userID string, meta domain.TransportMeta, withSnapshot bool) (*domain.Session, []string, error) {
	now := time.Now()
	sess := &domain.Session{
		SessionID:      sessionID,
		UserID:         userID,
		ConnectedAt:    now,
		LastActivityAt: now,
		Transport:      meta,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, nil, ErrRegistryClosed
	}

	r.sessions[sessionID] = sess
	if _, exists := r.byUser[userID]; !exists {
		r.byUser[userID] = make(map[string]struct{})
	}
	r.byUser[userID][sessionID] = struct{}{}

	if len(r.byUser[userID]) == 1 && r.listener != nil {
		r.listener.BecameOnline(userID, sessionID)
	}

	var snapshot []string
	if withSnapshot {
		snapshot = r.onlineLocked()
	}

	slog.Info("Session registered", "user_id", userID, "session_id", sessionID, "remote_addr", meta.RemoteAddr)
	copied := *sess
	return &copied, snapshot, nil
}

// Touch refreshes the session's last-activity timestamp. A missing session
// is an idempotent no-op: it may have been reaped or removed concurrently,
// and touch must never recreate it.
func (r *Registry) Touch(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	if now := time.Now(); now.After(sess.LastActivityAt) {
		sess.LastActivityAt = now
	}
	return true
}

// Remove deletes the session. Returns false if it was already gone.
func (r *Registry) Remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(sessionID)
}

func (r *Registry) removeLocked(sessionID string) bool {
	sess, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	delete(r.sessions, sessionID)

	userSessions := r.byUser[sess.UserID]
	delete(userSessions, sessionID)
	if len(userSessions) == 0 {
		delete(r.byUser, sess.UserID)
		if r.listener != nil {
			r.listener.BecameOffline(sess.UserID, sessionID)
		}
	}

	slog.Info("Session removed", "user_id", sess.UserID, "session_id", sessionID)
	return true
}

// IsOnline reports whether the user has at least one open session.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser[userID]) > 0
}

// Online returns the current set of online user IDs.
func (r *Registry) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineLocked()
}

func (r *Registry) onlineLocked() []string {
	users := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		users = append(users, userID)
	}
	return users
}

// Count returns the number of open sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SweepExpired removes every session whose last activity is older than
// threshold at the given time, evaluating each removal for a became-offline
// edge exactly as Remove does. Returns the number of sessions removed.
func (r *Registry) SweepExpired(threshold time.Duration, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	for sessionID, sess := range r.sessions {
		if sess.Expired(threshold, now) {
			expired = append(expired, sessionID)
		}
	}
	for _, sessionID := range expired {
		r.removeLocked(sessionID)
	}
	return len(expired)
}

// Close rejects further registrations and removes all remaining sessions,
// emitting a became-offline edge for each user still online.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true

	remaining := make([]string, 0, len(r.sessions))
	for sessionID := range r.sessions {
		remaining = append(remaining, sessionID)
	}
	for _, sessionID := range remaining {
		r.removeLocked(sessionID)
	}
	slog.Info("Session registry closed", "sessions_dropped", len(remaining))
}

// NewSessionID generates an opaque unique session identifier.
func NewSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return "sess_" + hex.EncodeToString(buf), nil
}
