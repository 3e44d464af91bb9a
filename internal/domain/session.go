// Package domain contains core domain types for the presence subsystem.
package domain

import (
	"time"
)

// TransportMeta carries connection-level metadata captured at registration.
type TransportMeta struct {
	RemoteAddr string
	UserAgent  string
}

// Session represents one open client channel tied to a user identity.
// Sessions are owned exclusively by the registry; other components only
// ever see copies.
type Session struct {
	SessionID      string
	UserID         string
	ConnectedAt    time.Time
	LastActivityAt time.Time
	Transport      TransportMeta
}

// IdleFor returns how long the session has been without activity at now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}

// Expired reports whether the session has been inactive longer than threshold.
func (s *Session) Expired(threshold time.Duration, now time.Time) bool {
	return s.IdleFor(now) > threshold
}
