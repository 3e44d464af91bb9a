// Package store provides the user directory interface and its SQLite
// implementation.
package store

import (
	"context"
	"time"

	"github.com/mousti0113/class-social-media-sub003/internal/domain"
)

// Directory is the roster of all known users, independent of who is
// currently online, plus the connect-token lookup used at authentication.
type Directory interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil when the
	// user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// ListUsers returns up to limit users with user_id > afterID, ordered by
	// user_id. An empty result means the listing is complete.
	ListUsers(ctx context.Context, afterID string, limit int) ([]*domain.User, error)

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// UserIDForToken resolves a connect token to a user ID. Returns an empty
	// string when the token is unknown.
	UserIDForToken(ctx context.Context, token string) (string, error)

	// SaveToken associates a connect token with a user.
	SaveToken(ctx context.Context, userID, token string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
