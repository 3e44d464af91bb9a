// Package identity authenticates presence connections from opaque connect
// tokens issued by the surrounding application.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/mousti0113/class-social-media-sub003/internal/store"
)

// ErrAuthentication indicates a rejected credential. It is terminal for the
// connection attempt: retrying with the same stale token would loop forever,
// so callers must not schedule a reconnect.
var ErrAuthentication = errors.New("authentication failed")

// Provider authenticates a connection and yields a stable user identifier.
type Provider interface {
	Authenticate(ctx context.Context, token string) (userID string, err error)
}

// DirectoryProvider validates connect tokens against the user directory.
type DirectoryProvider struct {
	repo store.Directory
}

// NewDirectoryProvider creates a token provider backed by the directory.
func NewDirectoryProvider(repo store.Directory) *DirectoryProvider {
	return &DirectoryProvider{repo: repo}
}

// Authenticate resolves a connect token to a user ID.
func (p *DirectoryProvider) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrAuthentication
	}
	userID, err := p.repo.UserIDForToken(ctx, token)
	if err != nil {
		return "", fmt.Errorf("token lookup: %w", err)
	}
	if userID == "" {
		return "", ErrAuthentication
	}
	return userID, nil
}

// TokenFromRequest extracts the connect token from a request: the Authorization
// bearer header, or the token query parameter for browser WebSocket clients
// that cannot set headers.
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if tok, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("token")
}

// GenerateToken creates a new opaque connect token.
func GenerateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return "tok_" + hex.EncodeToString(buf), nil
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
