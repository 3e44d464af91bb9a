package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mousti0113/class-social-media-sub003/internal/domain"
)

// rosterPageSize is how many users are fetched per directory page.
const rosterPageSize = 100

// RosterLister is the slice of the user directory the client needs: a paged
// listing of all known users.
type RosterLister interface {
	ListUsers(ctx context.Context, afterID string, limit int) ([]*domain.User, error)
}

// Bootstrap fetches the full user roster once, page by page, so the store
// knows which users exist at all, independent of who is currently online.
func (s *PresenceStore) Bootstrap(ctx context.Context, dir RosterLister) error {
	afterID := ""
	total := 0
	for {
		page, err := dir.ListUsers(ctx, afterID, rosterPageSize)
		if err != nil {
			return fmt.Errorf("list users after %q: %w", afterID, err)
		}
		if len(page) == 0 {
			break
		}

		s.mu.Lock()
		for _, user := range page {
			s.roster[user.UserID] = user.Username
		}
		s.mu.Unlock()

		total += len(page)
		afterID = page[len(page)-1].UserID
	}
	slog.Info("Roster bootstrap complete", "users", total)
	return nil
}

// HTTPRoster lists users from the server's REST directory endpoint.
type HTTPRoster struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPRoster creates a roster lister against baseURL (e.g.
// "http://localhost:8080").
func NewHTTPRoster(baseURL, token string) *HTTPRoster {
	return &HTTPRoster{baseURL: baseURL, token: token, client: http.DefaultClient}
}

// ListUsers fetches one page from GET /api/users.
func (r *HTTPRoster) ListUsers(ctx context.Context, afterID string, limit int) ([]*domain.User, error) {
	u, err := url.Parse(r.baseURL + "/api/users")
	if err != nil {
		return nil, fmt.Errorf("parse roster url: %w", err)
	}
	q := u.Query()
	q.Set("after", afterID)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+r.token)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch roster page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("roster page request failed: %s", resp.Status)
	}

	var body struct {
		Users []*domain.User `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode roster page: %w", err)
	}
	return body.Users, nil
}
