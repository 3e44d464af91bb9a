package client

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/mousti0113/class-social-media-sub003/internal/presence"
)

// PresenceStore maintains the locally observed online-user set. It never
// originates mutations: it is a pure reduction of the server's event stream,
// safe to rebuild from scratch at any time.
type PresenceStore struct {
	mu     sync.RWMutex
	online map[string]struct{}
	roster map[string]string // userID -> username, from the directory bootstrap
}

// NewPresenceStore creates an empty store.
func NewPresenceStore() *PresenceStore {
	return &PresenceStore{
		online: make(map[string]struct{}),
		roster: make(map[string]string),
	}
}

// Apply folds one presence frame into the store. A snapshot replaces the
// online set wholesale; online/offline diffs mutate it incrementally.
func (s *PresenceStore) Apply(frame presence.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch frame.Type {
	case presence.FrameSnapshot:
		replacement := make(map[string]struct{}, len(frame.OnlineUserIDs))
		for _, userID := range frame.OnlineUserIDs {
			replacement[userID] = struct{}{}
		}
		s.online = replacement
	case presence.FrameOnline:
		s.online[frame.UserID] = struct{}{}
	case presence.FrameOffline:
		delete(s.online, frame.UserID)
	case presence.FrameHeartbeat:
		// Liveness only, no presence content.
	default:
		slog.Debug("Ignoring unknown presence frame", "type", frame.Type)
	}
}

// Run consumes frames until the channel closes or ctx ends.
func (s *PresenceStore) Run(ctx context.Context, frames <-chan presence.Frame) {
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			s.Apply(frame)
		case <-ctx.Done():
			return
		}
	}
}

// IsOnline reports whether the user is in the observed online set.
func (s *PresenceStore) IsOnline(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.online[userID]
	return ok
}

// Online returns the observed online set, sorted for stable output.
func (s *PresenceStore) Online() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.online))
	for userID := range s.online {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// KnownUsers returns the number of users learned from the roster bootstrap.
func (s *PresenceStore) KnownUsers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.roster)
}

// Username returns the roster name for a user, or the ID itself when the
// user is not in the roster (e.g. created after bootstrap).
func (s *PresenceStore) Username(userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if name, ok := s.roster[userID]; ok {
		return name
	}
	return userID
}
