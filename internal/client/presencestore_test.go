package client

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/mousti0113/class-social-media-sub003/internal/domain"
	"github.com/mousti0113/class-social-media-sub003/internal/presence"
)

func TestPresenceStore_SnapshotThenDiffs(t *testing.T) {
	s := NewPresenceStore()

	s.Apply(presence.SnapshotFrame([]string{"2", "5"}))
	s.Apply(presence.OnlineFrame("7"))

	want := []string{"2", "5", "7"}
	if got := s.Online(); !reflect.DeepEqual(got, want) {
		t.Errorf("Online() = %v, want %v", got, want)
	}

	s.Apply(presence.OfflineFrame("5"))
	if s.IsOnline("5") {
		t.Error("Expected 5 offline after diff")
	}
	if !s.IsOnline("2") || !s.IsOnline("7") {
		t.Error("Expected 2 and 7 still online")
	}
}

func TestPresenceStore_ReconnectSnapshotReplacesWholesale(t *testing.T) {
	s := NewPresenceStore()

	s.Apply(presence.SnapshotFrame([]string{"2", "5"}))
	s.Apply(presence.OnlineFrame("7"))

	// A fresh snapshot after reconnection replaces, never merges.
	s.Apply(presence.SnapshotFrame([]string{"9"}))

	want := []string{"9"}
	if got := s.Online(); !reflect.DeepEqual(got, want) {
		t.Errorf("Online() after reconnect = %v, want %v", got, want)
	}
}

func TestPresenceStore_DiffsAreIdempotent(t *testing.T) {
	s := NewPresenceStore()

	s.Apply(presence.SnapshotFrame([]string{"1"}))
	s.Apply(presence.OnlineFrame("1"))
	s.Apply(presence.OfflineFrame("missing"))

	want := []string{"1"}
	if got := s.Online(); !reflect.DeepEqual(got, want) {
		t.Errorf("Online() = %v, want %v", got, want)
	}
}

// pagedLister serves a fixed roster in pages, recording the paging calls.
type pagedLister struct {
	users []*domain.User
	calls int
}

func (l *pagedLister) ListUsers(ctx context.Context, afterID string, limit int) ([]*domain.User, error) {
	l.calls++
	var page []*domain.User
	for _, u := range l.users {
		if u.UserID > afterID {
			page = append(page, u)
			if len(page) == limit {
				break
			}
		}
	}
	return page, nil
}

func TestPresenceStore_BootstrapPagesThroughRoster(t *testing.T) {
	lister := &pagedLister{}
	for i := 0; i < 250; i++ {
		lister.users = append(lister.users, &domain.User{
			UserID:   fmt.Sprintf("user-%04d", i),
			Username: fmt.Sprintf("name-%d", i),
		})
	}

	s := NewPresenceStore()
	if err := s.Bootstrap(context.Background(), lister); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	if s.KnownUsers() != 250 {
		t.Errorf("Expected 250 known users, got %d", s.KnownUsers())
	}
	// 250 users at 100 per page: two full pages, one partial, one empty probe.
	if lister.calls != 4 {
		t.Errorf("Expected 4 paging calls, got %d", lister.calls)
	}
	if got := s.Username("user-0007"); got != "name-7" {
		t.Errorf("Username lookup = %q, want %q", got, "name-7")
	}
	if got := s.Username("unknown"); got != "unknown" {
		t.Errorf("Expected unknown user to fall back to ID, got %q", got)
	}

	// Bootstrap never marks anyone online.
	if got := s.Online(); len(got) != 0 {
		t.Errorf("Expected empty online set after bootstrap, got %v", got)
	}
}
