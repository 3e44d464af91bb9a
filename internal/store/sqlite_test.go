package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mousti0113/class-social-media-sub003/internal/domain"
)

func newTestStore(t *testing.T) Directory {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "presence.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return repo
}

func seedUser(t *testing.T, repo Directory, userID, username string) {
	t.Helper()
	now := time.Now()
	err := repo.UpsertUser(context.Background(), &domain.User{
		UserID:     userID,
		Username:   username,
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("UpsertUser(%s) failed: %v", userID, err)
	}
}

func TestSQLiteStore_UpsertAndGet(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	seedUser(t, repo, "u1", "alice")

	user, err := repo.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user == nil || user.Username != "alice" {
		t.Errorf("GetUser = %+v, want alice", user)
	}

	missing, err := repo.GetUser(ctx, "nope")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for missing user, got %+v", missing)
	}

	// Upsert updates in place.
	seedUser(t, repo, "u1", "alice-renamed")
	user, err = repo.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.Username != "alice-renamed" {
		t.Errorf("Username = %q, want alice-renamed", user.Username)
	}
}

func TestSQLiteStore_ListUsersPaged(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seedUser(t, repo, fmt.Sprintf("u%d", i), fmt.Sprintf("name%d", i))
	}

	var all []*domain.User
	afterID := ""
	pages := 0
	for {
		page, err := repo.ListUsers(ctx, afterID, 2)
		if err != nil {
			t.Fatalf("ListUsers failed: %v", err)
		}
		if len(page) == 0 {
			break
		}
		pages++
		all = append(all, page...)
		afterID = page[len(page)-1].UserID
	}

	if len(all) != 5 {
		t.Errorf("Expected 5 users across pages, got %d", len(all))
	}
	if pages != 3 {
		t.Errorf("Expected 3 non-empty pages at limit 2, got %d", pages)
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].UserID >= all[i].UserID {
			t.Errorf("Expected pages ordered by user_id, got %q before %q", all[i-1].UserID, all[i].UserID)
		}
	}
}

func TestSQLiteStore_ConnectTokens(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	seedUser(t, repo, "u1", "alice")
	if err := repo.SaveToken(ctx, "u1", "tok_abc"); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	userID, err := repo.UserIDForToken(ctx, "tok_abc")
	if err != nil {
		t.Fatalf("UserIDForToken failed: %v", err)
	}
	if userID != "u1" {
		t.Errorf("UserIDForToken = %q, want u1", userID)
	}

	unknown, err := repo.UserIDForToken(ctx, "tok_unknown")
	if err != nil {
		t.Fatalf("UserIDForToken failed: %v", err)
	}
	if unknown != "" {
		t.Errorf("Expected empty user for unknown token, got %q", unknown)
	}
}

func TestSQLiteStore_UpdateLastSeen(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	seedUser(t, repo, "u1", "alice")

	seen := time.Now().Add(time.Hour).Truncate(time.Second)
	if err := repo.UpdateLastSeen(ctx, "u1", seen); err != nil {
		t.Fatalf("UpdateLastSeen failed: %v", err)
	}

	user, err := repo.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if !user.LastSeenAt.Equal(seen) {
		t.Errorf("LastSeenAt = %v, want %v", user.LastSeenAt, seen)
	}

	// Unknown user is a logged no-op, not an error.
	if err := repo.UpdateLastSeen(ctx, "ghost", seen); err != nil {
		t.Errorf("Expected no error for unknown user, got %v", err)
	}
}
