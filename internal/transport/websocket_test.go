package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/mousti0113/class-social-media-sub003/internal/domain"
	"github.com/mousti0113/class-social-media-sub003/internal/identity"
	"github.com/mousti0113/class-social-media-sub003/internal/presence"
)

// fakeDirectory is an in-memory store.Directory for handler tests.
type fakeDirectory struct {
	tokens map[string]string
}

func (d *fakeDirectory) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return nil, nil
}

func (d *fakeDirectory) UpsertUser(ctx context.Context, user *domain.User) error { return nil }

func (d *fakeDirectory) ListUsers(ctx context.Context, afterID string, limit int) ([]*domain.User, error) {
	return nil, nil
}

func (d *fakeDirectory) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	return nil
}

func (d *fakeDirectory) UserIDForToken(ctx context.Context, token string) (string, error) {
	return d.tokens[token], nil
}

func (d *fakeDirectory) SaveToken(ctx context.Context, userID, token string) error {
	d.tokens[token] = userID
	return nil
}

func (d *fakeDirectory) Ping(ctx context.Context) error { return nil }
func (d *fakeDirectory) Close() error                   { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *presence.Registry) {
	t.Helper()

	repo := &fakeDirectory{tokens: map[string]string{
		"tok_alice": "alice",
		"tok_bob":   "bob",
	}}
	bcast := presence.NewBroadcaster(32)
	reg := presence.NewRegistry(bcast)
	idp := identity.NewDirectoryProvider(repo)

	handler := NewWebSocketHandler(repo, idp, reg, bcast, 10*time.Second, 10*time.Second, "", true)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, reg
}

func dialPresence(t *testing.T, ctx context.Context, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(srv.URL, "http://", "ws://", 1) + "?token=" + token
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return ws
}

func readFrame(t *testing.T, ctx context.Context, ws *websocket.Conn) presence.Frame {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, data, err := ws.Read(readCtx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var frame presence.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	return frame
}

func TestWebSocketHandler_RejectsInvalidToken(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "?token=tok_bogus")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Status without token = %d, want 401", resp.StatusCode)
	}
}

func TestWebSocketHandler_SnapshotThenDiffs(t *testing.T) {
	srv, reg := newTestServer(t)
	ctx := context.Background()

	alice := dialPresence(t, ctx, srv, "tok_alice")
	defer alice.Close(websocket.StatusNormalClosure, "done")

	snap := readFrame(t, ctx, alice)
	if snap.Type != presence.FrameSnapshot {
		t.Fatalf("Expected snapshot first, got %q", snap.Type)
	}
	if len(snap.OnlineUserIDs) != 1 || snap.OnlineUserIDs[0] != "alice" {
		t.Errorf("Snapshot = %v, want [alice]", snap.OnlineUserIDs)
	}

	bob := dialPresence(t, ctx, srv, "tok_bob")
	defer bob.Close(websocket.StatusNormalClosure, "done")

	diff := readFrame(t, ctx, alice)
	if diff.Type != presence.FrameOnline || diff.UserID != "bob" {
		t.Errorf("Expected online diff for bob, got %+v", diff)
	}

	bobSnap := readFrame(t, ctx, bob)
	if bobSnap.Type != presence.FrameSnapshot || len(bobSnap.OnlineUserIDs) != 2 {
		t.Errorf("Expected two-user snapshot for bob, got %+v", bobSnap)
	}

	if !reg.IsOnline("alice") || !reg.IsOnline("bob") {
		t.Error("Expected both users online in registry")
	}

	// Bob disconnecting produces an offline diff for alice.
	bob.Close(websocket.StatusNormalClosure, "leaving")

	offline := readFrame(t, ctx, alice)
	if offline.Type != presence.FrameOffline || offline.UserID != "bob" {
		t.Errorf("Expected offline diff for bob, got %+v", offline)
	}
}

func TestWebSocketHandler_HeartbeatKeepsSessionFresh(t *testing.T) {
	srv, reg := newTestServer(t)
	ctx := context.Background()

	alice := dialPresence(t, ctx, srv, "tok_alice")
	defer alice.Close(websocket.StatusNormalClosure, "done")
	readFrame(t, ctx, alice)

	hb, _ := json.Marshal(presence.HeartbeatFrame())
	if err := alice.Write(ctx, websocket.MessageText, hb); err != nil {
		t.Fatalf("Heartbeat write failed: %v", err)
	}

	// The session stays registered while heartbeats flow.
	time.Sleep(50 * time.Millisecond)
	if !reg.IsOnline("alice") {
		t.Error("Expected alice online after heartbeat")
	}
}
