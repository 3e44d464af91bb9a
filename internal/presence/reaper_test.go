package presence

import (
	"context"
	"testing"
	"time"

	"github.com/mousti0113/class-social-media-sub003/internal/domain"
)

func TestSweepOnce_RemovesStaleSessions(t *testing.T) {
	reg := NewRegistry(nil)
	sess, _ := reg.Register("u1", domain.TransportMeta{})

	reg.mu.Lock()
	reg.sessions[sess.SessionID].LastActivityAt = time.Now().Add(-48 * time.Hour)
	reg.mu.Unlock()

	sweepOnce(reg, 24*time.Hour)

	if reg.IsOnline("u1") {
		t.Error("Expected stale session reaped")
	}
}

// panickyListener simulates a broken downstream consumer during a sweep.
type panickyListener struct{}

func (panickyListener) BecameOnline(userID, sessionID string)  {}
func (panickyListener) BecameOffline(userID, sessionID string) { panic("listener broken") }

func TestSweepOnce_FailureDoesNotPropagate(t *testing.T) {
	reg := NewRegistry(panickyListener{})
	sess, _ := reg.Register("u1", domain.TransportMeta{})

	reg.mu.Lock()
	reg.sessions[sess.SessionID].LastActivityAt = time.Now().Add(-48 * time.Hour)
	reg.mu.Unlock()

	// Must not panic the caller; the failure is caught and logged.
	sweepOnce(reg, 24*time.Hour)
}

func TestStartReaper_SweepsOnSchedule(t *testing.T) {
	reg := NewRegistry(nil)
	sess, _ := reg.Register("u1", domain.TransportMeta{})

	reg.mu.Lock()
	reg.sessions[sess.SessionID].LastActivityAt = time.Now().Add(-48 * time.Hour)
	reg.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartReaper(ctx, reg, 10*time.Millisecond, 24*time.Hour)

	deadline := time.After(time.Second)
	for reg.IsOnline("u1") {
		select {
		case <-deadline:
			t.Fatal("Reaper never swept the stale session")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
