package presence

import (
	"log/slog"
	"sync"
)

// Broadcaster fans presence transitions out to every connected channel.
// It implements TransitionListener, so its callbacks run under the registry
// lock and must stay non-blocking: each subscriber owns a bounded queue and
// a subscriber whose queue overflows is closed, forcing that client onto its
// own reconnection path instead of stalling registration for others.
type Broadcaster struct {
	mu        sync.RWMutex
	subs      map[string]*Subscription
	queueSize int
}

// NewBroadcaster creates a broadcaster whose per-subscriber queues hold
// queueSize frames.
func NewBroadcaster(queueSize int) *Broadcaster {
	return &Broadcaster{
		subs:      make(map[string]*Subscription),
		queueSize: queueSize,
	}
}

// Subscription is one channel's view of the broadcast stream. It starts
// gated: diffs arriving before Open are buffered and replayed after the
// snapshot. Replay is safe because diffs are absolute statements ("user is
// online"), so a diff already reflected in the snapshot is a no-op.
type Subscription struct {
	sessionID string
	ch        chan Frame

	mu     sync.Mutex
	buf    []Frame
	live   bool
	failed bool
}

// C returns the stream of frames to deliver to the channel. It is closed
// when the subscription is detached or its queue overflows.
func (s *Subscription) C() <-chan Frame {
	return s.ch
}

// Failed reports whether the subscription was dropped for falling behind.
func (s *Subscription) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// enqueue delivers a frame without ever blocking the caller.
func (s *Subscription) enqueue(frame Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed {
		return
	}
	if !s.live {
		// Reserve one queue slot for the snapshot Open will prepend.
		if len(s.buf) >= cap(s.ch)-1 {
			s.failLocked()
			return
		}
		s.buf = append(s.buf, frame)
		return
	}

	select {
	case s.ch <- frame:
	default:
		s.failLocked()
	}
}

// Open sends the one-shot snapshot, replays any diffs buffered while gated,
// and switches the subscription live.
func (s *Subscription) Open(onlineUserIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed || s.live {
		return
	}

	frames := append([]Frame{SnapshotFrame(onlineUserIDs)}, s.buf...)
	for _, frame := range frames {
		select {
		case s.ch <- frame:
		default:
			s.failLocked()
			return
		}
	}
	s.buf = nil
	s.live = true
}

func (s *Subscription) failLocked() {
	s.failed = true
	s.buf = nil
	close(s.ch)
	slog.Warn("Presence subscriber dropped, send queue overflow", "session_id", s.sessionID)
}

// Attach registers a gated subscription for sessionID. Call Open with the
// registry snapshot once the session is registered.
func (b *Broadcaster) Attach(sessionID string) *Subscription {
	sub := &Subscription{
		sessionID: sessionID,
		ch:        make(chan Frame, b.queueSize),
	}

	b.mu.Lock()
	b.subs[sessionID] = sub
	b.mu.Unlock()
	return sub
}

// Detach removes the subscription and closes its stream.
func (b *Broadcaster) Detach(sessionID string) {
	b.mu.Lock()
	sub, ok := b.subs[sessionID]
	delete(b.subs, sessionID)
	b.mu.Unlock()

	if !ok {
		return
	}
	sub.mu.Lock()
	if !sub.failed {
		sub.failed = true
		sub.buf = nil
		close(sub.ch)
	}
	sub.mu.Unlock()
}

// BecameOnline broadcasts an online diff to every channel except the one
// that caused the edge; that channel learns its own state from the snapshot.
func (b *Broadcaster) BecameOnline(userID, sessionID string) {
	b.broadcast(OnlineFrame(userID), sessionID)
}

// BecameOffline broadcasts an offline diff.
func (b *Broadcaster) BecameOffline(userID, sessionID string) {
	b.broadcast(OfflineFrame(userID), sessionID)
}

func (b *Broadcaster) broadcast(frame Frame, excludeSessionID string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sessionID, sub := range b.subs {
		if sessionID == excludeSessionID {
			continue
		}
		sub.enqueue(frame)
	}
}

// Subscribers returns the number of attached channels.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
