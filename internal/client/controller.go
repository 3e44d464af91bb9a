// Package client implements the presence client: the reconnection state
// machine that owns one physical channel, and the locally observed
// online-user set fed by its decoded presence events.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/mousti0113/class-social-media-sub003/internal/config"
	"github.com/mousti0113/class-social-media-sub003/internal/identity"
	"github.com/mousti0113/class-social-media-sub003/internal/presence"
)

// Phase is the state of the reconnection machine.
type Phase int

// Reconnection phases.
const (
	Disconnected Phase = iota
	Connecting
	Connected
	Backoff
	GivenUp
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	case GivenUp:
		return "given_up"
	default:
		return "unknown"
	}
}

// Transition is an observable phase change. The controller emits these as
// typed events so presence and UI layers can react without holding a
// reference back into the state machine.
type Transition struct {
	From   Phase
	To     Phase
	Reason string
}

// ReconnectState is a snapshot of the machine's current state.
type ReconnectState struct {
	Phase             Phase
	AttemptCount      int
	NextDelay         time.Duration
	LastFailureReason string
}

// ErrProtocol marks a malformed frame from the peer. The frame is dropped;
// the connection is still usable unless it repeats.
var ErrProtocol = errors.New("malformed presence frame")

// protocolErrorLimit is the number of consecutive malformed frames tolerated
// before the connection degrades to a transport failure.
const protocolErrorLimit = 5

// Conn is one open presence channel.
type Conn interface {
	ReadFrame(ctx context.Context) (presence.Frame, error)
	WriteFrame(ctx context.Context, frame presence.Frame) error
	Close() error
}

// Dialer establishes presence channels. A credential rejection must be
// reported as identity.ErrAuthentication so the controller can stop
// retrying.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Controller owns one physical channel and runs the reconnection state
// machine. It has no knowledge of presence data: decoded frames are handed
// to the Frames channel and each phase change to Transitions.
type Controller struct {
	dialer Dialer
	cfg    config.ReconnectConfig

	transitions chan Transition
	frames      chan presence.Frame
	retryCh     chan struct{}

	mu    sync.Mutex
	state ReconnectState
}

// NewController creates a controller in the Disconnected phase.
func NewController(dialer Dialer, cfg config.ReconnectConfig) *Controller {
	return &Controller{
		dialer:      dialer,
		cfg:         cfg,
		transitions: make(chan Transition, 32),
		frames:      make(chan presence.Frame, 32),
		retryCh:     make(chan struct{}, 1),
		state:       ReconnectState{Phase: Disconnected},
	}
}

// Transitions returns the stream of observable phase changes.
func (c *Controller) Transitions() <-chan Transition {
	return c.transitions
}

// Frames returns decoded presence frames from the open channel, starting
// with the snapshot received during each successful handshake.
func (c *Controller) Frames() <-chan presence.Frame {
	return c.frames
}

// State returns a snapshot of the current reconnect state.
func (c *Controller) State() ReconnectState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Retry requests a manual reconnect after GivenUp, resetting the attempt
// counter. It is a no-op while the machine is in any other phase.
func (c *Controller) Retry() {
	select {
	case c.retryCh <- struct{}{}:
	default:
	}
}

// Run drives the state machine until ctx is cancelled. Cancellation aborts
// any pending backoff timer or in-flight connect attempt and leaves the
// machine Disconnected without further retries.
func (c *Controller) Run(ctx context.Context) {
	c.setPhase(Connecting, "start")

	for {
		switch c.State().Phase {
		case Connecting:
			c.runConnecting(ctx)
		case Backoff:
			c.runBackoff(ctx)
		case GivenUp:
			c.runGivenUp(ctx)
		case Disconnected:
			return
		}
		if ctx.Err() != nil && c.State().Phase != Disconnected {
			c.setPhase(Disconnected, "cancelled")
		}
	}
}

func (c *Controller) runConnecting(ctx context.Context) {
	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.setPhase(Disconnected, "cancelled")
			return
		}
		if errors.Is(err, identity.ErrAuthentication) {
			// Terminal: retrying with the same stale credential would loop
			// forever. Only an external Retry restarts the machine.
			c.failTerminal(err)
			return
		}
		c.failTransient(err)
		return
	}

	if err := c.handshake(ctx, conn); err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			c.setPhase(Disconnected, "cancelled")
			return
		}
		c.failTransient(err)
		return
	}

	c.mu.Lock()
	c.state.AttemptCount = 0
	c.state.NextDelay = 0
	c.mu.Unlock()
	c.setPhase(Connected, "handshake complete")

	reason := c.connectedLoop(ctx, conn)
	_ = conn.Close()
	if ctx.Err() != nil {
		c.setPhase(Disconnected, "cancelled")
		return
	}
	c.failTransient(reason)
}

// handshake waits for the authoritative snapshot that must precede any diff
// and forwards it so the presence store can replace its set wholesale.
func (c *Controller) handshake(ctx context.Context, conn Conn) error {
	deadline := c.cfg.HeartbeatIncoming + c.cfg.HeartbeatIncoming/2
	handshakeCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	for {
		frame, err := conn.ReadFrame(handshakeCtx)
		if errors.Is(err, ErrProtocol) {
			continue
		}
		if err != nil {
			return fmt.Errorf("await snapshot: %w", err)
		}
		if frame.Type != presence.FrameSnapshot {
			return fmt.Errorf("expected snapshot, got %q frame", frame.Type)
		}
		c.deliver(ctx, frame)
		return nil
	}
}

// connectedLoop exchanges heartbeats and forwards presence frames until the
// transport fails, the incoming liveness deadline lapses, or ctx ends.
func (c *Controller) connectedLoop(ctx context.Context, conn Conn) error {
	readCtx, stopReader := context.WithCancel(ctx)
	defer stopReader()

	type readResult struct {
		frame presence.Frame
		err   error
	}
	reads := make(chan readResult)
	go func() {
		protocolErrors := 0
		for {
			frame, err := conn.ReadFrame(readCtx)
			if errors.Is(err, ErrProtocol) {
				protocolErrors++
				slog.Warn("Dropping malformed frame from server", "consecutive", protocolErrors)
				if protocolErrors < protocolErrorLimit {
					continue
				}
				err = fmt.Errorf("repeated protocol errors: %w", err)
			} else if err == nil {
				protocolErrors = 0
			}
			select {
			case reads <- readResult{frame, err}:
				if err != nil {
					return
				}
			case <-readCtx.Done():
				return
			}
		}
	}()

	outgoing := time.NewTicker(c.cfg.HeartbeatOutgoing)
	defer outgoing.Stop()

	// The server heartbeats at HeartbeatIncoming; silence past 1.5x that is
	// a dead peer even if the transport never closed.
	deadline := c.cfg.HeartbeatIncoming + c.cfg.HeartbeatIncoming/2
	liveness := time.NewTimer(deadline)
	defer liveness.Stop()

	for {
		select {
		case res := <-reads:
			if res.err != nil {
				return fmt.Errorf("transport read: %w", res.err)
			}
			if !liveness.Stop() {
				<-liveness.C
			}
			liveness.Reset(deadline)
			if res.frame.Type != presence.FrameHeartbeat {
				c.deliver(ctx, res.frame)
			}
		case <-outgoing.C:
			if err := conn.WriteFrame(ctx, presence.HeartbeatFrame()); err != nil {
				return fmt.Errorf("heartbeat write: %w", err)
			}
		case <-liveness.C:
			return errors.New("missed heartbeat deadline")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) runBackoff(ctx context.Context) {
	c.mu.Lock()
	delay := c.state.NextDelay
	c.mu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		c.setPhase(Connecting, "backoff elapsed")
	case <-ctx.Done():
		c.setPhase(Disconnected, "cancelled")
	}
}

func (c *Controller) runGivenUp(ctx context.Context) {
	select {
	case <-c.retryCh:
		c.mu.Lock()
		c.state.AttemptCount = 0
		c.state.NextDelay = 0
		c.mu.Unlock()
		c.setPhase(Connecting, "manual retry")
	case <-ctx.Done():
		c.setPhase(Disconnected, "cancelled")
	}
}

// failTransient records a failed attempt and moves to Backoff, or to GivenUp
// once the attempt budget is exhausted.
func (c *Controller) failTransient(reason error) {
	c.mu.Lock()
	c.state.AttemptCount++
	c.state.LastFailureReason = reason.Error()
	attempts := c.state.AttemptCount
	if attempts < c.cfg.MaxAttempts {
		c.state.NextDelay = jitter(c.delayForAttempt(attempts - 1))
	}
	c.mu.Unlock()

	if attempts >= c.cfg.MaxAttempts {
		c.setPhase(GivenUp, reason.Error())
		return
	}
	c.setPhase(Backoff, reason.Error())
}

func (c *Controller) failTerminal(reason error) {
	c.mu.Lock()
	c.state.LastFailureReason = reason.Error()
	c.mu.Unlock()
	c.setPhase(GivenUp, reason.Error())
}

// delayForAttempt computes the raw backoff delay for the nth failed attempt,
// counted from zero: min(base * multiplier^n, max).
func (c *Controller) delayForAttempt(n int) time.Duration {
	d := time.Duration(float64(c.cfg.DelayBase) * math.Pow(c.cfg.BackoffMultiplier, float64(n)))
	if d > c.cfg.DelayMax || d <= 0 {
		return c.cfg.DelayMax
	}
	return d
}

// jitter spreads a delay by +-20% so clients that lost the same outage do
// not reconnect in lockstep.
func jitter(d time.Duration) time.Duration {
	factor := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * factor)
}

func (c *Controller) setPhase(to Phase, reason string) {
	c.mu.Lock()
	from := c.state.Phase
	c.state.Phase = to
	c.mu.Unlock()

	if from == to {
		return
	}
	slog.Debug("Connection phase change", "from", from, "to", to, "reason", reason)
	select {
	case c.transitions <- Transition{From: from, To: to, Reason: reason}:
	default:
		slog.Debug("Transition observer lagging, dropping event", "from", from, "to", to)
	}
}

func (c *Controller) deliver(ctx context.Context, frame presence.Frame) {
	select {
	case c.frames <- frame:
	case <-ctx.Done():
	}
}
