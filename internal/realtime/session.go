// Package realtime drives one long-lived board stream from subscription to
// teardown, independent of the wire transport.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/eventbus"
)

// DefaultHeartbeat keeps idle proxies from severing the stream.
const DefaultHeartbeat = 30 * time.Second

// DefaultBuffer is the per-connection outbox size.
const DefaultBuffer = 32

type State int32

const (
	StateOpening State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Transport writes frames onto one connection. Calls come from a single
// goroutine.
type Transport interface {
	Send(ctx context.Context, ev eventbus.Event) error
	Heartbeat(ctx context.Context) error
}

// Subscriber is the registry side of the event bus.
type Subscriber interface {
	Subscribe(boardID, clientID string, sink eventbus.Sink) (unsubscribe func())
}

// Options tune a Session. Zero values select the defaults.
type Options struct {
	Heartbeat time.Duration
	Buffer    int
}

// Session is the controller for one stream: Opening, then Open while events
// and heartbeats flow, then Closed. Client abort, server cancellation and
// write failures all end in the same single teardown.
type Session struct {
	boardID   string
	clientID  string
	bus       Subscriber
	transport Transport
	heartbeat time.Duration
	outbox    *Outbox

	state atomic.Int32

	mu          sync.Mutex
	cancel      context.CancelFunc
	closed      bool
	unsubscribe func()
}

func NewSession(boardID, clientID string, bus Subscriber, transport Transport, opts Options) *Session {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	return &Session{
		boardID:   boardID,
		clientID:  clientID,
		bus:       bus,
		transport: transport,
		heartbeat: opts.Heartbeat,
		outbox:    NewOutbox(opts.Buffer),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Run opens the stream and blocks until it closes. A nil error means the
// stream ended by cancellation (client gone, server shutdown, Close).
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()

	defer s.Close()

	// Registering before the connected frame goes out means no broadcast
	// accepted after the client sees "connected" can be missed; queued events
	// are only written after it.
	unsubscribe := s.bus.Subscribe(s.boardID, s.clientID, s.outbox)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsubscribe()
		return nil
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	connected, err := eventbus.NewEvent(eventbus.EventConnected, map[string]string{
		"clientId": s.clientID,
		"boardId":  s.boardID,
	})
	if err != nil {
		return fmt.Errorf("realtime.Session.Run: %w", err)
	}
	if err := s.transport.Send(ctx, connected); err != nil {
		return s.writeErr(ctx, "connected", err)
	}

	s.state.Store(int32(StateOpen))
	log.Debug().Str("board_id", s.boardID).Str("client_id", s.clientID).Msg("stream open")

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.outbox.Done():
			if err := s.outbox.Err(); err != nil {
				return fmt.Errorf("realtime.Session.Run: %w", err)
			}
			return nil
		case ev := <-s.outbox.Events():
			if err := s.transport.Send(ctx, ev); err != nil {
				return s.writeErr(ctx, ev.Name, err)
			}
		case <-ticker.C:
			if err := s.transport.Heartbeat(ctx); err != nil {
				return s.writeErr(ctx, "heartbeat", err)
			}
		}
	}
}

// Close ends the stream from any goroutine. Safe to call any number of times
// and concurrently with Run's own teardown; the registration is removed
// exactly once.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	s.outbox.Close()

	if prev := State(s.state.Swap(int32(StateClosed))); prev == StateOpen {
		log.Debug().Str("board_id", s.boardID).Str("client_id", s.clientID).Msg("stream closed")
	}
}

// writeErr classifies a transport failure. Failures caused by our own
// cancellation are a normal close.
func (s *Session) writeErr(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("realtime.Session.Run: write %s: %w", what, err)
}
