// Package eventbus fans board mutations out to the streams currently viewing
// each board.
package eventbus

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// NoSender passed to Broadcast excludes no subscriber.
const NoSender = ""

// Sink accepts events for one open stream. Send must not block; an error
// means the sink is closed or cannot keep up, and the bus drops it.
type Sink interface {
	Send(ev Event) error
}

type registration struct {
	clientID string
	sink     Sink
}

// Bus is an in-process registry of board subscribers. The zero value is not
// usable; construct with New.
type Bus struct {
	mu     sync.RWMutex
	boards map[string]map[string]*registration
}

func New() *Bus {
	return &Bus{boards: make(map[string]map[string]*registration)}
}

// Subscribe registers sink for boardID under clientID, replacing any earlier
// registration with the same clientID. The returned function removes exactly
// this registration and may be called any number of times.
func (b *Bus) Subscribe(boardID, clientID string, sink Sink) (unsubscribe func()) {
	reg := &registration{clientID: clientID, sink: sink}

	b.mu.Lock()
	subs, ok := b.boards[boardID]
	if !ok {
		subs = make(map[string]*registration)
		b.boards[boardID] = subs
	}
	subs[clientID] = reg
	b.mu.Unlock()

	return func() {
		b.remove(boardID, reg)
	}
}

// Broadcast delivers name/payload to every subscriber of boardID except the
// one registered as senderClientID. Subscribers that fail to accept the event
// are removed. Only a payload encoding failure is returned.
func (b *Bus) Broadcast(boardID, senderClientID, name string, payload any) error {
	ev, err := NewEvent(name, payload)
	if err != nil {
		return fmt.Errorf("eventbus.Broadcast: %w", err)
	}
	b.Publish(boardID, senderClientID, ev)
	return nil
}

// Publish delivers an already encoded event. See Broadcast.
func (b *Bus) Publish(boardID, senderClientID string, ev Event) {
	b.mu.RLock()
	subs := b.boards[boardID]
	targets := make([]*registration, 0, len(subs))
	for id, reg := range subs {
		if senderClientID != NoSender && id == senderClientID {
			continue
		}
		targets = append(targets, reg)
	}
	b.mu.RUnlock()

	for _, reg := range targets {
		if err := reg.sink.Send(ev); err != nil {
			log.Debug().Err(err).
				Str("board_id", boardID).
				Str("client_id", reg.clientID).
				Str("event", ev.Name).
				Msg("eventbus: dropping subscriber")
			b.remove(boardID, reg)
		}
	}
}

// SubscriberCount returns the number of live subscribers for boardID.
func (b *Bus) SubscriberCount(boardID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.boards[boardID])
}

// BoardCount returns the number of boards with at least one subscriber.
func (b *Bus) BoardCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.boards)
}

func (b *Bus) remove(boardID string, reg *registration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.boards[boardID]
	if !ok {
		return
	}
	if subs[reg.clientID] == reg {
		delete(subs, reg.clientID)
	}
	if len(subs) == 0 {
		delete(b.boards, boardID)
	}
}
