package realtime

import (
	"errors"
	"sync"

	"github.com/gosuda/boardsync/internal/eventbus"
)

var (
	// ErrSinkClosed is returned by Send after the outbox is closed.
	ErrSinkClosed = errors.New("realtime: sink closed")
	// ErrSlowSubscriber is returned when the queue is full. The outbox is
	// failed and its session ends.
	ErrSlowSubscriber = errors.New("realtime: slow subscriber")
)

// Outbox is a bounded, non-blocking event queue between the event bus and a
// single connection writer.
type Outbox struct {
	mu     sync.Mutex
	queue  chan eventbus.Event
	done   chan struct{}
	closed bool
	err    error
}

func NewOutbox(size int) *Outbox {
	if size < 1 {
		size = 1
	}
	return &Outbox{
		queue: make(chan eventbus.Event, size),
		done:  make(chan struct{}),
	}
}

// Send implements eventbus.Sink.
func (o *Outbox) Send(ev eventbus.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrSinkClosed
	}

	select {
	case o.queue <- ev:
		return nil
	default:
		o.closeLocked(ErrSlowSubscriber)
		return ErrSlowSubscriber
	}
}

// Events is the queue the connection writer drains.
func (o *Outbox) Events() <-chan eventbus.Event { return o.queue }

// Done is closed once the outbox is closed or failed.
func (o *Outbox) Done() <-chan struct{} { return o.done }

// Err reports why the outbox closed; nil while open or after a plain Close.
func (o *Outbox) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Close stops accepting events. Safe to call repeatedly.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeLocked(nil)
}

func (o *Outbox) closeLocked(err error) {
	if o.closed {
		return
	}
	o.closed = true
	o.err = err
	close(o.done)
}
