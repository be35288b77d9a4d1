// Package eventbus fans decoded receiver events out to any number of
// in-process subscribers without letting a slow one stall the reader.
package eventbus

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"marantzbridge/internal/observability"
	"marantzbridge/internal/protocol"
)

var (
	ErrSlowSubscriber = errors.New("subscriber fell behind and was dropped")
	ErrBusClosed      = errors.New("event bus closed")
	ErrUnsubscribed   = errors.New("unsubscribed")
)

const DefaultBuffer = 256

// Subscription is one consumer's ordered view of the bus. Events is closed
// when the subscription ends; Err then says why.
type Subscription struct {
	ID   uuid.UUID
	Name string

	bus *Bus
	ch  chan protocol.Event

	mu  sync.Mutex
	err error
}

func (s *Subscription) Events() <-chan protocol.Event { return s.ch }

// Err returns nil while the subscription is active.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Unsubscribe detaches the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s, ErrUnsubscribed)
}

// end must be called with the bus lock held.
func (s *Subscription) end(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.ch)
}

// Bus is safe for concurrent use. Publish holds the bus lock for the whole
// fan-out, so every subscriber sees events in one global publish order.
type Bus struct {
	logger *slog.Logger
	buffer int

	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription
	closed bool
}

// New returns a bus whose subscribers each buffer up to buffer events.
func New(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		buffer: buffer,
		subs:   make(map[uuid.UUID]*Subscription),
	}
}

// Subscribe registers a new consumer. On a closed bus the returned
// subscription is already ended with ErrBusClosed.
func (b *Bus) Subscribe(name string) *Subscription {
	s := &Subscription{
		ID:   uuid.New(),
		Name: name,
		bus:  b,
		ch:   make(chan protocol.Event, b.buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.end(ErrBusClosed)
		return s
	}
	b.subs[s.ID] = s
	b.logger.Debug("event bus subscriber added", "id", s.ID, "name", name, "subscribers", len(b.subs))
	return s
}

// Publish delivers ev to every subscriber without blocking. A subscriber
// whose buffer is full is evicted.
func (b *Bus) Publish(ev protocol.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			delete(b.subs, id)
			s.end(ErrSlowSubscriber)
			observability.RecordEviction()
			b.logger.Warn("event bus subscriber evicted", "id", id, "name", s.Name, "kind", ev.Kind.String())
		}
	}
}

// Len returns the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		s.end(ErrBusClosed)
	}
}

func (b *Bus) remove(s *Subscription, reason error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.ID]; !ok {
		return
	}
	delete(b.subs, s.ID)
	s.end(reason)
	b.logger.Debug("event bus subscriber removed", "id", s.ID, "name", s.Name, "reason", reason)
}
