// Package reload distributes "content changed" notifications from the build
// watcher to every connected live reload session.
//
// A Broadcaster fans each published Event out to all current subscribers.
// Every subscriber owns a bounded buffer; a subscriber that falls behind
// misses events instead of slowing the publisher down, and is told so once
// through ErrLagged on its next Recv. Publishing never blocks and never
// fails, with or without subscribers.
package reload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the number of pending events buffered per subscriber.
const DefaultCapacity = 16

var (
	// ErrClosed is returned by Recv once the broadcaster has been closed
	// and every buffered event has been drained.
	ErrClosed = errors.New("reload: broadcaster closed")

	// ErrLagged matches any *LaggedError.
	ErrLagged = errors.New("reload: subscriber lagged")
)

// LaggedError reports how many events a subscriber missed because its
// buffer was full.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("reload: subscriber lagged, %d events missed", e.Missed)
}

// Is lets errors.Is(err, ErrLagged) match.
func (e *LaggedError) Is(target error) bool {
	return target == ErrLagged
}

// Event signals that the output tree changed. It carries no payload.
type Event struct{}

// Notifier is the producer side as seen by the build watcher.
type Notifier interface {
	Notify()
}

// Broadcaster is a multi-producer, multi-consumer event channel.
type Broadcaster struct {
	capacity int

	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// NewBroadcaster creates a broadcaster whose subscribers buffer up to
// capacity events. A non-positive capacity selects DefaultCapacity.
func NewBroadcaster(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Broadcaster{
		capacity: capacity,
		subs:     make(map[*Subscriber]struct{}),
	}
}

// Capacity returns the per-subscriber buffer size.
func (b *Broadcaster) Capacity() int {
	return b.capacity
}

// Publisher returns a producer handle. Handles are plain values and may be
// copied and shared between goroutines freely.
func (b *Broadcaster) Publisher() Publisher {
	return Publisher{b: b}
}

// Publish delivers an event to every current subscriber.
func (b *Broadcaster) Publish() {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for sub := range b.subs {
		select {
		case sub.events <- Event{}:
		default:
			sub.missed.Add(1)
		}
	}
}

// Subscribe registers a new subscriber. It only sees events published
// after this call returns.
func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{
		b:      b,
		events: make(chan Event, b.capacity),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.events)
		return sub
	}
	b.subs[sub] = struct{}{}

	return sub
}

// SubscriberCount returns the number of registered subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the source down. Subscribers drain what is buffered and then
// receive ErrClosed. Close is idempotent.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for sub := range b.subs {
		close(sub.events)
		delete(b.subs, sub)
	}
}

func (b *Broadcaster) unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.events)
}

// Publisher is the producer end of a Broadcaster.
type Publisher struct {
	b *Broadcaster
}

// Notify publishes one event. A zero Publisher does nothing.
func (p Publisher) Notify() {
	if p.b == nil {
		return
	}
	p.b.Publish()
}

// Subscribe creates a subscriber on the underlying broadcaster.
func (p Publisher) Subscribe() *Subscriber {
	return p.b.Subscribe()
}

// Subscriber is one consumer end of a Broadcaster. A Subscriber must only be
// received from by one goroutine at a time.
type Subscriber struct {
	b      *Broadcaster
	events chan Event
	missed atomic.Uint64
}

// Recv blocks until the next event is available. It returns nil for an
// event, a *LaggedError if events were dropped since the last call,
// ErrClosed when the broadcaster is gone, or the context's error.
func (s *Subscriber) Recv(ctx context.Context) error {
	// Buffered events are older than anything that was dropped.
	select {
	case _, ok := <-s.events:
		if !ok {
			return ErrClosed
		}
		return nil
	default:
	}

	if n := s.missed.Swap(0); n > 0 {
		return &LaggedError{Missed: n}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-s.events:
		if !ok {
			return ErrClosed
		}
		return nil
	}
}

// Close unsubscribes. Further Recv calls return ErrClosed.
func (s *Subscriber) Close() {
	s.b.unsubscribe(s)
}
