package capture

import (
	"context"
	"sync"
)

// Broadcaster fans JPEG frames out to stream viewers. Every viewer has a
// one-frame slot: a slow viewer skips frames and never blocks the others.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	wake   chan struct{}
	closed bool
}

// Subscription receives frames on C until it is closed.
type Subscription struct {
	C    <-chan []byte
	ch   chan []byte
	id   uint64
	b    *Broadcaster
	once sync.Once
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[uint64]*Subscription),
		wake: make(chan struct{}),
	}
}

// Subscribe registers a viewer. On a closed broadcaster the returned
// subscription's channel is already closed.
func (b *Broadcaster) Subscribe() *Subscription {
	ch := make(chan []byte, 1)
	sub := &Subscription{C: ch, ch: ch, b: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		sub.once.Do(func() {})
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub

	close(b.wake)
	b.wake = make(chan struct{})
	return sub
}

// Close unregisters the viewer and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()
		if _, ok := s.b.subs[s.id]; ok {
			delete(s.b.subs, s.id)
			close(s.ch)
		}
	})
}

// Publish hands data to every viewer, replacing any frame it has not taken yet.
func (b *Broadcaster) Publish(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- data:
			continue
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- data:
		default:
		}
	}
}

func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// WaitForViewers blocks until at least one viewer is subscribed.
func (b *Broadcaster) WaitForViewers(ctx context.Context) error {
	for {
		b.mu.Lock()
		n, wake, closed := len(b.subs), b.wake, b.closed
		b.mu.Unlock()

		if n > 0 {
			return nil
		}
		if closed {
			return context.Canceled
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

// Close ends every subscription and wakes waiters.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	close(b.wake)
}
