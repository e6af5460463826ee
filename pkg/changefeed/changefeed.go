package changefeed

import (
	"context"
	"sync"
)

// Op describes the kind of row change being announced.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is a notification that a row identified by Key changed. It carries
// no row data: consumers are expected to re-read the row, not apply patches.
type Change[K comparable] struct {
	Key K
	Op  Op
}

// Subscription receives change notifications for a single key.
// All methods are safe for concurrent use.
type Subscription[K comparable] struct {
	ch     chan Change[K]
	mu     sync.RWMutex
	closed bool
}

// C returns the channel change notifications arrive on. The channel is
// closed when the subscription is closed.
func (s *Subscription[K]) C() <-chan Change[K] {
	return s.ch
}

// Close tears down the subscription. Idempotent.
func (s *Subscription[K]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.ch)
		s.closed = true
	}
	return nil
}

func (s *Subscription[K]) send(c Change[K]) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- c:
		return true
	default:
		return false
	}
}

// Feed is an in-process change feed with per-key subscriptions. Publishing
// never blocks: a subscriber whose buffer is full has the notification
// dropped and is detached. That is acceptable for this feed's consumers,
// which re-read the full row on every notification and therefore converge
// on the next one.
type Feed[K comparable] struct {
	subs      map[K]map[*Subscription[K]]struct{}
	buffer    int
	closed    bool
	mu        sync.RWMutex
	cleanupWg sync.WaitGroup
}

// New creates a feed. A minimum buffer of 1 is enforced so sends are never
// unconditionally blocking.
func New[K comparable](buffer int) *Feed[K] {
	return &Feed[K]{
		subs:   make(map[K]map[*Subscription[K]]struct{}),
		buffer: max(buffer, 1),
	}
}

// Subscribe registers interest in changes to a single key. The subscription
// is torn down automatically when ctx is cancelled. Subscribing to a closed
// feed returns an already-closed subscription.
func (f *Feed[K]) Subscribe(ctx context.Context, key K) *Subscription[K] {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub := &Subscription[K]{ch: make(chan Change[K], f.buffer)}
	if f.closed {
		_ = sub.Close()
		return sub
	}

	if f.subs[key] == nil {
		f.subs[key] = make(map[*Subscription[K]]struct{})
	}
	f.subs[key][sub] = struct{}{}

	if ctx.Done() != nil {
		f.cleanupWg.Add(1)
		go func() {
			defer f.cleanupWg.Done()
			<-ctx.Done()
			f.unsubscribe(key, sub)
		}()
	}

	return sub
}

// Publish notifies every subscriber of change.Key. Slow subscribers are
// detached rather than blocking the publisher.
func (f *Feed[K]) Publish(ctx context.Context, change Change[K]) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil
	}

	for sub := range f.subs[change.Key] {
		if !sub.send(change) {
			key, s := change.Key, sub
			go f.unsubscribe(key, s)
		}
	}

	return nil
}

// Close shuts down the feed and all subscriptions. Idempotent.
func (f *Feed[K]) Close() error {
	f.mu.Lock()

	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true

	for _, keySubs := range f.subs {
		for sub := range keySubs {
			_ = sub.Close()
		}
	}
	clear(f.subs)
	f.mu.Unlock()

	f.cleanupWg.Wait()
	return nil
}

func (f *Feed[K]) unsubscribe(key K, sub *Subscription[K]) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if keySubs, ok := f.subs[key]; ok {
		delete(keySubs, sub)
		if len(keySubs) == 0 {
			delete(f.subs, key)
		}
	}
	_ = sub.Close()
}
