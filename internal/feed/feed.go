// Package feed provides cancellable subscriptions used by every realtime source
// in the client. Values are queued without bound so publishers never block on a
// slow consumer, and the output channel is closed once the subscription is
// cancelled.
package feed

import "sync"

// Canceler releases a subscription.
type Canceler interface {
	Cancel()
}

// Subscription delivers published values in order on C until cancelled.
type Subscription[T any] struct {
	out    chan T
	signal chan struct{}
	done   chan struct{}

	mu    sync.Mutex
	queue []T

	once     sync.Once
	onCancel func()
}

// New starts a subscription. onCancel runs once when the subscription is
// cancelled and is typically used to unregister it from its publisher.
func New[T any](onCancel func()) *Subscription[T] {
	s := &Subscription[T]{
		out:      make(chan T),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		onCancel: onCancel,
	}
	go s.pump()
	return s
}

// C returns the delivery channel.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Done is closed once the subscription is cancelled.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Publish queues v for delivery. It reports false after cancellation.
func (s *Subscription[T]) Publish(v T) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
	return true
}

// Cancel stops delivery. It is safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		close(s.done)
		if s.onCancel != nil {
			s.onCancel()
		}
	})
}

func (s *Subscription[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}

// Set is a concurrency-safe registry of subscriptions fed by one publisher.
type Set[T any] struct {
	mu   sync.RWMutex
	subs map[*Subscription[T]]struct{}
}

// NewSet creates an empty subscription set.
func NewSet[T any]() *Set[T] {
	return &Set[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Add creates a subscription that removes itself from the set on cancel.
func (s *Set[T]) Add() *Subscription[T] {
	var sub *Subscription[T]
	sub = New[T](func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	})
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

// Publish fans v out to every live subscription.
func (s *Set[T]) Publish(v T) {
	s.mu.RLock()
	subs := make([]*Subscription[T], 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.Publish(v)
	}
}

// Len returns the number of live subscriptions.
func (s *Set[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// CancelAll cancels every subscription in the set.
func (s *Set[T]) CancelAll() {
	s.mu.RLock()
	subs := make([]*Subscription[T], 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}
