// Package events fans pipeline events out to per-session subscribers.
package events

import (
	"sync"
	"sync/atomic"

	"rapidmedia/pkg/models"
)

// Broker keeps the subscriber channels of every session key
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string][]chan models.SessionEvent

	dropped atomic.Uint64
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string][]chan models.SessionEvent),
	}
}

// Subscribe creates a subscription to a session's events.
// Returns a channel that will receive events and a cleanup function
func (b *Broker) Subscribe(key string, bufferSize int) (<-chan models.SessionEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan models.SessionEvent, bufferSize)
	b.subscribers[key] = append(b.subscribers[key], ch)

	var once sync.Once
	cleanup := func() {
		once.Do(func() { b.unsubscribe(key, ch) })
	}
	return ch, cleanup
}

// Publish sends ev to every subscriber of ev.Key without blocking.
// Subscribers whose buffer is full miss the event.
func (b *Broker) Publish(ev models.SessionEvent) {
	// The read lock is held while sending so unsubscribe cannot close a
	// channel under us.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[ev.Key] {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many events were skipped because a subscriber was full
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the number of subscribers of key
func (b *Broker) Subscribers(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[key])
}

// Close closes every subscriber channel of key
func (b *Broker) Close(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers[key] {
		close(ch)
	}
	delete(b.subscribers, key)
}

// CloseAll closes every subscriber channel
func (b *Broker) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, key)
	}
}

func (b *Broker) unsubscribe(key string, ch chan models.SessionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[key]
	for i, sub := range subs {
		if sub == ch {
			b.subscribers[key] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(b.subscribers[key]) == 0 {
		delete(b.subscribers, key)
	}
}
