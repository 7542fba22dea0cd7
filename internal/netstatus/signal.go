// Package netstatus reports whether the remote store is reachable.
package netstatus

import "sync"

// Signal is a boolean availability flag with change notifications.
type Signal interface {
	Online() bool
	// Subscribe registers fn for changes. The returned func unsubscribes and is idempotent.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// broadcaster holds the current value and fans changes out to subscribers.
type broadcaster struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(bool)
}

func newBroadcaster(initial bool) *broadcaster {
	return &broadcaster{online: initial, subs: make(map[int]func(bool))}
}

func (b *broadcaster) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online
}

func (b *broadcaster) Subscribe(fn func(bool)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// set stores v and notifies subscribers outside the lock when it changed.
func (b *broadcaster) set(v bool) {
	b.mu.Lock()
	if b.online == v {
		b.mu.Unlock()
		return
	}
	b.online = v
	subs := make([]func(bool), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

// Manual is a Signal flipped by the caller. Used in tests and by examctl.
type Manual struct {
	*broadcaster
}

// NewManual creates a Manual signal with the given initial value.
func NewManual(online bool) *Manual {
	return &Manual{broadcaster: newBroadcaster(online)}
}

// Set changes the value, notifying subscribers on a transition.
func (m *Manual) Set(online bool) {
	m.set(online)
}
