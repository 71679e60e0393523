package stream

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// listenerBuffer is the per-listener frame backlog: ~3s at 20ms per frame.
const listenerBuffer = 150

// Listener is one delivery sink of the broadcast: an HTTP encoder, a WebRTC
// peer, or the local monitor.
type Listener struct {
	ID   uuid.UUID
	C    chan []int16 // 20ms PCM frames
	done chan struct{}
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Broadcaster fans rendered PCM frames out from the engine to every
// connected listener. Slow listeners lose frames rather than stalling the
// real-time path.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[uuid.UUID]*Listener
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[uuid.UUID]*Listener),
	}
}

// Subscribe registers a new listener under a fresh id.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		ID:   uuid.New(),
		C:    make(chan []int16, listenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l.ID] = l
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. Removing a listener
// twice is harmless.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	_, present := b.listeners[l.ID]
	delete(b.listeners, l.ID)
	b.mu.Unlock()
	if present {
		close(l.done)
	}
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Run fans frames from source out to all listeners until ctx is cancelled or
// the source closes.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.mu.RLock()
			for _, l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					// backlog full, drop for this listener
				}
			}
			b.mu.RUnlock()
		}
	}
}
