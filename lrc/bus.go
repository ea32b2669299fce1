// Package lrc implements the long-running-command engine shared by every
// node: a bounded FIFO executor, a change-event bus for the
// longRunningCommandStatus/longRunningCommandResult attributes, and the
// nested-LRC blocking-set primitive parents use to await children.
package lrc

import "sync"

// Bus is a non-blocking broadcast change-event bus, one per published
// attribute (longRunningCommandStatus, longRunningCommandResult, and
// similar rollup attributes like obsState). Subscribers receive events on
// buffered channels; a slow subscriber misses events rather than
// blocking the publisher, matching the middleware's change-event
// semantics assumed by spec §4.2/§4.4.
type Bus[T any] struct {
	mu         sync.RWMutex
	subs       map[chan T]struct{}
	recvToSend map[<-chan T]chan T
}

// NewBus creates a ready-to-use event bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{
		subs:       make(map[chan T]struct{}),
		recvToSend: make(map[<-chan T]chan T),
	}
}

// Publish sends an event to every subscriber. Safe to call on a nil
// receiver (no-op), so publishers never need a guard check.
func (b *Bus[T]) Publish(e T) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber is full; drop rather than block the publisher.
		}
	}
}

// Subscribe returns a channel receiving every event published after this
// call. bufSize is the channel buffer depth.
func (b *Bus[T]) Subscribe(bufSize int) <-chan T {
	ch := make(chan T, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Idempotent.
func (b *Bus[T]) Unsubscribe(ch <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}
