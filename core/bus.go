package core

import (
	"sync"
	"sync/atomic"
)

// DeliveryMode controls what happens when a subscriber's buffer is full.
type DeliveryMode int

const (
	// DeliveryReliable blocks the publisher until the subscriber drains.
	// Used by the aggregator: transcript events must never be lost.
	DeliveryReliable DeliveryMode = iota
	// DeliveryBestEffort drops the event when the buffer is full. Used by the
	// whisper injector and UI bridges, which must never block the pipeline.
	DeliveryBestEffort
)

// Subscription is one consumer's view of the session event stream.
type Subscription struct {
	Name    string
	C       chan *EventPacket
	mode    DeliveryMode
	dropped atomic.Uint64
}

// Dropped reports how many events were discarded for a best-effort subscriber.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// EventBus fans the ordered session event stream out to independent consumers
// (aggregator, whisper injector, operator UI). Events are delivered in publish
// order to every subscriber. Close is safe to call while publishers are still
// running, including publishers blocked on a full reliable subscription.
type EventBus struct {
	mu     sync.RWMutex
	wg     sync.WaitGroup
	subs   []*Subscription
	done   chan struct{}
	closed bool
}

func NewEventBus() *EventBus {
	return &EventBus{done: make(chan struct{})}
}

// Subscribe registers a consumer with the given buffer size and delivery mode.
func (b *EventBus) Subscribe(name string, buffer int, mode DeliveryMode) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &Subscription{
		Name: name,
		C:    make(chan *EventPacket, buffer),
		mode: mode,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.C)
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Publish delivers the packet to every subscriber in registration order.
// After Close it is a no-op; a publisher blocked on a reliable subscription
// is released when the bus closes.
func (b *EventBus) Publish(packet *EventPacket) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.wg.Add(1)
	subs := b.subs
	b.mu.RUnlock()
	defer b.wg.Done()

	for _, sub := range subs {
		switch sub.mode {
		case DeliveryReliable:
			select {
			case sub.C <- packet:
			case <-b.done:
			}
		default:
			select {
			case sub.C <- packet:
			default:
				sub.dropped.Add(1)
			}
		}
	}
}

// Close releases any blocked publishers, waits for in-flight publishes to
// finish, then closes every subscription channel.
func (b *EventBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	b.wg.Wait()
	for _, sub := range subs {
		close(sub.C)
	}
}
