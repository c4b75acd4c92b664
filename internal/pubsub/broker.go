package pubsub

import (
	"context"
	"sync"
	"time"
)

// DefaultBuffer is the per-subscriber channel buffer used by NewBroker.
const DefaultBuffer = 64

// Broker fans events of one payload type out to subscribers. Publishing
// never blocks: a subscriber that stops draining loses events rather than
// stalling the producer, so the claude event loop and the logger can
// publish from their hot paths.
type Broker[T any] struct {
	mu          sync.RWMutex
	subscribers map[chan Event[T]]struct{}
	buffer      int
	done        chan struct{}
}

// NewBroker creates a broker with the default subscriber buffer.
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](DefaultBuffer)
}

// NewBrokerWithBuffer creates a broker whose subscriber channels buffer the
// given number of events. Streams that must not drop under burst (the
// session recorder) subscribe through a broker sized well above the
// producer's burst rate.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	return &Broker[T]{
		subscribers: make(map[chan Event[T]]struct{}),
		buffer:      size,
		done:        make(chan struct{}),
	}
}

// Subscribe registers a new subscriber channel. The subscription ends and
// the channel closes when ctx is cancelled or the broker closes. Subscribing
// to a closed broker returns an already-closed channel.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed() {
		ch := make(chan Event[T])
		close(ch)
		return ch
	}

	sub := make(chan Event[T], b.buffer)
	b.subscribers[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed() {
			return
		}
		delete(b.subscribers, sub)
		close(sub)
	}()

	return sub
}

// Publish delivers the payload to every subscriber that has buffer room.
// Publishing to a closed broker is a no-op.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed() {
		return
	}

	event := Event[T]{Type: eventType, Payload: payload, Timestamp: time.Now()}
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber is behind; drop rather than block the producer.
		}
	}
}

// Close ends every subscription. Buffered events remain readable until the
// subscriber drains its channel. Safe to call more than once.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed() {
		return
	}
	close(b.done)
	for sub := range b.subscribers {
		close(sub)
	}
	b.subscribers = nil
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// closed reports broker shutdown. Callers hold b.mu.
func (b *Broker[T]) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}
