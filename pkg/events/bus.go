package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/agentstation/rallysync/pkg/constants"
)

// Bus fans events out to subscriptions. Publish never blocks: events are
// queued for the Run loop, which hands each one to every subscription's
// buffered channel and drops it for subscriptions that are full.
type Bus struct {
	queue  chan Event
	done   chan struct{}
	logger *zerolog.Logger

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	dropped atomic.Int64
}

// NewBus creates a bus with a publish queue of queueSize events. A
// non-positive size uses constants.EventQueueSize.
func NewBus(logger *zerolog.Logger, queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = constants.EventQueueSize
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Bus{
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
		subs:   make(map[uint64]*Subscription),
		logger: logger,
	}
}

// Run dispatches queued events until ctx is cancelled, then closes every
// subscription. Should be called in a goroutine.
func (b *Bus) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.Close()
			b.logger.Debug().Msg("Event bus shut down")
			return
		case event := <-b.queue:
			b.dispatch(event)
		}
	}
}

// Done is closed when Run returns.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
			b.logger.Warn().
				Str("event_type", string(event.Type)).
				Str("collection", event.Collection).
				Uint64("subscription", sub.id).
				Msg("Subscriber buffer full, event dropped")
		}
	}
	b.logger.Trace().
		Str("event_type", string(event.Type)).
		Int("subscribers", len(b.subs)).
		Msg("Event broadcasted")
}

// Publish queues an event for delivery. It reports false when the event
// was dropped because the queue is full or the bus is closed.
func (b *Bus) Publish(event Event) bool {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return false
	}

	select {
	case b.queue <- event:
		return true
	default:
		b.dropped.Add(1)
		b.logger.Warn().
			Str("event_type", string(event.Type)).
			Str("collection", event.Collection).
			Msg("Event queue full, event dropped")
		return false
	}
}

// Dropped returns the number of events dropped at the publish queue.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribe returns a subscription whose channel buffers up to buffer
// events. A non-positive buffer uses constants.ChannelBufferSize. On a
// closed bus the returned subscription's channel is already closed.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = constants.ChannelBufferSize
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, ch: make(chan Event, buffer), bus: b}
	if b.closed {
		sub.closeLocked()
		return sub
	}
	b.subs[sub.id] = sub
	b.logger.Debug().
		Uint64("subscription", sub.id).
		Int("total_subscribers", len(b.subs)).
		Msg("Subscriber registered")
	return sub
}

// Attach forwards events to a push-style subscriber from its own
// goroutine until the returned subscription is cancelled or the bus
// closes. s.Close is called when forwarding stops.
func (b *Bus) Attach(s Subscriber, buffer int) *Subscription {
	sub := b.Subscribe(buffer)
	go func() {
		defer func() {
			if err := s.Close(); err != nil {
				b.logger.Debug().Err(err).Msg("Failed to close subscriber")
			}
		}()
		for event := range sub.ch {
			if err := s.Send(event); err != nil {
				b.logger.Warn().
					Err(err).
					Str("event_type", string(event.Type)).
					Msg("Failed to send event to subscriber")
			}
		}
	}()
	return sub
}

// SubscriberCount returns the current number of subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription and rejects further events. It is
// idempotent and safe to call without Run.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.closeLocked()
		delete(b.subs, id)
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	sub.closeLocked()
	b.logger.Debug().
		Uint64("subscription", sub.id).
		Int("total_subscribers", len(b.subs)).
		Msg("Subscriber unregistered")
}

// Subscription is one observer's handle on the bus.
type Subscription struct {
	id      uint64
	ch      chan Event
	bus     *Bus
	once    sync.Once
	dropped atomic.Int64
}

// Events returns the channel events are delivered on. It is closed after
// Unsubscribe or when the bus shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Unsubscribe stops delivery and closes the events channel. It is safe to
// call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
}

// Dropped returns how many events this subscription missed because its
// buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// closeLocked closes the channel; the bus lock must be held.
func (s *Subscription) closeLocked() {
	s.once.Do(func() { close(s.ch) })
}
