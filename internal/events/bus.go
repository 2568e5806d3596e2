package events

import (
	"log/slog"
	"sync"
)

// Bus is an in-memory broadcast channel of task events. Producers publish
// from any goroutine; every subscriber receives every event published after
// its Subscribe call, in publish order. A subscriber that falls behind its
// buffer has its oldest events dropped rather than blocking producers, so a
// stalled UI can never back-pressure the workers. Late subscribers obtain
// current state through the coordinator's query surface, not through replay.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan TaskEvent
	nextID int
	buffer int
	closed bool
	logger *slog.Logger
}

// NewBus creates a Bus whose subscriber channels buffer up to size events.
func NewBus(size int, logger *slog.Logger) *Bus {
	if size <= 0 {
		size = 64
	}
	return &Bus{
		subs:   make(map[int]chan TaskEvent),
		buffer: size,
		logger: logger.With("component", "event_bus"),
	}
}

// Subscribe registers a new consumer and returns its receive channel plus an
// unsubscribe function. The channel is closed on unsubscribe or bus close.
func (b *Bus) Subscribe() (<-chan TaskEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan TaskEvent, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	b.logger.Debug("subscriber added", "subscriber_id", id, "subscriber_count", len(b.subs))

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish broadcasts the event to all current subscribers. Publish never
// blocks: when a subscriber's buffer is full, its oldest buffered event is
// evicted to make room.
func (b *Bus) Publish(ev TaskEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Slow consumer: drop its oldest event and retry once. The
			// second send can only fail if another producer refilled the
			// slot, in which case dropping this event is acceptable too.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
			b.logger.Warn("subscriber lagging, dropped oldest event",
				"subscriber_id", id,
				"event_type", ev.Type,
				"task_id", ev.TaskID)
		}
	}
}

// Close shuts the bus down and closes every subscriber channel. Publishing
// after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.logger.Info("event bus closed")
}
