package events

import (
	"sync"
)

const defaultBufSize = 256

// subscriber is one channel plus the topic it listens to ("" = every topic).
type subscriber struct {
	topic string
	ch    chan Event
}

// EventBus is a channel-based pub-sub event bus.
// Publishing never blocks: a subscriber whose buffer is full misses the event.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscriber
	closed bool

	dropMu  sync.Mutex
	dropped map[string]int // topic -> events dropped on full buffers
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		dropped: make(map[string]int),
	}
}

// Subscribe returns a channel receiving events published to topic.
// bufSize defaults to 256 if <= 0.
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	return b.subscribe(topic, bufSize)
}

// SubscribeAll returns a channel receiving events from every topic.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	return b.subscribe("", bufSize)
}

func (b *EventBus) subscribe(topic string, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}

	b.subs = append(b.subs, subscriber{topic: topic, ch: ch})
	return ch
}

// Publish delivers event to subscribers of topic and to SubscribeAll channels.
func (b *EventBus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, s := range b.subs {
		if s.topic != "" && s.topic != topic {
			continue
		}
		select {
		case s.ch <- event:
		default:
			b.recordDrop(topic)
		}
	}
}

// recordDrop is called with the read lock held, so it takes its own guard.
func (b *EventBus) recordDrop(topic string) {
	b.dropMu.Lock()
	b.dropped[topic]++
	b.dropMu.Unlock()
}

// Dropped returns how many events on topic were lost to full buffers.
func (b *EventBus) Dropped(topic string) int {
	b.dropMu.Lock()
	defer b.dropMu.Unlock()
	return b.dropped[topic]
}

// Close closes the bus and every subscriber channel. Idempotent.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, s := range b.subs {
		close(s.ch)
	}
}
