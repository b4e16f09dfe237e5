package events

import (
	"sync"
)

type Event interface {
	Topic() string
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// Bus delivers events synchronously, in subscription order, on the publishing goroutine.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscriber
}

func NewEventBus() *Bus {
	return &Bus{
		subs: make(map[string][]subscriber),
	}
}

// Subscribe registers fn for topic. The returned func removes it and is safe to call twice.
func (b *Bus) Subscribe(topic string, fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscriber{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

func (b *Bus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := append([]subscriber(nil), b.subs[e.Topic()]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(e)
	}
}

func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
