package events

import (
	"sync"

	"github.com/google/uuid"
)

// Broker fans events out to live subscribers. Publish never blocks; a
// subscriber whose buffer is full misses the event.
type Broker struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]chan Event
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[uuid.UUID]chan Event)}
}

// Subscribe registers a subscriber. The returned function removes it and
// closes the channel; calling it more than once is safe.
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	id := uuid.New()
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}

	return ch, unsubscribe
}

func (b *Broker) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
