package notify

import "sync"

// Handler receives every emitted event.
type Handler func(Event)

// Bus is the in-process notification fan-out. Emit calls each subscriber
// synchronously in subscription order; subscribers that need concurrency
// spawn it themselves. There is no buffering and no replay.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *Bus) Emit(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
