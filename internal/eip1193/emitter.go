package eip1193

import "sync"

// Emitter is an ordered listener registry. The zero value is ready to use.
type Emitter struct {
	mu       sync.Mutex
	handlers map[string][]Handler
}

func (e *Emitter) On(event string, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[string][]Handler)
	}
	e.handlers[event] = append(e.handlers[event], handler)
}

func (e *Emitter) RemoveAllListeners() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = nil
}

func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers[event])
}

// Emit calls the handlers of event in registration order on the calling goroutine. The
// registry is unlocked while they run, so a handler may unsubscribe.
func (e *Emitter) Emit(event string, payload interface{}) bool {
	e.mu.Lock()
	handlers := append([]Handler(nil), e.handlers[event]...)
	e.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
	return len(handlers) > 0
}
