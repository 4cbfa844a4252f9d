// Package events provides a typed, synchronous publish/subscribe primitive.
//
// Each component declares a closed set of event variants (usually an interface
// with an unexported marker method) and owns an Emitter for it. Subscribe
// returns a disposer; there is no string based dispatch.
package events

import "sync"

// Dispose removes a subscription. It is safe to call more than once.
type Dispose func()

// Emitter delivers events to subscribers in subscription order. Emit runs
// listeners on the caller's goroutine after releasing its lock, so listeners
// may subscribe, dispose or emit again.
type Emitter[E any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []listener[E]
}

type listener[E any] struct {
	id uint64
	fn func(E)
}

func NewEmitter[E any]() *Emitter[E] {
	return &Emitter[E]{}
}

// Subscribe registers fn for every later Emit.
func (e *Emitter[E]) Subscribe(fn func(E)) Dispose {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, listener[E]{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id) })
	}
}

func (e *Emitter[E]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, l := range e.listeners {
		if l.id == id {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return
		}
	}
}

// Emit calls every listener registered at the time of the call.
func (e *Emitter[E]) Emit(event E) {
	e.mu.Lock()
	snapshot := append([]listener[E](nil), e.listeners...)
	e.mu.Unlock()

	for _, l := range snapshot {
		l.fn(event)
	}
}

// Len is the number of live subscriptions.
func (e *Emitter[E]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}
