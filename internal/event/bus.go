// Package event provides a small typed publish/subscribe bus.
package event

import (
	"sync"
)

// Handler receives published values.
type Handler[T any] func(T)

// Bus fans a value out to every registered handler, synchronously, on the
// publisher's goroutine. A panicking handler is recovered and reported via
// OnPanic; it never reaches the publisher.
type Bus[T any] struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler[T]
	order    []int

	// OnPanic is called with the recovered value. Optional.
	OnPanic func(recovered any)
}

func NewBus[T any]() *Bus[T] {
	return &Bus[T]{handlers: make(map[int]Handler[T])}
}

// Subscribe registers fn and returns a func that removes it.
func (b *Bus[T]) Subscribe(fn Handler[T]) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers v to every handler in subscription order.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	hs := make([]Handler[T], 0, len(b.order))
	for _, id := range b.order {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		b.call(h, v)
	}
}

func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

func (b *Bus[T]) call(h Handler[T], v T) {
	defer func() {
		if r := recover(); r != nil && b.OnPanic != nil {
			b.OnPanic(r)
		}
	}()
	h(v)
}
