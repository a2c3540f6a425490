package events

import (
	"github.com/mudler/xlog"
	"github.com/stockroom-pos/desktop/pkg/xsync"
)

// Emitter fans a typed value out to its subscribers. Subscribers are
// called synchronously in subscription order on the emitting goroutine.
type Emitter[T any] struct {
	subscribers *xsync.Registry[func(T)]
}

func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{subscribers: xsync.NewRegistry[func(T)]()}
}

// Subscribe registers fn and returns the function that removes it again.
func (e *Emitter[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	id := e.subscribers.Add(fn)
	return func() { e.subscribers.Remove(id) }
}

func (e *Emitter[T]) Emit(v T) {
	for _, fn := range e.subscribers.Snapshot() {
		e.call(fn, v)
	}
}

func (e *Emitter[T]) Len() int {
	return e.subscribers.Len()
}

func (e *Emitter[T]) call(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			xlog.Error("event subscriber panicked", "panic", r)
		}
	}()
	fn(v)
}
