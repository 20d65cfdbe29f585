package loader

import (
	"context"
	"sync"
)

// Deferred is a result that is settled exactly once, after it was handed out.
type Deferred[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

func rejected[T any](err error) *Deferred[T] {
	d := newDeferred[T]()
	d.reject(err)
	return d
}

func (d *Deferred[T]) resolve(value T) {
	d.settle(value, nil)
}

func (d *Deferred[T]) reject(err error) {
	var zero T
	d.settle(zero, err)
}

// settle stores the outcome; later calls are ignored.
func (d *Deferred[T]) settle(value T, err error) {
	d.once.Do(func() {
		d.value = value
		d.err = err
		close(d.done)
	})
}

// Done is closed once the result is settled.
func (d *Deferred[T]) Done() <-chan struct{} {
	return d.done
}

// Settled reports whether the result is available.
func (d *Deferred[T]) Settled() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the result is settled or ctx is done. A context error
// does not settle the deferred.
func (d *Deferred[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
