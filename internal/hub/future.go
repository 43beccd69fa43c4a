package hub

import (
	"context"
	"sync"
)

// Future is a single-shot result. It resolves at most once; later
// resolutions are dropped.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve stores the result and reports whether this call was the one that
// resolved the future.
func (f *Future[T]) Resolve(v T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
		resolved = true
	})
	return resolved
}

func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then calls fn once with the result after the future resolves. It does not
// block the caller.
func (f *Future[T]) Then(fn func(T, error)) {
	go func() {
		<-f.done
		fn(f.val, f.err)
	}()
}

// Async runs fn on its own goroutine and returns a future for its result.
func Async[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := NewFuture[T]()
	go func() {
		f.Resolve(fn(ctx))
	}()
	return f
}

// AsyncErr is Async for operations that only report an error.
func AsyncErr(ctx context.Context, fn func(context.Context) error) *Future[struct{}] {
	f := NewFuture[struct{}]()
	go func() {
		f.Resolve(struct{}{}, fn(ctx))
	}()
	return f
}
