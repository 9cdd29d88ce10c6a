package lanes

import (
	"context"
	"sync"
)

// Future is the eventual result of a task submitted to a lane
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// NewFuture creates an unresolved future
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve sets the result of the future. Only the first call has an effect;
// it reports whether this call resolved the future.
func (f *Future[T]) Resolve(value T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		resolved = true
		close(f.done)
	})
	return resolved
}

// Done is closed once the future is resolved
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future is resolved or ctx is done
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the resolved value. It blocks until the future is resolved.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.value, f.err
}

// AwaitAll waits for every future in order and returns their values. The
// first error met stops the wait.
func AwaitAll[T any](ctx context.Context, futures []*Future[T]) ([]T, error) {
	values := make([]T, 0, len(futures))
	for _, f := range futures {
		v, err := f.Await(ctx)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}
