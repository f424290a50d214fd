package live

import (
	"context"
	"errors"
	"sync"

	"github.com/kimhsiao/threemeal/backend/internal/logging"
)

// ErrClosed is returned by Next once the subscription has ended.
var ErrClosed = errors.New("live: subscription closed")

// Result is one delivery of a reactive query.
type Result[T any] struct {
	Value T
	Err   error
}

// QueryFunc computes the current value of a reactive query.
type QueryFunc[T any] func(ctx context.Context) (T, error)

// Subscription is a running reactive query. Updates yields the current
// result right away and a fresh result after every change to the watched
// tables. Delivery is latest-value: a consumer that falls behind skips
// intermediate results and only sees the newest one.
type Subscription[T any] struct {
	updates chan Result[T]
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Watch starts a reactive query over tables. The watcher is registered before
// the first query runs, so a write that races with subscription setup is
// never missed. The subscription ends when ctx is cancelled, Close is called,
// or the bus is closed.
func Watch[T any](ctx context.Context, bus *Bus, query QueryFunc[T], tables ...string) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		updates: make(chan Result[T], 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	w := bus.register(tables)
	go s.run(ctx, bus, w, query)
	return s
}

func (s *Subscription[T]) run(ctx context.Context, bus *Bus, w *watcher, query QueryFunc[T]) {
	defer close(s.done)
	defer close(s.updates)
	defer bus.unregister(w)

	for {
		v, err := query(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logging.Warn("reactive query failed", map[string]interface{}{
				"tables": w.tables,
				"error":  err.Error(),
			})
		}
		s.deliver(Result[T]{Value: v, Err: err})

		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.ch:
			if !ok {
				return
			}
		}
	}
}

// deliver replaces any result the consumer has not taken yet. This goroutine
// is the only sender, so the send after the drain cannot block.
func (s *Subscription[T]) deliver(r Result[T]) {
	select {
	case <-s.updates:
	default:
	}
	s.updates <- r
}

// Updates returns the result channel. It is closed when the subscription ends.
func (s *Subscription[T]) Updates() <-chan Result[T] {
	return s.updates
}

// Next waits for the next result.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case r, ok := <-s.updates:
		if !ok {
			return zero, ErrClosed
		}
		return r.Value, r.Err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close stops the query and waits for its goroutine to exit. It is safe to
// call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

// Done is closed after the subscription has fully stopped.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}
