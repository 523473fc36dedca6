package plugin

import "context"

// Call is a background plugin invocation polled by the controller loop each
// tick rather than awaited inline — this is how staged requests (start/
// stop/restart) avoid blocking the single controller goroutine on plugin
// I/O. Call[T] is the Go shape of the spec's "background handle".
type Call[T any] struct {
	done   chan struct{}
	result T
	err    error
}

// Go starts fn on a background goroutine and returns a Call that becomes
// finished once fn returns.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Call[T] {
	c := &Call[T]{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		c.result, c.err = fn(ctx)
	}()
	return c
}

// IsFinished reports whether the call has completed, without blocking.
func (c *Call[T]) IsFinished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Await blocks until the call finishes. The controller loop only calls this
// after IsFinished reports true, so in practice it never blocks the tick;
// it exists so a finished call's result can be consumed exactly once.
func (c *Call[T]) Await() (T, error) {
	<-c.done
	return c.result, c.err
}
