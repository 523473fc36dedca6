// Package controller implements the task queue and controller loop (C10):
// a single-consumer mailbox drained at a fixed tick rate, dispatching
// boxed operation closures to the component mutators with exclusive
// access, followed by the documented per-tick component pass.
package controller

import "context"

// task is one boxed mutation request plus its one-shot reply channel.
type task struct {
	run   func(ctx context.Context) (any, error)
	reply chan taskResult
}

type taskResult struct {
	value any
	err   error
}

// Queue is the bounded multi-producer mailbox every external request (RPC
// handler) submits into. Only the controller loop ever reads from it.
type Queue struct {
	mailbox chan *task
}

// NewQueue returns a Queue with the given mailbox capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{mailbox: make(chan *task, capacity)}
}

// Submit enqueues fn and blocks until it has run on the controller loop (or
// ctx is cancelled first, or the loop has shut down without ever running
// it, in which case the task is dropped with an error reply). This is the
// only way any call site — RPC handler, background scheduler — touches
// controller state.
func (q *Queue) Submit(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	t := &task{run: fn, reply: make(chan taskResult, 1)}
	select {
	case q.mailbox <- t:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-t.reply:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
