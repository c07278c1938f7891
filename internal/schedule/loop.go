package schedule

import (
	"context"
	"fmt"
	"sync"
)

// Executor runs tasks on a single logical thread.
type Executor interface {
	// Post queues fn for execution and returns false if the executor is closed.
	Post(fn func()) bool

	// Do runs fn and waits for it to return.
	// Calling Do from inside a task running on the same executor deadlocks
	// for Loop; callers already on the loop invoke their target directly.
	Do(ctx context.Context, fn func()) error
}

// Loop executes posted tasks one at a time, in posting order, on one goroutine.
type Loop struct {
	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
	onPanic   func(recovered any)
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithPanicHandler is called with the recovered value when a task panics.
// The loop keeps running either way.
func WithPanicHandler(fn func(recovered any)) LoopOption {
	return func(l *Loop) {
		l.onPanic = fn
	}
}

// WithBuffer sets the task queue capacity.
func WithBuffer(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.tasks = make(chan func(), n)
		}
	}
}

// NewLoop creates and starts a loop.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.wg.Add(1)
	go l.run()
	return l
}

func (l *Loop) run() {
	defer l.wg.Done()
	for {
		select {
		case fn := <-l.tasks:
			l.exec(fn)
		case <-l.done:
			return
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil && l.onPanic != nil {
			l.onPanic(r)
		}
	}()
	fn()
}

// Post implements Executor.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do implements Executor. A task whose ctx is done by the time it reaches
// the front of the queue is skipped, so a caller that gave up never has its
// call run later.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	var panicked any
	var skipped error

	ok := l.Post(func() {
		defer close(finished)
		if skipped = ctx.Err(); skipped != nil {
			return
		}
		defer func() {
			panicked = recover()
		}()
		fn()
	})
	if !ok {
		return ErrLoopClosed
	}

	select {
	case <-finished:
		if skipped != nil {
			return skipped
		}
		if panicked != nil {
			return fmt.Errorf("task panicked: %v", panicked)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopClosed
	}
}

// Close stops the loop after the task currently executing returns.
// Tasks still queued are discarded.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
}

// Inline runs every task synchronously on the caller's goroutine.
// It is meant for tests and single-goroutine tools.
type Inline struct{}

// Post implements Executor.
func (Inline) Post(fn func()) bool {
	fn()
	return true
}

// Do implements Executor.
func (Inline) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn()
	return nil
}
