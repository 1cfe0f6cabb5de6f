package relaychat

import (
	"context"
	"errors"
	"log/slog"
)

var ErrLoopStopped = errors.New("loop stopped")

// Loop runs posted tasks one at a time on the goroutine that calls Run.
// Hosts mutate observable state (threads, presence) only from inside tasks.
type Loop struct {
	tasks chan func()
	done  chan struct{}
	log   *slog.Logger
}

func NewLoop(buffer int, log *slog.Logger) *Loop {
	if buffer <= 0 {
		buffer = 64
	}
	if log == nil {
		log = discardLogger
	}
	return &Loop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Post queues fn. It blocks while the queue is full and drops fn once the loop has stopped.
func (l *Loop) Post(fn func()) {
	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// Invoke runs fn on the loop and waits for it to finish.
func (l *Loop) Invoke(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.tasks <- task:
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes tasks until ctx is cancelled. A panicking task is logged and skipped.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			l.execute(fn)
		}
	}
}

func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("loop task panicked", "panic", r)
		}
	}()
	fn()
}
