package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

// ErrThreadStopped is returned when work is submitted to a render thread that
// already exited.
var ErrThreadStopped = errors.New("render thread stopped")

type threadKey struct{}

type task struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

// thread is a single goroutine locked to its OS thread. It owns the graphics
// context of one session and runs every engine call for it, one at a time.
//
// Do blocks until the submitted function returned. Calls made from inside a
// running task (the context carries the thread marker) run inline instead of
// queueing behind themselves.
type thread struct {
	name  string
	tasks chan task
	quit  chan struct{}
	done  chan struct{}

	stopOnce sync.Once
}

func newThread(name string) *thread {
	t := &thread{
		name:  name,
		tasks: make(chan task),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *thread) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.done)

	slog.Debug("session: render thread started", "thread", t.name)

	for {
		select {
		case <-t.quit:
			slog.Debug("session: render thread exiting", "thread", t.name)
			return
		case tk := <-t.tasks:
			tk.result <- t.run(tk)
		}
	}
}

func (t *thread) run(tk task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render thread %s: panic: %v", t.name, r)
		}
	}()
	return tk.fn(context.WithValue(tk.ctx, threadKey{}, t))
}

// on reports whether ctx belongs to a task running on t.
func (t *thread) on(ctx context.Context) bool {
	v, _ := ctx.Value(threadKey{}).(*thread)
	return v == t
}

// Do runs fn on the thread and waits for it. ctx only bounds the wait for the
// thread to pick the task up; once running, fn is never interrupted.
func (t *thread) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if t.on(ctx) {
		return t.run(task{ctx: ctx, fn: fn})
	}

	tk := task{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case t.tasks <- tk:
	case <-t.done:
		return ErrThreadStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-tk.result
}

// stop asks the loop to exit after the current task. wait is ignored when
// called from the thread itself.
func (t *thread) stop(ctx context.Context) {
	t.stopOnce.Do(func() { close(t.quit) })
	if t.on(ctx) {
		return
	}
	<-t.done
}
