// Package task provides Group, a minimal task supervisor adapted from the
// teacher's go.gazette.dev/core/task package: a set of named goroutines
// sharing one lifetime, where the first failure cancels the group's Context
// so sibling goroutines can observe shutdown and return promptly.
package task

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Group supervises a set of named goroutines queued with Queue. Wait blocks
// until all queued goroutines have returned, and reports the first non-nil
// error any of them produced.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup

	mu   sync.Mutex
	err  error
	name string
}

// NewGroup returns a Group whose Context is derived from ctx, and is
// canceled as soon as any queued task returns a non-nil error (or Cancel is
// called directly).
func NewGroup(ctx context.Context) *Group {
	var inner, cancel = context.WithCancel(ctx)
	return &Group{ctx: inner, cancel: cancel}
}

// Context returns the Group's Context, canceled on the first task failure.
// Queued tasks waiting on shutdown should select on <-tasks.Context().Done().
func (g *Group) Context() context.Context { return g.ctx }

// Queue starts fn in a new goroutine under the given name. If fn returns a
// non-nil error, it is recorded (the first one wins) and the Group's
// Context is canceled.
func (g *Group) Queue(name string, fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		var err = fn()
		if err == nil {
			log.WithField("task", name).Debug("task finished")
			return
		}

		g.mu.Lock()
		if g.err == nil {
			g.err = errors.Wrap(err, name)
			g.name = name
		}
		g.mu.Unlock()

		log.WithFields(log.Fields{"task": name, "err": err}).Error("task failed; cancelling group")
		g.cancel()
	}()
}

// Cancel cancels the Group's Context directly, without recording a task
// failure. Used to initiate a graceful shutdown from outside any task.
func (g *Group) Cancel() { g.cancel() }

// Wait blocks until every queued task has returned, then returns the first
// task error encountered (wrapped with its task name), or nil if every task
// finished cleanly.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.cancel()

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}
