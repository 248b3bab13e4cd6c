// Package pool provides a structured-concurrency task set.
//
// A Pool owns the goroutines started through it: Wait does not return before
// every member has finished, even when the waiting context is cancelled.
// Failures of member tasks are collected; a single failure is returned as-is
// and several are returned as an *ErrorGroup.
//
//	err := pool.Run(ctx, func(p *pool.Pool) error {
//	    p.StartSoon("reader", readLoop, true)
//	    p.StartSoon("writer", writeLoop, false)
//	    return nil
//	})
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aretw0/labrun/internal/logging"
	"github.com/aretw0/labrun/internal/metrics"
	"github.com/sourcegraph/conc/panics"
)

// Task is a unit of work run by a Pool. It must return once ctx is done.
type Task func(ctx context.Context) error

// ErrorGroup aggregates the failures of several tasks.
type ErrorGroup struct {
	Errors []error
}

func (g *ErrorGroup) Error() string {
	msgs := make([]string, len(g.Errors))
	for i, err := range g.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d tasks failed: %s", len(g.Errors), strings.Join(msgs, "; "))
}

// Unwrap exposes the members to errors.Is and errors.As.
func (g *ErrorGroup) Unwrap() []error {
	return g.Errors
}

// Pool is a set of tasks sharing one cancellation scope.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	stats  *metrics.Collector

	mu      sync.Mutex
	active  int
	closed  bool
	errs    []error
	changed chan struct{}
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used for task failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithMetrics reports running tasks to the collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pool) {
		p.stats = c
	}
}

// New creates an open pool whose tasks are cancelled when ctx is.
func New(ctx context.Context, opts ...Option) *Pool {
	p := &Pool{
		logger:  logging.NewNop(),
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	return p
}

// Run opens a pool, calls fn with it, then closes the pool and waits for all
// tasks. An error from fn is reported alongside task failures.
func Run(ctx context.Context, fn func(p *Pool) error, opts ...Option) error {
	p := New(ctx, opts...)
	defer p.Close()
	if err := fn(p); err != nil {
		p.record(err)
		p.Close()
	}
	return p.Wait(ctx, false)
}

// Context returns the pool's scope. It is done once the pool is closed.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// StartSoon spawns task. When critical is set, the task finishing for any
// reason closes the pool. Tasks started on a closed pool see a cancelled
// context immediately.
func (p *Pool) StartSoon(name string, task Task, critical bool) {
	p.mu.Lock()
	p.active++
	p.notifyLocked()
	ctx := p.ctx
	p.mu.Unlock()

	p.stats.TaskStarted()
	go func() {
		var err error
		var pc panics.Catcher
		pc.Try(func() { err = task(ctx) })
		if r := pc.Recovered(); r != nil {
			err = r.AsError()
		}
		p.finish(name, err, critical)
	}()
}

// Close cancels every current and future task. Calling it again is harmless.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.cancel()
	p.notifyLocked()
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Len returns the number of running tasks.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Wait blocks until the task set drains. With forever set, it also waits for
// the pool to be closed. If ctx is cancelled first, the pool is closed, its
// tasks are awaited, and ctx's error is returned.
func (p *Pool) Wait(ctx context.Context, forever bool) error {
	for {
		p.mu.Lock()
		done := p.active == 0 && (!forever || p.closed)
		ch := p.changed
		p.mu.Unlock()

		if done {
			return p.result()
		}

		select {
		case <-ch:
		case <-ctx.Done():
			p.Close()
			p.drain()
			return ctx.Err()
		}
	}
}

func (p *Pool) drain() {
	for {
		p.mu.Lock()
		done := p.active == 0
		ch := p.changed
		p.mu.Unlock()
		if done {
			return
		}
		<-ch
	}
}

func (p *Pool) finish(name string, err error, critical bool) {
	p.stats.TaskFinished()

	p.mu.Lock()
	if err != nil && !(p.ctx.Err() != nil && errors.Is(err, context.Canceled)) {
		p.errs = append(p.errs, err)
		p.logger.Warn("pool task failed", "task", name, "err", err)
	}
	p.active--
	p.notifyLocked()
	p.mu.Unlock()

	if critical {
		p.Close()
	}
}

func (p *Pool) record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, err)
}

func (p *Pool) result() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch len(p.errs) {
	case 0:
		return nil
	case 1:
		return p.errs[0]
	default:
		errs := make([]error, len(p.errs))
		copy(errs, p.errs)
		return &ErrorGroup{Errors: errs}
	}
}

// notifyLocked wakes every waiter. Callers hold p.mu.
func (p *Pool) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}
