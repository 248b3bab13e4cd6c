// Package latch provides a resettable one-bit event.
package latch

import (
	"context"
	"sync"
)

// Latch is an event that can be set, awaited and cleared again.
// The zero value is not ready for use; call New.
type Latch struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

// New returns a latch, initially set when set is true.
func New(set bool) *Latch {
	l := &Latch{ch: make(chan struct{})}
	if set {
		l.set = true
		close(l.ch)
	}
	return l
}

// Set releases every current waiter. Setting a set latch does nothing.
func (l *Latch) Set() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set {
		return
	}
	l.set = true
	close(l.ch)
}

// Clear rearms the latch so that later waiters block again.
func (l *Latch) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.set {
		return
	}
	l.set = false
	l.ch = make(chan struct{})
}

func (l *Latch) IsSet() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.set
}

// Done returns a channel closed once the latch is set. A later Clear does not
// reopen a channel already returned.
func (l *Latch) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ch
}

// Wait blocks until the latch is set or ctx is done.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
