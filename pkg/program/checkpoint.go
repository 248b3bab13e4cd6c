package program

import (
	"context"
	"sync"
)

// SignalKind is the outcome of a checkpoint test.
type SignalKind int

const (
	Continue SignalKind = iota
	PauseRequested
	JumpRequested
)

// Signal is returned by Checkpoint.Check. Point is set for JumpRequested.
type Signal struct {
	Kind  SignalKind
	Point any
}

// Checkpoint is handed to a running process. The process tests it at safe
// points and commits progress so that a retry or resume picks up from there.
type Checkpoint struct {
	mu        sync.Mutex
	point     any
	pause     bool
	jump      bool
	jumpPoint any
	interrupt chan struct{}
}

func newCheckpoint(point any) *Checkpoint {
	return &Checkpoint{point: point, interrupt: make(chan struct{})}
}

// Check reports whether the scheduler wants the process to stop. A pending
// jump wins over a pause.
func (c *Checkpoint) Check() Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.jump:
		return Signal{Kind: JumpRequested, Point: c.jumpPoint}
	case c.pause:
		return Signal{Kind: PauseRequested}
	}
	return Signal{Kind: Continue}
}

// Interrupted is closed once a pause or jump is requested, for processes
// that block between checkpoints.
func (c *Checkpoint) Interrupted() <-chan struct{} {
	return c.interrupt
}

// Wait blocks until done is closed or the checkpoint is interrupted and
// returns the signal pending at that moment.
func (c *Checkpoint) Wait(ctx context.Context, done <-chan struct{}) (Signal, error) {
	select {
	case <-done:
		return c.Check(), nil
	case <-c.interrupt:
		return c.Check(), nil
	case <-ctx.Done():
		return Signal{}, ctx.Err()
	}
}

// Commit records progress.
func (c *Checkpoint) Commit(point any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.point = point
}

// Point returns the last committed progress, or the point the run started
// from.
func (c *Checkpoint) Point() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.point
}

func (c *Checkpoint) requestPause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pause = true
	c.wakeLocked()
}

func (c *Checkpoint) requestJump(point any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jump = true
	c.jumpPoint = point
	c.wakeLocked()
}

func (c *Checkpoint) wakeLocked() {
	select {
	case <-c.interrupt:
	default:
		close(c.interrupt)
	}
}

// ResultKind tells the scheduler how a process run ended.
type ResultKind int

const (
	ResultDone ResultKind = iota
	ResultPaused
	ResultJumped
)

// Result is returned by Process.Run.
type Result struct {
	Kind  ResultKind
	Point any
}

func Done() Result            { return Result{Kind: ResultDone} }
func Paused(point any) Result { return Result{Kind: ResultPaused, Point: point} }
func Jumped(point any) Result { return Result{Kind: ResultJumped, Point: point} }

// Process is user code run by a process block. Run starts from cp.Point()
// and must return promptly once ctx is done.
type Process interface {
	Run(ctx context.Context, params map[string]any, cp *Checkpoint) (Result, error)
}

// ProcessFunc adapts a function into a Process.
type ProcessFunc func(ctx context.Context, params map[string]any, cp *Checkpoint) (Result, error)

func (f ProcessFunc) Run(ctx context.Context, params map[string]any, cp *Checkpoint) (Result, error) {
	return f(ctx, params, cp)
}
