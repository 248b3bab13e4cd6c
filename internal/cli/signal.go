package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SignalContext is cancelled on the second SIGINT or SIGTERM. The first one
// only invokes the interrupt callback, giving the run a chance to halt and
// release its devices.
type SignalContext struct {
	context.Context
	Cancel func()

	sigCh  chan os.Signal
	stop   sync.Once
	mu     sync.Mutex
	sigVal os.Signal
}

// NewSignalContext installs the handler. onInterrupt may be nil, in which
// case the first signal cancels immediately.
func NewSignalContext(parent context.Context, onInterrupt func(os.Signal)) *SignalContext {
	ctx, cancel := context.WithCancel(parent)
	sc := &SignalContext{
		Context: ctx,
		Cancel:  cancel,
		sigCh:   make(chan os.Signal, 2),
	}
	signal.Notify(sc.sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer sc.stop.Do(func() { signal.Stop(sc.sigCh) })
		for {
			select {
			case sig := <-sc.sigCh:
				sc.mu.Lock()
				first := sc.sigVal == nil
				sc.sigVal = sig
				sc.mu.Unlock()
				if first && onInterrupt != nil {
					onInterrupt(sig)
					continue
				}
				sc.Cancel()
				return
			case <-sc.Context.Done():
				return
			}
		}
	}()
	return sc
}

// Signal returns the last signal received, or nil.
func (sc *SignalContext) Signal() os.Signal {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.sigVal
}

// Stop uninstalls the handler and cancels the context.
func (sc *SignalContext) Stop() {
	sc.stop.Do(func() { signal.Stop(sc.sigCh) })
	sc.Cancel()
}
