package claim

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aretw0/labrun/internal/logging"
)

// Token keeps claiming a resource for one symbol until cancelled.
type Token struct {
	c        *Claimable
	symbol   *Symbol
	onChange func(owned bool)
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	current   *Claim
	cancelled bool
	waiters   map[chan error]struct{}
}

// TokenOption configures a Token.
type TokenOption func(*Token)

// OnChange registers a callback invoked from the token loop whenever
// ownership is gained or lost.
func OnChange(fn func(owned bool)) TokenOption {
	return func(t *Token) {
		t.onChange = fn
	}
}

func WithTokenLogger(logger *slog.Logger) TokenOption {
	return func(t *Token) {
		t.logger = logger
	}
}

// NewToken starts claiming c for symbol in the background.
func NewToken(c *Claimable, symbol *Symbol, opts ...TokenOption) *Token {
	t := &Token{
		c:        c,
		symbol:   symbol,
		onChange: func(bool) {},
		logger:   logging.NewNop(),
		done:     make(chan struct{}),
		waiters:  make(map[chan error]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	go t.loop()
	return t
}

func (t *Token) loop() {
	defer close(t.done)
	for {
		cl, err := t.c.Claim(t.ctx, t.symbol, false)
		if err != nil {
			return
		}

		t.mu.Lock()
		t.current = cl
		for ch := range t.waiters {
			ch <- nil
			delete(t.waiters, ch)
		}
		t.mu.Unlock()
		t.onChange(true)

		select {
		case <-cl.Lost():
			t.logger.Debug("token lost claim", "symbol", t.symbol.String(), "reason", cl.Reason().String())
			t.mu.Lock()
			t.current = nil
			t.mu.Unlock()
			t.onChange(false)
		case <-t.ctx.Done():
			cl.Release()
			t.mu.Lock()
			t.current = nil
			t.mu.Unlock()
			t.onChange(false)
			return
		}
	}
}

func (t *Token) Symbol() *Symbol { return t.symbol }

// Owned reports whether the token currently holds the resource.
func (t *Token) Owned() bool {
	t.mu.Lock()
	cl := t.current
	t.mu.Unlock()
	return cl != nil && cl.Valid()
}

// Claim returns the held claim, or nil.
func (t *Token) Claim() *Claim {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Wait blocks until the token owns the resource. With err set it fails at
// once with a *TransferError when the resource is held by an owner the token
// cannot displace.
func (t *Token) Wait(ctx context.Context, err bool) error {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return ErrTokenCancelled
	}
	if t.current != nil && t.current.Valid() {
		t.mu.Unlock()
		return nil
	}
	if err {
		if owner := t.c.Owner(); owner != nil && owner.symbol != t.symbol && !t.symbol.Outranks(owner.symbol) {
			t.mu.Unlock()
			return transferError(t.c.name, t.symbol, owner.symbol)
		}
	}
	ch := make(chan error, 1)
	t.waiters[ch] = struct{}{}
	t.mu.Unlock()

	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.waiters, ch)
		t.mu.Unlock()
		select {
		case res := <-ch:
			return res
		default:
		}
		return ctx.Err()
	}
}

// Cancel releases the held claim, stops the loop and fails outstanding
// waiters with ErrTokenCancelled. It returns after the loop has exited.
func (t *Token) Cancel() {
	t.mu.Lock()
	if !t.cancelled {
		t.cancelled = true
		for ch := range t.waiters {
			ch <- ErrTokenCancelled
			delete(t.waiters, ch)
		}
	}
	t.mu.Unlock()

	t.cancel()
	<-t.done
}
