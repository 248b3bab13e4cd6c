package claim

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/aretw0/labrun/internal/logging"
	"github.com/aretw0/labrun/internal/metrics"
)

// LossReason tells a deposed owner why it lost the resource.
type LossReason int

const (
	// LostToDescendant is the graceful case: a nested scope took over.
	LostToDescendant LossReason = iota + 1
	// LostToForce means an administrative ForceClaim preempted the owner.
	LostToForce
	// LostReleased means the owner released the claim itself.
	LostReleased
)

func (r LossReason) String() string {
	switch r {
	case LostToDescendant:
		return "descendant"
	case LostToForce:
		return "force"
	case LostReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Claimable is a resource with at most one owner.
type Claimable struct {
	name         string
	autoTransfer bool
	schedule     func(func())
	logger       *slog.Logger
	stats        *metrics.Collector

	mu        sync.Mutex
	owner     *Claim
	pending   []*Request
	watchers  map[int]func()
	nextWatch int
}

// Option configures a Claimable.
type Option func(*Claimable)

// WithAutoTransfer re-arbitrates after every Release.
func WithAutoTransfer(enabled bool) Option {
	return func(c *Claimable) {
		c.autoTransfer = enabled
	}
}

// WithScheduler replaces the function used to defer re-arbitration after a
// release. The default runs it on a new goroutine.
func WithScheduler(schedule func(func())) Option {
	return func(c *Claimable) {
		c.schedule = schedule
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Claimable) {
		c.logger = logger
	}
}

func WithMetrics(stats *metrics.Collector) Option {
	return func(c *Claimable) {
		c.stats = stats
	}
}

// NewClaimable creates an unowned resource.
func NewClaimable(name string, opts ...Option) *Claimable {
	c := &Claimable{
		name:     name,
		schedule: func(f func()) { go f() },
		logger:   logging.NewNop(),
		watchers: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("claimable", name)
	return c
}

func (c *Claimable) Name() string { return c.name }

// Owner returns the current claim, or nil.
func (c *Claimable) Owner() *Claim {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

// Pending returns the queued symbols in arbitration order.
func (c *Claimable) Pending() []*Symbol {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Symbol, len(c.pending))
	for i, r := range c.pending {
		out[i] = r.symbol
	}
	return out
}

// WatchOwner registers fn to run after every change of owner and returns a
// function removing it. fn runs outside the lock and should read Owner.
func (c *Claimable) WatchOwner(fn func()) (unwatch func()) {
	c.mu.Lock()
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

func (c *Claimable) ownerChanged() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Claim requests ownership for symbol and blocks until it is granted.
// With err set, the call fails with a *TransferError as soon as arbitration
// decides the current owner cannot be displaced by symbol. Cancelling ctx
// withdraws the request.
func (c *Claimable) Claim(ctx context.Context, symbol *Symbol, err bool) (*Claim, error) {
	r := c.Enqueue(symbol, err)
	c.Transfer()
	return r.Wait(ctx)
}

// Enqueue queues a request without arbitrating. Enqueueing a symbol that is
// already queued returns the queued request; enqueueing the owner's symbol
// returns a request already granted.
func (c *Claimable) Enqueue(symbol *Symbol, err bool) *Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.owner != nil && c.owner.symbol == symbol {
		r := newRequest(c, symbol, err)
		r.resolve(c.owner, nil)
		return r
	}
	for _, r := range c.pending {
		if r.symbol == symbol {
			return r
		}
	}

	r := newRequest(c, symbol, err)
	c.pending = append(c.pending, r)
	slices.SortFunc(c.pending, func(a, b *Request) int {
		return compare(a.symbol, b.symbol)
	})
	return r
}

// Transfer re-arbitrates ownership. It is a no-op when nothing is queued.
func (c *Claimable) Transfer() {
	c.mu.Lock()
	changed := c.transferLocked()
	c.mu.Unlock()
	if changed {
		c.ownerChanged()
	}
}

// transferLocked grants the best queued request that may displace the owner
// and reports whether the owner changed.
func (c *Claimable) transferLocked() bool {
	if len(c.pending) == 0 {
		return false
	}

	winner := -1
	for i, r := range c.pending {
		if c.owner == nil || r.symbol.Outranks(c.owner.symbol) {
			winner = i
			break
		}
	}

	changed := false
	if winner >= 0 {
		r := c.pending[winner]
		c.pending = slices.Delete(c.pending, winner, winner+1)

		prev := c.owner
		c.owner = newClaim(c, r.symbol)
		if prev != nil {
			prev.lose(LostToDescendant)
		}
		r.resolve(c.owner, nil)
		c.stats.ClaimTransferred()
		c.logger.Debug("claim transferred", "owner", r.symbol.String())
		changed = true
	}

	c.rejectLocked()
	return changed
}

// rejectLocked fails the err-flagged requests that cannot displace the owner.
func (c *Claimable) rejectLocked() {
	if c.owner == nil {
		return
	}
	kept := c.pending[:0]
	for _, r := range c.pending {
		if r.err && !r.symbol.Outranks(c.owner.symbol) {
			terr := transferError(c.name, r.symbol, c.owner.symbol)
			r.resolve(nil, terr)
			c.stats.ClaimFailed(terr.Diagnostic().ID)
			c.logger.Debug("claim request rejected", "symbol", r.symbol.String(), "err", terr.Err)
			continue
		}
		kept = append(kept, r)
	}
	clear(c.pending[len(kept):])
	c.pending = kept
}

// ForceClaim makes symbol the owner immediately, bypassing arbitration.
// Queued err-flagged requests that cannot displace the new owner fail.
func (c *Claimable) ForceClaim(symbol *Symbol) *Claim {
	c.mu.Lock()
	prev := c.owner
	c.owner = newClaim(c, symbol)
	if prev != nil {
		prev.lose(LostToForce)
	}
	for i, r := range c.pending {
		if r.symbol == symbol {
			c.pending = slices.Delete(c.pending, i, i+1)
			r.resolve(c.owner, nil)
			break
		}
	}
	c.rejectLocked()
	owner := c.owner
	c.mu.Unlock()

	c.logger.Info("claim forced", "owner", symbol.String())
	c.ownerChanged()
	return owner
}

func (c *Claimable) release(cl *Claim) {
	c.mu.Lock()
	if c.owner != cl {
		c.mu.Unlock()
		return
	}
	c.owner = nil
	cl.lose(LostReleased)
	auto := c.autoTransfer
	c.mu.Unlock()

	c.ownerChanged()
	if auto {
		c.schedule(c.Transfer)
	}
}

// withdraw removes r from the queue. It reports false when r was already
// resolved.
func (c *Claimable) withdraw(r *Request, cause error) bool {
	c.mu.Lock()
	idx := slices.Index(c.pending, r)
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	c.pending = slices.Delete(c.pending, idx, idx+1)
	r.resolve(nil, cause)
	changed := c.transferLocked()
	c.mu.Unlock()

	if changed {
		c.ownerChanged()
	}
	return true
}

// Request is a queued claim.
type Request struct {
	c      *Claimable
	symbol *Symbol
	err    bool

	done    chan struct{}
	claim   *Claim
	failure error
}

func newRequest(c *Claimable, symbol *Symbol, err bool) *Request {
	return &Request{c: c, symbol: symbol, err: err, done: make(chan struct{})}
}

// resolve is called with c.mu held.
func (r *Request) resolve(cl *Claim, err error) {
	r.claim = cl
	r.failure = err
	close(r.done)
}

func (r *Request) Symbol() *Symbol { return r.symbol }

// Done is closed once the request is granted or failed.
func (r *Request) Done() <-chan struct{} { return r.done }

// Result returns the outcome once Done is closed.
func (r *Request) Result() (*Claim, error) {
	<-r.done
	return r.claim, r.failure
}

// Wait blocks for the outcome. When ctx ends first the request is withdrawn
// and a claim granted in the meantime is released.
func (r *Request) Wait(ctx context.Context) (*Claim, error) {
	select {
	case <-r.done:
		return r.claim, r.failure
	default:
	}
	select {
	case <-r.done:
		return r.claim, r.failure
	case <-ctx.Done():
	}
	if r.c.withdraw(r, ctx.Err()) {
		return nil, ctx.Err()
	}
	if cl, err := r.Result(); err == nil {
		cl.Release()
	}
	return nil, ctx.Err()
}

// Claim is a live ownership grant.
type Claim struct {
	c      *Claimable
	symbol *Symbol

	lost   chan struct{}
	valid  bool
	reason LossReason
}

func newClaim(c *Claimable, symbol *Symbol) *Claim {
	return &Claim{c: c, symbol: symbol, lost: make(chan struct{}), valid: true}
}

// lose is called with c.mu held.
func (cl *Claim) lose(reason LossReason) {
	if !cl.valid {
		return
	}
	cl.valid = false
	cl.reason = reason
	close(cl.lost)
}

func (cl *Claim) Symbol() *Symbol { return cl.symbol }

func (cl *Claim) Claimable() *Claimable { return cl.c }

// Valid reports whether the claim still owns the resource.
func (cl *Claim) Valid() bool {
	cl.c.mu.Lock()
	defer cl.c.mu.Unlock()
	return cl.valid
}

// Lost is closed once ownership moves away.
func (cl *Claim) Lost() <-chan struct{} { return cl.lost }

// Reason returns why the claim was lost. It is zero while the claim is valid.
func (cl *Claim) Reason() LossReason {
	cl.c.mu.Lock()
	defer cl.c.mu.Unlock()
	return cl.reason
}

// Wait blocks until the claim is lost.
func (cl *Claim) Wait(ctx context.Context) (LossReason, error) {
	select {
	case <-cl.lost:
		return cl.Reason(), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Release gives up ownership. Releasing a lost claim does nothing.
func (cl *Claim) Release() {
	cl.c.release(cl)
}
