package device

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/labrun/internal/logging"
	"github.com/aretw0/labrun/pkg/claim"
)

type job struct {
	write bool
	value any
	reply chan result
}

type result struct {
	value any
	err   error
}

// SimNode is an in-memory ValueNode. Reads and writes are served by a single
// worker goroutine that waits the configured latency before each operation,
// the way a blocking driver would.
type SimNode struct {
	id        string
	claimable *claim.Claimable
	latency   time.Duration
	logger    *slog.Logger

	jobs chan job
	stop chan struct{}
	done chan struct{}
	once sync.Once

	mu        sync.Mutex
	value     any
	connected bool
	listeners map[int]Listener
	nextID    int
}

// SimOption configures a SimNode.
type SimOption func(*simConfig)

type simConfig struct {
	latency      time.Duration
	disconnected bool
	logger       *slog.Logger
	claimOpts    []claim.Option
}

// WithLatency delays every read and write.
func WithLatency(d time.Duration) SimOption {
	return func(c *simConfig) { c.latency = d }
}

// WithDisconnected starts the node disconnected.
func WithDisconnected() SimOption {
	return func(c *simConfig) { c.disconnected = true }
}

func WithLogger(logger *slog.Logger) SimOption {
	return func(c *simConfig) { c.logger = logger }
}

// WithClaimOptions configures the node's Claimable.
func WithClaimOptions(opts ...claim.Option) SimOption {
	return func(c *simConfig) { c.claimOpts = append(c.claimOpts, opts...) }
}

// NewSimNode starts a simulated node holding initial.
func NewSimNode(id string, initial any, opts ...SimOption) *SimNode {
	cfg := simConfig{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	claimOpts := append([]claim.Option{claim.WithLogger(cfg.logger)}, cfg.claimOpts...)

	n := &SimNode{
		id:        id,
		claimable: claim.NewClaimable(id, claimOpts...),
		latency:   cfg.latency,
		logger:    cfg.logger.With("node", id),
		jobs:      make(chan job),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		value:     initial,
		connected: !cfg.disconnected,
		listeners: make(map[int]Listener),
	}
	go n.worker()
	return n
}

func (n *SimNode) worker() {
	defer close(n.done)
	for {
		select {
		case <-n.stop:
			return
		case j := <-n.jobs:
			if n.latency > 0 {
				select {
				case <-time.After(n.latency):
				case <-n.stop:
					j.reply <- result{err: ErrClosed}
					return
				}
			}
			j.reply <- n.serve(j)
		}
	}
}

func (n *SimNode) serve(j job) result {
	n.mu.Lock()
	if !n.connected {
		n.mu.Unlock()
		return result{err: ErrDisconnected}
	}
	if !j.write {
		v := n.value
		n.mu.Unlock()
		return result{value: v}
	}
	n.value = j.value
	listeners := make([]Listener, 0, len(n.listeners))
	for _, l := range n.listeners {
		listeners = append(listeners, l)
	}
	n.mu.Unlock()

	n.logger.Debug("value written", "value", j.value)
	for _, l := range listeners {
		l(j.value)
	}
	return result{}
}

func (n *SimNode) submit(ctx context.Context, j job) (any, error) {
	j.reply = make(chan result, 1)
	select {
	case n.jobs <- j:
	case <-n.stop:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-j.reply:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *SimNode) ID() string { return n.id }

func (n *SimNode) Claimable() *claim.Claimable { return n.claimable }

func (n *SimNode) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected
}

// SetConnected simulates a link going up or down.
func (n *SimNode) SetConnected(connected bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = connected
}

// Value returns the current value without going through the worker.
func (n *SimNode) Value() any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.value
}

func (n *SimNode) Read(ctx context.Context) (any, error) {
	return n.submit(ctx, job{})
}

func (n *SimNode) Write(ctx context.Context, value any) error {
	_, err := n.submit(ctx, job{write: true, value: value})
	return err
}

func (n *SimNode) WatchValue(listener Listener) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = listener
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

// Close stops the worker. Pending operations fail with ErrClosed.
func (n *SimNode) Close() error {
	n.once.Do(func() { close(n.stop) })
	<-n.done
	return nil
}
