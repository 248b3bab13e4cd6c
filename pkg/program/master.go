package program

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/labrun/internal/logging"
	"github.com/aretw0/labrun/internal/metrics"
	"github.com/aretw0/labrun/pkg/domain"
	"github.com/aretw0/labrun/pkg/ports"
	"github.com/aretw0/labrun/pkg/state"
)

const tracerName = "github.com/aretw0/labrun/pkg/program"

const snapshotTimeout = 5 * time.Second

// Master runs a block tree and routes operator messages into it.
type Master struct {
	block    Block
	protocol string
	runID    string
	manager  *state.Manager
	counter  *domain.Counter
	logger   *slog.Logger
	stats    *metrics.Collector
	tracer   trace.Tracer
	hooks    domain.LifecycleHooks
	store    ports.SnapshotStore
	locker   ports.DistributedLocker
	lockTTL  time.Duration

	mu        sync.Mutex
	root      *Handle
	last      domain.Event
	listeners []func(domain.Event)
}

// Option configures a Master.
type Option func(*Master)

// WithStateManager sets the manager applying state blocks. Without it, state
// blocks carry no consumers and settle immediately.
func WithStateManager(m *state.Manager) Option {
	return func(ms *Master) { ms.manager = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Master) { m.logger = logger }
}

func WithMetrics(stats *metrics.Collector) Option {
	return func(m *Master) { m.stats = stats }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(m *Master) { m.tracer = tracer }
}

// WithHooks registers lifecycle callbacks.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(m *Master) { m.hooks = hooks }
}

// WithSnapshotStore persists a snapshot after every root event.
func WithSnapshotStore(store ports.SnapshotStore) Option {
	return func(m *Master) { m.store = store }
}

// WithLocker holds a lock on the run ID for the duration of Run.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(m *Master) {
		m.locker = locker
		m.lockTTL = ttl
	}
}

// WithRunID resumes an existing run ID instead of generating one.
func WithRunID(id string) Option {
	return func(m *Master) { m.runID = id }
}

// WithProtocol names the protocol in snapshots.
func WithProtocol(name string) Option {
	return func(m *Master) { m.protocol = name }
}

// WithCounter shares the run's id counter. Pass the same counter to the
// state manager so claim symbols are ordered within one sequence.
func WithCounter(c *domain.Counter) Option {
	return func(m *Master) { m.counter = c }
}

// NewMaster prepares a run of block.
func NewMaster(block Block, opts ...Option) *Master {
	m := &Master{
		block:   block,
		counter: domain.NewCounter(),
		logger:  logging.NewNop(),
		lockTTL: time.Minute,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.runID == "" {
		m.runID = uuid.NewString()
	}
	if m.manager == nil {
		m.manager = state.NewManager(state.WithLogger(m.logger), state.WithMetrics(m.stats), state.WithCounter(m.counter))
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(tracerName)
	}
	m.logger = m.logger.With("run", m.runID)
	return m
}

func (m *Master) RunID() string { return m.runID }

// Subscribe registers fn for every root event. It must not block.
func (m *Master) Subscribe(fn func(domain.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Run executes the tree from point. It returns once the root program
// terminates or ctx is cancelled, in which case all state has been suspended
// and ctx's error is returned.
func (m *Master) Run(ctx context.Context, point Point) error {
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, m.runID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("lock run %s: %w", m.runID, err)
		}
		defer func() {
			if err := unlock(context.Background()); err != nil {
				m.logger.Warn("failed to release run lock", "err", err)
			}
		}()
	}

	ctx, span := m.tracer.Start(ctx, "labrun.run", trace.WithAttributes(
		attribute.String("run.id", m.runID),
		attribute.String("run.protocol", m.protocol),
	))
	defer span.End()

	root := newHandle(m, nil, 0, m.block)
	root.report = m.onRootStatus
	m.mu.Lock()
	m.root = root
	m.mu.Unlock()

	m.logger.Info("run started", "protocol", m.protocol)
	err := root.program.Run(ctx, point)
	m.logger.Info("run finished", "err", err)
	return err
}

func (m *Master) rootHandle() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root
}

// Handle resolves a handle by child ids from the root.
func (m *Master) Handle(path []int) (*Handle, error) {
	h := m.rootHandle()
	if h == nil {
		return nil, domain.ErrNotRunning
	}
	for _, id := range path {
		if h = h.child(id); h == nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrHandleNotFound, path)
		}
	}
	return h, nil
}

// Receive delivers msg to the program at path.
func (m *Master) Receive(path []int, msg domain.Message) error {
	h, err := m.Handle(path)
	if err != nil {
		return err
	}
	m.logger.Debug("message received", "path", path, "type", msg.Type)
	return h.Receive(msg)
}

// Halt halts the root program.
func (m *Master) Halt() error {
	return m.Receive(nil, domain.Message{Type: domain.MessageHalt})
}

// Last returns the latest root event.
func (m *Master) Last() domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Export returns the exported program tree, or nil before Run.
func (m *Master) Export() *Node {
	h := m.rootHandle()
	if h == nil {
		return nil
	}
	n := h.node()
	return &n
}

// Snapshot bundles the latest event and the exported tree.
func (m *Master) Snapshot() *domain.Snapshot {
	snap := &domain.Snapshot{
		RunID:     m.runID,
		Protocol:  m.protocol,
		UpdatedAt: time.Now().UTC(),
		Event:     m.Last(),
	}
	if n := m.Export(); n != nil {
		snap.Root = n
	}
	return snap
}

func (m *Master) onRootStatus(s Status) {
	ev := domain.Event{
		Timestamp:   time.Now().UTC(),
		Path:        []int{},
		Location:    s.Location,
		Stopped:     s.Stopped,
		Terminated:  s.Terminated,
		Diagnostics: s.Diagnostics,
	}
	m.mu.Lock()
	m.last = ev
	listeners := append([]func(domain.Event){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
	if m.hooks.OnEvent != nil {
		m.hooks.OnEvent(context.Background(), &ev)
	}
	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		if err := m.store.Save(ctx, m.runID, m.Snapshot()); err != nil {
			m.logger.Warn("snapshot not saved", "err", err)
		}
		cancel()
	}
}

func (m *Master) modeChanged(h *Handle, kind, from, to string) {
	m.stats.ModeChanged(kind, to)
	if m.hooks.OnModeChange != nil {
		m.hooks.OnModeChange(context.Background(), &domain.ModeEvent{
			Timestamp: time.Now().UTC(),
			Path:      h.Path(),
			Program:   h.name,
			From:      from,
			To:        to,
		})
	}
}
