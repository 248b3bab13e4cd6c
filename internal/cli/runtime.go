package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/labrun/internal/compiler"
	"github.com/aretw0/labrun/internal/config"
	"github.com/aretw0/labrun/internal/metrics"
	"github.com/aretw0/labrun/pkg/adapters/memory"
	"github.com/aretw0/labrun/pkg/adapters/redis"
	"github.com/aretw0/labrun/pkg/adapters/sqlite"
	"github.com/aretw0/labrun/pkg/claim"
	"github.com/aretw0/labrun/pkg/device"
	"github.com/aretw0/labrun/pkg/domain"
	"github.com/aretw0/labrun/pkg/ports"
	"github.com/aretw0/labrun/pkg/program"
	"github.com/aretw0/labrun/pkg/registry"
	"github.com/aretw0/labrun/pkg/state"
	"github.com/aretw0/labrun/pkg/state/devicestate"
)

// resumeTimeout bounds the snapshot lookup of --resume.
const resumeTimeout = 5 * time.Second

// RunOptions selects what Build prepares.
type RunOptions struct {
	ProtocolPath string
	// ResumeID continues a stored run from its last exported point.
	ResumeID string
	Hooks    domain.LifecycleHooks
}

// Runtime is a compiled protocol wired to its devices, store and master.
type Runtime struct {
	Protocol *compiler.Protocol
	Block    program.Block
	Master   *program.Master
	Devices  *device.Registry
	Store    ports.SnapshotStore
	Metrics  *metrics.Collector
	// Point is where Run starts; nil for a fresh run.
	Point program.Point

	closers []func() error
}

// Build loads the protocol and assembles a runnable master from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts RunOptions) (*Runtime, error) {
	proto, err := compiler.Load(opts.ProtocolPath)
	if err != nil {
		return nil, err
	}
	block, err := compiler.Compile(proto, registry.NewDefault(logger))
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", opts.ProtocolPath, err)
	}

	rt := &Runtime{Protocol: proto, Block: block}
	if cfg.Metrics.Enabled {
		rt.Metrics = metrics.New()
	}

	rt.Devices, err = NewDevices(cfg, logger, rt.Metrics)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, rt.Devices.Close)

	store, locker, err := OpenStore(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Store = store
	if c, ok := store.(interface{ Close() error }); ok {
		rt.closers = append(rt.closers, c.Close)
	}

	counter := domain.NewCounter()
	manager := state.NewManager(
		state.WithLogger(logger),
		state.WithCounter(counter),
		state.WithMetrics(rt.Metrics),
		state.WithConsumer(devicestate.Namespace, devicestate.NewConsumer(rt.Devices, devicestate.WithLogger(logger))),
	)

	mopts := []program.Option{
		program.WithStateManager(manager),
		program.WithCounter(counter),
		program.WithLogger(logger),
		program.WithMetrics(rt.Metrics),
		program.WithProtocol(proto.Name),
		program.WithHooks(opts.Hooks),
	}
	if store != nil {
		mopts = append(mopts, program.WithSnapshotStore(store))
	}
	if locker != nil {
		mopts = append(mopts, program.WithLocker(locker, cfg.Store.LockTTL))
	}

	if opts.ResumeID != "" {
		point, err := rt.resumePoint(ctx, opts.ResumeID)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Point = point
		mopts = append(mopts, program.WithRunID(opts.ResumeID))
	}

	rt.Master = program.NewMaster(block, mopts...)
	return rt, nil
}

func (rt *Runtime) resumePoint(ctx context.Context, runID string) (program.Point, error) {
	if rt.Store == nil {
		return nil, errors.New("resume needs a snapshot store")
	}
	ctx, cancel := context.WithTimeout(ctx, resumeTimeout)
	defer cancel()

	snap, err := rt.Store.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return ResumePoint(rt.Block, snap)
}

// ResumePoint extracts the root point recorded in snap.
func ResumePoint(block program.Block, snap *domain.Snapshot) (program.Point, error) {
	root, ok := snap.Root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("run %s has no exported tree", snap.RunID)
	}
	point, err := program.DecodePoint(block, root["point"])
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", snap.RunID, err)
	}
	return point, nil
}

// Close releases devices and the store.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// NewDevices registers a simulated node for every configured device.
func NewDevices(cfg *config.Config, logger *slog.Logger, stats *metrics.Collector) (*device.Registry, error) {
	reg := device.NewRegistry()
	for _, d := range cfg.Devices {
		opts := []device.SimOption{
			device.WithLogger(logger),
			device.WithLatency(d.Latency),
			device.WithClaimOptions(
				claim.WithAutoTransfer(cfg.Claims.AutoTransfer),
				claim.WithMetrics(stats),
			),
		}
		if d.Disconnected {
			opts = append(opts, device.WithDisconnected())
		}
		node := device.NewSimNode(d.Path, d.Initial, opts...)
		if err := reg.Register(node); err != nil {
			node.Close()
			reg.Close()
			return nil, err
		}
	}
	return reg, nil
}

// OpenStore opens the configured snapshot store. The redis store also
// provides a locker so two processes cannot drive the same run.
func OpenStore(cfg *config.Config) (ports.SnapshotStore, ports.DistributedLocker, error) {
	switch cfg.Store.Type {
	case config.StoreNone:
		return nil, nil, nil
	case config.StoreMemory:
		return memory.NewStore(), nil, nil
	case config.StoreRedis:
		store := redis.New(cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB,
			redis.WithPrefix(cfg.Store.Prefix),
			redis.WithTTL(cfg.Store.TTL),
		)
		return store, redis.NewLocker(store.Client(), cfg.Store.Prefix), nil
	case config.StoreSQLite:
		store, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
}
