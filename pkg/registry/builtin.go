package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/labrun/internal/logging"
	"github.com/aretw0/labrun/pkg/program"
)

// ErrInjected is the failure raised by the fail process.
var ErrInjected = errors.New("injected failure")

// NewDefault returns a registry holding the built-in processes:
//
//   - wait: sleeps for params.duration, committing elapsed time so a pause or
//     retry resumes where it left off. Pausable.
//   - log: logs params.message at info level.
//   - fail: fails until it has been attempted params.times times (default 1).
func NewDefault(logger *slog.Logger) *Registry {
	logger = logging.OrNop(logger)
	r := NewRegistry()
	r.Register("wait", program.ProcessFunc(waitProcess), true)
	r.Register("log", program.ProcessFunc(func(ctx context.Context, params map[string]any, cp *program.Checkpoint) (program.Result, error) {
		logger.InfoContext(ctx, fmt.Sprint(params["message"]), "process", "log")
		return program.Done(), nil
	}), false)
	r.Register("fail", program.ProcessFunc(failProcess), false)
	return r
}

func waitProcess(ctx context.Context, params map[string]any, cp *program.Checkpoint) (program.Result, error) {
	total, err := durationParam(params["duration"])
	if err != nil {
		return program.Result{}, err
	}
	elapsed, err := durationParam(cp.Point())
	if err != nil {
		return program.Result{}, fmt.Errorf("resume point: %w", err)
	}

	started := time.Now()
	timer := time.NewTimer(max(total-elapsed, 0))
	defer timer.Stop()

	select {
	case <-timer.C:
		return program.Done(), nil
	case <-cp.Interrupted():
		progress := elapsed + time.Since(started)
		cp.Commit(progress.Milliseconds())
		sig := cp.Check()
		if sig.Kind == program.JumpRequested {
			return program.Jumped(sig.Point), nil
		}
		return program.Paused(progress.Milliseconds()), nil
	case <-ctx.Done():
		cp.Commit((elapsed + time.Since(started)).Milliseconds())
		return program.Result{}, ctx.Err()
	}
}

func failProcess(_ context.Context, params map[string]any, cp *program.Checkpoint) (program.Result, error) {
	times := 1
	if v, ok := params["times"]; ok {
		n, err := intParam(v)
		if err != nil {
			return program.Result{}, fmt.Errorf("times: %w", err)
		}
		times = n
	}
	attempts := 0
	if cp.Point() != nil {
		n, err := intParam(cp.Point())
		if err != nil {
			return program.Result{}, fmt.Errorf("resume point: %w", err)
		}
		attempts = n
	}

	attempts++
	cp.Commit(attempts)
	if attempts <= times {
		return program.Result{}, fmt.Errorf("%w: attempt %d of %d", ErrInjected, attempts, times)
	}
	return program.Done(), nil
}

// durationParam accepts a Go duration string or a number of milliseconds.
func durationParam(v any) (time.Duration, error) {
	switch d := v.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return d, nil
	case string:
		return time.ParseDuration(d)
	}
	ms, err := intParam(v)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func intParam(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case uint64:
		return int(n), nil
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}
