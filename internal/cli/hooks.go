package cli

import (
	"context"
	"log/slog"

	"github.com/aretw0/labrun/pkg/domain"
)

// DebugHooks logs every mode change and root event at debug level.
func DebugHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnModeChange: func(ctx context.Context, e *domain.ModeEvent) {
			logger.Debug("Mode Change", "path", e.Path, "program", e.Program, "from", e.From, "to", e.To)
		},
		OnEvent: func(ctx context.Context, e *domain.Event) {
			logger.Debug("Root Event", "stopped", e.Stopped, "terminated", e.Terminated, "diagnostics", len(e.Diagnostics))
		},
	}
}
