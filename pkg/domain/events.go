package domain

import (
	"context"
	"time"
)

// Event is a program status update published through a handle.
type Event struct {
	Timestamp   time.Time    `json:"timestamp"`
	Path        []int        `json:"path"`
	Location    any          `json:"location"`
	Stopped     bool         `json:"stopped"`
	Terminated  bool         `json:"terminated"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// ModeEvent records a program mode change.
type ModeEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Path      []int     `json:"path"`
	Program   string    `json:"program"`
	From      string    `json:"from"`
	To        string    `json:"to"`
}

// LifecycleHooks defines callbacks for runtime observability.
type LifecycleHooks struct {
	OnEvent      func(context.Context, *Event)
	OnModeChange func(context.Context, *ModeEvent)
}
