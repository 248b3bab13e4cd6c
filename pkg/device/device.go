// Package device defines the value-node abstraction the runtime drives and a
// simulated implementation backed by a worker goroutine.
//
// Real drivers live outside this module; they only need to satisfy ValueNode.
package device

import (
	"context"
	"errors"

	"github.com/aretw0/labrun/pkg/claim"
)

var (
	ErrDisconnected = errors.New("device disconnected")
	ErrClosed       = errors.New("device closed")
	ErrNodeNotFound = errors.New("device node not found")
	ErrDuplicate    = errors.New("device node already registered")
)

// Listener receives every value a node takes.
type Listener func(value any)

// ValueNode is a readable and writable device value guarded by a claim.
type ValueNode interface {
	ID() string
	Claimable() *claim.Claimable
	Connected() bool
	Read(ctx context.Context) (any, error)
	Write(ctx context.Context, value any) error
	// WatchValue registers listener and returns a function removing it.
	WatchValue(listener Listener) (unwatch func())
}
