package domain

import "errors"

// ErrInvalidTransition is returned when a command is not valid in the current mode.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrNotRunning is returned when a command targets a program whose loop is not running.
var ErrNotRunning = errors.New("program not running")

// ErrUnknownMessage is returned when a message type has no handler.
var ErrUnknownMessage = errors.New("unknown message type")

// ErrSnapshotNotFound is returned when a run ID cannot be found in the store.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// ErrHandleNotFound is returned when a message targets a path with no live handle.
var ErrHandleNotFound = errors.New("handle not found")
