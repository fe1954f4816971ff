package session

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed indicates the session terminated while the
	// operation was outstanding.
	ErrConnectionClosed = errors.New("session closed")
	// ErrInvalidState indicates an operation was attempted in a lifecycle
	// state that does not permit it.
	ErrInvalidState = errors.New("invalid session state")
)

// SpawnError reports that the child process could not be launched at
// all (executable not found, permission denied). It is fatal; there is
// nothing to retry.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
