package secret

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable is returned when no OS credential vault can be opened.
	ErrBackendUnavailable = errors.New("secret backend unavailable")
	// ErrNotFound is returned when a vault entry does not exist.
	ErrNotFound = errors.New("secret not found")
	// ErrNotWritable is returned when persisting into a read-only backend.
	ErrNotWritable = errors.New("secret backend is not writable")
	// ErrMalformed is returned for empty or inconsistent descriptors.
	ErrMalformed = errors.New("malformed secret descriptor")
)

// Error reports a failed secret operation. It names the backend and the entry
// but never carries the secret value.
type Error struct {
	Backend Kind
	Op      string
	Key     string
	Cause   error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("secret %s %s %q: %v", e.Backend, e.Op, e.Key, e.Cause)
	}
	return fmt.Sprintf("secret %s %s: %v", e.Backend, e.Op, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// CommandFailedError is returned when a secret command exits with a non-zero status.
type CommandFailedError struct {
	ExitCode int
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.ExitCode)
}
