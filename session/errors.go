package session

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound indicates an unknown session ID. Not retryable without
// starting a new session.
var ErrSessionNotFound = errors.New("session not found")

// StorageError indicates the session root or a session directory could not
// be created. Fatal to session creation.
type StorageError struct {
	Cause error
	Op    string
	Path  string
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s %q: %v", e.Op, e.Path, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}
