package supervisor

import (
	"errors"
	"fmt"
)

// Sentinel errors for invocation state guards.
var (
	// ErrInvocationConflict indicates a message arrived while an invocation
	// is already active for the session. Retry after the current one ends.
	ErrInvocationConflict = errors.New("invocation already active for session")
	// ErrStreamClosed indicates both output channels have closed; no further
	// chunks will arrive.
	ErrStreamClosed = errors.New("output stream closed")
)

// AgentNotFoundError indicates the agent executable was not found.
type AgentNotFoundError struct {
	Cause error
	Path  string
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("agent binary not found at %q: %v", e.Path, e.Cause)
}

func (e *AgentNotFoundError) Unwrap() error {
	return e.Cause
}

// ProcessError represents an agent process failure: launch failure, a
// mid-stream I/O error, or a non-zero exit not caused by timeout or
// cancellation.
type ProcessError struct {
	Cause    error
	Message  string
	Stderr   string
	ExitCode int
}

func (e *ProcessError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("process error: %s (exit code %d)", e.Message, e.ExitCode)
	}
	return fmt.Sprintf("process error: %s", e.Message)
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}
