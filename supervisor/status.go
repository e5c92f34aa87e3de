package supervisor

// State is the lifecycle state of an invocation. Running has exactly four
// exits, all terminal: Succeeded, Failed, TimedOut, Cancelled.
type State int

const (
	StateRunning State = iota
	StateSucceeded
	StateFailed
	StateTimedOut
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed-out"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is one of the four terminal states.
func (s State) Terminal() bool {
	return s != StateRunning
}

// Status is the reported outcome of an invocation. TimedOut and Cancelled
// are statuses, not errors; Err is set only for launch and process failures.
type Status struct {
	Err      error
	State    State
	ExitCode int
}
