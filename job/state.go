package job

import "fmt"

// State is orthogonal to Stage: it tracks whether a job is eligible for
// lease, currently leased, waiting out a backoff, or has reached a
// terminal outcome.
type State uint8

const (
	StateUnknown State = iota
	StateQueued
	StateWorking
	StateRetryable
	StateDone
	StateDeadletter
)

func stateToString(s State) string {
	switch s {
	case StateQueued:
		return "queued"
	case StateWorking:
		return "working"
	case StateRetryable:
		return "retryable"
	case StateDone:
		return "done"
	case StateDeadletter:
		return "deadletter"
	default:
		return "unknown"
	}
}

func stateFromString(s string) (State, error) {
	switch s {
	case "queued":
		return StateQueued, nil
	case "working":
		return StateWorking, nil
	case "retryable":
		return StateRetryable, nil
	case "done":
		return StateDone, nil
	case "deadletter":
		return StateDeadletter, nil
	default:
		return StateUnknown, fmt.Errorf("job: unknown state %q", s)
	}
}

// ParseState parses the wire representation of a State.
func ParseState(s string) (State, error) {
	return stateFromString(s)
}

func (s State) String() string {
	return stateToString(s)
}

func (s State) MarshalText() ([]byte, error) {
	if s == StateUnknown {
		return nil, fmt.Errorf("job: cannot marshal unknown state")
	}
	return []byte(stateToString(s)), nil
}

func (s *State) UnmarshalText(text []byte) error {
	parsed, err := stateFromString(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Terminal reports whether s is done or deadletter — no further lease is
// ever issued for a job in one of these states.
func (s State) Terminal() bool {
	return s == StateDone || s == StateDeadletter
}

// Leasable reports whether a job in state s is a candidate for the lease
// query (subject to the stage/retry_at filters applied separately).
func (s State) Leasable() bool {
	switch s {
	case StateQueued, StateWorking, StateRetryable:
		return true
	default:
		return false
	}
}
