package external

import (
	"errors"
	"fmt"

	"github.com/sony/gobreaker"

	"github.com/ingestpipe/pipeline/job"
)

// Error wraps a failure from an external service with the job.ErrorKind a
// stage handler should record against the job.
type Error struct {
	Kind job.ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify extracts the job.ErrorKind from err, treating an open circuit
// breaker as ErrorKindCircuitOpen and any unrecognized error as
// ErrorKindTransientRemote so transient infrastructure noise doesn't get
// misfiled as fatal.
func Classify(err error) job.ErrorKind {
	if err == nil {
		return job.ErrorKindUnknown
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return job.ErrorKindCircuitOpen
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return job.ErrorKindTransientRemote
}
