package pipeline

import (
	"errors"

	"github.com/ingestpipe/pipeline/external"
	"github.com/ingestpipe/pipeline/intake"
	"github.com/ingestpipe/pipeline/job"
	"github.com/ingestpipe/pipeline/store/postgres"
)

// ErrorKind re-exports job.ErrorKind under the pipeline package so callers
// outside job/store code have one name for it, per spec §7.
type ErrorKind = job.ErrorKind

// ClassifiedError pairs an error with the ErrorKind a stage handler
// should record against the job.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// classify maps a stage handler's error to the ErrorKind the worker
// should record, per spec §4.8:
//
//   - invalid input (caught by intake validation before a job even
//     exists) classifies as InvalidInput, though in practice a running
//     job never produces one;
//   - an *external.Error from the parser/embedding clients carries its
//     own kind (TransientRemote, FatalRemote, ContentInvariant);
//   - an open circuit breaker classifies as CircuitOpen;
//   - ErrLeaseLost and similar storage-layer failures classify as
//     StorageUnavailable;
//   - anything unrecognized defaults to TransientRemote so infrastructure
//     noise is retried rather than silently deadlettered.
func classify(err error) ErrorKind {
	if err == nil {
		return job.ErrorKindUnknown
	}

	var validationErr *intake.ValidationError
	if errors.As(err, &validationErr) {
		return job.ErrorKindInvalidInput
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Kind
	}

	var externalErr *external.Error
	if errors.As(err, &externalErr) {
		return externalErr.Kind
	}

	if errors.Is(err, postgres.ErrLeaseLost) || errors.Is(err, postgres.ErrJobNotFound) {
		return job.ErrorKindStorageUnavailable
	}

	return external.Classify(err)
}
