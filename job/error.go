package job

import (
	"fmt"
	"math"
	"time"
)

// ErrorKind classifies why a job failed, mirroring the disposition table
// the worker consults when a stage handler returns an error.
type ErrorKind uint8

const (
	ErrorKindUnknown ErrorKind = iota
	// ErrorKindInvalidInput marks intake validation failures. No job is
	// created for these; the kind exists so intake and pipeline errors
	// share one vocabulary.
	ErrorKindInvalidInput
	// ErrorKindTransientRemote covers 5xx/429/network failures from the
	// parser or embedding service. Retryable.
	ErrorKindTransientRemote
	// ErrorKindFatalRemote covers non-429 4xx responses from a remote.
	// Not retried.
	ErrorKindFatalRemote
	// ErrorKindContentInvariant covers empty parsed content, a
	// chunk/embedding count mismatch, or a wrong vector dimension. Not
	// retried.
	ErrorKindContentInvariant
	// ErrorKindStorageUnavailable covers job- or blob-store timeouts and
	// connection loss. Retryable; persistent failures may open the
	// worker-level breaker.
	ErrorKindStorageUnavailable
	// ErrorKindCircuitOpen is returned when a local breaker refuses a
	// call before any remote dial is attempted. Retryable.
	ErrorKindCircuitOpen
	// ErrorKindRetriesExhausted marks a retryable failure whose retry
	// count has reached max_retries.
	ErrorKindRetriesExhausted
)

func errorKindToString(k ErrorKind) string {
	switch k {
	case ErrorKindInvalidInput:
		return "invalid_input"
	case ErrorKindTransientRemote:
		return "transient_remote"
	case ErrorKindFatalRemote:
		return "fatal_remote"
	case ErrorKindContentInvariant:
		return "content_invariant"
	case ErrorKindStorageUnavailable:
		return "storage_unavailable"
	case ErrorKindCircuitOpen:
		return "circuit_open"
	case ErrorKindRetriesExhausted:
		return "retries_exhausted"
	default:
		return "unknown"
	}
}

func errorKindFromString(s string) (ErrorKind, error) {
	switch s {
	case "invalid_input":
		return ErrorKindInvalidInput, nil
	case "transient_remote":
		return ErrorKindTransientRemote, nil
	case "fatal_remote":
		return ErrorKindFatalRemote, nil
	case "content_invariant":
		return ErrorKindContentInvariant, nil
	case "storage_unavailable":
		return ErrorKindStorageUnavailable, nil
	case "circuit_open":
		return ErrorKindCircuitOpen, nil
	case "retries_exhausted":
		return ErrorKindRetriesExhausted, nil
	default:
		return ErrorKindUnknown, fmt.Errorf("job: unknown error kind %q", s)
	}
}

// ParseErrorKind parses the wire representation of an ErrorKind.
func ParseErrorKind(s string) (ErrorKind, error) {
	return errorKindFromString(s)
}

func (k ErrorKind) String() string {
	return errorKindToString(k)
}

func (k ErrorKind) MarshalText() ([]byte, error) {
	if k == ErrorKindUnknown {
		return nil, fmt.Errorf("job: cannot marshal unknown error kind")
	}
	return []byte(errorKindToString(k)), nil
}

func (k *ErrorKind) UnmarshalText(text []byte) error {
	parsed, err := errorKindFromString(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Retryable reports whether a failure of kind k should be scheduled for
// another attempt rather than deadlettered outright.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindTransientRemote, ErrorKindStorageUnavailable, ErrorKindCircuitOpen:
		return true
	default:
		return false
	}
}

// LastError is the structured record attached to a job once it has failed
// at least once. It is stored inline on the job row so the lease query can
// filter on RetryAt with a single comparison.
type LastError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	RetryAt   time.Time `json:"retry_at,omitempty"`
}

// BackoffDelay computes the exponential retry delay for a given retry
// count: base_delay * 2^retryCount. jitterFactor, when greater than zero,
// applies a uniform +/-jitterFactor*delay randomization; deployments that
// leave it at zero get deterministic backoff.
func BackoffDelay(retryCount int, baseDelay time.Duration, jitterFactor float64, rnd func() float64) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	exp := float64(baseDelay) * math.Pow(2, float64(retryCount))
	if jitterFactor > 0 && rnd != nil {
		delta := jitterFactor * exp
		exp = (exp - delta) + rnd()*(2*delta)
	}
	return time.Duration(exp)
}
