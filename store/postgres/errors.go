package postgres

import "errors"

var (
	// ErrLeaseLost is returned when a write guarded by "state = working"
	// (or an equivalent precondition) affects no rows because another
	// worker already moved the job on.
	ErrLeaseLost = errors.New("postgres: lease lost")

	// ErrJobNotFound is returned by Get when no row matches the id.
	ErrJobNotFound = errors.New("postgres: job not found")

	// ErrDocumentNotFound is returned when a document lookup matches no
	// row.
	ErrDocumentNotFound = errors.New("postgres: document not found")
)
