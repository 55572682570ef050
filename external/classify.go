// Package external holds the HTTP failure classification shared by the
// parser and embedding clients (C3/C4): status code -> retryable/fatal,
// per spec §4.7.
package external

import "github.com/ingestpipe/pipeline/job"

// retryableStatuses is the set of HTTP status codes both external clients
// treat as transient (spec §4.7: "status in {429, 500, 502, 503, 504} and
// network errors are retryable; other 4xx are fatal").
var retryableStatuses = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// ClassifyStatus maps an HTTP response status code to the error kind a
// stage handler should record.
func ClassifyStatus(status int) job.ErrorKind {
	if retryableStatuses[status] {
		return job.ErrorKindTransientRemote
	}
	return job.ErrorKindFatalRemote
}
