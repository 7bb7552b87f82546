package objectstore

import "errors"

// Sentinel errors for the objectstore package.
var (
	// ErrPreconditionFailed is returned by PutIfMatch when the conditional
	// PUT was rejected by the store (HTTP 412 Precondition Failed, or 409
	// Conflict on stores that signal CAS failure that way).
	ErrPreconditionFailed = errors.New("objectstore: precondition failed")

	// ErrBucketRequired is returned when no bucket is configured.
	ErrBucketRequired = errors.New("objectstore: bucket name is required")
)
