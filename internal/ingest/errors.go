package ingest

import "errors"

// Sentinel errors for the ingest package.
var (
	ErrAtLeastOneEvent   = errors.New("ingest: at least one event is required")
	ErrEmailRequired     = errors.New("ingest: email is required")
	ErrEventTypeRequired = errors.New("ingest: event type is required")
)
