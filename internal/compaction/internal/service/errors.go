package service

import "errors"

var (
	// ErrAlreadyRunning is returned by Engine.Run when a persisted run
	// document shows another run is still in flight and not yet stalled.
	ErrAlreadyRunning = errors.New("compaction: a run is already in progress")

	// ErrAcquireFailed is returned when the distributed lock could not be
	// taken, wrapping the underlying lock error.
	ErrAcquireFailed = errors.New("compaction: failed to acquire run lock")
)
