package lock

import "errors"

var (
	// ErrHeld is returned by TryAcquire when a live (unexpired) lock is
	// already held by some owner.
	ErrHeld = errors.New("lock: held by another owner")

	// ErrCASConflict is returned when the conditional PUT lost the race
	// against a concurrent writer.
	ErrCASConflict = errors.New("lock: compare-and-swap conflict")

	// ErrNotOwner is returned by Extend/Release when the caller's
	// (lockId, ownerId) no longer matches the stored document.
	ErrNotOwner = errors.New("lock: caller is not the current owner")
)
