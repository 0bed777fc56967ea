package repository

import "errors"

var (
	// ErrValidation rejects an enqueue before anything is persisted.
	ErrValidation = errors.New("repository: validation failed")

	// ErrStaleClaim means an outcome was reported for a task that is no
	// longer claimed at the expected version. Callers treat it as a
	// no-op: the claim was lost to the watchdog or a concurrent report.
	ErrStaleClaim = errors.New("repository: stale claim")

	// ErrNotCancelable means at least one task of the post has already
	// been claimed or finished.
	ErrNotCancelable = errors.New("repository: post not cancelable")

	ErrNotFound = errors.New("repository: not found")
)
