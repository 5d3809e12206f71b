// Package apperr defines the sentinel errors shared across the daemon.
package apperr

import "errors"

var (
	// ErrInvalidPath reports a path that is empty or not absolute after
	// tilde expansion.
	ErrInvalidPath = errors.New("invalid path")

	// ErrInvalidConfig reports a configuration file that failed to parse
	// or validate. The previous configuration stays in effect.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrNotAvailable reports that the index file does not exist yet.
	ErrNotAvailable = errors.New("index not available")

	// ErrSchemaTooNew reports an index written by a newer daemon.
	ErrSchemaTooNew = errors.New("index schema is newer than this build")

	// ErrCorrupt reports an unreadable index file.
	ErrCorrupt = errors.New("index file is corrupt")

	// ErrQueueFull reports that the bounded event queue rejected an event.
	ErrQueueFull = errors.New("event queue is full")
)
