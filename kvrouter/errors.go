package kvrouter

import "errors"

// Error taxonomy per spec §7. Configuration errors are fatal at startup;
// scheduling errors and timeouts are surfaced to the caller; bad events are
// logged and skipped, never returned.
var (
	// ErrConfig signals a configuration error (block size mismatch, unknown
	// policy name). Fatal at startup.
	ErrConfig = errors.New("kvrouter: configuration error")

	// ErrNoWorkersAvailable signals the live-worker set was empty when
	// scheduling was attempted.
	ErrNoWorkersAvailable = errors.New("kvrouter: no workers available")

	// ErrAllWorkersOverloaded signals that the capacity filter emptied the
	// candidate set and relaxation also yielded none (only possible if the
	// live set was already empty by that point).
	ErrAllWorkersOverloaded = errors.New("kvrouter: all workers overloaded")

	// ErrTimeout signals an overlap query or routing deadline was exceeded.
	ErrTimeout = errors.New("kvrouter: timeout")

	// ErrCancelled signals the request's context was cancelled before a
	// decision could be made.
	ErrCancelled = errors.New("kvrouter: cancelled")
)
