package noc

import "errors"

// Error kinds returned by the bridge. Callers match them with errors.Is.
var (
	// ErrInvalidArgument covers nil bridges, nil handlers, and packets that
	// cannot be encoded.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOutOfMemory is returned when the send queue or handler registry is
	// at its configured limit.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrResourceInit wraps failures while allocating rings, mailboxes or
	// starting hardware threads.
	ErrResourceInit = errors.New("resource initialization failed")
	// ErrWorkerFault marks a worker that hit a protocol violation.
	ErrWorkerFault = errors.New("worker fault")
	// ErrHandlerFault marks a receive handler that returned an error.
	ErrHandlerFault = errors.New("handler fault")
	// ErrClosed is returned once the bridge has begun shutting down.
	ErrClosed = errors.New("bridge closed")

	errUnexpectedExit = errors.New("worker returned while running")
)
