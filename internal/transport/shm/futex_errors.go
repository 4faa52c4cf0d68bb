package shm

import "errors"

var (
	// ErrFutexTimeout is returned by futexWaitTimeout when the wait times out.
	ErrFutexTimeout = errors.New("futex timeout")

	// ErrUnsupported is returned where shared memory or futex waits are
	// unavailable on the platform.
	ErrUnsupported = errors.New("shared memory operations not supported on this platform")
)
