//go:build linux

/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux futex operations. The rings live in a MAP_SHARED file mapping that
// other processes wait on, so the PRIVATE flag must not be set.
const (
	futexWaitOp = 0 // FUTEX_WAIT
	futexWakeOp = 1 // FUTEX_WAKE
)

// futexWait waits for the value at addr to change from val.
//
// Callers re-check their condition after it returns; wakeups may be spurious.
func futexWait(addr *uint32, val uint32) error {
	return futexWaitTimeout(addr, val, 0)
}

// futexWaitTimeout waits on addr until the value changes from val or
// timeoutNs elapses. A non-positive timeout waits indefinitely.
func futexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error {
	// Re-check before entering the syscall to avoid a lost wake.
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	var tsp uintptr
	var ts unix.Timespec
	if timeoutNs > 0 {
		ts = unix.NsecToTimespec(timeoutNs)
		tsp = uintptr(unsafe.Pointer(&ts))
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWaitOp,
		uintptr(val),
		tsp,
		0,
		0,
	)

	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return nil
	case unix.ETIMEDOUT:
		return ErrFutexTimeout
	}
	return fmt.Errorf("futex wait failed: %w", errno)
}

// futexWake wakes up to n waiters on addr and returns how many were woken.
func futexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWakeOp,
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("futex wake failed: %w", errno)
	}
	return int(r1), nil
}
