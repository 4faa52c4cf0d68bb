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
	"errors"
	"unsafe"
)

// roundUpPowerOfTwo returns the next power of two >= n, with minimum value of 16.
func roundUpPowerOfTwo(n int) uint64 {
	if n < 16 {
		return 16
	}
	return NextPowerOfTwo(uint64(n))
}

// NewRingBuffer returns a process-local ring with at least the requested
// capacity, laid out exactly like a segment ring. The actual capacity is the
// next power of two >= minCap and at least 16 bytes. If minCap <= 0,
// NewRingBuffer returns an error.
func NewRingBuffer(minCap int) (*ShmRing, error) {
	if minCap <= 0 {
		return nil, errors.New("ring: capacity must be positive")
	}

	capacity := roundUpPowerOfTwo(minCap)

	// Back the ring with uint64 words so the header atomics are aligned.
	words := make([]uint64, (RingHeaderSize+capacity)/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)

	(*RingHeader)(unsafe.Pointer(&mem[0])).reset(capacity)
	return newShmRing(mem, 0, capacity), nil
}
