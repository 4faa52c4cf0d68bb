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
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"github.com/hashicorp/go-multierror"
)

// Memory layout constants
const (
	// Magic bytes for segment identification
	SegmentMagic = "STRMSHM\x00"

	// Current layout version
	SegmentVersion = uint32(1)

	// Segment header size (aligned to 128 bytes)
	SegmentHeaderSize = 128

	// Ring header size (aligned to 64 bytes)
	RingHeaderSize = 64

	// Minimum ring capacity (4KB)
	MinRingCapacity = 4096

	// Default ring capacities
	DefaultStreamsCapacity  = 1024 * 1024 // target -> peer
	DefaultThrottleCapacity = 64 * 1024   // peer -> target

	segmentFilePrefix = "shmstream_"
)

// Platform-specific functions (implemented in platform-specific files)
var (
	// unmapMemory unmaps a memory-mapped region
	unmapMemory func([]byte) error
)

// SegmentHeader is the shared header at offset 0 of a segment.
//
// The owner creates the segment and maps it first; the attached side opens
// an existing segment. Either side may be the stream target.
type SegmentHeader struct {
	magic         [8]byte  // 0x00: "STRMSHM\0"
	version       uint32   // 0x08: layout version
	flags         uint32   // 0x0C: reserved flags
	totalSize     uint64   // 0x10: total segment size
	streamsOff    uint64   // 0x18: offset to streams ring header
	streamsCap    uint64   // 0x20: streams ring capacity (power of 2)
	throttleOff   uint64   // 0x28: offset to throttle ring header
	throttleCap   uint64   // 0x30: throttle ring capacity (power of 2)
	ownerPID      uint32   // 0x38: creating process
	attachedPID   uint32   // 0x3C: opening process
	ownerReady    uint32   // 0x40: owner ready flag (0->1)
	attachedReady uint32   // 0x44: attached ready flag (0->1)
	closed        uint32   // 0x48: closed flag
	pad           uint32   // 0x4C
	reserved      [48]byte // 0x50-0x7F
}

func (h *SegmentHeader) Magic() [8]byte           { return h.magic }
func (h *SegmentHeader) Version() uint32          { return atomic.LoadUint32(&h.version) }
func (h *SegmentHeader) TotalSize() uint64        { return atomic.LoadUint64(&h.totalSize) }
func (h *SegmentHeader) StreamsOffset() uint64    { return atomic.LoadUint64(&h.streamsOff) }
func (h *SegmentHeader) StreamsCapacity() uint64  { return atomic.LoadUint64(&h.streamsCap) }
func (h *SegmentHeader) ThrottleOffset() uint64   { return atomic.LoadUint64(&h.throttleOff) }
func (h *SegmentHeader) ThrottleCapacity() uint64 { return atomic.LoadUint64(&h.throttleCap) }
func (h *SegmentHeader) OwnerPID() uint32         { return atomic.LoadUint32(&h.ownerPID) }
func (h *SegmentHeader) AttachedPID() uint32      { return atomic.LoadUint32(&h.attachedPID) }
func (h *SegmentHeader) OwnerReady() bool         { return atomic.LoadUint32(&h.ownerReady) != 0 }
func (h *SegmentHeader) AttachedReady() bool      { return atomic.LoadUint32(&h.attachedReady) != 0 }
func (h *SegmentHeader) Closed() bool             { return atomic.LoadUint32(&h.closed) != 0 }

func (h *SegmentHeader) SetOwnerReady()    { atomic.StoreUint32(&h.ownerReady, 1) }
func (h *SegmentHeader) SetAttachedReady() { atomic.StoreUint32(&h.attachedReady, 1) }
func (h *SegmentHeader) SetClosed()        { atomic.StoreUint32(&h.closed, 1) }

func (h *SegmentHeader) setAttachedPID(pid uint32) { atomic.StoreUint32(&h.attachedPID, pid) }

// init writes a fresh header. Only the owner calls it, before anyone else can
// map the file.
func (h *SegmentHeader) init(totalSize, streamsOff, streamsCap, throttleOff, throttleCap uint64) {
	copy(h.magic[:], SegmentMagic)
	atomic.StoreUint32(&h.version, SegmentVersion)
	atomic.StoreUint64(&h.totalSize, totalSize)
	atomic.StoreUint64(&h.streamsOff, streamsOff)
	atomic.StoreUint64(&h.streamsCap, streamsCap)
	atomic.StoreUint64(&h.throttleOff, throttleOff)
	atomic.StoreUint64(&h.throttleCap, throttleCap)
	atomic.StoreUint32(&h.ownerPID, uint32(os.Getpid()))
}

// RingHeader represents a ring buffer header with atomic access fields.
// Layout follows a 64-byte alignment.
type RingHeader struct {
	capacity uint64   // 0x00: power-of-two capacity in bytes
	widx     uint64   // 0x08: monotonic write index (producer)
	ridx     uint64   // 0x10: monotonic read index (consumer)
	dataSeq  uint32   // 0x18: data sequence for futex (producer increments)
	spaceSeq uint32   // 0x1C: space sequence for futex (consumer increments)
	closed   uint32   // 0x20: closed flag (producer sets to 1)
	pad      uint32   // 0x24: padding
	reserved [24]byte // 0x28-0x3F: reserved/padding to 64B
	// data area starts at offset 0x40
}

func (r *RingHeader) Capacity() uint64              { return atomic.LoadUint64(&r.capacity) }
func (r *RingHeader) SetCapacity(capacity uint64)   { atomic.StoreUint64(&r.capacity, capacity) }
func (r *RingHeader) WriteIndex() uint64            { return atomic.LoadUint64(&r.widx) }
func (r *RingHeader) SetWriteIndex(idx uint64)      { atomic.StoreUint64(&r.widx, idx) }
func (r *RingHeader) ReadIndex() uint64             { return atomic.LoadUint64(&r.ridx) }
func (r *RingHeader) SetReadIndex(idx uint64)       { atomic.StoreUint64(&r.ridx, idx) }
func (r *RingHeader) DataSequence() uint32          { return atomic.LoadUint32(&r.dataSeq) }
func (r *RingHeader) IncrementDataSequence() uint32 { return atomic.AddUint32(&r.dataSeq, 1) }
func (r *RingHeader) SpaceSequence() uint32         { return atomic.LoadUint32(&r.spaceSeq) }
func (r *RingHeader) IncrementSpaceSequence() uint32 {
	return atomic.AddUint32(&r.spaceSeq, 1)
}

// Closed returns the closed flag
func (r *RingHeader) Closed() bool {
	return atomic.LoadUint32(&r.closed) != 0
}

// SetClosed sets the closed flag
func (r *RingHeader) SetClosed(closed bool) {
	var val uint32
	if closed {
		val = 1
	}
	atomic.StoreUint32(&r.closed, val)
}

// Used returns the number of bytes currently used in the ring
func (r *RingHeader) Used() uint64 {
	w := atomic.LoadUint64(&r.widx)
	rd := atomic.LoadUint64(&r.ridx)
	return w - rd // uint64 arithmetic handles wrap-around
}

// Available returns the number of bytes available for writing
func (r *RingHeader) Available() uint64 {
	return r.Capacity() - r.Used()
}

// reset zeroes indices and sequences for a fresh ring.
func (r *RingHeader) reset(capacity uint64) {
	r.SetCapacity(capacity)
	r.SetWriteIndex(0)
	r.SetReadIndex(0)
	atomic.StoreUint32(&r.dataSeq, 0)
	atomic.StoreUint32(&r.spaceSeq, 0)
	r.SetClosed(false)
}

// IsPowerOfTwo returns true if n is a power of two
func IsPowerOfTwo(n uint64) bool {
	return n > 0 && (n&(n-1)) == 0
}

// NextPowerOfTwo returns the next power of two >= n
func NextPowerOfTwo(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	if IsPowerOfTwo(n) {
		return n
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}

// ValidateRingCapacity checks a ring capacity before it is laid out.
func ValidateRingCapacity(name string, capacity uint64) error {
	if !IsPowerOfTwo(capacity) {
		return fmt.Errorf("%s ring capacity %d is not a power of two", name, capacity)
	}
	if capacity < MinRingCapacity {
		return fmt.Errorf("%s ring capacity %d is below minimum %d", name, capacity, MinRingCapacity)
	}
	return nil
}

// CalculateSegmentLayout calculates the memory layout for a segment with given ring capacities
func CalculateSegmentLayout(streamsCap, throttleCap uint64) (totalSize, streamsOff, throttleOff uint64, err error) {
	if err := ValidateRingCapacity("streams", streamsCap); err != nil {
		return 0, 0, 0, err
	}
	if err := ValidateRingCapacity("throttle", throttleCap); err != nil {
		return 0, 0, 0, err
	}

	streamsOff = alignTo64(SegmentHeaderSize)
	throttleOff = alignTo64(streamsOff + RingHeaderSize + streamsCap)
	totalSize = alignTo64(throttleOff + RingHeaderSize + throttleCap)

	return totalSize, streamsOff, throttleOff, nil
}

// alignTo64 aligns a size to 64-byte boundary
func alignTo64(size uint64) uint64 {
	return (size + 63) &^ 63
}

// ValidateSegmentHeader validates a segment header for consistency
func ValidateSegmentHeader(h *SegmentHeader, mappedSize uint64) error {
	magic := h.Magic()
	if string(magic[:]) != SegmentMagic {
		return fmt.Errorf("invalid magic bytes")
	}
	if h.Version() != SegmentVersion {
		return fmt.Errorf("unsupported version %d, expected %d", h.Version(), SegmentVersion)
	}

	expectedTotal, expectedStreamsOff, expectedThrottleOff, err := CalculateSegmentLayout(h.StreamsCapacity(), h.ThrottleCapacity())
	if err != nil {
		return fmt.Errorf("layout calculation failed: %w", err)
	}
	if h.TotalSize() != expectedTotal {
		return fmt.Errorf("total size mismatch: got %d, expected %d", h.TotalSize(), expectedTotal)
	}
	if mappedSize < expectedTotal {
		return fmt.Errorf("segment file truncated: %d bytes, expected %d", mappedSize, expectedTotal)
	}
	if h.StreamsOffset() != expectedStreamsOff {
		return fmt.Errorf("streams offset mismatch: got %d, expected %d", h.StreamsOffset(), expectedStreamsOff)
	}
	if h.ThrottleOffset() != expectedThrottleOff {
		return fmt.Errorf("throttle offset mismatch: got %d, expected %d", h.ThrottleOffset(), expectedThrottleOff)
	}
	return nil
}

// Segment represents a mapped shared memory segment
type Segment struct {
	File  *os.File // File descriptor for the shared memory file
	Mem   []byte   // Memory-mapped region
	Path  string   // File path
	Owner bool     // true if this process created the segment
}

// Header returns the typed segment header.
func (s *Segment) Header() *SegmentHeader {
	return (*SegmentHeader)(unsafe.Pointer(&s.Mem[0]))
}

// ringHeaderAt returns the ring header at off.
func (s *Segment) ringHeaderAt(off uint64) *RingHeader {
	return (*RingHeader)(unsafe.Pointer(&s.Mem[off]))
}

// StreamsRing returns the target -> peer ring.
func (s *Segment) StreamsRing() *ShmRing {
	h := s.Header()
	return newShmRing(s.Mem, h.StreamsOffset(), h.StreamsCapacity())
}

// ThrottleRing returns the peer -> target ring.
func (s *Segment) ThrottleRing() *ShmRing {
	h := s.Header()
	return newShmRing(s.Mem, h.ThrottleOffset(), h.ThrottleCapacity())
}

// Close unmaps the memory and closes the file. The owner also removes the
// backing file.
func (s *Segment) Close() error {
	var result *multierror.Error

	if s.Mem != nil {
		if s.Owner {
			s.Header().SetClosed()
		}
		if err := unmapMemory(s.Mem); err != nil {
			result = multierror.Append(result, err)
		}
		s.Mem = nil
	}

	if s.File != nil {
		if err := s.File.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		s.File = nil
	}

	if s.Owner && s.Path != "" {
		if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// SegmentPath returns the backing file path for name. An empty dir selects
// /dev/shm when available and the temp directory otherwise.
func SegmentPath(dir, name string) string {
	if dir == "" {
		if isDevShmAvailable() {
			dir = "/dev/shm"
		} else {
			dir = os.TempDir()
		}
	}
	return filepath.Join(dir, segmentFilePrefix+name)
}

// isDevShmAvailable checks if /dev/shm is available
func isDevShmAvailable() bool {
	info, err := os.Stat("/dev/shm")
	if err != nil {
		return false
	}
	return info.IsDir()
}

// RemoveSegment removes a shared memory segment file
func RemoveSegment(dir, name string) error {
	return os.Remove(SegmentPath(dir, name))
}

// SegmentExists checks if a shared memory segment exists
func SegmentExists(dir, name string) bool {
	_, err := os.Stat(SegmentPath(dir, name))
	return err == nil
}
