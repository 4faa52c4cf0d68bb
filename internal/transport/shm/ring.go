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
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"
)

var (
	// ErrRingClosed indicates that the ring has been closed for writing
	ErrRingClosed = errors.New("ring closed")

	// ErrRingFull is returned by Write when the record does not fit in the
	// free space. Nothing is written.
	ErrRingFull = errors.New("ring full")

	// ErrRecordTooLarge is returned for records that can never fit the ring.
	ErrRecordTooLarge = errors.New("record exceeds ring maximum")

	// ErrCorruptRecord is returned by Drain when a record header is invalid.
	ErrCorruptRecord = errors.New("corrupt ring record")
)

const (
	// RecordHeaderSize is the per-record prefix: length u32, type id i32.
	RecordHeaderSize = 8

	// RecordAlignment is the alignment of every record start.
	RecordAlignment = 8

	// PaddingTypeID marks filler records written before a wrap.
	PaddingTypeID = int32(-1)
)

// RingState represents a snapshot of ring buffer state for debugging and diagnostics
type RingState struct {
	Capacity uint64 // Total ring capacity in bytes
	Widx     uint64 // Current write index (monotonic)
	Ridx     uint64 // Current read index (monotonic)
	Used     uint64 // Bytes currently in ring (Widx - Ridx)
	DataSeq  uint32 // Data availability sequence number
	SpaceSeq uint32 // Space availability sequence number
	Closed   bool   // Ring closed flag
}

func (s RingState) String() string {
	return fmt.Sprintf("cap=%d widx=%d ridx=%d used=%d dataSeq=%d spaceSeq=%d closed=%t",
		s.Capacity, s.Widx, s.Ridx, s.Used, s.DataSeq, s.SpaceSeq, s.Closed)
}

// ShmRing is a single-producer single-consumer ring of typed records over a
// RingHeader and its data area. The backing memory is either a shared
// mapping or a heap buffer from NewRingBuffer.
//
// Write never blocks: a record is either appended whole or rejected. Drain
// hands out views into the data area that are valid only during the handler
// call.
type ShmRing struct {
	hdr      *RingHeader
	data     []byte
	capacity uint64
	capMask  uint64 // capacity-1 for fast masking (capacity must be power of 2)
}

// newShmRing builds a ring over mem[off:]; the header at off must already
// hold capacity.
func newShmRing(mem []byte, off, capacity uint64) *ShmRing {
	dataOff := off + RingHeaderSize
	return &ShmRing{
		hdr:      (*RingHeader)(unsafe.Pointer(&mem[off])),
		data:     mem[dataOff : dataOff+capacity : dataOff+capacity],
		capacity: capacity,
		capMask:  capacity - 1,
	}
}

// Capacity returns the ring capacity
func (r *ShmRing) Capacity() uint64 {
	return r.capacity
}

// MaxRecordLength is the largest record, header included, Write accepts.
// Half the capacity guarantees any accepted record fits once the reader
// catches up, whatever the wrap position.
func (r *ShmRing) MaxRecordLength() int {
	return int(r.capacity / 2)
}

// MaxBodyLength is the largest body Write accepts.
func (r *ShmRing) MaxBodyLength() int {
	return r.MaxRecordLength() - RecordHeaderSize
}

// Used returns the number of bytes currently in the ring, padding included.
func (r *ShmRing) Used() uint64 {
	return r.hdr.Used()
}

// Closed reports whether the producer closed the ring.
func (r *ShmRing) Closed() bool {
	return r.hdr.Closed()
}

// Close marks the ring closed and wakes waiting readers and writers.
// Records already written remain drainable.
func (r *ShmRing) Close() {
	r.hdr.SetClosed(true)
	r.Wake()
	r.hdr.IncrementSpaceSequence()
	futexWake(&r.hdr.spaceSeq, 1<<30)
}

// DebugState returns a snapshot of the current ring state for debugging and diagnostics.
func (r *ShmRing) DebugState() RingState {
	widx := r.hdr.WriteIndex()
	ridx := r.hdr.ReadIndex()
	return RingState{
		Capacity: r.capacity,
		Widx:     widx,
		Ridx:     ridx,
		Used:     widx - ridx,
		DataSeq:  r.hdr.DataSequence(),
		SpaceSeq: r.hdr.SpaceSequence(),
		Closed:   r.hdr.Closed(),
	}
}

func alignRecord(n uint64) uint64 {
	return (n + RecordAlignment - 1) &^ (RecordAlignment - 1)
}

func (r *ShmRing) putRecordHeader(pos uint64, length uint32, typeID int32) {
	binary.LittleEndian.PutUint32(r.data[pos:], length)
	binary.LittleEndian.PutUint32(r.data[pos+4:], uint32(typeID))
}

// Write appends one record carrying typeID and a copy of body.
//
// The reader is woken only when the ring goes from empty to non-empty.
func (r *ShmRing) Write(typeID int32, body []byte) error {
	if r.hdr.Closed() {
		return ErrRingClosed
	}
	if typeID == PaddingTypeID {
		return fmt.Errorf("shm: type id %d is reserved for padding", typeID)
	}

	length := uint64(RecordHeaderSize + len(body))
	aligned := alignRecord(length)
	if aligned > uint64(r.MaxRecordLength()) {
		return fmt.Errorf("%w: %d bytes, max %d", ErrRecordTooLarge, length, r.MaxRecordLength())
	}

	widx := r.hdr.WriteIndex()
	ridx := r.hdr.ReadIndex()
	usedBefore := widx - ridx
	free := r.capacity - usedBefore

	pos := widx & r.capMask
	toEnd := r.capacity - pos

	required := aligned
	if aligned > toEnd {
		required += toEnd
	}
	if required > free {
		return ErrRingFull
	}

	if aligned > toEnd {
		// Fill the tail with padding and start the record at offset 0.
		r.putRecordHeader(pos, uint32(toEnd), PaddingTypeID)
		widx += toEnd
		pos = 0
	}

	copy(r.data[pos+RecordHeaderSize:], body)
	r.putRecordHeader(pos, uint32(length), typeID)

	// Publish after the record bytes are in place.
	r.hdr.SetWriteIndex(widx + aligned)

	if usedBefore == 0 {
		r.hdr.IncrementDataSequence()
		futexWake(&r.hdr.dataSeq, 1)
	}
	return nil
}

// Drain delivers up to limit records to handler in write order and returns
// how many were delivered. A limit <= 0 drains everything available. A
// record is consumed even when its handler fails; the first handler error
// stops the drain and is returned.
//
// The body passed to handler aliases ring memory and must not be retained.
func (r *ShmRing) Drain(handler func(typeID int32, body []byte) error, limit int) (int, error) {
	ridx := r.hdr.ReadIndex()
	widx := r.hdr.WriteIndex()
	start := ridx
	count := 0

	var err error
	for ridx < widx && (limit <= 0 || count < limit) {
		pos := ridx & r.capMask
		length := uint64(binary.LittleEndian.Uint32(r.data[pos:]))
		typeID := int32(binary.LittleEndian.Uint32(r.data[pos+4:]))

		if length < RecordHeaderSize || pos+length > r.capacity {
			err = fmt.Errorf("%w: length %d at index %d", ErrCorruptRecord, length, ridx)
			break
		}
		aligned := alignRecord(length)

		if typeID == PaddingTypeID {
			ridx += aligned
			r.hdr.SetReadIndex(ridx)
			continue
		}

		herr := handler(typeID, r.data[pos+RecordHeaderSize:pos+length])
		ridx += aligned
		r.hdr.SetReadIndex(ridx)
		count++
		if herr != nil {
			err = herr
			break
		}
	}

	if ridx != start {
		r.hdr.IncrementSpaceSequence()
		futexWake(&r.hdr.spaceSeq, 1)
	}
	return count, err
}

// WaitForData blocks until the ring is non-empty, Wake is called, ctx is
// done or timeout elapses. A non-positive timeout waits until one of the
// other conditions holds. It returns nil when data may be available; callers
// drain and re-check. Once the ring is closed and empty it returns
// ErrRingClosed.
func (r *ShmRing) WaitForData(ctx context.Context, timeout time.Duration) error {
	return r.wait(ctx, timeout, &r.hdr.dataSeq, func() (bool, error) {
		if r.hdr.Used() > 0 {
			return true, nil
		}
		if r.hdr.Closed() {
			return true, ErrRingClosed
		}
		return false, nil
	})
}

// WaitForSpace blocks until at least n bytes are free, with the same
// termination rules as WaitForData.
func (r *ShmRing) WaitForSpace(ctx context.Context, n uint64, timeout time.Duration) error {
	return r.wait(ctx, timeout, &r.hdr.spaceSeq, func() (bool, error) {
		if r.hdr.Closed() {
			return true, ErrRingClosed
		}
		return r.hdr.Available() >= n, nil
	})
}

// Wake releases a reader parked in WaitForData without writing a record.
func (r *ShmRing) Wake() {
	r.hdr.IncrementDataSequence()
	futexWake(&r.hdr.dataSeq, 1<<30)
}

// waitSlice bounds each futex wait so ctx cancellation is observed.
const waitSlice = 10 * time.Millisecond

func (r *ShmRing) wait(ctx context.Context, timeout time.Duration, seq *uint32, ready func() (bool, error)) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	// Snapshot the sequence before checking the condition so a wake
	// between the two is not lost. Any change to it ends the wait.
	s := atomic.LoadUint32(seq)
	for {
		if ok, err := ready(); ok {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if atomic.LoadUint32(seq) != s {
			return nil
		}

		slice := waitSlice
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ErrFutexTimeout
			}
			if remaining < slice {
				slice = remaining
			}
		}

		err := futexWaitTimeout(seq, s, int64(slice))
		switch {
		case err == nil, errors.Is(err, ErrFutexTimeout):
		case errors.Is(err, ErrUnsupported):
			time.Sleep(time.Millisecond)
		default:
			return err
		}
	}
}
