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

package frame

import (
	"errors"
	"fmt"
)

// DefaultMaxFrameSize bounds a single encoded frame.
const DefaultMaxFrameSize = 64 * 1024

// ErrFrameTooLarge is returned when a frame does not fit the encode arena.
var ErrFrameTooLarge = errors.New("frame: frame larger than encode buffer")

// Writer encodes frames into one reusable buffer.
//
// The slice returned by Encode aliases that buffer and is valid only until the
// next call to Encode. Callers hand it straight to the ring (which copies) and
// never retain it.
type Writer struct {
	buf []byte
	max int
}

// NewWriter returns a Writer whose frames are at most maxFrameSize bytes.
func NewWriter(maxFrameSize int) *Writer {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Writer{buf: make([]byte, 0, maxFrameSize), max: maxFrameSize}
}

// MaxFrameSize returns the arena size.
func (w *Writer) MaxFrameSize() int { return w.max }

// MaxPayload returns the largest DATA payload that fits next to ext.
func (w *Writer) MaxPayload(ext int) int {
	n := w.max - Size(Data{}) - ext
	if n < 0 {
		return 0
	}
	return n
}

// Encode encodes f and returns the frame bytes, valid until the next Encode.
func (w *Writer) Encode(f Frame) ([]byte, error) {
	if n := Size(f); n > w.max {
		return nil, fmt.Errorf("%w: %s of %d bytes, limit %d", ErrFrameTooLarge, TypeName(f.TypeID()), n, w.max)
	}
	b, err := Append(w.buf[:0], f)
	if err != nil {
		return nil, err
	}
	w.buf = b[:0]
	return b, nil
}
