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

// Package frame defines the wire shapes of the stream protocol: BEGIN, DATA
// and END flow from the target towards the peer on the streams ring, WINDOW
// and RESET flow back on the throttle ring.
//
// Every frame starts with the 64-bit stream id, so a reader can demultiplex
// with StreamID before knowing the full shape. All integers are little-endian.
//
//	Begin:  streamId i64 | referenceId i64 | correlationId i64 | extLen u32 | ext
//	Data:   streamId i64 | payloadLen u32 | payload | extLen u32 | ext
//	End:    streamId i64 | extLen u32 | ext
//	Window: streamId i64 | update i32
//	Reset:  streamId i64
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type ids carried in the ring record header.
const (
	BeginTypeID  int32 = 0x00000001
	DataTypeID   int32 = 0x00000002
	EndTypeID    int32 = 0x00000003
	ResetTypeID  int32 = 0x40000001
	WindowTypeID int32 = 0x40000002
)

const (
	streamIDSize = 8
	lengthSize   = 4

	// HeaderSize is the size of the common frame header (the stream id).
	HeaderSize = streamIDSize
)

var (
	// ErrUnknownType is returned when a type id does not name a frame this
	// side understands. It is a protocol violation.
	ErrUnknownType = errors.New("frame: unknown type id")

	// ErrShortBuffer is returned when a buffer ends before the frame does.
	ErrShortBuffer = errors.New("frame: short buffer")
)

// Frame is implemented by the five frame shapes.
type Frame interface {
	TypeID() int32
	Stream() int64
}

// Begin opens a stream.
type Begin struct {
	StreamID      int64
	ReferenceID   int64 // routing target; 0 for accept-side streams
	CorrelationID int64
	Extension     []byte
}

// Data carries application bytes.
type Data struct {
	StreamID  int64
	Payload   []byte
	Extension []byte
}

// End terminates a stream gracefully from the sending side.
type End struct {
	StreamID  int64
	Extension []byte
}

// Window grants additional write credit.
type Window struct {
	StreamID int64
	Update   int32
}

// Reset aborts a stream.
type Reset struct {
	StreamID int64
}

func (Begin) TypeID() int32  { return BeginTypeID }
func (Data) TypeID() int32   { return DataTypeID }
func (End) TypeID() int32    { return EndTypeID }
func (Window) TypeID() int32 { return WindowTypeID }
func (Reset) TypeID() int32  { return ResetTypeID }

func (f Begin) Stream() int64  { return f.StreamID }
func (f Data) Stream() int64   { return f.StreamID }
func (f End) Stream() int64    { return f.StreamID }
func (f Window) Stream() int64 { return f.StreamID }
func (f Reset) Stream() int64  { return f.StreamID }

// TypeName returns a printable name for a type id.
func TypeName(typeID int32) string {
	switch typeID {
	case BeginTypeID:
		return "BEGIN"
	case DataTypeID:
		return "DATA"
	case EndTypeID:
		return "END"
	case WindowTypeID:
		return "WINDOW"
	case ResetTypeID:
		return "RESET"
	default:
		return fmt.Sprintf("UNKNOWN(0x%08x)", uint32(typeID))
	}
}

// Size returns the encoded size of f.
func Size(f Frame) int {
	switch f := f.(type) {
	case Begin:
		return streamIDSize + 16 + lengthSize + len(f.Extension)
	case *Begin:
		return Size(*f)
	case Data:
		return streamIDSize + lengthSize + len(f.Payload) + lengthSize + len(f.Extension)
	case *Data:
		return Size(*f)
	case End:
		return streamIDSize + lengthSize + len(f.Extension)
	case *End:
		return Size(*f)
	case Window:
		return streamIDSize + 4
	case *Window:
		return Size(*f)
	case Reset:
		return streamIDSize
	case *Reset:
		return Size(*f)
	}
	return 0
}

func appendInt64(dst []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(dst, uint64(v))
}

func appendOctets(dst []byte, b []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

// AppendBegin appends the encoding of f to dst.
func AppendBegin(dst []byte, f Begin) []byte {
	dst = appendInt64(dst, f.StreamID)
	dst = appendInt64(dst, f.ReferenceID)
	dst = appendInt64(dst, f.CorrelationID)
	return appendOctets(dst, f.Extension)
}

// AppendData appends the encoding of f to dst.
func AppendData(dst []byte, f Data) []byte {
	dst = appendInt64(dst, f.StreamID)
	dst = appendOctets(dst, f.Payload)
	return appendOctets(dst, f.Extension)
}

// AppendEnd appends the encoding of f to dst.
func AppendEnd(dst []byte, f End) []byte {
	dst = appendInt64(dst, f.StreamID)
	return appendOctets(dst, f.Extension)
}

// AppendWindow appends the encoding of f to dst.
func AppendWindow(dst []byte, f Window) []byte {
	dst = appendInt64(dst, f.StreamID)
	return binary.LittleEndian.AppendUint32(dst, uint32(f.Update))
}

// AppendReset appends the encoding of f to dst.
func AppendReset(dst []byte, f Reset) []byte {
	return appendInt64(dst, f.StreamID)
}

// Append appends the encoding of any frame shape to dst.
func Append(dst []byte, f Frame) ([]byte, error) {
	switch f := f.(type) {
	case Begin:
		return AppendBegin(dst, f), nil
	case *Begin:
		return AppendBegin(dst, *f), nil
	case Data:
		return AppendData(dst, f), nil
	case *Data:
		return AppendData(dst, *f), nil
	case End:
		return AppendEnd(dst, f), nil
	case *End:
		return AppendEnd(dst, *f), nil
	case Window:
		return AppendWindow(dst, f), nil
	case *Window:
		return AppendWindow(dst, *f), nil
	case Reset:
		return AppendReset(dst, f), nil
	case *Reset:
		return AppendReset(dst, *f), nil
	}
	return dst, fmt.Errorf("%w: %T", ErrUnknownType, f)
}

// StreamID extracts the stream id of any frame without decoding the rest.
func StreamID(b []byte) (int64, error) {
	if len(b) < HeaderSize {
		return 0, ErrShortBuffer
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// decoder walks a frame body. The first short read latches err.
type decoder struct {
	b   []byte
	err error
}

func (d *decoder) int64() int64 {
	if d.err != nil || len(d.b) < 8 {
		d.err = ErrShortBuffer
		return 0
	}
	v := int64(binary.LittleEndian.Uint64(d.b))
	d.b = d.b[8:]
	return v
}

func (d *decoder) int32() int32 {
	if d.err != nil || len(d.b) < 4 {
		d.err = ErrShortBuffer
		return 0
	}
	v := int32(binary.LittleEndian.Uint32(d.b))
	d.b = d.b[4:]
	return v
}

// octets copies the bytes out so they outlive the ring record.
func (d *decoder) octets() []byte {
	n := d.int32()
	if d.err != nil {
		return nil
	}
	if n < 0 || int(n) > len(d.b) {
		d.err = ErrShortBuffer
		return nil
	}
	v := make([]byte, n)
	copy(v, d.b[:n])
	d.b = d.b[n:]
	return v
}

// DecodeBegin decodes a BEGIN body.
func DecodeBegin(b []byte) (Begin, error) {
	d := decoder{b: b}
	f := Begin{
		StreamID:      d.int64(),
		ReferenceID:   d.int64(),
		CorrelationID: d.int64(),
	}
	f.Extension = d.octets()
	return f, d.err
}

// DecodeData decodes a DATA body.
func DecodeData(b []byte) (Data, error) {
	d := decoder{b: b}
	f := Data{StreamID: d.int64()}
	f.Payload = d.octets()
	f.Extension = d.octets()
	return f, d.err
}

// DecodeEnd decodes an END body.
func DecodeEnd(b []byte) (End, error) {
	d := decoder{b: b}
	f := End{StreamID: d.int64()}
	f.Extension = d.octets()
	return f, d.err
}

// DecodeWindow decodes a WINDOW body.
func DecodeWindow(b []byte) (Window, error) {
	d := decoder{b: b}
	f := Window{StreamID: d.int64(), Update: d.int32()}
	return f, d.err
}

// DecodeReset decodes a RESET body.
func DecodeReset(b []byte) (Reset, error) {
	d := decoder{b: b}
	f := Reset{StreamID: d.int64()}
	return f, d.err
}

// Decode decodes a frame of the given type id.
func Decode(typeID int32, b []byte) (Frame, error) {
	switch typeID {
	case BeginTypeID:
		return DecodeBegin(b)
	case DataTypeID:
		return DecodeData(b)
	case EndTypeID:
		return DecodeEnd(b)
	case WindowTypeID:
		return DecodeWindow(b)
	case ResetTypeID:
		return DecodeReset(b)
	}
	return nil, fmt.Errorf("%w: 0x%08x", ErrUnknownType, uint32(typeID))
}
