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

// Package channel models the duplex channel endpoint that the stream target
// drives: its stream ids, outbound extension bytes, write credit, queued
// writes and lifecycle.
//
// A Channel is not safe for concurrent use. All calls happen on the event
// loop that owns it.
package channel

import (
	"errors"

	"github.com/CDumitra/k3po-nukleus-ext.java/internal/future"
)

var (
	// ErrClosed fails writes queued on a channel that is closed.
	ErrClosed = errors.New("channel: closed")

	// ErrOutputShutdown fails writes queued or issued after output shutdown.
	ErrOutputShutdown = errors.New("channel: output shut down")

	// ErrAborted fails writes queued on a channel the peer reset.
	ErrAborted = errors.New("channel: aborted")
)

// Config holds per-channel options.
type Config struct {
	// Duplex channels own an inbound stream as well; a connect completes only
	// after the peer correlates its reply stream.
	Duplex bool `mapstructure:"duplex"`
}

// WriteRequest is one queued application write.
type WriteRequest struct {
	Payload   []byte
	Extension []byte
	Future    *future.Future

	sent int
}

// NewWriteRequest returns a request with a fresh pending future.
func NewWriteRequest(payload, ext []byte) *WriteRequest {
	return &WriteRequest{Payload: payload, Extension: ext, Future: future.New()}
}

// Remaining returns the payload bytes not yet sent.
func (r *WriteRequest) Remaining() []byte { return r.Payload[r.sent:] }

// Started reports whether any slice of the request has been sent.
func (r *WriteRequest) Started() bool { return r.sent > 0 }

// Advance marks n more payload bytes as sent.
func (r *WriteRequest) Advance(n int) { r.sent += n }

// Channel is one endpoint of a stream. TargetID names the stream this side
// writes; SourceID names the stream it reads.
type Channel struct {
	targetID int64
	sourceID int64
	config   Config
	sink     EventSink

	localAddr  Address
	remoteAddr Address

	writeExt []byte
	credit   int64
	writes   []*WriteRequest

	bound       bool
	connected   bool
	readClosed  bool
	writeClosed bool
	closed      bool
	aborted     bool
}

// New returns a channel writing targetID and reading sourceID.
func New(targetID, sourceID int64, config Config, sink EventSink) *Channel {
	if sink == nil {
		sink = EventSinkFunc(func(Event) {})
	}
	return &Channel{
		targetID: targetID,
		sourceID: sourceID,
		config:   config,
		sink:     sink,
		// Without an inbound stream there is nothing to wait for on the read side.
		readClosed: !config.Duplex,
	}
}

func (c *Channel) TargetID() int64     { return c.targetID }
func (c *Channel) SourceID() int64     { return c.sourceID }
func (c *Channel) Config() Config      { return c.config }
func (c *Channel) LocalAddr() Address  { return c.localAddr }
func (c *Channel) RemoteAddr() Address { return c.remoteAddr }

func (c *Channel) SetLocalAddr(a Address)  { c.localAddr = a }
func (c *Channel) SetRemoteAddr(a Address) { c.remoteAddr = a }

// Fire delivers an event for this channel.
func (c *Channel) Fire(t EventType) {
	c.sink.HandleEvent(Event{Type: t, Channel: c})
}

// FireAddress delivers an address-carrying event.
func (c *Channel) FireAddress(t EventType, a Address) {
	c.sink.HandleEvent(Event{Type: t, Channel: c, Address: a})
}

// FireWriteComplete reports n bytes handed to the streams ring.
func (c *Channel) FireWriteComplete(n int) {
	c.sink.HandleEvent(Event{Type: EventWriteComplete, Channel: c, Bytes: n})
}

// FireClosed runs the full close sequence.
func (c *Channel) FireClosed() {
	c.Fire(EventDisconnected)
	c.Fire(EventUnbound)
	c.Fire(EventClosed)
}

// AppendWriteExtension adds bytes for the next outbound frame's extension.
func (c *Channel) AppendWriteExtension(b []byte) {
	c.writeExt = append(c.writeExt, b...)
}

// WriteExtension returns the pending extension bytes without consuming them.
func (c *Channel) WriteExtension() []byte { return c.writeExt }

// ConsumeWriteExtension drops the first n pending extension bytes.
func (c *Channel) ConsumeWriteExtension(n int) {
	if n >= len(c.writeExt) {
		c.writeExt = c.writeExt[:0]
		return
	}
	c.writeExt = append(c.writeExt[:0], c.writeExt[n:]...)
}

// WindowUpdate adds n bytes of credit.
func (c *Channel) WindowUpdate(n int32) { c.credit += int64(n) }

// Credit returns the current write credit.
func (c *Channel) Credit() int64 { return c.credit }

// DropCredit discards all remaining credit.
func (c *Channel) DropCredit() { c.credit = 0 }

// Writable reports whether any credit is available.
func (c *Channel) Writable() bool { return c.credit > 0 }

// WritableBytes returns how many of n bytes may be sent now.
func (c *Channel) WritableBytes(n int) int {
	if int64(n) > c.credit {
		return int(c.credit)
	}
	return n
}

// WrittenBytes debits n bytes of credit.
func (c *Channel) WrittenBytes(n int) {
	if int64(n) > c.credit {
		panic("channel: wrote more bytes than credit allows")
	}
	c.credit -= int64(n)
}

// EnqueueWrite appends r to the FIFO write queue.
func (c *Channel) EnqueueWrite(r *WriteRequest) { c.writes = append(c.writes, r) }

// HeadWrite returns the oldest queued write, or nil.
func (c *Channel) HeadWrite() *WriteRequest {
	if len(c.writes) == 0 {
		return nil
	}
	return c.writes[0]
}

// PopWrite removes the oldest queued write.
func (c *Channel) PopWrite() *WriteRequest {
	if len(c.writes) == 0 {
		return nil
	}
	r := c.writes[0]
	c.writes[0] = nil
	c.writes = c.writes[1:]
	return r
}

// PendingWrites returns the queue length.
func (c *Channel) PendingWrites() int { return len(c.writes) }

// FailWrites fails and drops every queued write.
func (c *Channel) FailWrites(err error) {
	writes := c.writes
	c.writes = nil
	for _, r := range writes {
		r.Future.Fail(err)
	}
}

func (c *Channel) IsBound() bool       { return c.bound }
func (c *Channel) IsConnected() bool   { return c.connected }
func (c *Channel) IsReadClosed() bool  { return c.readClosed }
func (c *Channel) IsWriteClosed() bool { return c.writeClosed }
func (c *Channel) IsClosed() bool      { return c.closed }
func (c *Channel) IsAborted() bool     { return c.aborted }

func (c *Channel) SetBound()     { c.bound = true }
func (c *Channel) SetConnected() { c.connected = true }
func (c *Channel) SetAborted()   { c.aborted = true }

// SetWriteClosed marks the outbound half closed. It reports true when this
// completes the channel close and the close sequence must fire.
func (c *Channel) SetWriteClosed() bool {
	if c.writeClosed {
		return false
	}
	c.writeClosed = true
	return c.finishClose()
}

// SetReadClosed marks the inbound half closed. It reports true when this
// completes the channel close.
func (c *Channel) SetReadClosed() bool {
	if c.readClosed {
		return false
	}
	c.readClosed = true
	return c.finishClose()
}

// SetClosed requests a full close and closes the outbound half. It reports
// true when the channel is now closed; a duplex channel whose inbound half is
// still open finishes closing on SetReadClosed.
func (c *Channel) SetClosed() bool {
	if c.closed {
		return false
	}
	c.writeClosed = true
	return c.finishClose()
}

func (c *Channel) finishClose() bool {
	if c.closed {
		return false
	}
	if c.readClosed && c.writeClosed {
		c.closed = true
		return true
	}
	return false
}
