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

// Package target turns channel operations into stream frames on a streams
// ring and applies the flow control the peer sends back on a throttle ring.
//
// A Target is not safe for concurrent use. Every method, every throttle
// transition and every correlation fulfillment must run on one goroutine;
// Poller provides that loop.
package target

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/hashicorp/go-hclog"

	"github.com/CDumitra/k3po-nukleus-ext.java/internal/channel"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/frame"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/future"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/transport/shm"
)

// DefaultPollLimit bounds the throttle records handled per PollThrottle.
const DefaultPollLimit = 256

var (
	// ErrNegativeWindow is returned for a WINDOW frame with a negative update.
	ErrNegativeWindow = errors.New("target: negative window update")

	// ErrMissingRing is returned by New when a ring capability is absent.
	ErrMissingRing = errors.New("target: streams and throttle rings are required")
)

// StreamsWriter appends one frame to the outbound ring. It either writes the
// whole frame or fails.
type StreamsWriter interface {
	Write(typeID int32, body []byte) error
}

// ThrottleReader drains inbound flow-control frames.
type ThrottleReader interface {
	Drain(handler func(typeID int32, body []byte) error, limit int) (int, error)
}

// MessageHandler handles one inbound frame for a stream.
type MessageHandler func(typeID int32, body []byte) error

// ThrottleRegistry routes inbound frames to per-stream handlers.
type ThrottleRegistry interface {
	Lookup(streamID int64) (MessageHandler, bool)
	Register(streamID int64, h MessageHandler)
	Unregister(streamID int64)
}

// Correlation is a connect waiting for the peer to answer on the reply
// stream.
type Correlation struct {
	Channel *channel.Channel
	Future  *future.Future
}

// Correlations records pending connects by correlation id.
type Correlations interface {
	Put(correlationID int64, c Correlation)
	Contains(correlationID int64) bool
}

// Options configures a Target. Streams and Throttle are required.
type Options struct {
	Logger       hclog.Logger
	Streams      StreamsWriter
	Throttle     ThrottleReader
	Throttles    ThrottleRegistry
	Correlations Correlations

	MaxFrameSize int
	PollLimit    int

	// CorrelationID draws correlation ids; nil uses math/rand/v2.
	CorrelationID func() int64

	// Closer is closed by Target.Release, typically the mapped layout.
	Closer io.Closer
}

// Target is the stream-writing side of a partition.
type Target struct {
	logger       hclog.Logger
	streams      StreamsWriter
	throttle     ThrottleReader
	throttles    ThrottleRegistry
	correlations Correlations
	writer       *frame.Writer
	pollLimit    int
	nextID       func() int64
	closer       io.Closer
}

// New returns a Target over the given capabilities.
func New(opts Options) (*Target, error) {
	if opts.Streams == nil || opts.Throttle == nil {
		return nil, ErrMissingRing
	}

	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	t := &Target{
		logger:       logger.Named("target"),
		streams:      opts.Streams,
		throttle:     opts.Throttle,
		throttles:    opts.Throttles,
		correlations: opts.Correlations,
		writer:       frame.NewWriter(opts.MaxFrameSize),
		pollLimit:    opts.PollLimit,
		nextID:       opts.CorrelationID,
		closer:       opts.Closer,
	}
	if t.throttles == nil {
		t.throttles = NewThrottleTable()
	}
	if t.correlations == nil {
		table, err := NewCorrelationTable(DefaultCorrelationLimit, logger)
		if err != nil {
			return nil, err
		}
		t.correlations = table
	}
	if t.pollLimit <= 0 {
		t.pollLimit = DefaultPollLimit
	}
	if t.nextID == nil {
		t.nextID = rand.Int64
	}
	return t, nil
}

// NewFromLayout returns a Target writing l's streams ring and reading its
// throttle ring. Releasing the Target closes l.
func NewFromLayout(l *shm.Layout, opts Options) (*Target, error) {
	opts.Streams = l.Streams()
	opts.Throttle = l.Throttle()
	opts.Closer = l
	if opts.MaxFrameSize <= 0 || opts.MaxFrameSize > l.Streams().MaxBodyLength() {
		opts.MaxFrameSize = l.Streams().MaxBodyLength()
	}
	return New(opts)
}

// Throttles returns the registry routing throttle frames.
func (t *Target) Throttles() ThrottleRegistry { return t.throttles }

// Correlations returns the pending connect table.
func (t *Target) Correlations() Correlations { return t.correlations }

// Release unmaps the underlying rings. No channel may be used afterwards.
func (t *Target) Release() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// emit hands an encoded frame to the streams ring.
func (t *Target) emit(f frame.Frame) error {
	b, err := t.writer.Encode(f)
	if err != nil {
		return err
	}
	if err := t.streams.Write(f.TypeID(), b); err != nil {
		return fmt.Errorf("write %s on stream %d: %w", frame.TypeName(f.TypeID()), f.Stream(), err)
	}
	countFrame(f.TypeID(), len(b))
	return nil
}

// correlationID draws a fresh id not held by a pending connect.
func (t *Target) correlationID() int64 {
	for {
		id := t.nextID()
		if !t.correlations.Contains(id) {
			return id
		}
		t.logger.Debug("correlation id collision, redrawing", "correlation_id", id)
	}
}

// Connect opens ch's outbound stream toward remote. connectFuture completes
// once the first WINDOW arrives and, for duplex channels, the peer has
// correlated its reply stream. If the BEGIN frame cannot be written,
// connectFuture fails and no state changes.
func (t *Target) Connect(ch *channel.Channel, remote channel.Address, connectFuture *future.Future) {
	if err := t.connect(ch, remote, connectFuture); err != nil {
		t.logger.Debug("connect failed", "stream", ch.TargetID(), "remote", remote, "error", err)
		connectFuture.Fail(err)
	}
}

func (t *Target) connect(ch *channel.Channel, remote channel.Address, connectFuture *future.Future) error {
	correlationID := t.correlationID()
	ext := ch.WriteExtension()

	err := t.emit(frame.Begin{
		StreamID:      ch.TargetID(),
		ReferenceID:   remote.Route,
		CorrelationID: correlationID,
		Extension:     ext,
	})
	if err != nil {
		return err
	}
	ch.ConsumeWriteExtension(len(ext))

	windowFuture := future.New()
	handshake := windowFuture
	if ch.Config().Duplex {
		correlated := future.New()
		t.correlations.Put(correlationID, Correlation{Channel: ch, Future: correlated})
		handshake = future.Join(windowFuture, correlated)
	}

	if !ch.IsBound() {
		local := remote.ReplyTo()
		ch.SetLocalAddr(local)
		ch.SetBound()
		ch.FireAddress(channel.EventBound, local)
	}
	ch.SetRemoteAddr(remote)

	th := newConnectThrottle(t, ch, windowFuture)
	t.throttles.Register(ch.TargetID(), th.handleThrottle)

	// The connect outcome is delivered before any deferred reset is processed.
	handshake.AddListener(func(f *future.Future) {
		if err := f.Err(); err != nil {
			connectFuture.Fail(err)
			return
		}
		ch.SetConnected()
		connectFuture.Succeed()
		ch.FireAddress(channel.EventConnected, ch.RemoteAddr())
	})
	handshake.AddListener(th.onHandshakeComplete)

	t.logger.Trace("connect", "stream", ch.TargetID(), "route", remote.Route,
		"correlation_id", correlationID, "duplex", ch.Config().Duplex)
	return nil
}

// Accept opens the outbound stream of an accepted child channel, answering
// the peer's correlationID.
func (t *Target) Accept(child *channel.Channel, correlationID int64) error {
	ext := child.WriteExtension()

	err := t.emit(frame.Begin{
		StreamID:      child.TargetID(),
		ReferenceID:   0,
		CorrelationID: correlationID,
		Extension:     ext,
	})
	if err != nil {
		return err
	}
	child.ConsumeWriteExtension(len(ext))

	th := newAcceptThrottle(t, child)
	t.throttles.Register(child.TargetID(), th.handleThrottle)

	t.logger.Trace("accept", "stream", child.TargetID(), "correlation_id", correlationID)
	return nil
}

// Write queues req and sends as much of the queue as credit allows.
func (t *Target) Write(ch *channel.Channel, req *channel.WriteRequest) error {
	switch {
	case ch.IsClosed():
		req.Future.Fail(channel.ErrClosed)
		return channel.ErrClosed
	case ch.IsAborted():
		req.Future.Fail(channel.ErrAborted)
		return channel.ErrAborted
	case ch.IsWriteClosed():
		req.Future.Fail(channel.ErrOutputShutdown)
		return channel.ErrOutputShutdown
	}
	ch.EnqueueWrite(req)
	return t.flushThrottledWrites(ch)
}

// ShutdownOutput ends ch's outbound stream. Queued writes fail. Shutting
// down an already closed outbound half succeeds without another END.
func (t *Target) ShutdownOutput(ch *channel.Channel, f *future.Future) error {
	if ch.IsWriteClosed() {
		f.Succeed()
		return nil
	}
	if err := t.end(ch); err != nil {
		f.Fail(err)
		return err
	}

	ch.FailWrites(channel.ErrOutputShutdown)
	ch.Fire(channel.EventOutputShutdown)
	f.Succeed()

	if ch.SetWriteClosed() {
		ch.FireClosed()
	}
	return nil
}

// Close ends ch's outbound stream and closes ch once both halves are done.
func (t *Target) Close(ch *channel.Channel, f *future.Future) error {
	if !ch.IsWriteClosed() {
		if err := t.end(ch); err != nil {
			f.Fail(err)
			return err
		}
	}

	ch.FailWrites(channel.ErrClosed)
	f.Succeed()

	if ch.SetClosed() {
		ch.FireClosed()
	}
	return nil
}

func (t *Target) end(ch *channel.Channel) error {
	ext := ch.WriteExtension()
	if err := t.emit(frame.End{StreamID: ch.TargetID(), Extension: ext}); err != nil {
		return err
	}
	ch.ConsumeWriteExtension(len(ext))
	return nil
}

// flushThrottledWrites sends queued writes in order while ch has credit. A
// request may be split across several DATA frames; its future succeeds once
// its last byte is written.
func (t *Target) flushThrottledWrites(ch *channel.Channel) error {
	for ch.Writable() {
		req := ch.HeadWrite()
		if req == nil {
			return nil
		}

		remaining := req.Remaining()
		pending := ch.WriteExtension()
		first := !req.Started()

		if len(remaining) > 0 || len(pending) > 0 || (first && len(req.Extension) > 0) {
			ext := pending
			if first && len(req.Extension) > 0 {
				ext = append(append([]byte(nil), pending...), req.Extension...)
			}

			n := ch.WritableBytes(len(remaining))
			if limit := t.writer.MaxPayload(len(ext)); n > limit {
				n = limit
			}

			err := t.emit(frame.Data{
				StreamID:  ch.TargetID(),
				Payload:   remaining[:n],
				Extension: ext,
			})
			if errors.Is(err, frame.ErrFrameTooLarge) {
				// The extensions alone overflow a frame; drop the request with them.
				ch.PopWrite()
				ch.ConsumeWriteExtension(len(pending))
				req.Future.Fail(err)
				t.logger.Debug("write dropped", "stream", ch.TargetID(), "error", err)
				continue
			}
			if err != nil {
				return err
			}

			ch.WrittenBytes(n)
			ch.ConsumeWriteExtension(len(pending))
			req.Advance(n)
			if first {
				req.Extension = nil
			}
			ch.FireWriteComplete(n)
		}

		if len(req.Remaining()) > 0 {
			continue
		}
		ch.PopWrite()
		req.Future.Succeed()
	}
	return nil
}

// PollThrottle drains available throttle frames and dispatches each to the
// handler registered for its stream. It never blocks. Frames for unknown
// streams are dropped.
func (t *Target) PollThrottle() (int, error) {
	return t.throttle.Drain(t.handleThrottle, t.pollLimit)
}

func (t *Target) handleThrottle(typeID int32, body []byte) error {
	streamID, err := frame.StreamID(body)
	if err != nil {
		return fmt.Errorf("throttle %s: %w", frame.TypeName(typeID), err)
	}

	handler, ok := t.throttles.Lookup(streamID)
	if !ok {
		t.logger.Trace("dropping throttle frame for unknown stream",
			"type", frame.TypeName(typeID), "stream", streamID)
		countUnknownStream()
		return nil
	}
	return handler(typeID, body)
}
