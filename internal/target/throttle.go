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

package target

import (
	"fmt"

	"github.com/CDumitra/k3po-nukleus-ext.java/internal/channel"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/frame"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/future"
)

type windowState uint8

const (
	awaitingInitialWindow windowState = iota
	windowOpen
)

type resetState uint8

const (
	// resetImmediate aborts the channel on the next RESET.
	resetImmediate resetState = iota
	// resetDeferred records a RESET until the connect handshake resolves.
	resetDeferred
	// resetDone means the stream was aborted and unregistered.
	resetDone
)

func (s resetState) String() string {
	switch s {
	case resetImmediate:
		return "immediate"
	case resetDeferred:
		return "deferred"
	case resetDone:
		return "done"
	}
	return fmt.Sprintf("resetState(%d)", uint8(s))
}

// throttle tracks flow control for one outbound stream.
type throttle struct {
	target   *Target
	ch       *channel.Channel
	streamID int64

	window       windowState
	reset        resetState
	resetPending bool

	// windowFuture succeeds on the first WINDOW of a connect-side stream.
	windowFuture *future.Future
}

func newAcceptThrottle(t *Target, ch *channel.Channel) *throttle {
	return &throttle{
		target:   t,
		ch:       ch,
		streamID: ch.TargetID(),
		window:   awaitingInitialWindow,
		reset:    resetImmediate,
	}
}

func newConnectThrottle(t *Target, ch *channel.Channel, windowFuture *future.Future) *throttle {
	return &throttle{
		target:       t,
		ch:           ch,
		streamID:     ch.TargetID(),
		window:       awaitingInitialWindow,
		reset:        resetDeferred,
		windowFuture: windowFuture,
	}
}

func (th *throttle) handleThrottle(typeID int32, body []byte) error {
	switch typeID {
	case frame.WindowTypeID:
		w, err := frame.DecodeWindow(body)
		if err != nil {
			return err
		}
		return th.onWindow(w)
	case frame.ResetTypeID:
		r, err := frame.DecodeReset(body)
		if err != nil {
			return err
		}
		th.onReset(r)
		return nil
	default:
		return fmt.Errorf("%w: %#x on throttle for stream %d", frame.ErrUnknownType, typeID, th.streamID)
	}
}

func (th *throttle) onWindow(w frame.Window) error {
	if th.reset == resetDone {
		return nil
	}
	if w.Update < 0 {
		return fmt.Errorf("%w: %d on stream %d", ErrNegativeWindow, w.Update, th.streamID)
	}

	th.ch.WindowUpdate(w.Update)
	countWindow(w.Update)
	err := th.target.flushThrottledWrites(th.ch)

	if th.window == awaitingInitialWindow {
		th.window = windowOpen
		th.target.logger.Trace("initial window", "stream", th.streamID, "update", w.Update)
		if th.windowFuture != nil {
			th.windowFuture.Succeed()
		}
	}
	return err
}

func (th *throttle) onReset(r frame.Reset) {
	switch th.reset {
	case resetDeferred:
		// Only the first RESET waits for the handshake.
		th.resetPending = true
		th.reset = resetImmediate
		countDeferredReset()
		th.target.logger.Debug("reset before handshake, deferring", "stream", th.streamID)
	case resetImmediate:
		th.abort(r)
	}
}

// onHandshakeComplete runs after the connect outcome was delivered, whether
// the handshake succeeded or failed.
func (th *throttle) onHandshakeComplete(*future.Future) {
	if th.reset == resetDeferred {
		th.reset = resetImmediate
	}
	if th.resetPending {
		th.resetPending = false
		th.onReset(frame.Reset{StreamID: th.ch.SourceID()})
	}
}

func (th *throttle) abort(r frame.Reset) {
	th.reset = resetDone
	countReset()
	th.target.logger.Debug("stream reset", "stream", th.streamID, "reset_stream", r.StreamID)

	th.ch.SetAborted()
	th.ch.DropCredit()
	th.ch.FailWrites(channel.ErrAborted)
	th.ch.Fire(channel.EventAborted)
	th.target.throttles.Unregister(th.streamID)
}
