package target

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CDumitra/k3po-nukleus-ext.java/internal/channel"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/frame"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/future"
)

var remote = channel.Address{Partition: "target", Route: 9}

// timeline records channel events and connect outcomes in one ordered log.
type timeline struct {
	entries []string
}

func (l *timeline) HandleEvent(e channel.Event) {
	l.entries = append(l.entries, e.Type.String())
}

func (l *timeline) watch(f *future.Future) {
	f.AddListener(func(f *future.Future) {
		if err := f.Err(); err != nil {
			l.entries = append(l.entries, "connect-failed")
			return
		}
		l.entries = append(l.entries, "connect-succeeded")
	})
}

func (f *fixture) connect(ch *channel.Channel) *future.Future {
	f.t.Helper()
	cf := future.New()
	f.target.Connect(ch, remote, cf)
	return cf
}

func TestConnectEmitsBeginAndBinds(t *testing.T) {
	f := newFixture(t)
	f.ids = []int64{1234}
	var rec channel.Recorder
	ch := channel.New(3, 4, channel.Config{}, &rec)
	ch.AppendWriteExtension([]byte("hi"))

	cf := f.connect(ch)

	frames := f.frames()
	require.Len(t, frames, 1)
	require.Equal(t, frame.Begin{StreamID: 3, ReferenceID: 9, CorrelationID: 1234, Extension: []byte("hi")}, frames[0])
	require.Empty(t, ch.WriteExtension())

	require.True(t, pending(cf))
	require.True(t, ch.IsBound())
	require.Equal(t, remote.ReplyTo(), ch.LocalAddr())
	require.Equal(t, remote, ch.RemoteAddr())
	require.Equal(t, []channel.EventType{channel.EventBound}, rec.Types())
	require.Zero(t, f.table.Len())

	f.window(3, 10)
	require.True(t, cf.IsSuccess())
	require.True(t, ch.IsConnected())
	require.Equal(t, []channel.EventType{channel.EventBound, channel.EventConnected}, rec.Types())
	require.Equal(t, remote, rec.Events()[1].Address)
	require.Equal(t, int64(10), ch.Credit())
}

func TestConnectKeepsExistingBinding(t *testing.T) {
	f := newFixture(t)
	var rec channel.Recorder
	ch := channel.New(3, 4, channel.Config{}, &rec)
	local := channel.Address{Partition: "mine", Route: 1}
	ch.SetLocalAddr(local)
	ch.SetBound()

	f.connect(ch)
	require.Equal(t, local, ch.LocalAddr())
	require.Empty(t, rec.Types())
}

func TestConnectDuplexHandshake(t *testing.T) {
	t.Run("window first", func(t *testing.T) {
		f := newFixture(t)
		ch := channel.New(3, 4, channel.Config{Duplex: true}, nil)
		cf := f.connect(ch)
		require.Equal(t, 1, f.table.Len())

		f.window(3, 10)
		require.True(t, pending(cf))

		got, ok := f.table.Fulfill(42)
		require.True(t, ok)
		require.Same(t, ch, got)
		require.True(t, cf.IsSuccess())
		require.Zero(t, f.table.Len())
	})

	t.Run("correlation first", func(t *testing.T) {
		f := newFixture(t)
		ch := channel.New(3, 4, channel.Config{Duplex: true}, nil)
		cf := f.connect(ch)

		_, ok := f.table.Fulfill(42)
		require.True(t, ok)
		require.True(t, pending(cf))

		f.window(3, 10)
		require.True(t, cf.IsSuccess())
		require.True(t, ch.IsConnected())
	})

	t.Run("rejected", func(t *testing.T) {
		f := newFixture(t)
		ch := channel.New(3, 4, channel.Config{Duplex: true}, nil)
		cf := f.connect(ch)

		refused := errors.New("refused")
		require.True(t, f.table.Reject(42, refused))
		require.ErrorIs(t, cf.Err(), refused)
		require.False(t, ch.IsConnected())

		f.window(3, 10)
		require.ErrorIs(t, cf.Err(), refused)
	})
}

func TestConnectFailureIsAtomic(t *testing.T) {
	boom := errors.New("boom")
	f := newFixture(t, withStreams(failingWriter{boom}))
	var rec channel.Recorder
	ch := channel.New(3, 4, channel.Config{Duplex: true}, &rec)
	ch.AppendWriteExtension([]byte("keep"))

	cf := f.connect(ch)

	require.ErrorIs(t, cf.Err(), boom)
	require.False(t, ch.IsBound())
	require.Equal(t, []byte("keep"), ch.WriteExtension())
	require.Empty(t, rec.Types())
	require.Zero(t, f.table.Len())
	_, ok := f.target.Throttles().Lookup(3)
	require.False(t, ok)
}

func TestConnectRedrawsCollidingCorrelationID(t *testing.T) {
	f := newFixture(t)
	f.ids = []int64{5, 5, 6}

	f.connect(channel.New(3, 4, channel.Config{Duplex: true}, nil))
	f.connect(channel.New(13, 14, channel.Config{Duplex: true}, nil))

	frames := f.frames()
	require.Len(t, frames, 2)
	require.Equal(t, int64(5), frames[0].(frame.Begin).CorrelationID)
	require.Equal(t, int64(6), frames[1].(frame.Begin).CorrelationID)
	require.True(t, f.table.Contains(5))
	require.True(t, f.table.Contains(6))
}

func TestConnectEvictedCorrelationFailsConnect(t *testing.T) {
	f := newFixture(t, withCorrelationLimit(t, 1))
	f.ids = []int64{1, 2}

	first := f.connect(channel.New(3, 4, channel.Config{Duplex: true}, nil))
	second := f.connect(channel.New(13, 14, channel.Config{Duplex: true}, nil))

	require.ErrorIs(t, first.Err(), ErrCorrelationEvicted)
	require.True(t, pending(second))
}

func TestResetBeforeHandshakeIsDeferred(t *testing.T) {
	f := newFixture(t)
	var log timeline
	ch := channel.New(3, 4, channel.Config{}, &log)
	cf := f.connect(ch)
	log.watch(cf)

	f.reset(3)
	require.Equal(t, []string{"bound"}, log.entries)
	require.True(t, pending(cf))
	_, ok := f.target.Throttles().Lookup(3)
	require.True(t, ok)

	f.window(3, 10)
	require.Equal(t, []string{"bound", "connect-succeeded", "connected", "aborted"}, log.entries)
	require.True(t, ch.IsAborted())
	_, ok = f.target.Throttles().Lookup(3)
	require.False(t, ok)
}

func TestResetBeforeFailedHandshakeIsDeferred(t *testing.T) {
	f := newFixture(t)
	var log timeline
	ch := channel.New(3, 4, channel.Config{Duplex: true}, &log)
	cf := f.connect(ch)
	log.watch(cf)

	f.reset(3)
	require.Equal(t, []string{"bound"}, log.entries)

	require.True(t, f.table.Reject(42, errors.New("refused")))
	require.Equal(t, []string{"bound", "connect-failed", "aborted"}, log.entries)
	_, ok := f.target.Throttles().Lookup(3)
	require.False(t, ok)
}

func TestSecondResetBeforeHandshakeAborts(t *testing.T) {
	f := newFixture(t)
	var rec channel.Recorder
	ch := channel.New(3, 4, channel.Config{}, &rec)
	cf := f.connect(ch)

	f.reset(3)
	f.reset(3)
	require.Equal(t, 1, rec.Count(channel.EventAborted))
	require.True(t, pending(cf))

	// The stream is gone; the window never reaches a throttle.
	f.window(3, 10)
	require.True(t, pending(cf))
	require.Equal(t, 1, rec.Count(channel.EventAborted))
}

func TestResetAfterHandshakeAbortsImmediately(t *testing.T) {
	f := newFixture(t)
	var rec channel.Recorder
	ch := channel.New(3, 4, channel.Config{}, &rec)
	cf := f.connect(ch)
	f.window(3, 1)
	require.True(t, cf.IsSuccess())

	req := write(t, f.target, ch, 10)
	f.reset(3)

	require.Equal(t, 1, rec.Count(channel.EventAborted))
	require.ErrorIs(t, req.Future.Err(), channel.ErrAborted)
	require.Zero(t, ch.PendingWrites())
	_, ok := f.target.Throttles().Lookup(3)
	require.False(t, ok)
}

func TestWriteAfterResetFails(t *testing.T) {
	f := newFixture(t)
	ch := f.accepted(1, nil, channel.Config{})
	f.window(1, 100)
	f.reset(1)
	require.Zero(t, ch.Credit())

	req := channel.NewWriteRequest(make([]byte, 10), nil)
	require.ErrorIs(t, f.target.Write(ch, req), channel.ErrAborted)
	require.ErrorIs(t, req.Future.Err(), channel.ErrAborted)
	require.Empty(t, f.dataSizes())
	require.Zero(t, ch.PendingWrites())
}

func TestAcceptSideThrottle(t *testing.T) {
	f := newFixture(t)
	var rec channel.Recorder
	ch := f.accepted(1, &rec, channel.Config{})

	_, ok := f.target.Throttles().Lookup(1)
	require.True(t, ok)

	f.window(1, 5)
	f.window(1, 5)
	require.Equal(t, int64(10), ch.Credit())

	f.reset(1)
	require.Equal(t, []channel.EventType{channel.EventAborted}, rec.Types())
	require.Zero(t, ch.Credit())

	// Frames after the reset are dropped.
	f.window(1, 5)
	require.Zero(t, ch.Credit())
}

func TestThrottleStateTransitions(t *testing.T) {
	f := newFixture(t)

	accept := newAcceptThrottle(f.target, channel.New(1, 2, channel.Config{}, nil))
	require.Equal(t, awaitingInitialWindow, accept.window)
	require.Equal(t, resetImmediate, accept.reset)
	require.NoError(t, accept.onWindow(frame.Window{StreamID: 1, Update: 1}))
	require.Equal(t, windowOpen, accept.window)

	wf := future.New()
	connect := newConnectThrottle(f.target, channel.New(3, 4, channel.Config{}, nil), wf)
	require.Equal(t, resetDeferred, connect.reset)
	connect.onReset(frame.Reset{StreamID: 3})
	require.True(t, connect.resetPending)
	require.Equal(t, resetImmediate, connect.reset)

	require.NoError(t, connect.onWindow(frame.Window{StreamID: 3, Update: 1}))
	require.True(t, wf.IsSuccess())
	connect.onHandshakeComplete(wf)
	require.False(t, connect.resetPending)
	require.Equal(t, resetDone, connect.reset)
	require.Equal(t, "done", fmt.Sprint(connect.reset))
}
