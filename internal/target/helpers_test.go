package target

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CDumitra/k3po-nukleus-ext.java/internal/channel"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/frame"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/future"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/transport/shm"
)

type fixture struct {
	t        *testing.T
	streams  *shm.ShmRing
	throttle *shm.ShmRing
	target   *Target
	table    *CorrelationTable
	ids      []int64
}

type fixtureOption func(*Options)

func withStreams(w StreamsWriter) fixtureOption {
	return func(o *Options) { o.Streams = w }
}

func withCorrelationLimit(t *testing.T, n int) fixtureOption {
	return func(o *Options) {
		table, err := NewCorrelationTable(n, nil)
		require.NoError(t, err)
		o.Correlations = table
	}
}

func withMaxFrameSize(n int) fixtureOption {
	return func(o *Options) { o.MaxFrameSize = n }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	streams, err := shm.NewRingBuffer(64 * 1024)
	require.NoError(t, err)
	throttle, err := shm.NewRingBuffer(16 * 1024)
	require.NoError(t, err)

	f := &fixture{t: t, streams: streams, throttle: throttle}
	o := Options{
		Streams:  streams,
		Throttle: throttle,
		CorrelationID: func() int64 {
			if len(f.ids) == 0 {
				return 42
			}
			id := f.ids[0]
			f.ids = f.ids[1:]
			return id
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Correlations == nil {
		table, err := NewCorrelationTable(DefaultCorrelationLimit, nil)
		require.NoError(t, err)
		o.Correlations = table
	}
	f.table = o.Correlations.(*CorrelationTable)

	f.target, err = New(o)
	require.NoError(t, err)
	return f
}

// frames drains and decodes everything written to the streams ring.
func (f *fixture) frames() []frame.Frame {
	f.t.Helper()
	var out []frame.Frame
	_, err := f.streams.Drain(func(typeID int32, body []byte) error {
		fr, err := frame.Decode(typeID, body)
		if err != nil {
			return err
		}
		out = append(out, fr)
		return nil
	}, 0)
	require.NoError(f.t, err)
	return out
}

// dataSizes drains the streams ring and returns the DATA payload lengths.
func (f *fixture) dataSizes() []int {
	f.t.Helper()
	var sizes []int
	for _, fr := range f.frames() {
		if d, ok := fr.(frame.Data); ok {
			sizes = append(sizes, len(d.Payload))
		}
	}
	return sizes
}

func (f *fixture) send(fr frame.Frame) {
	f.t.Helper()
	b, err := frame.Append(nil, fr)
	require.NoError(f.t, err)
	require.NoError(f.t, f.throttle.Write(fr.TypeID(), b))
}

func (f *fixture) poll() (int, error) {
	return f.target.PollThrottle()
}

func (f *fixture) window(streamID int64, update int32) {
	f.t.Helper()
	f.send(frame.Window{StreamID: streamID, Update: update})
	_, err := f.poll()
	require.NoError(f.t, err)
}

func (f *fixture) reset(streamID int64) {
	f.t.Helper()
	f.send(frame.Reset{StreamID: streamID})
	_, err := f.poll()
	require.NoError(f.t, err)
}

// accepted returns a child channel whose outbound stream is open.
func (f *fixture) accepted(targetID int64, rec *channel.Recorder, cfg channel.Config) *channel.Channel {
	f.t.Helper()
	ch := channel.New(targetID, targetID+1, cfg, rec)
	require.NoError(f.t, f.target.Accept(ch, 7))
	f.frames()
	return ch
}

func write(t *testing.T, tg *Target, ch *channel.Channel, n int) *channel.WriteRequest {
	t.Helper()
	req := channel.NewWriteRequest(make([]byte, n), nil)
	require.NoError(t, tg.Write(ch, req))
	return req
}

type failingWriter struct{ err error }

func (w failingWriter) Write(int32, []byte) error { return w.err }

func pending(f *future.Future) bool { return !f.IsDone() }
