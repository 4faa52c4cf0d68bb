//go:build linux

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CDumitra/k3po-nukleus-ext.java/internal/frame"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/transport/shm"
)

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func drainFrames(t *testing.T, ring *shm.ShmRing) []frame.Frame {
	t.Helper()
	var frames []frame.Frame
	_, err := ring.Drain(func(typeID int32, body []byte) error {
		f, err := frame.Decode(typeID, body)
		if err != nil {
			return err
		}
		frames = append(frames, f)
		return nil
	}, 0)
	require.NoError(t, err)
	return frames
}

func TestCapacity(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, context.Background(), "--dir", dir, "capacity", "probe")
	require.NoError(t, err)

	require.Contains(t, out, "Streams ring capacity: 1048576 bytes")
	require.Contains(t, out, "Size 65536 bytes: OK")
	require.Contains(t, out, "Size 524288 bytes: FAIL")
	require.Contains(t, out, "Full after")
	require.False(t, shm.SegmentExists(dir, "probe"))
}

func TestInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`streams_capacity = 1000`), 0o600))

	_, err := execute(t, context.Background(), "--config", path, "capacity")
	require.ErrorContains(t, err, "not a power of two")
}

func TestDumpGrantsCredit(t *testing.T) {
	dir := t.TempDir()
	layout, err := shm.CreateLayout(dir, "dump", 64*1024, 16*1024)
	require.NoError(t, err)
	defer layout.Close()

	for _, f := range []frame.Frame{
		frame.Begin{StreamID: 3, ReferenceID: 9, CorrelationID: 42},
		frame.Data{StreamID: 3, Payload: []byte("hello")},
		frame.End{StreamID: 3},
	} {
		b, err := frame.Append(nil, f)
		require.NoError(t, err)
		require.NoError(t, layout.Streams().Write(f.TypeID(), b))
	}

	out, err := execute(t, context.Background(), "--dir", dir, "dump", "dump", "--window", "100")
	require.NoError(t, err)
	require.Contains(t, out, "BEGIN stream=3 reference=9 correlation=42")
	require.Contains(t, out, `DATA stream=3 len=5 payload="hello"`)
	require.Contains(t, out, "END stream=3")

	require.Equal(t, []frame.Frame{
		frame.Window{StreamID: 3, Update: 100},
		frame.Window{StreamID: 3, Update: 5},
	}, drainFrames(t, layout.Throttle()))
}

func TestInject(t *testing.T) {
	dir := t.TempDir()
	layout, err := shm.CreateLayout(dir, "inject", 64*1024, 16*1024)
	require.NoError(t, err)
	defer layout.Close()

	_, err = execute(t, context.Background(), "--dir", dir, "inject", "window", "inject", "3", "10")
	require.NoError(t, err)
	_, err = execute(t, context.Background(), "--dir", dir, "inject", "reset", "inject", "3")
	require.NoError(t, err)

	require.Equal(t, []frame.Frame{
		frame.Window{StreamID: 3, Update: 10},
		frame.Reset{StreamID: 3},
	}, drainFrames(t, layout.Throttle()))

	_, err = execute(t, context.Background(), "--dir", dir, "inject", "window", "inject", "3", "-1")
	require.Error(t, err)
}

func TestCreateConnectsAndWrites(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		_, err := execute(t, ctx, "--dir", dir, "create", "e2e", "--wait",
			"--connect", "shm://peer?route=9", "--send", "hello")
		errc <- err
	}()

	var layout *shm.Layout
	require.Eventually(t, func() bool {
		l, err := shm.OpenLayout(dir, "e2e")
		if err != nil {
			return false
		}
		if !l.Segment().Header().OwnerReady() {
			l.Close()
			return false
		}
		layout = l
		return true
	}, 5*time.Second, 10*time.Millisecond)
	defer layout.Close()

	var frames []frame.Frame
	require.Eventually(t, func() bool {
		frames = append(frames, drainFrames(t, layout.Streams())...)
		return len(frames) > 0
	}, 5*time.Second, 10*time.Millisecond)
	begin, ok := frames[0].(frame.Begin)
	require.True(t, ok)
	require.Equal(t, int64(1), begin.StreamID)
	require.Equal(t, int64(9), begin.ReferenceID)

	b, err := frame.Append(nil, frame.Window{StreamID: 1, Update: 16})
	require.NoError(t, err)
	require.NoError(t, layout.Throttle().Write(frame.WindowTypeID, b))

	require.Eventually(t, func() bool {
		frames = append(frames, drainFrames(t, layout.Streams())...)
		return len(frames) > 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, frame.Data{StreamID: 1, Payload: []byte("hello"), Extension: []byte{}}, frames[1])

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("create did not stop")
	}
	require.False(t, shm.SegmentExists(dir, "e2e"))
}
