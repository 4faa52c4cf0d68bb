//go:build linux

package shm

import (
	"context"
	"os"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestSegmentHeaderSize(t *testing.T) {
	if size := unsafe.Sizeof(SegmentHeader{}); size != SegmentHeaderSize {
		t.Errorf("SegmentHeader size = %d, want %d", size, SegmentHeaderSize)
	}
	if size := unsafe.Sizeof(RingHeader{}); size != RingHeaderSize {
		t.Errorf("RingHeader size = %d, want %d", size, RingHeaderSize)
	}
}

func TestSegmentHeaderFieldOffsets(t *testing.T) {
	h := &SegmentHeader{}

	tests := []struct {
		name   string
		offset uintptr
		want   uintptr
	}{
		{"magic", unsafe.Offsetof(h.magic), 0x00},
		{"version", unsafe.Offsetof(h.version), 0x08},
		{"totalSize", unsafe.Offsetof(h.totalSize), 0x10},
		{"streamsOff", unsafe.Offsetof(h.streamsOff), 0x18},
		{"streamsCap", unsafe.Offsetof(h.streamsCap), 0x20},
		{"throttleOff", unsafe.Offsetof(h.throttleOff), 0x28},
		{"throttleCap", unsafe.Offsetof(h.throttleCap), 0x30},
		{"ownerPID", unsafe.Offsetof(h.ownerPID), 0x38},
		{"attachedPID", unsafe.Offsetof(h.attachedPID), 0x3C},
		{"ownerReady", unsafe.Offsetof(h.ownerReady), 0x40},
		{"attachedReady", unsafe.Offsetof(h.attachedReady), 0x44},
		{"closed", unsafe.Offsetof(h.closed), 0x48},
		{"reserved", unsafe.Offsetof(h.reserved), 0x50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.offset != tt.want {
				t.Errorf("offset of %s = 0x%02X, want 0x%02X", tt.name, uint64(tt.offset), uint64(tt.want))
			}
		})
	}
}

func TestCalculateSegmentLayout(t *testing.T) {
	total, streamsOff, throttleOff, err := CalculateSegmentLayout(8192, 4096)
	require.NoError(t, err)
	require.Equal(t, uint64(128), streamsOff)
	require.Equal(t, uint64(128+64+8192), throttleOff)
	require.Equal(t, throttleOff+64+4096, total)
	require.Zero(t, total%64)

	_, _, _, err = CalculateSegmentLayout(5000, 4096)
	require.Error(t, err)
	_, _, _, err = CalculateSegmentLayout(8192, 1024)
	require.Error(t, err)
}

func TestCreateOpenLayout(t *testing.T) {
	dir, name, owner := createTestLayout(t, "create-open", 8192, 4096)
	require.True(t, SegmentExists(dir, name))

	h := owner.Segment().Header()
	require.True(t, h.OwnerReady())
	require.False(t, h.AttachedReady())
	require.Equal(t, uint32(os.Getpid()), h.OwnerPID())

	peer, err := OpenLayout(dir, name)
	require.NoError(t, err)
	defer peer.Close()

	require.True(t, h.AttachedReady())
	require.Equal(t, uint64(8192), peer.Streams().Capacity())
	require.Equal(t, uint64(4096), peer.Throttle().Capacity())

	// Both mappings see the same rings.
	require.NoError(t, peer.Throttle().Write(7, []byte("window")))
	var got []byte
	n, err := owner.Throttle().Drain(func(typeID int32, body []byte) error {
		require.Equal(t, int32(7), typeID)
		got = append(got, body...)
		return nil
	}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "window", string(got))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, owner.WaitForPeer(ctx))
	require.NoError(t, peer.WaitForPeer(ctx))
}

func TestOpenLayoutRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := SegmentPath(dir, "garbage")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0600))

	_, err := OpenLayout(dir, "garbage")
	require.ErrorContains(t, err, "invalid magic")
}

func TestCloseRemovesOwnedSegment(t *testing.T) {
	dir := t.TempDir()
	l, err := CreateLayout(dir, "owned", 4096, 4096)
	require.NoError(t, err)

	peer, err := OpenLayout(dir, "owned")
	require.NoError(t, err)
	require.NoError(t, peer.Close())
	require.True(t, SegmentExists(dir, "owned"))

	require.NoError(t, l.Close())
	require.False(t, SegmentExists(dir, "owned"))
}

func TestWaitForPeerTimesOut(t *testing.T) {
	_, _, l := createTestLayout(t, "no-peer", 4096, 4096)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.WaitForPeer(ctx), context.DeadlineExceeded)
}

func TestCrossMappingWakeup(t *testing.T) {
	dir, name, owner := createTestLayout(t, "wakeup", 4096, 4096)
	peer, err := OpenLayout(dir, name)
	require.NoError(t, err)
	defer peer.Close()

	done := make(chan error, 1)
	go func() {
		done <- owner.Throttle().WaitForData(context.Background(), 5*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, peer.Throttle().Write(1, []byte{1}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reader was not woken")
	}
}
