package channel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCredit(t *testing.T) {
	c := New(1, 2, Config{}, nil)
	require.False(t, c.Writable())
	require.Equal(t, 0, c.WritableBytes(10))

	c.WindowUpdate(100)
	require.True(t, c.Writable())
	require.Equal(t, 80, c.WritableBytes(80))
	c.WrittenBytes(80)
	require.Equal(t, 20, c.WritableBytes(90))
	c.WrittenBytes(20)
	require.False(t, c.Writable())
	require.Panics(t, func() { c.WrittenBytes(1) })

	c.WindowUpdate(7)
	c.DropCredit()
	require.Zero(t, c.Credit())
	require.False(t, c.Writable())
}

func TestWriteExtension(t *testing.T) {
	c := New(1, 2, Config{}, nil)
	c.AppendWriteExtension([]byte("abc"))
	c.AppendWriteExtension([]byte("def"))
	require.Equal(t, []byte("abcdef"), c.WriteExtension())

	c.ConsumeWriteExtension(2)
	require.Equal(t, []byte("cdef"), c.WriteExtension())
	c.ConsumeWriteExtension(10)
	require.Empty(t, c.WriteExtension())
}

func TestWriteQueueFIFO(t *testing.T) {
	c := New(1, 2, Config{}, nil)
	a := NewWriteRequest([]byte("a"), nil)
	b := NewWriteRequest([]byte("b"), nil)
	c.EnqueueWrite(a)
	c.EnqueueWrite(b)
	require.Same(t, a, c.HeadWrite())
	require.Same(t, a, c.PopWrite())
	require.Same(t, b, c.HeadWrite())

	c.FailWrites(ErrClosed)
	require.Zero(t, c.PendingWrites())
	require.ErrorIs(t, b.Future.Err(), ErrClosed)
	require.Nil(t, c.PopWrite())
}

func TestLifecycleSimplex(t *testing.T) {
	c := New(1, 2, Config{Duplex: false}, nil)
	require.True(t, c.IsReadClosed())
	require.True(t, c.SetWriteClosed())
	require.True(t, c.IsClosed())
	require.False(t, c.SetClosed())
}

func TestLifecycleDuplex(t *testing.T) {
	t.Run("close waits for inbound half", func(t *testing.T) {
		c := New(1, 2, Config{Duplex: true}, nil)
		require.False(t, c.SetClosed())
		require.True(t, c.IsWriteClosed())
		require.False(t, c.IsClosed())
		require.True(t, c.SetReadClosed())
		require.True(t, c.IsClosed())
	})

	t.Run("inbound closed first", func(t *testing.T) {
		c := New(1, 2, Config{Duplex: true}, nil)
		require.False(t, c.SetReadClosed())
		require.True(t, c.SetWriteClosed())
		require.False(t, c.SetWriteClosed())
	})
}

func TestFireClosedSequence(t *testing.T) {
	var rec Recorder
	c := New(1, 2, Config{}, &rec)
	c.FireWriteComplete(5)
	c.FireClosed()
	require.Equal(t, []EventType{EventWriteComplete, EventDisconnected, EventUnbound, EventClosed}, rec.Types())
	require.Equal(t, 5, rec.Events()[0].Bytes)
}

func TestReplyTo(t *testing.T) {
	a := Address{Partition: "target", Route: 3}
	local := a.ReplyTo()
	require.Equal(t, Address{Partition: "target#reply", Route: 3, Reply: "target"}, local)
	require.Equal(t, "shm", a.Network())
	require.Equal(t, "shm://target?route=3", a.String())

	b := Address{Partition: "target", Route: 3, Reply: "source"}
	require.Equal(t, "source", b.ReplyTo().Partition)
}
