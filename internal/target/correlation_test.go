package target

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CDumitra/k3po-nukleus-ext.java/internal/channel"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/future"
)

func newTable(t *testing.T, size int) *CorrelationTable {
	t.Helper()
	table, err := NewCorrelationTable(size, nil)
	require.NoError(t, err)
	return table
}

func TestCorrelationTableRejectsZeroSize(t *testing.T) {
	_, err := NewCorrelationTable(0, nil)
	require.Error(t, err)
}

func TestCorrelationTableFulfill(t *testing.T) {
	table := newTable(t, 4)
	ch := channel.New(1, 2, channel.Config{Duplex: true}, nil)
	f := future.New()

	table.Put(10, Correlation{Channel: ch, Future: f})
	require.True(t, table.Contains(10))
	require.Equal(t, 1, table.Len())

	got, ok := table.Fulfill(10)
	require.True(t, ok)
	require.Same(t, ch, got)
	require.True(t, f.IsSuccess())
	require.False(t, table.Contains(10))

	_, ok = table.Fulfill(10)
	require.False(t, ok)
}

func TestCorrelationTableReject(t *testing.T) {
	table := newTable(t, 4)
	f := future.New()
	table.Put(10, Correlation{Future: f})

	refused := errors.New("refused")
	require.True(t, table.Reject(10, refused))
	require.ErrorIs(t, f.Err(), refused)
	require.False(t, table.Reject(10, refused))
}

func TestCorrelationTableTakeLeavesFuturePending(t *testing.T) {
	table := newTable(t, 4)
	f := future.New()
	table.Put(10, Correlation{Future: f})

	c, ok := table.Take(10)
	require.True(t, ok)
	require.Same(t, f, c.Future)
	require.False(t, f.IsDone())
	require.Zero(t, table.Len())
}

func TestCorrelationTableEvictsOldest(t *testing.T) {
	table := newTable(t, 2)
	first, second, third := future.New(), future.New(), future.New()

	table.Put(1, Correlation{Future: first})
	table.Put(2, Correlation{Future: second})
	table.Put(3, Correlation{Future: third})

	require.ErrorIs(t, first.Err(), ErrCorrelationEvicted)
	require.False(t, second.IsDone())
	require.False(t, third.IsDone())
	require.Equal(t, 2, table.Len())
	require.False(t, table.Contains(1))
}

func TestCorrelationTablePurge(t *testing.T) {
	table := newTable(t, 4)
	a, b := future.New(), future.New()
	table.Put(1, Correlation{Future: a})
	table.Put(2, Correlation{Future: b})

	table.Purge()

	require.ErrorIs(t, a.Err(), ErrCorrelationPurged)
	require.ErrorIs(t, b.Err(), ErrCorrelationPurged)
	require.Zero(t, table.Len())
}
