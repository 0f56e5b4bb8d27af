package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemQueueAppendPeekAck(t *testing.T) {
	q := newMemQueue(Options{})
	require.True(t, q.IsMemOnly())

	ref1, err := q.Append(Item{EnqueuedAt: time.Now(), Messages: []Message{{Value: []byte("a")}}})
	require.NoError(t, err)
	ref2, err := q.Append(Item{EnqueuedAt: time.Now(), Messages: []Message{{Value: []byte("b")}}})
	require.NoError(t, err)
	require.Equal(t, 2, q.Len())

	items, refs, err := q.Peek(10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Len(t, refs, 2)
	require.Equal(t, 2, q.Len(), "Peek must not remove anything")

	require.NoError(t, q.Ack(ref1))
	require.Equal(t, 1, q.Len())

	require.NoError(t, q.Ack(ref2))
	require.Equal(t, 0, q.Len())
}

func TestMemQueueAckIsMonotonicCursor(t *testing.T) {
	q := newMemQueue(Options{})
	ref1, _ := q.Append(Item{Messages: []Message{{Value: []byte("a")}}})
	ref2, _ := q.Append(Item{Messages: []Message{{Value: []byte("b")}}})
	_, _ = q.Append(Item{Messages: []Message{{Value: []byte("c")}}})

	// Acking ref2 releases ref1's item too: the cursor never advances past
	// an unacked ref, but acking a later one implies everything before it.
	require.NoError(t, q.Ack(ref2))
	require.Equal(t, 1, q.Len())

	// Acking an already-superseded ref is a no-op, not an error.
	require.NoError(t, q.Ack(ref1))
	require.Equal(t, 1, q.Len())
}

func TestMemQueueMaxTotalBytes(t *testing.T) {
	q := newMemQueue(Options{MaxTotalBytes: 4})
	_, err := q.Append(Item{Messages: []Message{{Value: []byte("ab")}}})
	require.NoError(t, err)

	_, err = q.Append(Item{Messages: []Message{{Value: []byte("abcdef")}}})
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestMemQueueRetentionPrunesAgedUndelivered(t *testing.T) {
	q := newMemQueue(Options{RetentionPeriod: time.Millisecond})
	_, err := q.Append(Item{EnqueuedAt: time.Now().Add(-time.Hour), Messages: []Message{{Value: []byte("stale")}}})
	require.NoError(t, err)

	// A second append triggers the prune pass and should find the first
	// entry already older than the retention period.
	_, err = q.Append(Item{EnqueuedAt: time.Now(), Messages: []Message{{Value: []byte("fresh")}}})
	require.NoError(t, err)

	require.Equal(t, 1, q.Len())
}

func TestMemQueueOperationsFailAfterClose(t *testing.T) {
	q := newMemQueue(Options{})
	require.NoError(t, q.Close())

	_, err := q.Append(Item{Messages: []Message{{Value: []byte("x")}}})
	require.ErrorIs(t, err, ErrClosed)

	_, _, err = q.Peek(1)
	require.ErrorIs(t, err, ErrClosed)

	require.ErrorIs(t, q.Ack(AckRef{}), ErrClosed)
}

func TestNewPicksMemOnlyWithoutDir(t *testing.T) {
	q, err := New(Options{})
	require.NoError(t, err)
	defer q.Close()
	require.True(t, q.IsMemOnly())
}
