package queue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDiskQueueAppendPeekAck(t *testing.T) {
	dir := t.TempDir()
	q, err := newDiskQueue(Options{Dir: dir})
	require.NoError(t, err)
	defer q.Close()

	require.False(t, q.IsMemOnly())
	require.NotEmpty(t, q.InstanceID())

	ref1, err := q.Append(Item{EnqueuedAt: time.Now(), Messages: []Message{{Value: []byte("a")}}})
	require.NoError(t, err)
	_, err = q.Append(Item{EnqueuedAt: time.Now(), Messages: []Message{{Value: []byte("b")}}})
	require.NoError(t, err)

	items, refs, err := q.Peek(10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Len(t, refs, 2)

	require.NoError(t, q.Ack(ref1))
	require.Equal(t, 1, q.Len())
}

func TestDiskQueueRecoversAfterRestart(t *testing.T) {
	dir := t.TempDir()

	q1, err := newDiskQueue(Options{Dir: dir})
	require.NoError(t, err)
	_, err = q1.Append(Item{EnqueuedAt: time.Now(), Messages: []Message{{Value: []byte("survives-restart")}}})
	require.NoError(t, err)
	require.NoError(t, q1.Close())

	q2, err := newDiskQueue(Options{Dir: dir})
	require.NoError(t, err)
	defer q2.Close()

	items, _, err := q2.Peek(10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, []byte("survives-restart"), items[0].Messages[0].Value)
}

func TestDiskQueueAckRemovesFullyAckedSegments(t *testing.T) {
	dir := t.TempDir()
	// Tiny segments so a handful of appends rotate across several files.
	q, err := newDiskQueue(Options{Dir: dir, SegBytes: 64})
	require.NoError(t, err)
	defer q.Close()

	var lastRef AckRef
	for i := 0; i < 20; i++ {
		ref, err := q.Append(Item{EnqueuedAt: time.Now(), Messages: []Message{{Value: []byte("0123456789")}}})
		require.NoError(t, err)
		lastRef = ref
	}
	require.Greater(t, len(q.segments), 1, "appends should have rotated across multiple segments")

	require.NoError(t, q.Ack(lastRef))
	require.Equal(t, 0, q.Len())
	// Acking everything should collapse down to just the still-open write
	// segment.
	require.Len(t, q.segments, 1)
}

func TestDiskQueueOffloadModeBypassesCache(t *testing.T) {
	dir := t.TempDir()
	q, err := newDiskQueue(Options{Dir: dir, OffloadMode: true})
	require.NoError(t, err)
	defer q.Close()

	_, err = q.Append(Item{EnqueuedAt: time.Now(), Messages: []Message{{Value: []byte("a")}}})
	require.NoError(t, err)
	require.Empty(t, q.cache, "offload mode must not populate the RAM-front cache")

	items, _, err := q.Peek(10)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestDiskQueueMaxTotalBytes(t *testing.T) {
	dir := t.TempDir()
	q, err := newDiskQueue(Options{Dir: dir, MaxTotalBytes: 4})
	require.NoError(t, err)
	defer q.Close()

	_, err = q.Append(Item{Messages: []Message{{Value: []byte("ab")}}})
	require.NoError(t, err)
	_, err = q.Append(Item{Messages: []Message{{Value: []byte("abcdef")}}})
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestNewPicksDiskQueueWithDir(t *testing.T) {
	dir := t.TempDir()
	q, err := New(Options{Dir: filepath.Join(dir, "spool")})
	require.NoError(t, err)
	defer q.Close()
	require.False(t, q.IsMemOnly())
}
