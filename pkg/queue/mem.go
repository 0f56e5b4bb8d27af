package queue

import (
	"sync"
	"time"
)

type memEntry struct {
	seq       uint64
	item      Item
	delivered bool
	bytes     int64
}

// memQueue is a mem-only Queue: a plain append slice guarded by a mutex.
// Used whenever Options.Dir is empty. This module has no legacy-state
// upgrade path, so nothing installs a memQueue in place of an existing
// queue.
type memQueue struct {
	mu         sync.Mutex
	closed     bool
	entries    []memEntry
	nextSeq    uint64
	totalBytes int64
	opts       Options
}

func newMemQueue(opts Options) *memQueue {
	if opts.RetentionPeriod == 0 {
		opts.RetentionPeriod = Infinity
	}
	return &memQueue{opts: opts}
}

func itemBytes(it Item) int64 {
	var n int64
	for _, m := range it.Messages {
		n += int64(len(m.Key) + len(m.Value))
	}
	return n
}

func (q *memQueue) Append(item Item) (AckRef, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return AckRef{}, ErrClosed
	}

	q.pruneExpiredLocked()

	sz := itemBytes(item)
	if q.opts.MaxTotalBytes > 0 && q.totalBytes+sz > q.opts.MaxTotalBytes {
		return AckRef{}, ErrQueueFull
	}

	q.nextSeq++
	seq := q.nextSeq
	q.entries = append(q.entries, memEntry{seq: seq, item: item, bytes: sz})
	q.totalBytes += sz
	return AckRef{seq: seq}, nil
}

func (q *memQueue) pruneExpiredLocked() {
	if q.opts.RetentionPeriod == Infinity || q.opts.RetentionPeriod <= 0 {
		return
	}
	now := time.Now()
	i := 0
	for ; i < len(q.entries); i++ {
		e := &q.entries[i]
		if e.delivered || now.Sub(e.item.EnqueuedAt) <= q.opts.RetentionPeriod {
			break
		}
		q.totalBytes -= e.bytes
	}
	if i > 0 {
		q.entries = append([]memEntry(nil), q.entries[i:]...)
	}
}

func (q *memQueue) Peek(n int) ([]Item, []AckRef, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, nil, ErrClosed
	}
	if n > len(q.entries) {
		n = len(q.entries)
	}
	items := make([]Item, n)
	refs := make([]AckRef, n)
	for i := 0; i < n; i++ {
		q.entries[i].delivered = true
		items[i] = q.entries[i].item
		refs[i] = AckRef{seq: q.entries[i].seq}
	}
	return items, refs, nil
}

func (q *memQueue) Ack(ref AckRef) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	i := 0
	for ; i < len(q.entries); i++ {
		if q.entries[i].seq > ref.seq {
			break
		}
		q.totalBytes -= q.entries[i].bytes
	}
	if i > 0 {
		q.entries = append([]memEntry(nil), q.entries[i:]...)
	}
	return nil
}

func (q *memQueue) IsMemOnly() bool { return true }

func (q *memQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *memQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.entries = nil
	return nil
}
