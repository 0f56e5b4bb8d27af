// Package queue implements the durable queue contract spec.md requires as
// an external collaborator (section 3): append-only, with an opaque
// ack-cursor token ("ack_ref") redeemable later to release storage up to and
// including an append, optionally spilling to disk so publishes survive a
// producer restart.
//
// No segmented disk-backed queue library turned up anywhere in the
// reference pack (the closest matches - an AMQP wrapper and an in-memory
// ack-loop - are not it), so this package's on-disk format is a small
// from-scratch implementation over encoding/gob and os, in the spirit of
// the teacher's own preference for explicit, hand-rolled I/O over reflection
// magic where no ready-made library exists.
package queue

import (
	"errors"
	"strconv"
	"time"
)

// Message is the opaque application record the core passes through the
// queue untouched (spec.md section 3).
type Message struct {
	Key   []byte
	Value []byte
}

// Item is one append: the sub-batch of messages accepted together, plus the
// time they were enqueued (spec.md's InflightRequest.entries keeps exactly
// this shape after a batch is formed).
type Item struct {
	EnqueuedAt time.Time
	Messages   []Message
}

// AckRef is the opaque cursor token Append returns and Ack consumes. Queue
// implementations are free to interpret it however they like; callers must
// treat it as opaque (spec.md section 3).
type AckRef struct {
	segment int64
	seq     uint64
}

// Before reports whether r logically precedes other (used only by tests and
// diagnostics; the core never orders AckRefs itself).
func (r AckRef) Before(other AckRef) bool { return r.seq < other.seq }

func (r AckRef) String() string {
	return "ackref(seg=" + strconv.FormatInt(r.segment, 10) + ",seq=" + strconv.FormatUint(r.seq, 10) + ")"
}

// Infinity disables retention-based expiry when passed as Options.RetentionPeriod.
const Infinity time.Duration = -1

// Options configures a Queue at construction; spec.md section 3 says these
// are "configured at construction and not revisited".
type Options struct {
	// Dir is the filesystem directory backing the queue. Empty means
	// mem-only (spec.md section 4.3: "If no directory is configured, the
	// queue must be mem-only").
	Dir string

	// SegBytes bounds each on-disk segment file's size before rotation.
	SegBytes int64

	// OffloadMode, if true, bypasses RAM fronting: Peek always reads
	// straight from the segment files instead of an in-memory cache
	// (spec.md section 4.3).
	OffloadMode bool

	// MaxTotalBytes caps the queue's total outstanding bytes; Append
	// fails once it would be exceeded. Zero means unlimited.
	MaxTotalBytes int64

	// RetentionPeriod is how long an item may wait, undelivered, before
	// the queue is allowed to drop it. Infinity disables this.
	RetentionPeriod time.Duration
}

// ErrQueueFull is returned by Append when MaxTotalBytes would be exceeded.
var ErrQueueFull = errors.New("queue: max_total_bytes exceeded")

// ErrClosed is returned by any operation on a closed queue.
var ErrClosed = errors.New("queue: closed")

// Queue is the durable-queue contract spec.md section 3 requires.
type Queue interface {
	// Append adds item and returns the cursor token identifying item
	// itself; passing it to Ack releases item and everything appended
	// before it.
	Append(item Item) (AckRef, error)

	// Peek returns up to n not-yet-acked items in append order, without
	// removing them, along with each item's own AckRef. Calling Peek does
	// not mark anything acked; the actor is expected to Ack once a batch
	// built from these items is confirmed by the broker. The parallel
	// AckRef slice lets a caller identify which specific appends a given
	// leftover item corresponds to, e.g. to reattach a waiting send_sync
	// caller to the batch its append ends up in.
	Peek(n int) ([]Item, []AckRef, error)

	// Ack releases every item up to and including ref. It is a no-op if
	// ref has already been acked or superseded.
	Ack(ref AckRef) error

	// IsMemOnly reports whether this Queue instance is memory-only, i.e.
	// does not persist to disk.
	IsMemOnly() bool

	// Len reports the number of unacked items currently held.
	Len() int

	// Close flushes and releases any file descriptors.
	Close() error
}

// New constructs a Queue per opts: disk-backed when opts.Dir is set,
// mem-only otherwise.
func New(opts Options) (Queue, error) {
	if opts.Dir == "" {
		return newMemQueue(opts), nil
	}
	return newDiskQueue(opts)
}
