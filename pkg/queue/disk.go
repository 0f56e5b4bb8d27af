package queue

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// diskRecord is one record read back from a segment file: the gob-decoded
// Item plus the seq taken from the record header, so a segment read back
// after a restart can resume exactly where the in-memory index left off.
type diskRecord struct {
	Seq  uint64
	Item Item
}

type diskSegment struct {
	id   int64
	path string
	file *os.File
	w    *bufio.Writer
	size int64
	// maxSeq is the highest seq ever written to this segment; used to
	// decide when the whole segment has been acked and can be removed.
	maxSeq uint64
}

// diskQueue is a segmented, append-only, disk-backed Queue. Segment files
// are named segment-<id>.log under Options.Dir; each record is framed as
// seq(8 bytes) + length(4 bytes) + gob(Item).
//
// Durability note: each Append flushes the segment's bufio.Writer but does
// not fsync; a from-scratch durable queue in this pack's style (see
// DESIGN.md) trades crash-exactness for throughput the same way the
// teacher's own broker connections trade write-coalescing for latency.
type diskQueue struct {
	mu     sync.Mutex
	opts   Options
	dir    string
	closed bool

	// instanceID identifies this particular open of the queue directory,
	// distinct from any previous process's open of the same dir; it is
	// persisted in a small marker file purely for operator diagnostics
	// (e.g. telling two producer restarts apart in logs), never consulted
	// by the hot path.
	instanceID string

	segments []*diskSegment // oldest to newest
	write    *diskSegment

	nextSeq   uint64
	lastAcked uint64

	// RAM front cache, populated unless OffloadMode. Indexed parallel to
	// append order; entries are dropped once acked.
	cache []memEntry

	totalBytes int64
}

func newDiskQueue(opts Options) (*diskQueue, error) {
	if opts.RetentionPeriod == 0 {
		opts.RetentionPeriod = Infinity
	}
	if opts.SegBytes <= 0 {
		opts.SegBytes = 20 << 20 // 20 MiB, matching spec.md's example default
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("queue: create dir: %w", err)
	}

	q := &diskQueue{opts: opts, dir: opts.Dir, instanceID: uuid.NewString()}
	if err := q.recover(); err != nil {
		return nil, err
	}
	if q.write == nil {
		seg, err := q.openNewSegment(1)
		if err != nil {
			return nil, err
		}
		q.write = seg
		q.segments = append(q.segments, seg)
	}
	if err := os.WriteFile(filepath.Join(q.dir, "INSTANCE"), []byte(q.instanceID), 0o644); err != nil {
		return nil, fmt.Errorf("queue: write instance marker: %w", err)
	}
	return q, nil
}

// InstanceID identifies this particular process's open of the queue
// directory, for operator diagnostics only.
func (q *diskQueue) InstanceID() string { return q.instanceID }

func segmentPath(dir string, id int64) string {
	return filepath.Join(dir, fmt.Sprintf("segment-%020d.log", id))
}

// recover replays every existing segment file, in id order, to rebuild the
// in-memory index after a restart — this is the "publishes survive producer
// restarts" half of spec.md's purpose statement.
func (q *diskQueue) recover() error {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return fmt.Errorf("queue: read dir: %w", err)
	}

	var ids []int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "segment-") {
			continue
		}
		idStr := strings.TrimSuffix(strings.TrimPrefix(e.Name(), "segment-"), ".log")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		recs, size, err := readSegment(segmentPath(q.dir, id))
		if err != nil {
			return fmt.Errorf("queue: recover segment %d: %w", id, err)
		}
		seg := &diskSegment{id: id, path: segmentPath(q.dir, id), size: size}
		for _, r := range recs {
			seg.maxSeq = r.Seq
			if r.Seq > q.nextSeq {
				q.nextSeq = r.Seq
			}
			if !q.opts.OffloadMode {
				q.cache = append(q.cache, memEntry{seq: r.Seq, item: r.Item, bytes: itemBytes(r.Item)})
				q.totalBytes += itemBytes(r.Item)
			}
		}
		q.segments = append(q.segments, seg)
	}

	if len(q.segments) > 0 {
		last := q.segments[len(q.segments)-1]
		f, err := os.OpenFile(last.path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("queue: reopen segment: %w", err)
		}
		last.file = f
		last.w = bufio.NewWriter(f)
		q.write = last
	}
	return nil
}

func readSegment(path string) ([]diskRecord, int64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var recs []diskRecord
	r := bufio.NewReader(f)
	var size int64
	for {
		var header [12]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			break // EOF, or a truncated trailing record; stop here
		}
		seq := binary.BigEndian.Uint64(header[:8])
		length := binary.BigEndian.Uint32(header[8:12])
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return recs, size, nil
		}
		var item Item
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&item); err != nil {
			return recs, size, nil
		}
		recs = append(recs, diskRecord{Seq: seq, Item: item})
		size += int64(12 + len(payload))
	}
	return recs, size, nil
}

func (q *diskQueue) openNewSegment(id int64) (*diskSegment, error) {
	path := segmentPath(q.dir, id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("queue: create segment: %w", err)
	}
	return &diskSegment{id: id, path: path, file: f, w: bufio.NewWriter(f)}, nil
}

func (q *diskQueue) Append(item Item) (AckRef, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return AckRef{}, ErrClosed
	}

	sz := itemBytes(item)
	if q.opts.MaxTotalBytes > 0 && q.totalBytes+sz > q.opts.MaxTotalBytes {
		return AckRef{}, ErrQueueFull
	}

	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(item); err != nil {
		return AckRef{}, fmt.Errorf("queue: encode item: %w", err)
	}

	q.nextSeq++
	seq := q.nextSeq

	var header [12]byte
	binary.BigEndian.PutUint64(header[:8], seq)
	binary.BigEndian.PutUint32(header[8:12], uint32(payload.Len()))

	if q.write.size+int64(12+payload.Len()) > q.opts.SegBytes && q.write.size > 0 {
		if err := q.rotateLocked(); err != nil {
			return AckRef{}, err
		}
	}

	if _, err := q.write.w.Write(header[:]); err != nil {
		return AckRef{}, fmt.Errorf("queue: write header: %w", err)
	}
	if _, err := q.write.w.Write(payload.Bytes()); err != nil {
		return AckRef{}, fmt.Errorf("queue: write payload: %w", err)
	}
	if err := q.write.w.Flush(); err != nil {
		return AckRef{}, fmt.Errorf("queue: flush: %w", err)
	}
	q.write.size += int64(12 + payload.Len())
	q.write.maxSeq = seq

	if !q.opts.OffloadMode {
		q.cache = append(q.cache, memEntry{seq: seq, item: item, bytes: sz})
	}
	q.totalBytes += sz

	return AckRef{segment: q.write.id, seq: seq}, nil
}

func (q *diskQueue) rotateLocked() error {
	if err := q.write.w.Flush(); err != nil {
		return fmt.Errorf("queue: flush before rotate: %w", err)
	}
	seg, err := q.openNewSegment(q.write.id + 1)
	if err != nil {
		return err
	}
	q.segments = append(q.segments, seg)
	q.write = seg
	return nil
}

func (q *diskQueue) Peek(n int) ([]Item, []AckRef, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, nil, ErrClosed
	}

	if !q.opts.OffloadMode {
		if n > len(q.cache) {
			n = len(q.cache)
		}
		items := make([]Item, n)
		refs := make([]AckRef, n)
		for i := 0; i < n; i++ {
			q.cache[i].delivered = true
			items[i] = q.cache[i].item
			refs[i] = q.refForSeqLocked(q.cache[i].seq)
		}
		return items, refs, nil
	}

	// Offload mode: bypass RAM fronting and read straight from segments.
	var items []Item
	var refs []AckRef
	for _, seg := range q.segments {
		if len(items) >= n {
			break
		}
		recs, _, err := readSegment(seg.path)
		if err != nil {
			return nil, nil, fmt.Errorf("queue: peek: %w", err)
		}
		for _, r := range recs {
			if r.Seq <= q.lastAcked {
				continue
			}
			items = append(items, r.Item)
			refs = append(refs, AckRef{segment: seg.id, seq: r.Seq})
			if len(items) >= n {
				break
			}
		}
	}
	return items, refs, nil
}

// refForSeqLocked finds which segment currently owns seq, for the RAM-front
// cache path where the cache entry itself doesn't track a segment id.
func (q *diskQueue) refForSeqLocked(seq uint64) AckRef {
	for _, seg := range q.segments {
		if seq <= seg.maxSeq {
			return AckRef{segment: seg.id, seq: seq}
		}
	}
	if q.write != nil {
		return AckRef{segment: q.write.id, seq: seq}
	}
	return AckRef{seq: seq}
}

func (q *diskQueue) Ack(ref AckRef) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if ref.seq <= q.lastAcked {
		return nil
	}
	q.lastAcked = ref.seq

	if !q.opts.OffloadMode {
		i := 0
		for ; i < len(q.cache); i++ {
			if q.cache[i].seq > ref.seq {
				break
			}
			q.totalBytes -= q.cache[i].bytes
		}
		if i > 0 {
			q.cache = append([]memEntry(nil), q.cache[i:]...)
		}
	}

	// Remove fully-acked segments, but never the current write segment.
	kept := q.segments[:0]
	for _, seg := range q.segments {
		if seg != q.write && seg.maxSeq > 0 && seg.maxSeq <= q.lastAcked {
			if seg.file != nil {
				seg.file.Close()
			}
			os.Remove(seg.path)
			continue
		}
		kept = append(kept, seg)
	}
	q.segments = kept
	return nil
}

func (q *diskQueue) IsMemOnly() bool { return false }

func (q *diskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.opts.OffloadMode {
		return len(q.cache)
	}
	count := 0
	for _, seg := range q.segments {
		recs, _, _ := readSegment(seg.path)
		for _, r := range recs {
			if r.Seq > q.lastAcked {
				count++
			}
		}
	}
	return count
}

func (q *diskQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	var firstErr error
	for _, seg := range q.segments {
		if seg.file == nil {
			continue
		}
		if err := seg.w.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := seg.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
