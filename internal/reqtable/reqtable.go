// Package reqtable implements the request table spec.md section 4.2
// describes: a mapping from sequence_id to an in-flight batch, supporting
// insert, take (remove-and-return), and an ordered iteration used to replay
// unacked batches after a reconnect.
//
// The table is owned and mutated exclusively by its PartitionProducer's
// single actor goroutine (spec.md section 5: "the durable queue is owned
// exclusively by the actor" applies equally here), so unlike the teacher's
// broker-side maps this one carries no internal locking.
package reqtable

// Table maps each sequence_id to its in-flight payload. The payload is
// stored as any: pgo.inflightRequest is the concrete value type, kept
// generic so this package stays decoupled from pgo's wire and queue types, mirroring how franz-go keeps its ring buffers ignorant of
// the Kafka-specific payloads they carry.
type Table struct {
	m     map[uint64]any
	order []uint64
}

// New returns an empty request table.
func New() *Table {
	return &Table{m: make(map[uint64]any)}
}

// Insert records req under seq. Per spec.md invariant 2, no two entries
// share an ack_ref, and per invariant 3 sequence_id values are inserted in
// strictly increasing order (modulo wrap), so Insert appends to the
// insertion-order slice without needing to re-sort it.
func (t *Table) Insert(seq uint64, req any) {
	if _, exists := t.m[seq]; !exists {
		t.order = append(t.order, seq)
	}
	t.m[seq] = req
}

// Take removes and returns the entry for seq, if present.
func (t *Table) Take(seq uint64) (any, bool) {
	req, ok := t.m[seq]
	if !ok {
		return nil, false
	}
	delete(t.m, seq)
	for i, s := range t.order {
		if s == seq {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return req, true
}

// Get returns the entry for seq without removing it.
func (t *Table) Get(seq uint64) (any, bool) {
	req, ok := t.m[seq]
	return req, ok
}

// Contains reports whether seq is currently recorded; used to detect a
// would-be sequence_id wraparound collision (spec.md section 4.1).
func (t *Table) Contains(seq uint64) bool {
	_, ok := t.m[seq]
	return ok
}

// Len reports how many entries are currently in flight.
func (t *Table) Len() int { return len(t.m) }

// IterSorted yields sequence_ids in ascending order modulo wrap. Since every
// Insert happens with the next sequence_id the actor allocates — which is
// itself strictly increasing modulo the wrap point — insertion order and
// ascending sequence_id order (mod wrap) coincide; IterSorted is therefore
// just a defensive copy of the insertion-order slice, not a sort.
func (t *Table) IterSorted() []uint64 {
	out := make([]uint64, len(t.order))
	copy(out, t.order)
	return out
}
