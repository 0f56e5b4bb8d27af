package pgo

import (
	"time"

	"github.com/pulsago/pulsago/pkg/pmsg"
	"github.com/pulsago/pulsago/pkg/queue"
)

// Message is an application record (spec.md section 3): a key and a value,
// with everything else along for the ride but uninterpreted by this core.
type Message struct {
	Key   []byte
	Value []byte
}

func (m Message) toQueue() queue.Message { return queue.Message{Key: m.Key, Value: m.Value} }

func fromQueue(m queue.Message) Message { return Message{Key: m.Key, Value: m.Value} }

// SendResult is what a synchronous caller receives and what the async
// callback is invoked with, once per completed batch (spec.md section 3 and
// section 5's "each exactly once per batch" ordering rule).
type SendResult struct {
	SequenceID   uint64
	MessageID    pmsg.MessageID
	MessageCount int
	Err          error
}

// batchEntry preserves one coalesced sub-batch's original grouping so
// per-message retention decisions remain possible (spec.md section 3:
// InflightRequest.entries).
type batchEntry struct {
	enqueuedAt time.Time
	messages   []Message
}

// inflightRequest is the value stored in the request table, keyed by
// sequence_id (spec.md section 3).
type inflightRequest struct {
	ackRef  queue.AckRef
	replies []chan SendResult
	entries []batchEntry
}

func (r *inflightRequest) messageCount() int {
	n := 0
	for _, e := range r.entries {
		n += len(e.messages)
	}
	return n
}
