// Package pgo implements the core of a client-side Pulsar partition producer:
// a single-goroutine actor driving the idle/connecting/connected state
// machine (spec.md section 4.1), a sequence_id-keyed request table for
// correlating SendReceipts, and batching/coalescing of outbound
// messages through a durable queue. The actor shape mirrors the teacher's
// own kgo.Client/broker model: one goroutine owns all mutable state and is
// reached only by sending it a message, with a second goroutine doing
// nothing but blocking socket reads and handing frames back across a
// channel (see pkg/kgo/broker.go's read/write goroutine split).
package pgo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pulsago/pulsago/internal/reqtable"
	"github.com/pulsago/pulsago/logger"
	"github.com/pulsago/pulsago/pkg/pcompress"
	"github.com/pulsago/pulsago/pkg/perr"
	"github.com/pulsago/pulsago/pkg/pmsg"
	"github.com/pulsago/pulsago/pkg/queue"
)

const (
	sequenceIDWrap uint64 = 4294836225
	requestIDWrap  uint64 = 65535
)

// Producer is a single partition's producer actor (spec.md section 3). All
// of its fields below the mailbox are only ever touched from run's
// goroutine; Send, SendSync and Close only ever write to channels.
type Producer struct {
	partitionTopic string
	brokerAddr     string
	producerID     uint64

	opts Options

	events chan event
	closed chan struct{}

	queue      queue.Queue
	compressor pcompress.Codec
	requests   *reqtable.Table

	log logger.Logger

	// actor-owned state; touched only from run()
	state        State
	conn         net.Conn
	connGen      uint64
	connID       string // per-connection id logged as conn_id on connect, handshake and queue-ack-failure lines
	decoder      pmsg.Decoder
	producerName string
	seqID        uint64
	reqID        uint64
	createReqID  uint64 // request_id the pending CommandProducer was sent with

	pendingSyncByRef map[queue.AckRef]chan SendResult

	reconnectTimer *time.Timer
	keepaliveTimer *time.Timer
}

// event is the mailbox message union; every state transition in spec.md
// section 4.1 is driven by exactly one of these arriving.
type event interface{}

type evConnectTrigger struct{}

type evReconnectTimer struct{ gen uint64 }

// evRawData carries bytes read off the socket by readLoop; decoding into
// frames happens in the actor goroutine itself (only it owns the Decoder's
// carry buffer).
type evRawData struct {
	gen  uint64
	data []byte
}

type evSocketClosed struct {
	gen uint64
	err error
}

type evSendCast struct {
	msgs []Message
}

type evSendSync struct {
	msgs  []Message
	reply chan SendResult
	ctx   context.Context
}

type evKeepaliveTimer struct{ gen uint64 }

type evClose struct{ done chan struct{} }

// New constructs a Producer for partitionTopic against brokerAddr (host:port).
// producerID is the identifier this client asserts to the broker in
// CommandProducer; callers that run several partition producers typically
// derive it from a process-wide counter or a UUID (spec.md leaves its
// allocation to the caller).
func New(partitionTopic, brokerAddr string, producerID uint64, opts ...Opt) (*Producer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	q, err := queue.New(o.queueOpts)
	if err != nil {
		return nil, fmt.Errorf("pgo: durable queue: %w", err)
	}

	codec, err := pcompress.ForType(o.compression)
	if err != nil {
		_ = q.Close()
		return nil, fmt.Errorf("pgo: compression codec: %w", err)
	}

	p := &Producer{
		partitionTopic:   partitionTopic,
		brokerAddr:       brokerAddr,
		producerID:       producerID,
		opts:             o,
		events:           make(chan event, 64),
		closed:           make(chan struct{}),
		queue:            q,
		compressor:       codec,
		requests:         reqtable.New(),
		log:              o.logger,
		pendingSyncByRef: make(map[queue.AckRef]chan SendResult),
	}
	return p, nil
}

// Start launches the actor goroutine and triggers the initial connection
// attempt. It must be called exactly once.
func (p *Producer) Start() {
	go p.run()
	p.events <- evConnectTrigger{}
}

// Send enqueues msgs as a fire-and-forget cast (spec.md section 4.1's
// "user send"). Messages are durably appended to the queue before this
// call returns; batching, framing and the eventual callback happen
// asynchronously.
func (p *Producer) Send(msgs []Message) error {
	select {
	case <-p.closed:
		return perr.ErrProducerClosed
	case p.events <- evSendCast{msgs: msgs}:
		return nil
	}
}

// SendSync enqueues msgs and blocks until the batch it ends up in is
// acknowledged, ctx is done, or the producer is closed (spec.md section
// 4.1's "user send_sync"). If ctx carries no deadline, the configured sync
// call timeout (WithSyncCallTimeout, 5s by default) bounds the wait. A
// synchronous submission is always sent as its own batch, never coalesced
// with other submissions.
func (p *Producer) SendSync(ctx context.Context, msgs []Message) (SendResult, error) {
	if _, ok := ctx.Deadline(); !ok && p.opts.syncCallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.syncCallTimeout)
		defer cancel()
	}
	reply := make(chan SendResult, 1)
	select {
	case <-p.closed:
		return SendResult{}, perr.ErrProducerClosed
	case p.events <- evSendSync{msgs: msgs, reply: reply, ctx: ctx}:
	}

	select {
	case res := <-reply:
		return res, res.Err
	case <-ctx.Done():
		return SendResult{}, ctx.Err()
	case <-p.closed:
		return SendResult{}, perr.ErrProducerClosed
	}
}

// Close stops the actor, closing the socket and the durable queue. It
// blocks until shutdown completes or ctx is done.
func (p *Producer) Close(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case p.events <- evClose{done: done}:
	case <-p.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Producer) run() {
	for ev := range p.events {
		if p.handle(ev) {
			close(p.closed)
			return
		}
	}
}

// handle dispatches one event and reports whether the actor should
// terminate after processing it.
func (p *Producer) handle(ev event) (stop bool) {
	switch e := ev.(type) {
	case evConnectTrigger:
		p.handleConnectTrigger()
	case evReconnectTimer:
		if p.state == StateIdle && e.gen == p.connGen {
			p.handleConnectTrigger()
		}
	case evRawData:
		if e.gen == p.connGen {
			p.handleRawData(e.data)
		}
	case evSocketClosed:
		if e.gen == p.connGen {
			p.handleSocketClosed(e.err)
		}
	case evSendCast:
		p.handleSendCast(e.msgs)
	case evSendSync:
		p.handleSendSync(e.msgs, e.reply, e.ctx)
	case evKeepaliveTimer:
		if e.gen == p.connGen && p.state == StateConnected {
			p.handleKeepalive()
		}
	case evClose:
		p.handleClose()
		close(e.done)
		return true
	}
	return false
}

// nextSequenceID allocates the next sequence_id, wrapping per spec.md
// section 3 and refusing an allocation that would collide with an entry
// still recorded in the request table (invariant 3).
func (p *Producer) nextSequenceID() (uint64, error) {
	next := p.seqID + 1
	if next >= sequenceIDWrap {
		next = 1
	}
	if p.requests.Contains(next) {
		return 0, perr.ErrSequenceIDExhausted
	}
	p.seqID = next
	return next, nil
}

// nextRequestID allocates the next request_id, wrapping at 65535.
func (p *Producer) nextRequestID() uint64 {
	next := p.reqID + 1
	if next >= requestIDWrap {
		next = 1
	}
	p.reqID = next
	return next
}

// queueClaimedCount is how many of the durable queue's unacked items (from
// the head) are already represented by some not-yet-acked entry in the
// request table. Since every batch the actor ever forms is built from the
// queue's head in order, and Ack removes acked items from the queue, the
// in-flight requests always correspond to exactly the queue's current
// prefix (spec.md invariant 4). This counts queue items (Append calls), one
// per batchEntry, not messages — a single append can carry more than one
// message and queue.Peek indexes by item, not by message.
func (p *Producer) queueClaimedCount() int {
	n := 0
	for _, seq := range p.requests.IterSorted() {
		v, ok := p.requests.Get(seq)
		if !ok {
			continue
		}
		n += len(v.(*inflightRequest).entries)
	}
	return n
}

func (p *Producer) setState(s State) {
	if p.state != s {
		p.log.Log(logger.LevelDebug, "state transition", "from", p.state.String(), "to", s.String())
	}
	p.state = s
}

var errNotConnected = errors.New("pulsago: not connected")
