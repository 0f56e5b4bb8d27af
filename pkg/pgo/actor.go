package pgo

import (
	"context"
	"time"

	"github.com/pulsago/pulsago/logger"
	"github.com/pulsago/pulsago/pkg/perr"
	"github.com/pulsago/pulsago/pkg/pmsg"
	"github.com/pulsago/pulsago/pkg/queue"
)

// handleFrame dispatches one decoded frame according to the current state
// (spec.md section 4.1's transition table keys off both state and command).
func (p *Producer) handleFrame(f *pmsg.Frame) {
	switch f.Type {
	case pmsg.TypeConnected:
		if p.state != StateConnecting {
			p.logUnexpected(f.Type)
			return
		}
		p.handleConnected(f.Connected)
	case pmsg.TypeProducerSuccess:
		if p.state != StateConnecting {
			p.logUnexpected(f.Type)
			return
		}
		p.handleProducerSuccess(f.ProducerSuccess)
	case pmsg.TypeSendReceipt:
		p.handleSendReceipt(f.SendReceipt)
	case pmsg.TypePing:
		p.handlePingCmd()
	case pmsg.TypePong:
		// liveness confirmed; nothing else to do.
	case pmsg.TypeCloseProducer:
		p.handleCloseProducerCmd(f.CloseProducer)
	default:
		p.logUnexpected(f.Type)
	}
}

func (p *Producer) logUnexpected(t pmsg.CommandType) {
	p.log.Log(logger.LevelWarn, "unexpected command for state", "command", t.String(), "state", p.state.String(), "err", perr.ErrUnexpectedCommand)
}

// handleConnected sends CreateProducer (spec.md's CommandProducer) in
// response to the broker's Connected and stays in connecting.
func (p *Producer) handleConnected(*pmsg.CommandConnected) {
	reqID := p.nextRequestID()
	p.createReqID = reqID

	frame, err := pmsg.EncodeCommandOnly(&pmsg.Frame{
		Type: pmsg.TypeProducer,
		Producer: &pmsg.CommandProducer{
			Topic:      p.partitionTopic,
			ProducerID: p.producerID,
			RequestID:  reqID,
		},
	})
	if err != nil {
		p.log.Log(logger.LevelError, "encode CreateProducer failed", "err", err)
		return
	}
	if err := p.writeFrame(frame); err != nil {
		p.log.Log(logger.LevelWarn, "write CreateProducer failed", "err", err)
	}
}

// handleProducerSuccess records the broker-assigned producer_name, moves to
// connected, starts the keepalive timer, then replays any unacked requests
// before draining whatever accumulated in the durable queue while
// disconnected (spec.md section 4.1).
func (p *Producer) handleProducerSuccess(c *pmsg.CommandProducerSuccess) {
	if c.RequestID != p.createReqID {
		p.log.Log(logger.LevelWarn, "ProducerSuccess request_id mismatch", "got", c.RequestID, "want", p.createReqID)
		return
	}
	p.producerName = c.ProducerName
	p.setState(StateConnected)
	p.log.Log(logger.LevelInfo, "producer connected", "conn_id", p.connID, "producer_name", p.producerName)
	p.scheduleKeepalive()
	p.resendInFlight()
	p.drainQueueBacklog()
}

// resendInFlight retransmits every entry still in the request table with
// its original sequence_id, in ascending order (spec.md invariant 4: these
// survive a reconnect and go out again before any newly-queued batch).
func (p *Producer) resendInFlight() {
	for _, seq := range p.requests.IterSorted() {
		v, ok := p.requests.Get(seq)
		if !ok {
			continue
		}
		req := v.(*inflightRequest)
		if err := p.frameAndSend(seq, flattenEntries(req.entries)); err != nil {
			p.log.Log(logger.LevelWarn, "resend failed", "seq", seq, "err", err)
			return
		}
	}
}

// handleSendReceipt correlates a SendReceipt to its request table entry,
// replies to any waiting sync callers, invokes the async callback exactly
// once for the whole batch, acks the durable queue, then drops the entry
// (spec.md section 4.1 and section 5's per-batch callback ordering rule).
func (p *Producer) handleSendReceipt(c *pmsg.CommandSendReceipt) {
	v, ok := p.requests.Take(c.SequenceID)
	if !ok {
		p.log.Log(logger.LevelWarn, "SendReceipt for unknown sequence_id", "seq", c.SequenceID)
		return
	}
	req := v.(*inflightRequest)

	result := SendResult{
		SequenceID:   c.SequenceID,
		MessageID:    c.MessageID,
		MessageCount: req.messageCount(),
	}

	for _, reply := range req.replies {
		reply <- result
	}
	if p.opts.callback != nil {
		p.opts.callback(result)
	}
	if err := p.queue.Ack(req.ackRef); err != nil {
		p.log.Log(logger.LevelError, "queue ack failed", "conn_id", p.connID, "seq", c.SequenceID, "err", err)
	}

	if p.opts.metrics != nil {
		p.opts.metrics.IncAcks()
		p.opts.metrics.SetInFlight(p.requests.Len())
		p.opts.metrics.SetQueueDepth(p.queue.Len())
	}
}

func (p *Producer) handlePingCmd() {
	frame, err := pmsg.EncodeCommandOnly(&pmsg.Frame{Type: pmsg.TypePong, Pong: &pmsg.CommandPong{}})
	if err != nil {
		p.log.Log(logger.LevelError, "encode Pong failed", "err", err)
		return
	}
	if err := p.writeFrame(frame); err != nil {
		p.log.Log(logger.LevelWarn, "write Pong failed", "err", err)
	}
}

// handleCloseProducerCmd tears down the connection and immediately retries,
// without discarding in-flight requests (the broker asked this client to
// reconnect, not to give up).
func (p *Producer) handleCloseProducerCmd(*pmsg.CommandCloseProducer) {
	p.log.Log(logger.LevelInfo, "broker closed producer, reconnecting")
	p.teardownConn()
	p.handleConnectTrigger()
}

// handleSocketClosed tears down the dead connection and schedules a
// reconnect; in-flight requests are retained (spec.md invariant 4).
func (p *Producer) handleSocketClosed(err error) {
	p.log.Log(logger.LevelWarn, "connection closed", "err", err)
	p.teardownConn()
	p.scheduleReconnect()
}

func (p *Producer) teardownConn() {
	if p.keepaliveTimer != nil {
		p.keepaliveTimer.Stop()
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *Producer) scheduleKeepalive() {
	gen := p.connGen
	if p.keepaliveTimer != nil {
		p.keepaliveTimer.Stop()
	}
	p.keepaliveTimer = time.AfterFunc(p.opts.keepaliveEvery, func() {
		p.events <- evKeepaliveTimer{gen: gen}
	})
}

func (p *Producer) handleKeepalive() {
	frame, err := pmsg.EncodeCommandOnly(&pmsg.Frame{Type: pmsg.TypePing, Ping: &pmsg.CommandPing{}})
	if err != nil {
		p.log.Log(logger.LevelError, "encode Ping failed", "err", err)
	} else if err := p.writeFrame(frame); err != nil {
		p.log.Log(logger.LevelWarn, "write Ping failed", "err", err)
	}
	p.scheduleKeepalive()
}

// handleClose tears everything down for a graceful shutdown.
func (p *Producer) handleClose() {
	if p.reconnectTimer != nil {
		p.reconnectTimer.Stop()
	}
	p.teardownConn()
	if err := p.queue.Close(); err != nil {
		p.log.Log(logger.LevelError, "queue close failed", "err", err)
	}
}

// appendCast durably enqueues a fire-and-forget submission and returns the
// batchEntry/AckRef pair it was assigned.
func (p *Producer) appendCast(msgs []Message) (batchEntry, queue.AckRef, error) {
	item := queue.Item{EnqueuedAt: time.Now(), Messages: toQueueMessages(msgs)}
	ref, err := p.queue.Append(item)
	if err != nil {
		return batchEntry{}, queue.AckRef{}, err
	}
	if p.opts.metrics != nil {
		p.opts.metrics.IncMessages(len(msgs))
		p.opts.metrics.SetQueueDepth(p.queue.Len())
	}
	return batchEntry{enqueuedAt: item.EnqueuedAt, messages: msgs}, ref, nil
}

// handleSendCast implements the "connected on user send" transition,
// opportunistically coalescing additional pending casts already sitting in
// the mailbox up to batch_size (spec.md section 4.1). While not connected,
// the submission is simply left durably queued for the post-reconnect
// backlog drain to pick up.
func (p *Producer) handleSendCast(msgs []Message) {
	entry, ref, err := p.appendCast(msgs)
	if err != nil {
		p.log.Log(logger.LevelError, "queue append failed", "err", err)
		return
	}
	if p.state != StateConnected {
		return
	}

	batch := []batchEntry{entry}
	lastRef := ref
	var stashed event

	if p.opts.batchSize > 1 {
	drain:
		for len(batch) < p.opts.batchSize {
			select {
			case ev := <-p.events:
				cast, ok := ev.(evSendCast)
				if !ok {
					stashed = ev
					break drain
				}
				e, r, err := p.appendCast(cast.msgs)
				if err != nil {
					p.log.Log(logger.LevelError, "queue append failed", "err", err)
					continue
				}
				batch = append(batch, e)
				lastRef = r
			default:
				break drain
			}
		}
	}

	p.sendCoalesced(batch, lastRef, nil)
	if stashed != nil {
		p.handle(stashed)
	}
}

// handleSendSync implements "connected on user send_sync": always its own
// batch, never coalesced with anything else. While not connected, the
// submission is durably queued and its reply channel is remembered so the
// eventual backlog drain can reattach it to the batch of one it still gets.
func (p *Producer) handleSendSync(msgs []Message, reply chan SendResult, _ context.Context) {
	item := queue.Item{EnqueuedAt: time.Now(), Messages: toQueueMessages(msgs)}
	ref, err := p.queue.Append(item)
	if err != nil {
		reply <- SendResult{Err: perr.ErrQueueAppendFailed}
		return
	}
	if p.opts.metrics != nil {
		p.opts.metrics.IncMessages(len(msgs))
		p.opts.metrics.SetQueueDepth(p.queue.Len())
	}

	entry := batchEntry{enqueuedAt: item.EnqueuedAt, messages: msgs}
	if p.state != StateConnected {
		p.pendingSyncByRef[ref] = reply
		return
	}
	p.sendCoalesced([]batchEntry{entry}, ref, []chan SendResult{reply})
}

// sendCoalesced allocates the next sequence_id, records the request table
// entry, and attempts to frame and transmit it. A write failure here does
// not drop the request: it stays in the table and is retried by
// resendInFlight after the next reconnect.
func (p *Producer) sendCoalesced(entries []batchEntry, ackRef queue.AckRef, replies []chan SendResult) {
	seq, err := p.nextSequenceID()
	if err != nil {
		p.log.Log(logger.LevelError, "sequence id allocation failed", "err", err)
		for _, reply := range replies {
			reply <- SendResult{Err: err}
		}
		return
	}

	p.requests.Insert(seq, &inflightRequest{ackRef: ackRef, replies: replies, entries: entries})
	if p.opts.metrics != nil {
		p.opts.metrics.SetInFlight(p.requests.Len())
	}

	if err := p.frameAndSend(seq, flattenEntries(entries)); err != nil {
		p.log.Log(logger.LevelWarn, "send failed, will retry after reconnect", "seq", seq, "err", err)
	}
}

func (p *Producer) frameAndSend(seq uint64, msgs []pmsg.BatchMessage) error {
	payload := pmsg.EncodeBatchPayload(msgs)
	compressed := p.compressor.Compress(nil, payload)

	frame, err := pmsg.EncodeSend(p.producerID, seq, p.producerName, uint64(time.Now().UnixMilli()), msgs, compressed, len(payload), p.compressor.Type())
	if err != nil {
		return err
	}
	if err := p.writeFrame(frame); err != nil {
		return err
	}
	if p.opts.metrics != nil {
		p.opts.metrics.IncBatches()
	}
	return nil
}

func flattenEntries(entries []batchEntry) []pmsg.BatchMessage {
	n := 0
	for _, e := range entries {
		n += len(e.messages)
	}
	out := make([]pmsg.BatchMessage, 0, n)
	for _, e := range entries {
		for _, m := range e.messages {
			out = append(out, pmsg.BatchMessage{Key: m.Key, Value: m.Value})
		}
	}
	return out
}

func toQueueMessages(msgs []Message) []queue.Message {
	out := make([]queue.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.toQueue()
	}
	return out
}

func fromQueueMessages(msgs []queue.Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = fromQueue(m)
	}
	return out
}

// drainQueueBacklog forms new batches for any durable-queue items not yet
// represented in the request table, i.e. messages that were appended while
// the actor was idle or connecting. A sync submission is always dispatched
// alone; a run of cast submissions is coalesced up to batch_size, stopping
// before the next sync submission (spec.md section 4.1, invariant 4).
func (p *Producer) drainQueueBacklog() {
	for {
		claimed := p.queueClaimedCount()
		peekN := claimed + 1
		if p.opts.batchSize > 1 {
			peekN = claimed + p.opts.batchSize
		}

		items, refs, err := p.queue.Peek(peekN)
		if err != nil {
			p.log.Log(logger.LevelError, "queue peek failed", "err", err)
			return
		}
		if len(items) <= claimed {
			return
		}
		leftoverItems := items[claimed:]
		leftoverRefs := refs[claimed:]

		if reply, isSync := p.pendingSyncByRef[leftoverRefs[0]]; isSync {
			entry := batchEntry{
				enqueuedAt: leftoverItems[0].EnqueuedAt,
				messages:   fromQueueMessages(leftoverItems[0].Messages),
			}
			delete(p.pendingSyncByRef, leftoverRefs[0])
			p.sendCoalesced([]batchEntry{entry}, leftoverRefs[0], []chan SendResult{reply})
			continue
		}

		limit := len(leftoverItems)
		if p.opts.batchSize > 1 && limit > p.opts.batchSize {
			limit = p.opts.batchSize
		} else if p.opts.batchSize <= 1 {
			limit = 1
		}

		var group []batchEntry
		var lastRef queue.AckRef
		for i := 0; i < limit; i++ {
			if _, isSync := p.pendingSyncByRef[leftoverRefs[i]]; isSync {
				break
			}
			group = append(group, batchEntry{
				enqueuedAt: leftoverItems[i].EnqueuedAt,
				messages:   fromQueueMessages(leftoverItems[i].Messages),
			})
			lastRef = leftoverRefs[i]
		}
		if len(group) == 0 {
			return
		}
		p.sendCoalesced(group, lastRef, nil)
	}
}
