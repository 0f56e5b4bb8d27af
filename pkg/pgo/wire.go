package pgo

import (
	"net"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/pulsago/pulsago/logger"
	"github.com/pulsago/pulsago/pkg/perr"
	"github.com/pulsago/pulsago/pkg/pmsg"
)

// handleConnectTrigger is the idle state's only transition (spec.md section
// 4.1): dial the broker, and on success send Connect and move to
// connecting. Dialing blocks the actor goroutine, bounded by
// Options.connectTimeout via the configured Dialer; per spec.md section 5
// this is acceptable because a connect attempt, like a socket write, is a
// bounded blocking operation the actor is allowed to perform inline.
func (p *Producer) handleConnectTrigger() {
	p.setState(StateIdle)

	conn, err := p.opts.dialer("tcp", p.brokerAddr, p.opts.tcpOpts, p.opts.connectTimeout)
	if err != nil {
		p.log.Log(logger.LevelWarn, "dial failed", "addr", p.brokerAddr, "err", err)
		p.scheduleReconnect()
		return
	}

	p.connGen++
	p.conn = conn
	p.decoder = pmsg.Decoder{}
	gen := p.connGen

	// A fresh id per dial attempt, logged under the "conn_id" key on this
	// connection's connect and handshake lines and on queue-ack failures,
	// after the teacher's broker.go convention of stamping a per-connection
	// id through a connection's log calls.
	if id, err := uuid.GenerateUUID(); err == nil {
		p.connID = id
	} else {
		p.connID = ""
	}

	frame, err := pmsg.EncodeCommandOnly(&pmsg.Frame{
		Type: pmsg.TypeConnect,
		Connect: &pmsg.CommandConnect{
			ClientVersion:   p.opts.clientVersion,
			ProtocolVersion: p.opts.protocolVersion,
		},
	})
	if err != nil {
		p.log.Log(logger.LevelError, "encode Connect failed", "conn_id", p.connID, "err", err)
		_ = conn.Close()
		p.scheduleReconnect()
		return
	}
	if err := p.writeFrame(frame); err != nil {
		p.log.Log(logger.LevelWarn, "write Connect failed", "conn_id", p.connID, "err", err)
		_ = conn.Close()
		p.scheduleReconnect()
		return
	}
	p.log.Log(logger.LevelInfo, "connecting", "conn_id", p.connID, "addr", p.brokerAddr, "topic", p.partitionTopic)

	if p.opts.metrics != nil {
		p.opts.metrics.IncReconnects()
	}

	go p.readLoop(conn, gen)
	p.setState(StateConnecting)
}

func (p *Producer) scheduleReconnect() {
	p.setState(StateIdle)
	gen := p.connGen
	if p.reconnectTimer != nil {
		p.reconnectTimer.Stop()
	}
	p.reconnectTimer = time.AfterFunc(p.opts.reconnectDelay, func() {
		p.events <- evReconnectTimer{gen: gen}
	})
}

// writeFrame writes a pre-encoded frame with a send_timeout deadline
// (spec.md section 4.1: send_timeout bounds socket writes).
func (p *Producer) writeFrame(frame []byte) error {
	if p.conn == nil {
		return errNotConnected
	}
	if p.opts.sendTimeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.opts.sendTimeout))
	}
	_, err := p.conn.Write(frame)
	return err
}

// readLoop is the second goroutine every connection gets: it does nothing
// but block on conn.Read, posting the raw bytes back to the actor's mailbox.
// It never touches Producer state directly, matching spec.md section 5's
// rule that only the actor goroutine mutates the request table, sequence
// counters, the Decoder's carry buffer, or the queue.
func (p *Producer) readLoop(conn net.Conn, gen uint64) {
	buf := make([]byte, 64<<10)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			p.events <- evRawData{gen: gen, data: data}
		}
		if err != nil {
			p.events <- evSocketClosed{gen: gen, err: err}
			return
		}
	}
}

// handleRawData decodes newly-read bytes into frames and dispatches each in
// order. A nil entry is a frame the Decoder could not parse; it is logged
// and skipped rather than tearing down the connection, matching spec.md
// section 7's "malformed frame" handling.
func (p *Producer) handleRawData(data []byte) {
	frames, err := p.decoder.Feed(data)
	if err != nil {
		p.log.Log(logger.LevelError, "frame decode failed", "err", err)
		return
	}
	for _, f := range frames {
		if f == nil {
			p.log.Log(logger.LevelWarn, "skipping malformed frame", "err", perr.ErrMalformedFrame)
			continue
		}
		p.handleFrame(f)
	}
}
