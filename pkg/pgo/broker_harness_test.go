package pgo

import (
	"net"
	"sync"
	"time"

	"github.com/pulsago/pulsago/pkg/pmsg"
)

// fakeBroker is a minimal Pulsar broker double built on net.Pipe, used to
// drive Producer's state machine end to end without a real socket. Each
// call to dial (installed as the Producer's Dialer) hands the server half
// of a fresh pipe to whichever goroutine calls accept next, mirroring how a
// real listener hands off one accepted connection per dial.
type fakeBroker struct {
	conns chan net.Conn
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{conns: make(chan net.Conn, 8)}
}

func (b *fakeBroker) dial(_ string, _ string, _ TCPOptions, _ time.Duration) (net.Conn, error) {
	client, server := net.Pipe()
	b.conns <- server
	return client, nil
}

// sendHandler is invoked once per decoded CommandSend frame, in arrival
// order, with the conn it arrived on (so a handler can write a SendReceipt
// back).
type sendHandler func(conn net.Conn, f *pmsg.Frame)

// accept blocks for the next dial's server connection and runs the
// Connect/Producer handshake on it: Connected in reply to Connect,
// ProducerSuccess in reply to Producer (closing ready, if non-nil, right
// after), Pong in reply to Ping, and onSend for every Send. It returns once
// the connection closes (broker-observed EOF) or is closed by the caller.
func (b *fakeBroker) accept(ready chan<- struct{}, onSend sendHandler) net.Conn {
	conn := <-b.conns
	go func() {
		var once sync.Once
		var dec pmsg.Decoder
		buf := make([]byte, 64<<10)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				frames, decErr := dec.Feed(append([]byte(nil), buf[:n]...))
				if decErr == nil {
					for _, f := range frames {
						if f == nil {
							continue
						}
						switch f.Type {
						case pmsg.TypeConnect:
							fr, _ := pmsg.EncodeCommandOnly(&pmsg.Frame{
								Type:      pmsg.TypeConnected,
								Connected: &pmsg.CommandConnected{ServerVersion: "test-broker", ProtocolVersion: 13},
							})
							_, _ = conn.Write(fr)
						case pmsg.TypeProducer:
							fr, _ := pmsg.EncodeCommandOnly(&pmsg.Frame{
								Type:            pmsg.TypeProducerSuccess,
								ProducerSuccess: &pmsg.CommandProducerSuccess{RequestID: f.Producer.RequestID, ProducerName: "test-producer"},
							})
							_, _ = conn.Write(fr)
							if ready != nil {
								once.Do(func() { close(ready) })
							}
						case pmsg.TypePing:
							fr, _ := pmsg.EncodeCommandOnly(&pmsg.Frame{Type: pmsg.TypePong, Pong: &pmsg.CommandPong{}})
							_, _ = conn.Write(fr)
						case pmsg.TypeSend:
							if onSend != nil {
								onSend(conn, f)
							}
						}
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return conn
}

func ackSend(conn net.Conn, seq uint64) {
	fr, _ := pmsg.EncodeCommandOnly(&pmsg.Frame{
		Type:        pmsg.TypeSendReceipt,
		SendReceipt: &pmsg.CommandSendReceipt{SequenceID: seq, MessageID: pmsg.MessageID{LedgerID: 1, EntryID: seq}},
	})
	_, _ = conn.Write(fr)
}
