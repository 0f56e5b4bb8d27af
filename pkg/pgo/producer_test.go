package pgo

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pulsago/pulsago/pkg/pmsg"
)

func TestSendSyncBatchOfOneReceivesReceipt(t *testing.T) {
	broker := newFakeBroker()

	var gotSeq uint64
	var gotNum int32
	sendSeen := make(chan struct{})
	go func() {
		broker.accept(nil, func(conn net.Conn, f *pmsg.Frame) {
			gotSeq = f.Send.SequenceID
			gotNum = f.Send.NumMessages
			ackSend(conn, f.Send.SequenceID)
			close(sendSeen)
		})
	}()

	p, err := New("orders-partition-0", "ignored:0", 1, WithDialer(broker.dial))
	require.NoError(t, err)
	p.Start()
	defer p.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := p.SendSync(ctx, []Message{{Key: []byte("a"), Value: []byte("1")}})
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.SequenceID)

	select {
	case <-sendSeen:
	case <-ctx.Done():
		t.Fatal("broker never observed a Send frame")
	}
	require.Equal(t, uint64(1), gotSeq)
	require.Equal(t, int32(1), gotNum)

	// The entry is taken out of requests before the reply is sent, so by
	// the time SendSync has returned, the request table must already be
	// clear (spec.md invariant: a completed publish leaves nothing behind).
	require.Equal(t, 0, p.requests.Len())
}

func TestAsyncCoalescingProducesOneBatchAndOneCallback(t *testing.T) {
	broker := newFakeBroker()
	ready := make(chan struct{})

	var mu sync.Mutex
	var sendFrames []*pmsg.Frame
	go func() {
		broker.accept(ready, func(conn net.Conn, f *pmsg.Frame) {
			mu.Lock()
			sendFrames = append(sendFrames, f)
			mu.Unlock()
			ackSend(conn, f.Send.SequenceID)
		})
	}()

	var callbacks int32
	var lastCount int
	var cbMu sync.Mutex
	p, err := New("orders-partition-1", "ignored:0", 1,
		WithDialer(broker.dial),
		WithBatchSize(100),
		WithCallback(func(r SendResult) {
			atomic.AddInt32(&callbacks, 1)
			cbMu.Lock()
			lastCount = r.MessageCount
			cbMu.Unlock()
		}),
	)
	require.NoError(t, err)
	p.Start()
	defer p.Close(context.Background())

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("producer never reached connected state")
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Send([]Message{{Value: []byte("v")}}))
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&callbacks) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sendFrames, 1, "three casts under batch_size=100 must coalesce into a single Send frame")
	require.Equal(t, int32(3), sendFrames[0].Send.NumMessages)

	cbMu.Lock()
	defer cbMu.Unlock()
	require.Equal(t, 3, lastCount)
}

func TestReconnectRedrivesInFlightWithSameSequenceID(t *testing.T) {
	broker := newFakeBroker()

	firstSeqSeen := make(chan uint64, 1)
	firstReady := make(chan struct{})
	firstConnCh := make(chan net.Conn, 1)
	go func() {
		firstConnCh <- broker.accept(firstReady, func(conn net.Conn, f *pmsg.Frame) {
			select {
			case firstSeqSeen <- f.Send.SequenceID:
			default:
			}
			// Deliberately never ack: the broker vanishes mid-flight.
		})
	}()

	p, err := New("orders-partition-2", "ignored:0", 1,
		WithDialer(broker.dial),
		WithReconnectDelay(20*time.Millisecond),
	)
	require.NoError(t, err)
	p.Start()
	defer p.Close(context.Background())

	select {
	case <-firstReady:
	case <-time.After(2 * time.Second):
		t.Fatal("producer never connected the first time")
	}

	reply := make(chan SendResult, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		res, _ := p.SendSync(ctx, []Message{{Value: []byte("redrive-me")}})
		reply <- res
	}()

	var firstSeq uint64
	select {
	case firstSeq = <-firstSeqSeen:
	case <-ctx.Done():
		t.Fatal("broker never observed the first Send attempt")
	}

	// Sever the connection; the producer must reconnect and resend the same
	// sequence_id without the original caller's submission being lost.
	firstConn := <-firstConnCh
	require.NoError(t, firstConn.Close())

	secondReady := make(chan struct{})
	var secondSeq uint64
	go func() {
		broker.accept(secondReady, func(conn net.Conn, f *pmsg.Frame) {
			secondSeq = f.Send.SequenceID
			ackSend(conn, f.Send.SequenceID)
		})
	}()

	select {
	case res := <-reply:
		require.NoError(t, res.Err)
		require.Equal(t, firstSeq, res.SequenceID)
	case <-ctx.Done():
		t.Fatal("send_sync was never completed after reconnect")
	}
	require.Equal(t, firstSeq, secondSeq, "resend after reconnect must reuse the original sequence_id")
}

func TestReceiptForVanishedCallerDoesNotPanic(t *testing.T) {
	broker := newFakeBroker()
	ready := make(chan struct{})

	var conn net.Conn
	var connMu sync.Mutex
	var seq uint64
	sendSeen := make(chan struct{})
	go func() {
		c := broker.accept(ready, func(c net.Conn, f *pmsg.Frame) {
			connMu.Lock()
			conn = c
			seq = f.Send.SequenceID
			connMu.Unlock()
			close(sendSeen)
		})
		_ = c
	}()

	p, err := New("orders-partition-3", "ignored:0", 1, WithDialer(broker.dial))
	require.NoError(t, err)
	p.Start()
	defer p.Close(context.Background())

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("producer never connected")
	}

	shortCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = p.SendSync(shortCtx, []Message{{Value: []byte("times-out-locally")}})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-sendSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("broker never observed the Send despite the local timeout")
	}

	connMu.Lock()
	c, s := conn, seq
	connMu.Unlock()

	// The late receipt must be handled without the actor crashing, even
	// though nothing is listening on the original reply channel anymore.
	ackSend(c, s)
	require.Eventually(t, func() bool {
		return p.requests.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
