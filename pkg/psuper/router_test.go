package psuper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulsago/pulsago/pkg/pgo"
)

// fakeHandle is a ProducerHandle test double that just records what it was
// asked to do, standing in for a real *pgo.Producer so Router's picking
// logic can be tested without a broker.
type fakeHandle struct {
	closed bool
}

func (f *fakeHandle) Send([]pgo.Message) error { return nil }
func (f *fakeHandle) SendSync(context.Context, []pgo.Message) (pgo.SendResult, error) {
	return pgo.SendResult{}, nil
}
func (f *fakeHandle) Close(context.Context) error {
	f.closed = true
	return nil
}

func newTestRouter(t *testing.T, strategy pgo.Strategy, n int) (*Router, []*fakeHandle) {
	t.Helper()
	var handles []*fakeHandle
	factory := func(partitionTopic, brokerURL string) (ProducerHandle, error) {
		h := &fakeHandle{}
		handles = append(handles, h)
		return h, nil
	}
	r := New(strategy, "broker:6650", factory)
	for i := 0; i < n; i++ {
		_, err := r.StartPartition("topic-partition")
		require.NoError(t, err)
	}
	return r, handles
}

func TestPickProducerRoundRobinCyclesThroughPartitions(t *testing.T) {
	r, handles := newTestRouter(t, pgo.StrategyRoundRobin, 3)

	var picked []ProducerHandle
	for i := 0; i < 6; i++ {
		h, err := r.PickProducer(nil)
		require.NoError(t, err)
		picked = append(picked, h)
	}

	// Every partition should have been picked exactly twice across six picks.
	counts := map[ProducerHandle]int{}
	for _, h := range picked {
		counts[h]++
	}
	require.Len(t, counts, 3)
	for _, h := range handles {
		require.Equal(t, 2, counts[h])
	}
}

func TestPickProducerKeyDispatchIsStableForSameKey(t *testing.T) {
	r, _ := newTestRouter(t, pgo.StrategyKeyDispatch, 4)

	batch := []pgo.Message{{Key: []byte("user-42"), Value: []byte("v")}}
	first, err := r.PickProducer(batch)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := r.PickProducer(batch)
		require.NoError(t, err)
		require.Same(t, first.(*fakeHandle), again.(*fakeHandle))
	}
}

func TestPickProducerKeyDispatchFallsBackToRoundRobinWithoutKeys(t *testing.T) {
	r, handles := newTestRouter(t, pgo.StrategyKeyDispatch, 2)

	keyless := []pgo.Message{{Value: []byte("v")}}
	first, err := r.PickProducer(keyless)
	require.NoError(t, err)
	second, err := r.PickProducer(keyless)
	require.NoError(t, err)
	require.Same(t, handles[0], first.(*fakeHandle))
	require.Same(t, handles[1], second.(*fakeHandle))
}

func TestPickProducerFailsWithNoPartitions(t *testing.T) {
	r := New(pgo.StrategyRandom, "broker:6650", func(string, string) (ProducerHandle, error) {
		return nil, nil
	})
	_, err := r.PickProducer(nil)
	require.ErrorIs(t, err, ErrNoPartitions)
}

func TestStopAndDeleteClosesEveryPartition(t *testing.T) {
	r, handles := newTestRouter(t, pgo.StrategyRandom, 3)
	require.Equal(t, 3, r.Len())

	require.NoError(t, r.StopAndDelete(context.Background()))
	require.Equal(t, 0, r.Len())
	for _, h := range handles {
		require.True(t, h.closed)
	}
}
