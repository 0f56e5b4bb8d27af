// Package psuper implements the supervised-producers façade spec.md section
// 4.4 scopes out of the core as an external collaborator: partition
// discovery and lifecycle are not this package's job, but the contract a
// routing façade owes a partition actor (a startup call, pick_producer, and
// stop_and_delete) is. The shape mirrors the teacher's own Client, which
// keeps a map of per-broker connections behind a mutex and round-robins or
// hashes across them (see xingliang-lyft-franz-go/pkg/kgo/producer.go's use
// of sync/atomic counters for lock-free bookkeeping); here a slice behind a
// mutex holds per-partition producer actors instead of per-broker
// connections.
package psuper

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/pulsago/pulsago/pkg/pgo"
)

// ProducerHandle is the subset of *pgo.Producer this façade depends on.
// spec.md section 4.4: "The partition actor does not know about siblings" —
// correspondingly, this package depends only on the actor's public surface,
// never its internals.
type ProducerHandle interface {
	Send(msgs []pgo.Message) error
	SendSync(ctx context.Context, msgs []pgo.Message) (pgo.SendResult, error)
	Close(ctx context.Context) error
}

var _ ProducerHandle = (*pgo.Producer)(nil)

// PartitionFactory constructs the producer actor for one partition. Callers
// supply this; psuper never opens a connection itself (spec.md section 1:
// discovery of broker addresses from topic lookups is out of core scope).
type PartitionFactory func(partitionTopic, brokerURL string) (ProducerHandle, error)

// ErrNoPartitions is returned by PickProducer when the façade has not yet
// started any partition.
var ErrNoPartitions = fmt.Errorf("psuper: no partitions started")

// partitionEntry pairs a started producer with the partition topic it was
// started for, so StopAndDelete's errors can name it.
type partitionEntry struct {
	topic   string
	handle  ProducerHandle
}

// Router is a minimal supervised-producers façade: one Router per Pulsar
// topic, fanning batches out across however many partition producers have
// been started. It is the concrete side of spec.md section 4.4's contract,
// not a claim to implement topic discovery or producer supervision/restart
// (left to the caller, per spec.md section 1's scoping).
type Router struct {
	strategy pgo.Strategy
	factory  PartitionFactory
	brokerURL string

	mu         sync.RWMutex
	partitions []partitionEntry
	rrCounter  uint64
}

// New constructs a Router that starts partition producers against brokerURL
// via factory, picking among them per strategy.
func New(strategy pgo.Strategy, brokerURL string, factory PartitionFactory) *Router {
	return &Router{strategy: strategy, brokerURL: brokerURL, factory: factory}
}

// StartPartition is the "startup call with (partition_topic, broker_url,
// opts)" spec.md section 4.4 describes: it constructs and starts one more
// partition producer and makes it eligible for PickProducer.
func (r *Router) StartPartition(partitionTopic string) (ProducerHandle, error) {
	h, err := r.factory(partitionTopic, r.brokerURL)
	if err != nil {
		return nil, fmt.Errorf("psuper: start partition %s: %w", partitionTopic, err)
	}
	if starter, ok := h.(interface{ Start() }); ok {
		starter.Start()
	}

	r.mu.Lock()
	r.partitions = append(r.partitions, partitionEntry{topic: partitionTopic, handle: h})
	r.mu.Unlock()
	return h, nil
}

// PickProducer selects which partition producer should receive batch, per
// spec.md section 4.4's pick_producer contract. key_dispatch hashes the
// first message carrying a non-empty Key; an all-keyless batch under
// key_dispatch falls back to round-robin, same as random/roundrobin would
// pick with no key information available.
func (r *Router) PickProducer(batch []pgo.Message) (ProducerHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.partitions)
	if n == 0 {
		return nil, ErrNoPartitions
	}

	switch r.strategy {
	case pgo.StrategyKeyDispatch:
		for _, m := range batch {
			if len(m.Key) > 0 {
				h := fnv.New32a()
				_, _ = h.Write(m.Key)
				return r.partitions[int(h.Sum32())%n].handle, nil
			}
		}
		fallthrough
	case pgo.StrategyRoundRobin:
		i := atomic.AddUint64(&r.rrCounter, 1) - 1
		return r.partitions[int(i%uint64(n))].handle, nil
	case pgo.StrategyRandom:
		// atomic counter doubles as a cheap, alloc-free source of
		// pseudo-randomness: callers needing real uniformity should pick
		// roundrobin instead, which this core can actually guarantee.
		i := atomic.AddUint64(&r.rrCounter, 2654435761)
		return r.partitions[int(i%uint64(n))].handle, nil
	default:
		return nil, fmt.Errorf("psuper: unknown strategy %d", r.strategy)
	}
}

// StopAndDelete tears down every started partition producer, per spec.md
// section 4.4's stop_and_delete lifecycle operation. It keeps going on a
// per-partition Close error so one stuck partition cannot block the others
// from shutting down, returning the first error observed (if any) to the
// caller.
func (r *Router) StopAndDelete(ctx context.Context) error {
	r.mu.Lock()
	partitions := r.partitions
	r.partitions = nil
	r.mu.Unlock()

	var firstErr error
	for _, p := range partitions {
		if err := p.handle.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("psuper: stop partition %s: %w", p.topic, err)
		}
	}
	return firstErr
}

// Len reports how many partitions are currently started.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.partitions)
}
