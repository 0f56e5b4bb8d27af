// Package perr collects the sentinel errors the producer core can return,
// mirroring the shape of franz-go's kerr package: a flat set of typed
// values callers can compare with errors.Is, instead of ad-hoc strings.
package perr

import "errors"

var (
	// ErrConnectionClosed names a lost broker connection. The producer
	// actor does not return or log it: a closed socket reaches the state
	// machine as the read error itself, which drives the idle transition.
	ErrConnectionClosed = errors.New("pulsago: connection closed")

	// ErrProducerClosed is returned by Send/SendSync after Close has been
	// called on the producer actor.
	ErrProducerClosed = errors.New("pulsago: producer closed")

	// ErrQueueAppendFailed wraps a durable queue append failure; returned
	// synchronously to SendSync callers per spec.md section 7.
	ErrQueueAppendFailed = errors.New("pulsago: durable queue append failed")

	// ErrSequenceIDExhausted is returned if the next sequence_id to
	// allocate would collide with one still recorded in the request
	// table (spec.md section 4.1, invariant 3).
	ErrSequenceIDExhausted = errors.New("pulsago: sequence id space exhausted")

	// ErrUnexpectedCommand is logged (never surfaced to a caller) when a
	// frame arrives with a command type the actor does not expect in its
	// current state.
	ErrUnexpectedCommand = errors.New("pulsago: unexpected command for state")

	// ErrMalformedFrame is logged when a frame cannot be decoded.
	ErrMalformedFrame = errors.New("pulsago: malformed frame")
)
