package pmsg

import (
	"fmt"

	"github.com/pulsago/pulsago/pkg/pbin"
)

// Decoder holds the residual byte buffer a PartitionProducer must retain
// across TCP deliveries (spec.md's "last_received_bytes" carry buffer,
// section 3 / Design Note in section 9): TCP delivers a byte stream, not
// frames, so whole frames are extracted per the 4-byte length prefix before
// decoding, and any trailing partial frame is kept for the next Feed call.
type Decoder struct {
	carry []byte
}

// Feed appends newly-read bytes and returns every whole frame now available,
// decoded. Any trailing partial frame remains buffered internally.
func (d *Decoder) Feed(data []byte) ([]*Frame, error) {
	if len(data) > 0 {
		d.carry = append(d.carry, data...)
	}

	var frames []*Frame
	for {
		if len(d.carry) < 4 {
			return frames, nil
		}
		total := int(pbin.NewReader(d.carry[:4]).Int32())
		if total < 0 {
			return frames, fmt.Errorf("pmsg: %w: negative frame length", ErrMalformedLength)
		}
		if len(d.carry) < 4+total {
			return frames, nil // wait for more bytes
		}

		frameBytes := d.carry[4 : 4+total]
		d.carry = d.carry[4+total:]

		f, err := decodeFrame(frameBytes)
		if err != nil {
			// A malformed frame is logged and skipped by the caller
			// (spec.md section 7); we still must keep decoding the
			// rest of the carry buffer since the length prefix told
			// us exactly how many bytes this frame occupied.
			frames = append(frames, nil)
			continue
		}
		frames = append(frames, f)
	}
}

// ErrMalformedLength flags a frame whose declared length cannot be trusted.
var ErrMalformedLength = fmt.Errorf("pmsg: malformed frame length")

func decodeFrame(frameBytes []byte) (*Frame, error) {
	r := pbin.NewReader(frameBytes)
	cmdLen := r.Int32()
	if r.Err() != nil {
		return nil, r.Err()
	}
	cmdBytes := r.RawBytes(int(cmdLen))
	if r.Err() != nil {
		return nil, r.Err()
	}

	cr := pbin.NewReader(cmdBytes)
	typ := CommandType(cr.Int8())
	f := &Frame{Type: typ}

	switch typ {
	case TypeConnect:
		f.Connect = &CommandConnect{ClientVersion: cr.String(), ProtocolVersion: cr.Int32()}
	case TypeConnected:
		f.Connected = &CommandConnected{ServerVersion: cr.String(), ProtocolVersion: cr.Int32()}
	case TypeProducer:
		f.Producer = &CommandProducer{Topic: cr.String(), ProducerID: cr.Uint64(), RequestID: cr.Uint64()}
	case TypeProducerSuccess:
		f.ProducerSuccess = &CommandProducerSuccess{RequestID: cr.Uint64(), ProducerName: cr.String()}
	case TypeSendReceipt:
		f.SendReceipt = &CommandSendReceipt{
			ProducerID: cr.Uint64(),
			SequenceID: cr.Uint64(),
			MessageID:  MessageID{LedgerID: cr.Uint64(), EntryID: cr.Uint64()},
		}
	case TypePing:
		f.Ping = &CommandPing{}
	case TypePong:
		f.Pong = &CommandPong{}
	case TypeCloseProducer:
		f.CloseProducer = &CommandCloseProducer{ProducerID: cr.Uint64(), RequestID: cr.Uint64()}
	case TypeSend:
		f.Send = &CommandSend{ProducerID: cr.Uint64(), SequenceID: cr.Uint64(), NumMessages: cr.Int32()}
	default:
		// Unknown commands are logged and ignored (spec.md section 6).
		return f, nil
	}
	if cr.Err() != nil {
		return nil, cr.Err()
	}

	// A data section (magic + checksum + metadata + payload) only ever
	// follows a Send command on the wire this core decodes (brokers don't
	// send CommandSend; this branch exists for symmetry/testing a
	// loopback codec and is otherwise unreachable in production traffic).
	if typ == TypeSend && len(r.Remaining()) > 0 {
		dr := pbin.NewReader(r.Remaining())
		_ = dr.Int16() // magic
		_ = dr.Uint32() // checksum; verified by caller if desired
		metaLen := dr.Int32()
		metaBytes := dr.RawBytes(int(metaLen))
		if dr.Err() != nil {
			return nil, dr.Err()
		}
		f.Metadata = decodeMessageMetadata(pbin.NewReader(metaBytes))
		f.Payload = append([]byte(nil), dr.Remaining()...)
	}

	return f, nil
}
