package pmsg

import (
	"fmt"
	"hash/crc32"

	"github.com/pulsago/pulsago/pkg/pbin"
)

// magic flags the presence of a checksum + metadata + payload section
// following the command, per Pulsar's binary protocol (spec.md section 6).
const magic uint16 = 0x0e01

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

func (m *MessageMetadata) appendTo(w *pbin.Writer) {
	w.Uint64(m.SequenceID)
	appendString(w, m.ProducerName)
	w.Uint64(m.PublishTimeMillis)
	w.Int32(m.NumMessagesInBatch)
	w.Int8(int8(m.Compression))
	w.Uint32(m.UncompressedSize)
}

func decodeMessageMetadata(r *pbin.Reader) *MessageMetadata {
	m := &MessageMetadata{
		SequenceID:        r.Uint64(),
		ProducerName:      r.String(),
		PublishTimeMillis: r.Uint64(),
	}
	m.NumMessagesInBatch = r.Int32()
	m.Compression = CompressionType(r.Int8())
	m.UncompressedSize = r.Uint32()
	return m
}

func (s *SingleMessageMetadata) appendTo(w *pbin.Writer) {
	appendString(w, s.PartitionKey)
	w.Uint64(s.EventTime)
	w.Int32(s.PayloadSize)
}

func decodeSingleMessageMetadata(r *pbin.Reader) *SingleMessageMetadata {
	return &SingleMessageMetadata{
		PartitionKey: r.String(),
		EventTime:    r.Uint64(),
		PayloadSize:  r.Int32(),
	}
}

// BatchMessage is one application message being coalesced into a batch.
type BatchMessage struct {
	Key   []byte
	Value []byte
}

// EncodeSend frames a CommandSend together with its metadata+payload
// section. compressed is the payload as laid out by EncodeBatchPayload
// (the message written directly for a batch of one, SingleMessageMetadata-
// prefixed entries otherwise) after any configured compression codec, and
// is written verbatim; msgs only supplies the message count.
// uncompressedSize is the pre-compression size recorded in metadata.
func EncodeSend(producerID, sequenceID uint64, producerName string, publishTimeMillis uint64, msgs []BatchMessage, compressed []byte, uncompressedSize int, compression CompressionType) ([]byte, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("pmsg: cannot encode an empty batch")
	}

	cmd := &CommandSend{
		ProducerID:  producerID,
		SequenceID:  sequenceID,
		NumMessages: int32(len(msgs)),
	}
	cmdBody := pbin.NewWriter(make([]byte, 0, 32))
	cmdBody.Int8(int8(TypeSend))
	cmd.appendTo(cmdBody)

	metadata := &MessageMetadata{
		SequenceID:         sequenceID,
		ProducerName:       producerName,
		PublishTimeMillis:  publishTimeMillis,
		NumMessagesInBatch: int32(len(msgs)),
		Compression:        compression,
		UncompressedSize:   uint32(uncompressedSize),
	}
	metaBuf := pbin.NewWriter(make([]byte, 0, 64))
	metadata.appendTo(metaBuf)

	checksummed := pbin.NewWriter(make([]byte, 0, metaBuf.Len()+len(compressed)))
	checksummed.RawBytes(metaBuf.Bytes())
	checksummed.RawBytes(compressed)
	checksum := crc32.Checksum(checksummed.Bytes(), crc32cTable)

	out := pbin.NewWriter(make([]byte, 0, cmdBody.Len()+metaBuf.Len()+len(compressed)+16))
	totalOff := out.Reserve(4)
	out.Int32(int32(cmdBody.Len()))
	out.RawBytes(cmdBody.Bytes())
	out.Int16(int16(magic))
	out.Uint32(checksum)
	out.Int32(int32(metaBuf.Len()))
	out.RawBytes(metaBuf.Bytes())
	out.RawBytes(compressed)
	out.PatchInt32(totalOff, int32(out.Len()-4))
	return out.Bytes(), nil
}

// EncodeBatchPayload lays out the (uncompressed) payload section for msgs:
// the raw value for a batch of one, or SingleMessageMetadata-prefixed
// entries for a multi-message batch.
func EncodeBatchPayload(msgs []BatchMessage) []byte {
	if len(msgs) == 1 {
		return append([]byte(nil), msgs[0].Value...)
	}
	w := pbin.NewWriter(nil)
	for _, m := range msgs {
		smm := &SingleMessageMetadata{PayloadSize: int32(len(m.Value))}
		if len(m.Key) > 0 {
			smm.PartitionKey = string(m.Key)
		}
		smmBuf := pbin.NewWriter(make([]byte, 0, 16))
		smm.appendTo(smmBuf)
		w.Int32(int32(smmBuf.Len()))
		w.RawBytes(smmBuf.Bytes())
		w.RawBytes(m.Value)
	}
	return w.Bytes()
}

// DecodeBatchPayload is the inverse of EncodeBatchPayload, used by tests and
// by any consumer-side tooling built atop this package.
func DecodeBatchPayload(numMessages int32, payload []byte) ([]BatchMessage, error) {
	if numMessages <= 1 {
		return []BatchMessage{{Value: payload}}, nil
	}
	r := pbin.NewReader(payload)
	msgs := make([]BatchMessage, 0, numMessages)
	for i := int32(0); i < numMessages; i++ {
		smmLen := r.Int32()
		if r.Err() != nil {
			return nil, fmt.Errorf("pmsg: %w", r.Err())
		}
		smmBytes := r.RawBytes(int(smmLen))
		if r.Err() != nil {
			return nil, fmt.Errorf("pmsg: %w", r.Err())
		}
		smm := decodeSingleMessageMetadata(pbin.NewReader(smmBytes))
		val := r.RawBytes(int(smm.PayloadSize))
		if r.Err() != nil {
			return nil, fmt.Errorf("pmsg: %w", r.Err())
		}
		var key []byte
		if smm.PartitionKey != "" {
			key = []byte(smm.PartitionKey)
		}
		msgs = append(msgs, BatchMessage{Key: key, Value: append([]byte(nil), val...)})
	}
	return msgs, nil
}
