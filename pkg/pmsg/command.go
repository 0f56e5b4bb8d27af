// Package pmsg defines the handful of Pulsar binary-protocol commands this
// producer core emits and handles (spec.md section 6), and a length-prefixed
// frame codec for them. It plays the role franz-go's generated kmsg package
// plays for Kafka: explicit appendTo methods and decode functions over pbin,
// not a reflection-based protobuf runtime. spec.md scopes the real wire codec out
// of the core ("consumes it as an opaque encoder/decoder"); this package is
// a concrete, compatible-shaped stand-in for that interface.
package pmsg

import (
	"fmt"

	"github.com/pulsago/pulsago/pkg/pbin"
)

// CommandType tags which union member a Frame carries.
type CommandType int8

const (
	TypeUnknown CommandType = iota
	TypeConnect
	TypeConnected
	TypeProducer
	TypeProducerSuccess
	TypeSend
	TypeSendReceipt
	TypePing
	TypePong
	TypeCloseProducer
)

func (t CommandType) String() string {
	switch t {
	case TypeConnect:
		return "Connect"
	case TypeConnected:
		return "Connected"
	case TypeProducer:
		return "Producer"
	case TypeProducerSuccess:
		return "ProducerSuccess"
	case TypeSend:
		return "Send"
	case TypeSendReceipt:
		return "SendReceipt"
	case TypePing:
		return "Ping"
	case TypePong:
		return "Pong"
	case TypeCloseProducer:
		return "CloseProducer"
	default:
		return "Unknown"
	}
}

// CommandConnect is sent idle->connecting (spec.md section 4.1).
type CommandConnect struct {
	ClientVersion   string
	ProtocolVersion int32
}

// CommandConnected is the broker's reply to CommandConnect.
type CommandConnected struct {
	ServerVersion   string
	ProtocolVersion int32
}

// CommandProducer requests a producer be created on partition_topic
// (spec.md calls this CreateProducer).
type CommandProducer struct {
	Topic      string
	ProducerID uint64
	RequestID  uint64
}

// CommandProducerSuccess carries the broker-assigned producer_name.
type CommandProducerSuccess struct {
	RequestID    uint64
	ProducerName string
}

// CommandSend is the control header accompanying a framed batch.
type CommandSend struct {
	ProducerID  uint64
	SequenceID  uint64
	NumMessages int32
}

// MessageID identifies a persisted entry.
type MessageID struct {
	LedgerID uint64
	EntryID  uint64
}

// CommandSendReceipt is the broker's ack for a CommandSend by sequence_id.
type CommandSendReceipt struct {
	ProducerID uint64
	SequenceID uint64
	MessageID  MessageID
}

type CommandPing struct{}
type CommandPong struct{}

// CommandCloseProducer instructs the client to tear down this producer.
type CommandCloseProducer struct {
	ProducerID uint64
	RequestID  uint64
}

// Frame is the decoded union of everything this core exchanges with a
// broker. Exactly one of the pointer fields is non-nil, selected by Type.
type Frame struct {
	Type            CommandType
	Connect         *CommandConnect
	Connected       *CommandConnected
	Producer        *CommandProducer
	ProducerSuccess *CommandProducerSuccess
	Send            *CommandSend
	SendReceipt     *CommandSendReceipt
	Ping            *CommandPing
	Pong            *CommandPong
	CloseProducer   *CommandCloseProducer

	// Metadata and Payload are only populated for TypeSend frames, which
	// carry a data section after the command (spec.md section 6).
	Metadata *MessageMetadata
	Payload  []byte
}

// MessageMetadata is the per-batch metadata preceding a Send's payload.
type MessageMetadata struct {
	SequenceID         uint64
	ProducerName       string
	PublishTimeMillis  uint64
	NumMessagesInBatch int32
	Compression        CompressionType
	UncompressedSize   uint32
}

// SingleMessageMetadata precedes each message's payload inside a
// multi-message batch (spec.md section 4.1).
type SingleMessageMetadata struct {
	PartitionKey string
	EventTime    uint64
	PayloadSize  int32
}

// CompressionType mirrors Pulsar's MessageMetadata.compression field.
type CompressionType int8

const (
	CompressionNone CompressionType = iota
	CompressionLZ4
	CompressionZLIB
	CompressionZSTD
	CompressionSnappy
)

func appendString(w *pbin.Writer, s string) { w.String(s) }

func (c *CommandConnect) appendTo(w *pbin.Writer) {
	appendString(w, c.ClientVersion)
	w.Int32(c.ProtocolVersion)
}

func (c *CommandConnected) appendTo(w *pbin.Writer) {
	appendString(w, c.ServerVersion)
	w.Int32(c.ProtocolVersion)
}

func (c *CommandProducer) appendTo(w *pbin.Writer) {
	appendString(w, c.Topic)
	w.Uint64(c.ProducerID)
	w.Uint64(c.RequestID)
}

func (c *CommandProducerSuccess) appendTo(w *pbin.Writer) {
	w.Uint64(c.RequestID)
	appendString(w, c.ProducerName)
}

func (c *CommandSend) appendTo(w *pbin.Writer) {
	w.Uint64(c.ProducerID)
	w.Uint64(c.SequenceID)
	w.Int32(c.NumMessages)
}

func (c *CommandSendReceipt) appendTo(w *pbin.Writer) {
	w.Uint64(c.ProducerID)
	w.Uint64(c.SequenceID)
	w.Uint64(c.MessageID.LedgerID)
	w.Uint64(c.MessageID.EntryID)
}

func (c *CommandCloseProducer) appendTo(w *pbin.Writer) {
	w.Uint64(c.ProducerID)
	w.Uint64(c.RequestID)
}

// EncodeCommandOnly frames a control command with no metadata/payload
// section: totalLength(4) | commandLength(4) | type(1) | command body.
func EncodeCommandOnly(f *Frame) ([]byte, error) {
	body := pbin.NewWriter(make([]byte, 0, 64))
	body.Int8(int8(f.Type))
	switch f.Type {
	case TypeConnect:
		f.Connect.appendTo(body)
	case TypeConnected:
		f.Connected.appendTo(body)
	case TypeProducer:
		f.Producer.appendTo(body)
	case TypeProducerSuccess:
		f.ProducerSuccess.appendTo(body)
	case TypeSendReceipt:
		f.SendReceipt.appendTo(body)
	case TypePing:
	case TypePong:
	case TypeCloseProducer:
		f.CloseProducer.appendTo(body)
	default:
		return nil, fmt.Errorf("pmsg: cannot encode command type %s standalone", f.Type)
	}

	out := pbin.NewWriter(make([]byte, 0, body.Len()+8))
	out.Int32(int32(4 + body.Len()))
	out.Int32(int32(body.Len()))
	out.RawBytes(body.Bytes())
	return out.Bytes(), nil
}
