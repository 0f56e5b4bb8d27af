// Package pbin provides the low-level binary helpers the Pulsar wire codec
// is built from, in the spirit of franz-go's kbin: small, allocation-aware
// primitives over encoding/binary rather than a reflection-based encoder.
package pbin

import "encoding/binary"

// Writer accumulates a frame's bytes. All multi-byte integers are written
// big-endian, matching Pulsar's wire format (spec.md section 6).
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with buf as its starting backing array.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf[:0]}
}

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }

func (w *Writer) Int8(v int8) { w.buf = append(w.buf, byte(v)) }

func (w *Writer) Int16(v int16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) Int32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) Uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) Int64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) Uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// RawBytes appends b verbatim with no length prefix.
func (w *Writer) RawBytes(b []byte) { w.buf = append(w.buf, b...) }

// Bytes32 writes a 32-bit big-endian length prefix followed by b.
func (w *Writer) Bytes32(b []byte) {
	w.Int32(int32(len(b)))
	w.buf = append(w.buf, b...)
}

// String writes a 16-bit big-endian length-prefixed UTF-8 string, matching
// Pulsar's protobuf `string` fields as framed on this core's simplified wire
// path.
func (w *Writer) String(s string) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(len(s)))
	w.buf = append(w.buf, b[:]...)
	w.buf = append(w.buf, s...)
}

// Reserve appends n zero bytes and returns their offset, for backpatching
// (e.g. a length prefix computed after the fact).
func (w *Writer) Reserve(n int) int {
	off := len(w.buf)
	w.buf = append(w.buf, make([]byte, n)...)
	return off
}

// PatchInt32 overwrites the 4 bytes at off with v, big-endian.
func (w *Writer) PatchInt32(off int, v int32) {
	binary.BigEndian.PutUint32(w.buf[off:off+4], uint32(v))
}
