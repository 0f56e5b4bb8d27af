// Package pcompress implements the batch payload compression codecs Pulsar
// producers may select (spec.md's SUPPLEMENTED FEATURES: MessageMetadata's
// compression field). Each codec wraps a real third-party compressor rather
// than a hand-rolled one, following the teacher's own practice of reaching
// for klauspost/compress and pierrec/lz4 for Kafka record batches.
package pcompress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/pulsago/pulsago/pkg/pmsg"
)

// Codec compresses and decompresses batch payloads for one CompressionType.
type Codec interface {
	Type() pmsg.CompressionType
	Compress(dst, src []byte) []byte
	Decompress(src []byte) ([]byte, error)
}

// ForType returns the codec implementing t, or an error for an unsupported
// or unknown type.
func ForType(t pmsg.CompressionType) (Codec, error) {
	switch t {
	case pmsg.CompressionNone:
		return noneCodec{}, nil
	case pmsg.CompressionLZ4:
		return lz4Codec{}, nil
	case pmsg.CompressionZSTD:
		return zstdCodec{}, nil
	case pmsg.CompressionSnappy:
		return snappyCodec{}, nil
	default:
		return nil, fmt.Errorf("pcompress: unsupported compression type %d", t)
	}
}

type noneCodec struct{}

func (noneCodec) Type() pmsg.CompressionType { return pmsg.CompressionNone }
func (noneCodec) Compress(dst, src []byte) []byte {
	return append(dst, src...)
}
func (noneCodec) Decompress(src []byte) ([]byte, error) {
	return append([]byte(nil), src...), nil
}

type lz4Codec struct{}

func (lz4Codec) Type() pmsg.CompressionType { return pmsg.CompressionLZ4 }

func (lz4Codec) Compress(dst, src []byte) []byte {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	_, _ = w.Write(src)
	_ = w.Close()
	return append(dst, buf.Bytes()...)
}

func (lz4Codec) Decompress(src []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("pcompress: lz4 decompress: %w", err)
	}
	return out, nil
}

type zstdCodec struct{}

func (zstdCodec) Type() pmsg.CompressionType { return pmsg.CompressionZSTD }

func (zstdCodec) Compress(dst, src []byte) []byte {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		// zstd.NewWriter only fails on invalid options; none are set here.
		return append(dst, src...)
	}
	defer enc.Close()
	return enc.EncodeAll(src, dst)
}

func (zstdCodec) Decompress(src []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("pcompress: zstd reader: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("pcompress: zstd decompress: %w", err)
	}
	return out, nil
}

type snappyCodec struct{}

func (snappyCodec) Type() pmsg.CompressionType { return pmsg.CompressionSnappy }

func (snappyCodec) Compress(dst, src []byte) []byte {
	return append(dst, snappy.Encode(nil, src)...)
}

func (snappyCodec) Decompress(src []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("pcompress: snappy decompress: %w", err)
	}
	return out, nil
}
