package pbin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter(nil)
	w.Int8(-7)
	w.Int16(-1000)
	w.Int32(123456)
	w.Uint32(4000000000)
	w.Int64(-9000000000)
	w.Uint64(18000000000000000000)
	w.String("partition-key")
	w.Bytes32([]byte("payload"))
	w.RawBytes([]byte{1, 2, 3})

	r := NewReader(w.Bytes())
	require.Equal(t, int8(-7), r.Int8())
	require.Equal(t, int16(-1000), r.Int16())
	require.Equal(t, int32(123456), r.Int32())
	require.Equal(t, uint32(4000000000), r.Uint32())
	require.Equal(t, int64(-9000000000), r.Int64())
	require.Equal(t, uint64(18000000000000000000), r.Uint64())
	require.Equal(t, "partition-key", r.String())
	require.Equal(t, []byte("payload"), r.Bytes32())
	require.Equal(t, []byte{1, 2, 3}, r.RawBytes(3))
	require.NoError(t, r.Err())
}

func TestReaderTruncated(t *testing.T) {
	r := NewReader([]byte{0, 1})
	r.Int32()
	require.ErrorIs(t, r.Err(), ErrTruncated)

	// Once failed, subsequent reads keep returning the zero value and the
	// same error rather than panicking on an out-of-range slice.
	require.Equal(t, int8(0), r.Int8())
	require.ErrorIs(t, r.Err(), ErrTruncated)
}

func TestPatchInt32(t *testing.T) {
	w := NewWriter(nil)
	off := w.Reserve(4)
	w.String("x") // 2-byte length prefix + 1 byte body = 3 bytes
	w.PatchInt32(off, int32(w.Len()-4))

	r := NewReader(w.Bytes())
	require.Equal(t, int32(3), r.Int32())
	require.Equal(t, "x", r.String())
	require.NoError(t, r.Err())
}
