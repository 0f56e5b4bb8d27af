package pcompress

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulsago/pulsago/pkg/pmsg"
)

func TestCodecsRoundTrip(t *testing.T) {
	types := []pmsg.CompressionType{
		pmsg.CompressionNone,
		pmsg.CompressionLZ4,
		pmsg.CompressionZSTD,
		pmsg.CompressionSnappy,
	}

	payload := []byte("the quick brown fox jumps over the lazy dog, repeated for compressibility: " +
		"the quick brown fox jumps over the lazy dog")

	for _, typ := range types {
		codec, err := ForType(typ)
		require.NoError(t, err)
		require.Equal(t, typ, codec.Type())

		compressed := codec.Compress(nil, payload)
		decompressed, err := codec.Decompress(compressed)
		require.NoError(t, err)
		require.Equal(t, payload, decompressed)
	}
}

func TestForTypeRejectsUnknown(t *testing.T) {
	_, err := ForType(pmsg.CompressionZLIB)
	require.Error(t, err)
}
