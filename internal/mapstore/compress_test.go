package mapstore

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/mapstore-go/internal/maperr"
)

func TestCompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("street segment "), 500)
	for _, codec := range []Codec{CodecLZ4, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			packed, err := compress(data, codec)
			require.NoError(t, err)
			assert.True(t, isCompressed(packed))
			assert.Less(t, len(packed), len(data))

			got, err := decompress(packed)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

// withSize rewrites the uncompressed size field of an envelope.
func withSize(env []byte, size uint64) []byte {
	out := bytes.Clone(env)
	binary.LittleEndian.PutUint64(out[5:], size)
	return out
}

func TestDecompressRejectsImplausibleSize(t *testing.T) {
	data := bytes.Repeat([]byte{0x2a}, 64)
	lz, err := compress(data, CodecLZ4)
	require.NoError(t, err)
	zs, err := compress(data, CodecZstd)
	require.NoError(t, err)

	stored := make([]byte, envelopeHeaderSize, envelopeHeaderSize+len(data))
	copy(stored, envelopeMagic)
	stored[4] = uint8(CodecNone)
	stored = append(stored, data...)

	tests := []struct {
		name string
		env  []byte
	}{
		{"stored with a larger size", withSize(stored, 1<<33)},
		{"stored with a smaller size", withSize(stored, 8)},
		{"lz4 beyond the block ratio", withSize(lz, 1<<33)},
		{"lz4 off by one", withSize(lz, uint64(len(data)+1))},
		{"zstd frame size disagrees", withSize(zs, 1<<33)},
		{"zstd off by one", withSize(zs, uint64(len(data)-1))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := decompress(tt.env)
			require.Error(t, err)
			assert.Nil(t, out)
			assert.True(t, maperr.IsFormat(err))
			assert.ErrorIs(t, err, maperr.ErrSizeMismatch)
		})
	}
}

func TestDecompressRejectsBadEnvelope(t *testing.T) {
	_, err := decompress([]byte("GMCZ"))
	assert.ErrorIs(t, err, maperr.ErrTruncated)

	env := withSize(append([]byte(envelopeMagic), make([]byte, 9)...), maxUncompressed+1)
	_, err = decompress(env)
	assert.True(t, maperr.IsFormat(err))

	env = withSize(append([]byte(envelopeMagic), 9, 0, 0, 0, 0, 0, 0, 0, 0), 0)
	_, err = decompress(env)
	assert.True(t, maperr.IsFormat(err))

	env = withSize(append([]byte(envelopeMagic), uint8(CodecZstd), 0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3), 3)
	_, err = decompress(env)
	assert.True(t, maperr.IsFormat(err))
}
