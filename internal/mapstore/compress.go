package mapstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/wegman-software/mapstore-go/internal/maperr"
)

// Codec selects the compression of a saved map file.
type Codec uint8

const (
	CodecNone Codec = 0
	CodecLZ4  Codec = 1
	CodecZstd Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// ParseCodec parses a codec name as accepted on the command line.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "", "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	}
	return CodecNone, fmt.Errorf("unknown compression %q", s)
}

// Envelope layout: magic, codec u8, uncompressed size u64, payload.
const (
	envelopeMagic      = "GMCZ"
	envelopeHeaderSize = 4 + 1 + 8
	// maxUncompressed bounds the allocation made for a corrupt size field.
	maxUncompressed = 1 << 34
	// lz4MaxRatio is the largest expansion an lz4 block can encode.
	lz4MaxRatio = 255
	// zstdPrealloc caps the initial zstd output buffer relative to the
	// payload; larger outputs grow as they are decoded.
	zstdPrealloc = 64
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxUncompressed))
	return dec
}

func isCompressed(data []byte) bool {
	return len(data) >= len(envelopeMagic) && bytes.Equal(data[:len(envelopeMagic)], []byte(envelopeMagic))
}

func compress(data []byte, c Codec) ([]byte, error) {
	out := make([]byte, envelopeHeaderSize, envelopeHeaderSize+len(data)/2)
	copy(out, envelopeMagic)
	out[4] = uint8(c)
	binary.LittleEndian.PutUint64(out[5:], uint64(len(data)))

	switch c {
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to compress with lz4: %w", err)
		}
		if n == 0 {
			// incompressible, stored as is
			out[4] = uint8(CodecNone)
			return append(out, data...), nil
		}
		return append(out, buf[:n]...), nil
	case CodecZstd:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(data, out), nil
	}
	return nil, fmt.Errorf("failed to compress: unknown codec %s", c)
}

func decompress(data []byte) ([]byte, error) {
	fail := func(err error) error { return maperr.NewFormatError("envelope", 0, err) }
	if len(data) < envelopeHeaderSize {
		return nil, fail(maperr.ErrTruncated)
	}
	c := Codec(data[4])
	size := binary.LittleEndian.Uint64(data[5:])
	if size > maxUncompressed {
		return nil, fail(fmt.Errorf("uncompressed size %d", size))
	}
	payload := data[envelopeHeaderSize:]

	switch c {
	case CodecNone:
		if uint64(len(payload)) != size {
			return nil, fail(fmt.Errorf("%w: %d stored bytes, %d expected", maperr.ErrSizeMismatch, len(payload), size))
		}
		return bytes.Clone(payload), nil
	case CodecLZ4:
		if size > uint64(len(payload))*lz4MaxRatio {
			return nil, fail(fmt.Errorf("%w: %d lz4 bytes cannot hold %d", maperr.ErrSizeMismatch, len(payload), size))
		}
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fail(err)
		}
		if uint64(n) != size {
			return nil, fail(fmt.Errorf("%w: lz4 gave %d of %d bytes", maperr.ErrSizeMismatch, n, size))
		}
		return out, nil
	case CodecZstd:
		var hdr zstd.Header
		if err := hdr.Decode(payload); err != nil {
			return nil, fail(err)
		}
		if hdr.HasFCS && hdr.FrameContentSize != size {
			return nil, fail(fmt.Errorf("%w: zstd frame holds %d of %d bytes", maperr.ErrSizeMismatch, hdr.FrameContentSize, size))
		}
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		got, err := dec.DecodeAll(payload, make([]byte, 0, min(size, uint64(len(payload))*zstdPrealloc)))
		if err != nil {
			return nil, fail(err)
		}
		if uint64(len(got)) != size {
			return nil, fail(fmt.Errorf("%w: zstd gave %d of %d bytes", maperr.ErrSizeMismatch, len(got), size))
		}
		return got, nil
	}
	return nil, fail(fmt.Errorf("unknown codec %d", uint8(c)))
}
