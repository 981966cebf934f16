package databuf

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/mapstore-go/internal/maperr"
)

func TestPrimitives(t *testing.T) {
	w := NewWriter(64)
	w.U8(7)
	w.Bool(true)
	w.U16(0xbeef)
	w.U32(0xdeadbeef)
	w.I32(-42)
	w.U64(1 << 40)
	w.I64(-1)
	w.F64(3.25)
	w.Varint(-300)
	w.Uvarint(300)
	w.Str("Göteborg")

	r := NewReader(w.Bytes(), "test")
	assert.Equal(t, uint8(7), r.U8())
	assert.True(t, r.Bool())
	assert.Equal(t, uint16(0xbeef), r.U16())
	assert.Equal(t, uint32(0xdeadbeef), r.U32())
	assert.Equal(t, int32(-42), r.I32())
	assert.Equal(t, uint64(1<<40), r.U64())
	assert.Equal(t, int64(-1), r.I64())
	assert.Equal(t, 3.25, r.F64())
	assert.Equal(t, int64(-300), r.Varint())
	assert.Equal(t, uint64(300), r.Uvarint())
	assert.Equal(t, "Göteborg", r.Str())
	require.NoError(t, r.Err())
	assert.False(t, r.More())
}

func TestLittleEndian(t *testing.T) {
	w := NewWriter(4)
	w.U32(0x01020304)
	assert.Equal(t, []byte{4, 3, 2, 1}, w.Bytes())
}

func TestAlign(t *testing.T) {
	w := NewWriter(16)
	w.U8(1)
	w.Align(4)
	assert.Equal(t, 4, w.Len())
	w.U32(9)

	r := NewReader(w.Bytes(), "align")
	assert.Equal(t, uint8(1), r.U8())
	r.Align(4)
	assert.Equal(t, uint32(9), r.U32())
	require.NoError(t, r.Err())
}

func TestSections(t *testing.T) {
	w := NewWriter(64)
	w.Section(func(w *Writer) {
		w.U32(1)
		w.U32(2)
	})
	w.Section(func(w *Writer) {})
	w.U8(0xff)

	r := NewReader(w.Bytes(), "file")
	first := r.Section("first")
	assert.Equal(t, 8, first.Len())
	assert.Equal(t, uint32(1), first.U32())
	assert.Equal(t, uint32(2), first.U32())
	assert.False(t, first.More())

	empty := r.Section("empty")
	assert.Equal(t, 0, empty.Len())
	assert.False(t, empty.More())

	assert.Equal(t, uint8(0xff), r.U8())
	require.NoError(t, r.Err())
}

func TestSectionAbsoluteAlignment(t *testing.T) {
	w := NewWriter(32)
	w.U8(1)
	w.Section(func(w *Writer) {
		w.Align(4)
		w.U32(77)
	})

	r := NewReader(w.Bytes(), "file")
	r.U8()
	sub := r.Section("aligned")
	sub.Align(4)
	assert.Equal(t, uint32(77), sub.U32())
	require.NoError(t, sub.Err())
}

func TestTruncatedIsFormatError(t *testing.T) {
	r := NewReader([]byte{1, 2}, "short")
	_ = r.U32()
	err := r.Err()
	require.Error(t, err)
	assert.True(t, maperr.IsFormat(err))
	assert.True(t, errors.Is(err, maperr.ErrTruncated))

	// errors are sticky
	assert.Equal(t, uint8(0), r.U8())
	assert.Equal(t, err, r.Err())
}

func TestSectionLengthBeyondBuffer(t *testing.T) {
	w := NewWriter(8)
	w.U32(100)
	w.U32(1)

	r := NewReader(w.Bytes(), "file")
	sub := r.Section("big")
	require.Error(t, sub.Err())
	require.Error(t, r.Err())

	var fe *maperr.FormatError
	require.True(t, errors.As(r.Err(), &fe))
	assert.Equal(t, "file", fe.Section)
}

func TestCountGuard(t *testing.T) {
	w := NewWriter(8)
	w.U32(1_000_000)
	w.U32(0)

	r := NewReader(w.Bytes(), "counts")
	assert.Equal(t, 0, r.Count(4))
	assert.True(t, errors.Is(r.Err(), maperr.ErrSizeMismatch))
}
