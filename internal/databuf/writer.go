// Package databuf reads and writes the little-endian primitives that map
// files are built from.
package databuf

import (
	"encoding/binary"
	"math"
)

// Writer appends encoded values to a growing buffer.
type Writer struct {
	buf []byte
}

// NewWriter creates a writer with a pre-allocated buffer.
func NewWriter(initialSize int) *Writer {
	return &Writer{buf: make([]byte, 0, initialSize)}
}

// Reset clears the buffer for reuse.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

// Bytes returns the encoded bytes.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) U8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) U16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) U32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) I32(v int32) {
	w.U32(uint32(v))
}

func (w *Writer) U64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) I64(v int64) {
	w.U64(uint64(v))
}

func (w *Writer) F64(v float64) {
	w.U64(math.Float64bits(v))
}

// Varint writes a zig-zag encoded signed varint.
func (w *Writer) Varint(v int64) {
	w.buf = binary.AppendVarint(w.buf, v)
}

// Uvarint writes an unsigned varint.
func (w *Writer) Uvarint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

// Str writes a u32 length followed by the raw bytes.
func (w *Writer) Str(s string) {
	w.U32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// Raw appends b unchanged.
func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// Align pads with zero bytes until the length is a multiple of n.
func (w *Writer) Align(n int) {
	for len(w.buf)%n != 0 {
		w.buf = append(w.buf, 0)
	}
}

// BeginSection reserves room for a u32 length prefix and returns its
// position. The matching EndSection fills it in.
func (w *Writer) BeginSection() int {
	pos := len(w.buf)
	w.U32(0)
	return pos
}

// EndSection writes the payload length for the section started at pos.
func (w *Writer) EndSection(pos int) {
	binary.LittleEndian.PutUint32(w.buf[pos:], uint32(len(w.buf)-pos-4))
}

// Section writes one length-prefixed section whose payload is produced by fn.
func (w *Writer) Section(fn func(w *Writer)) {
	pos := w.BeginSection()
	fn(w)
	w.EndSection(pos)
}
