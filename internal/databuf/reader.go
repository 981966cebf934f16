package databuf

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wegman-software/mapstore-go/internal/maperr"
)

// Reader decodes values from a byte slice. Errors are sticky: the first
// failed read records a FormatError, later reads return zero values and
// Err reports the first failure.
type Reader struct {
	buf     []byte
	off     int
	base    int // absolute offset of buf[0] in the enclosing file
	section string
	err     error
}

// NewReader creates a reader over buf. section names the data for error
// messages.
func NewReader(buf []byte, section string) *Reader {
	return &Reader{buf: buf, section: section}
}

// Err returns the first decoding error, if any.
func (r *Reader) Err() error {
	return r.err
}

// Offset returns the current position relative to the start of this reader.
func (r *Reader) Offset() int {
	return r.off
}

// AbsOffset returns the current position in the enclosing file.
func (r *Reader) AbsOffset() int {
	return r.base + r.off
}

// Len returns the size of the underlying buffer.
func (r *Reader) Len() int {
	return len(r.buf)
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// More reports whether unread bytes remain and no error occurred. It is the
// presence test for optional trailing sections.
func (r *Reader) More() bool {
	return r.err == nil && r.off < len(r.buf)
}

// Fail records err as a FormatError at the current position unless an error
// is already recorded.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = maperr.NewFormatError(r.section, r.AbsOffset(), err)
	}
}

// Failf is Fail with a formatted cause wrapping maperr.ErrSizeMismatch.
func (r *Reader) Failf(format string, args ...any) {
	r.Fail(fmt.Errorf("%w: %s", maperr.ErrSizeMismatch, fmt.Sprintf(format, args...)))
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.Fail(fmt.Errorf("%w: need %d bytes, have %d", maperr.ErrTruncated, n, len(r.buf)-r.off))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Bool() bool {
	return r.U8() != 0
}

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) I32() int32 {
	return int32(r.U32())
}

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) I64() int64 {
	return int64(r.U64())
}

func (r *Reader) F64() float64 {
	return math.Float64frombits(r.U64())
}

func (r *Reader) Varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf[r.off:])
	if n <= 0 {
		r.Fail(fmt.Errorf("%w: bad varint", maperr.ErrTruncated))
		return 0
	}
	r.off += n
	return v
}

func (r *Reader) Uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		r.Fail(fmt.Errorf("%w: bad uvarint", maperr.ErrTruncated))
		return 0
	}
	r.off += n
	return v
}

func (r *Reader) Str() string {
	n := r.U32()
	return string(r.take(int(n)))
}

// Raw returns the next n bytes without copying.
func (r *Reader) Raw(n int) []byte {
	return r.take(n)
}

// Skip advances past n bytes.
func (r *Reader) Skip(n int) {
	r.take(n)
}

// Align skips padding until the absolute offset is a multiple of n.
func (r *Reader) Align(n int) {
	for r.err == nil && r.AbsOffset()%n != 0 {
		r.take(1)
	}
}

// Count reads a u32 element count and checks that at least minSize bytes per
// element remain, so corrupt counts fail fast instead of allocating.
func (r *Reader) Count(minSize int) int {
	n := int(r.U32())
	if r.err != nil {
		return 0
	}
	if minSize > 0 && n > r.Remaining()/minSize {
		r.Failf("count %d exceeds remaining %d bytes", n, r.Remaining())
		return 0
	}
	return n
}

// Section reads a u32 length prefix and returns a reader limited to that
// payload. The parent advances past the payload.
func (r *Reader) Section(name string) *Reader {
	start := r.AbsOffset()
	n := r.U32()
	payload := r.take(int(n))
	sub := &Reader{buf: payload, base: start + 4, section: name, err: r.err}
	if payload == nil && r.err == nil {
		sub.buf = []byte{}
	}
	return sub
}

// Finish propagates a sub-reader's error into r.
func (r *Reader) Finish(sub *Reader) {
	if sub.err != nil && r.err == nil {
		r.err = sub.err
	}
}

// Name returns the section name used in errors.
func (r *Reader) Name() string {
	return r.section
}
