// Package maperr defines the error kinds shared by the map storage packages.
//
// FormatError and ConsistencyError wrap a sentinel so callers can match on
// either the kind (errors.As) or the cause (errors.Is).
package maperr

import (
	"errors"
	"fmt"

	"github.com/wegman-software/mapstore-go/internal/handle"
)

var (
	// ErrNotRoutable is returned when a routing view is requested for an item
	// that has no node pair.
	ErrNotRoutable = errors.New("item is not routeable")
	// ErrOutOfRange is returned when a handle or arena reference points past
	// the populated part of its storage.
	ErrOutOfRange = errors.New("handle out of range")
	// ErrCapacity is returned when an arena is asked for more records than
	// were reserved.
	ErrCapacity = errors.New("arena capacity exceeded")
	// ErrMissingOpposing is returned when a connection has no reverse edge.
	ErrMissingOpposing = errors.New("missing opposing connection")

	ErrBadMagic           = errors.New("bad magic")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrTruncated          = errors.New("truncated buffer")
	ErrSizeMismatch       = errors.New("section size mismatch")
)

// FormatError reports a file that cannot be decoded. It is always fatal to
// the load that produced it.
type FormatError struct {
	Section string
	Offset  int
	Err     error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error in %s at offset %d: %v", e.Section, e.Offset, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// NewFormatError builds a FormatError.
func NewFormatError(section string, offset int, err error) *FormatError {
	return &FormatError{Section: section, Offset: offset, Err: err}
}

// ConsistencyKind classifies a ConsistencyError.
type ConsistencyKind uint8

const (
	KindCapacity ConsistencyKind = iota
	KindHandle
	KindSymmetry
)

func (k ConsistencyKind) String() string {
	switch k {
	case KindCapacity:
		return "capacity"
	case KindHandle:
		return "handle"
	case KindSymmetry:
		return "symmetry"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ConsistencyError reports a violated structural invariant: an exhausted
// arena, a dangling handle or an asymmetric connection.
type ConsistencyError struct {
	Kind   ConsistencyKind
	Handle handle.Handle
	Err    error
}

func (e *ConsistencyError) Error() string {
	if e.Handle.IsValid() {
		return fmt.Sprintf("consistency error (%s) at %s: %v", e.Kind, e.Handle, e.Err)
	}
	return fmt.Sprintf("consistency error (%s): %v", e.Kind, e.Err)
}

func (e *ConsistencyError) Unwrap() error { return e.Err }

// NewConsistencyError builds a ConsistencyError.
func NewConsistencyError(kind ConsistencyKind, h handle.Handle, err error) *ConsistencyError {
	return &ConsistencyError{Kind: kind, Handle: h, Err: err}
}

// UnknownTrailingData is a warning: the reader stopped after the last
// section it knows and found more bytes. The load still succeeds.
type UnknownTrailingData struct {
	Section string
	Bytes   int
}

func (e *UnknownTrailingData) Error() string {
	return fmt.Sprintf("%d bytes of unknown data after %s", e.Bytes, e.Section)
}

// IsFormat reports whether err is (or wraps) a FormatError.
func IsFormat(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// IsConsistency reports whether err is (or wraps) a ConsistencyError.
func IsConsistency(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}
