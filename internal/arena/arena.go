// Package arena provides fixed-capacity, contiguous record storage.
//
// An Arena is sized once with Reserve and never grows: allocation past the
// reserved capacity fails instead of reallocating, so pointers handed out
// earlier stay valid for the arena's lifetime.
package arena

import (
	"fmt"
	"iter"

	"github.com/wegman-software/mapstore-go/internal/databuf"
	"github.com/wegman-software/mapstore-go/internal/handle"
	"github.com/wegman-software/mapstore-go/internal/maperr"
)

// Ref is the position of a record inside its arena.
type Ref uint32

// Arena stores records of one type.
type Arena[T any] struct {
	name  string
	slots []T
	freed []bool
}

// New creates an empty arena. name appears in error messages.
func New[T any](name string) *Arena[T] {
	return &Arena[T]{name: name}
}

// Name returns the arena's name.
func (a *Arena[T]) Name() string { return a.name }

// Reserve allocates backing storage for capacity records. It may only be
// called while the arena is empty.
func (a *Arena[T]) Reserve(capacity int) error {
	if len(a.slots) > 0 {
		return maperr.NewConsistencyError(maperr.KindCapacity, handle.Invalid,
			fmt.Errorf("arena %s: reserve after %d allocations", a.name, len(a.slots)))
	}
	if capacity < 0 {
		capacity = 0
	}
	a.slots = make([]T, 0, capacity)
	a.freed = make([]bool, 0, capacity)
	return nil
}

// Len returns the number of populated slots, tombstones included.
func (a *Arena[T]) Len() int { return len(a.slots) }

// Cap returns the reserved capacity.
func (a *Arena[T]) Cap() int { return cap(a.slots) }

// Available returns the number of slots still free.
func (a *Arena[T]) Available() int { return cap(a.slots) - len(a.slots) }

func (a *Arena[T]) capacityError(n int) error {
	return maperr.NewConsistencyError(maperr.KindCapacity, handle.Invalid,
		fmt.Errorf("arena %s: %w: want %d, have %d of %d", a.name, maperr.ErrCapacity, n, a.Available(), a.Cap()))
}

// Allocate returns the next zeroed record and its position.
func (a *Arena[T]) Allocate() (*T, Ref, error) {
	if len(a.slots) == cap(a.slots) {
		return nil, 0, a.capacityError(1)
	}
	var zero T
	a.slots = append(a.slots, zero)
	a.freed = append(a.freed, false)
	ref := Ref(len(a.slots) - 1)
	return &a.slots[ref], ref, nil
}

// AllocateN returns n contiguous zeroed records. The returned slice aliases
// arena storage and has capacity n.
func (a *Arena[T]) AllocateN(n int) ([]T, error) {
	if n == 0 {
		return nil, nil
	}
	if n < 0 || a.Available() < n {
		return nil, a.capacityError(n)
	}
	start := len(a.slots)
	var zero T
	for i := 0; i < n; i++ {
		a.slots = append(a.slots, zero)
		a.freed = append(a.freed, false)
	}
	return a.slots[start : start+n : start+n], nil
}

// Get returns the record at ref.
func (a *Arena[T]) Get(ref Ref) (*T, error) {
	if int(ref) >= len(a.slots) {
		return nil, fmt.Errorf("arena %s: ref %d of %d: %w", a.name, ref, len(a.slots), maperr.ErrOutOfRange)
	}
	return &a.slots[ref], nil
}

// Release tombstones the slot at ref. The slot keeps its position and its
// contents, so pointers taken before the release stay readable, but it is
// skipped by Live and Serialize and never handed out again.
func (a *Arena[T]) Release(ref Ref) error {
	if int(ref) >= len(a.slots) {
		return fmt.Errorf("arena %s: ref %d of %d: %w", a.name, ref, len(a.slots), maperr.ErrOutOfRange)
	}
	a.freed[ref] = true
	return nil
}

// IsReleased reports whether ref was tombstoned.
func (a *Arena[T]) IsReleased(ref Ref) bool {
	return int(ref) < len(a.freed) && a.freed[ref]
}

// LiveCount returns the number of populated, non-tombstoned slots.
func (a *Arena[T]) LiveCount() int {
	n := 0
	for _, f := range a.freed {
		if !f {
			n++
		}
	}
	return n
}

// All yields every populated slot in position order, tombstones included.
func (a *Arena[T]) All() iter.Seq2[Ref, *T] {
	return func(yield func(Ref, *T) bool) {
		for i := range a.slots {
			if !yield(Ref(i), &a.slots[i]) {
				return
			}
		}
	}
}

// Live yields populated slots that have not been released.
func (a *Arena[T]) Live() iter.Seq2[Ref, *T] {
	return func(yield func(Ref, *T) bool) {
		for i := range a.slots {
			if a.freed[i] {
				continue
			}
			if !yield(Ref(i), &a.slots[i]) {
				return
			}
		}
	}
}

// Serialize writes the live record count followed by each live record in
// position order.
func (a *Arena[T]) Serialize(w *databuf.Writer, enc func(w *databuf.Writer, rec *T) error) error {
	w.U32(uint32(a.LiveCount()))
	for ref, rec := range a.Live() {
		if err := enc(w, rec); err != nil {
			return fmt.Errorf("arena %s: record %d: %w", a.name, ref, err)
		}
	}
	return nil
}

// Deserialize reads a record count and that many records. The arena must be
// empty and reserved with exactly the count stored in the file.
func (a *Arena[T]) Deserialize(r *databuf.Reader, dec func(r *databuf.Reader, rec *T, ref Ref) error) error {
	n := int(r.U32())
	if err := r.Err(); err != nil {
		return err
	}
	if len(a.slots) != 0 || n != a.Available() {
		r.Failf("arena %s: %d records stored, %d reserved", a.name, n, a.Available())
		return r.Err()
	}
	for i := 0; i < n; i++ {
		rec, ref, err := a.Allocate()
		if err != nil {
			return err
		}
		if err := dec(r, rec, ref); err != nil {
			return err
		}
		if err := r.Err(); err != nil {
			return err
		}
	}
	return nil
}
