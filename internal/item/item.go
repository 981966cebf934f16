// Package item defines map items, their closed set of variants and the
// routing graph carried by road-like items.
package item

import (
	"fmt"

	"github.com/wegman-software/mapstore-go/internal/arena"
	"github.com/wegman-software/mapstore-go/internal/databuf"
	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/handle"
)

// Item is one map feature.
type Item struct {
	Handle  handle.Handle
	Source  uint8
	Names   []Name
	Groups  []handle.Handle
	Gfx     *geom.Gfx
	Variant Variant
}

// New returns a zero item of type t.
func New(t Type, h handle.Handle) (*Item, error) {
	v, err := newVariant(t)
	if err != nil {
		return nil, err
	}
	return &Item{Handle: h, Variant: v}, nil
}

// Type returns the item's variant tag.
func (it *Item) Type() Type {
	return it.Variant.Type()
}

// InGroup reports whether g is among the item's groups.
func (it *Item) InGroup(g handle.Handle) bool {
	for _, h := range it.Groups {
		if h == g {
			return true
		}
	}
	return false
}

// TableWriter receives the shared list data of items being saved and
// returns offsets into the shared arrays.
type TableWriter interface {
	AddNames(names []Name) uint32
	AddGroups(groups []handle.Handle) uint32
	AddMembers(members []handle.Handle) uint32
}

// TableReader resolves offsets written through a TableWriter.
type TableReader interface {
	Names(offset uint32, n int) ([]Name, error)
	Groups(offset uint32, n int) ([]handle.Handle, error)
	Members(offset uint32, n int) ([]handle.Handle, error)
}

// Allocators supply arena storage for the sub-records of decoded items. Nil
// fields fall back to the heap.
type Allocators struct {
	Gfx         *arena.Arena[geom.Gfx]
	Coords      *arena.Arena[geom.Coord]
	Connections *arena.Arena[Connection]
}

func (a *Allocators) gfx() (*geom.Gfx, error) {
	if a == nil || a.Gfx == nil {
		return &geom.Gfx{}, nil
	}
	g, _, err := a.Gfx.Allocate()
	return g, err
}

func (a *Allocators) coords() geom.CoordAllocator {
	if a == nil || a.Coords == nil {
		return nil
	}
	return a.Coords
}

func (a *Allocators) connections(n int) ([]Connection, error) {
	if a == nil || a.Connections == nil {
		if n == 0 {
			return nil, nil
		}
		return make([]Connection, n), nil
	}
	return a.Connections.AllocateN(n)
}

// Record layout after 4-byte alignment:
//
//	type u8, handle u32, group count u32, name count u8, has gfx u8,
//	source u8, [names offset u32], [groups offset u32], [gfx], variant
const maxNames = 0xff

// Encode writes the item record.
func (it *Item) Encode(w *databuf.Writer, tw TableWriter) error {
	if len(it.Names) > maxNames {
		return fmt.Errorf("item %s has %d names, at most %d fit", it.Handle, len(it.Names), maxNames)
	}
	if rt, err := RouteableOf(it); err == nil {
		for i := range rt.Nodes {
			if n := len(rt.Nodes[i].Connections); n > maxConnections {
				return fmt.Errorf("node %s has %d connections, at most %d fit", rt.Nodes[i].Handle, n, maxConnections)
			}
		}
	}
	w.Align(4)
	w.U8(uint8(it.Type()))
	w.U32(uint32(it.Handle))
	w.U32(uint32(len(it.Groups)))
	w.U8(uint8(len(it.Names)))
	w.Bool(it.Gfx != nil)
	w.U8(it.Source)
	if len(it.Names) > 0 {
		w.U32(tw.AddNames(it.Names))
	}
	if len(it.Groups) > 0 {
		w.U32(tw.AddGroups(it.Groups))
	}
	if it.Gfx != nil {
		it.Gfx.Encode(w)
	}
	it.Variant.encode(w, tw)
	return nil
}

// Decode reads one item record into it. The shared tables must already be
// loaded so name, group and member lists resolve immediately.
func Decode(r *databuf.Reader, it *Item, tr TableReader, alloc *Allocators) error {
	r.Align(4)
	t := Type(r.U8())
	it.Handle = handle.Handle(r.U32())
	nGroups := int(r.U32())
	nNames := int(r.U8())
	hasGfx := r.Bool()
	it.Source = r.U8()
	if err := r.Err(); err != nil {
		return err
	}

	v, err := newVariant(t)
	if err != nil {
		r.Fail(err)
		return r.Err()
	}
	it.Variant = v

	if nNames > 0 {
		if it.Names, err = tr.Names(r.U32(), nNames); err != nil {
			r.Fail(err)
			return r.Err()
		}
	}
	if nGroups > 0 {
		if it.Groups, err = tr.Groups(r.U32(), nGroups); err != nil {
			r.Fail(err)
			return r.Err()
		}
	}
	if hasGfx {
		if it.Gfx, err = alloc.gfx(); err != nil {
			return err
		}
		if err := it.Gfx.Decode(r, alloc.coords()); err != nil {
			return err
		}
	}
	return v.decode(r, it.Handle, tr, alloc)
}
