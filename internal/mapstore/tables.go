package mapstore

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/wegman-software/mapstore-go/internal/databuf"
	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/handle"
	"github.com/wegman-software/mapstore-go/internal/item"
	"github.com/wegman-software/mapstore-go/internal/maperr"
)

// StringTable interns the names used by a map. Index 0 is the empty string.
type StringTable struct {
	strs  []string
	index map[string]uint32
}

func newStringTable() *StringTable {
	return &StringTable{strs: []string{""}, index: map[string]uint32{"": 0}}
}

// Add returns the index of s, adding it if needed.
func (t *StringTable) Add(s string) uint32 {
	if i, ok := t.index[s]; ok {
		return i
	}
	i := uint32(len(t.strs))
	t.strs = append(t.strs, s)
	t.index[s] = i
	return i
}

// Get returns the string at i.
func (t *StringTable) Get(i uint32) (string, error) {
	if int(i) >= len(t.strs) {
		return "", fmt.Errorf("string %d of %d: %w", i, len(t.strs), maperr.ErrOutOfRange)
	}
	return t.strs[i], nil
}

// Len returns the number of strings, the empty string included.
func (t *StringTable) Len() int { return len(t.strs) }

func (t *StringTable) encode(w *databuf.Writer) {
	w.U32(uint32(len(t.strs)))
	for _, s := range t.strs {
		w.Str(s)
	}
}

func (t *StringTable) decode(r *databuf.Reader) {
	n := r.Count(4)
	t.strs = make([]string, 0, max(n, 1))
	t.index = make(map[string]uint32, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		s := r.Str()
		if _, dup := t.index[s]; !dup {
			t.index[s] = uint32(i)
		}
		t.strs = append(t.strs, s)
	}
	if len(t.strs) == 0 {
		t.strs = append(t.strs, "")
		t.index[""] = 0
	}
}

// listTables holds the shared name, group and group-member arrays items
// refer to by offset.
type listTables struct {
	names   []item.Name
	groups  []handle.Handle
	members []handle.Handle
}

func (t *listTables) AddNames(n []item.Name) uint32 {
	off := uint32(len(t.names))
	t.names = append(t.names, n...)
	return off
}

func (t *listTables) AddGroups(g []handle.Handle) uint32 {
	off := uint32(len(t.groups))
	t.groups = append(t.groups, g...)
	return off
}

func (t *listTables) AddMembers(m []handle.Handle) uint32 {
	off := uint32(len(t.members))
	t.members = append(t.members, m...)
	return off
}

func sub[T any](what string, s []T, off uint32, n int) ([]T, error) {
	if n < 0 || int(off) > len(s) || n > len(s)-int(off) {
		return nil, fmt.Errorf("%s [%d:+%d] of %d: %w", what, off, n, len(s), maperr.ErrOutOfRange)
	}
	return slices.Clone(s[off : int(off)+n]), nil
}

func (t *listTables) Names(off uint32, n int) ([]item.Name, error) {
	return sub("names", t.names, off, n)
}

func (t *listTables) Groups(off uint32, n int) ([]handle.Handle, error) {
	return sub("groups", t.groups, off, n)
}

func (t *listTables) Members(off uint32, n int) ([]handle.Handle, error) {
	return sub("group contents", t.members, off, n)
}

func encodeHandles(w *databuf.Writer, hs []handle.Handle) {
	w.U32(uint32(len(hs)))
	for _, h := range hs {
		w.U32(uint32(h))
	}
}

func decodeHandles(r *databuf.Reader) []handle.Handle {
	n := r.Count(4)
	hs := make([]handle.Handle, n)
	for i := range hs {
		hs[i] = handle.Handle(r.U32())
	}
	return hs
}

func encodeNames(w *databuf.Writer, names []item.Name) {
	w.U32(uint32(len(names)))
	for _, n := range names {
		w.U32(n.StringIndex)
		w.U8(n.Language)
		w.U8(uint8(n.Kind))
	}
}

func decodeNames(r *databuf.Reader) []item.Name {
	n := r.Count(6)
	names := make([]item.Name, n)
	for i := range names {
		names[i] = item.Name{StringIndex: r.U32(), Language: r.U8(), Kind: item.NameKind(r.U8())}
	}
	return names
}

// Landmark describes an item worth mentioning when driving a connection.
type Landmark struct {
	Item       handle.Handle
	Importance uint8
	Side       item.Side
	Location   uint8
	Type       uint8
}

func sortedEdges[V any](m map[item.Edge]V) []item.Edge {
	return slices.SortedFunc(maps.Keys(m), func(a, b item.Edge) int {
		if c := cmp.Compare(a.From, b.From); c != 0 {
			return c
		}
		return cmp.Compare(a.To, b.To)
	})
}

// Landmarks are written one record per description, so an edge with
// several landmarks repeats its key.
func encodeLandmarks(w *databuf.Writer, t map[item.Edge][]Landmark) {
	n := 0
	for _, l := range t {
		n += len(l)
	}
	w.U32(uint32(n))
	for _, e := range sortedEdges(t) {
		for _, lm := range t[e] {
			w.U32(uint32(e.From))
			w.U32(uint32(e.To))
			w.U32(uint32(lm.Item))
			w.U8(lm.Importance)
			w.U8(uint8(lm.Side))
			w.U8(lm.Location)
			w.U8(lm.Type)
		}
	}
}

func decodeLandmarks(r *databuf.Reader) map[item.Edge][]Landmark {
	n := r.Count(16)
	t := make(map[item.Edge][]Landmark)
	for i := 0; i < n; i++ {
		e := item.Edge{From: handle.Handle(r.U32()), To: handle.Handle(r.U32())}
		lm := Landmark{
			Item:       handle.Handle(r.U32()),
			Importance: r.U8(),
			Side:       item.Side(r.U8()),
			Location:   r.U8(),
			Type:       r.U8(),
		}
		t[e] = append(t[e], lm)
	}
	return t
}

// ExternalConnection is an entry connection coming from another map.
type ExternalConnection struct {
	FromMap uint32
	item.Connection
}

// BoundarySegment is a routeable item at the map border together with the
// connections leading into it from neighbouring maps.
type BoundarySegment struct {
	Item handle.Handle
	// CloseNode tells which node lies at the border.
	CloseNode   uint8
	Connections [2][]ExternalConnection
}

func encodeBoundary(w *databuf.Writer, segs []BoundarySegment) error {
	w.U32(uint32(len(segs)))
	for i := range segs {
		s := &segs[i]
		if len(s.Connections[0]) > 0xff || len(s.Connections[1]) > 0xff {
			return fmt.Errorf("boundary segment %s has too many external connections", s.Item)
		}
		w.U32(uint32(s.Item))
		w.U8(uint8(len(s.Connections[0])))
		w.U8(uint8(len(s.Connections[1])))
		w.U8(s.CloseNode)
		w.U8(0)
		for end := range s.Connections {
			for j := range s.Connections[end] {
				c := &s.Connections[end][j]
				w.U32(c.FromMap)
				item.EncodeConnection(w, &c.Connection)
			}
		}
	}
	return nil
}

func decodeBoundary(r *databuf.Reader) []BoundarySegment {
	n := r.Count(8)
	segs := make([]BoundarySegment, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		s := &segs[i]
		s.Item = handle.Handle(r.U32())
		counts := [2]int{int(r.U8()), int(r.U8())}
		s.CloseNode = r.U8()
		r.U8()
		for end, cnt := range counts {
			if cnt == 0 {
				continue
			}
			s.Connections[end] = make([]ExternalConnection, cnt)
			for j := range s.Connections[end] {
				c := &s.Connections[end][j]
				c.FromMap = r.U32()
				item.DecodeConnection(r, &c.Connection)
			}
		}
	}
	return segs
}

// Lane is one lane description of a connection: direction bits in the low
// byte, flags above.
type Lane uint32

func encodeEdgeLists[V any](w *databuf.Writer, t map[item.Edge][]V, put func(V)) {
	w.U32(uint32(len(t)))
	for _, e := range sortedEdges(t) {
		w.U32(uint32(e.From))
		w.U32(uint32(e.To))
		w.U32(uint32(len(t[e])))
		for _, v := range t[e] {
			put(v)
		}
	}
}

func decodeEdgeLists[V any](r *databuf.Reader, size int, get func() V) map[item.Edge][]V {
	n := r.Count(12)
	t := make(map[item.Edge][]V, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		e := item.Edge{From: handle.Handle(r.U32()), To: handle.Handle(r.U32())}
		k := r.Count(size)
		vs := make([]V, k)
		for j := range vs {
			vs[j] = get()
		}
		t[e] = vs
	}
	return t
}

// encodeByHandle writes a handle-keyed table in ascending handle order.
func encodeByHandle[V any](w *databuf.Writer, t map[handle.Handle]V, put func(V)) {
	w.U32(uint32(len(t)))
	for _, h := range slices.Sorted(maps.Keys(t)) {
		w.U32(uint32(h))
		put(t[h])
	}
}

func decodeByHandle[V any](r *databuf.Reader, size int, get func() V) map[handle.Handle]V {
	n := r.Count(4 + size)
	t := make(map[handle.Handle]V, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		h := handle.Handle(r.U32())
		t[h] = get()
	}
	return t
}

func encodeCategories(w *databuf.Writer, t map[handle.Handle][]uint16) {
	encodeByHandle(w, t, func(ids []uint16) {
		w.U32(uint32(len(ids)))
		for _, id := range ids {
			w.U16(id)
		}
	})
}

func decodeCategories(r *databuf.Reader) map[handle.Handle][]uint16 {
	return decodeByHandle(r, 4, func() []uint16 {
		k := r.Count(2)
		ids := make([]uint16, k)
		for i := range ids {
			ids[i] = r.U16()
		}
		return ids
	})
}

// AdminCentre is the centre coordinate of an administrative area.
type AdminCentre struct {
	Item   handle.Handle
	Centre geom.Coord
}

func encodeAdminCentres(w *databuf.Writer, cs []AdminCentre) {
	w.U32(uint32(len(cs)))
	for _, c := range cs {
		w.U32(uint32(c.Item))
		w.I32(c.Centre.Lat)
		w.I32(c.Centre.Lon)
	}
}

func decodeAdminCentres(r *databuf.Reader) []AdminCentre {
	n := r.Count(12)
	cs := make([]AdminCentre, n)
	for i := range cs {
		cs[i] = AdminCentre{Item: handle.Handle(r.U32()), Centre: geom.Coord{Lat: r.I32(), Lon: r.I32()}}
	}
	// older writers did not sort
	slices.SortStableFunc(cs, func(a, b AdminCentre) int { return cmp.Compare(a.Item, b.Item) })
	return cs
}

func encodePOILookup(w *databuf.Writer, t map[uint32]handle.Handle) {
	w.U32(uint32(len(t)))
	for _, id := range slices.Sorted(maps.Keys(t)) {
		w.U32(id)
		w.U32(uint32(t[id]))
	}
}

func decodePOILookup(r *databuf.Reader) map[uint32]handle.Handle {
	n := r.Count(8)
	t := make(map[uint32]handle.Handle, n)
	for i := 0; i < n; i++ {
		id := r.U32()
		t[id] = handle.Handle(r.U32())
	}
	return t
}
