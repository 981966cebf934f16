// Package mapstore holds one map: its items in per-type arenas, the side
// tables that describe the routing graph, and the spatial index, together
// with the file format they are saved in.
package mapstore

import (
	"fmt"
	"iter"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"go.uber.org/zap"

	"github.com/wegman-software/mapstore-go/internal/arena"
	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/handle"
	"github.com/wegman-software/mapstore-go/internal/hashindex"
	"github.com/wegman-software/mapstore-go/internal/item"
	"github.com/wegman-software/mapstore-go/internal/logger"
	"github.com/wegman-software/mapstore-go/internal/maperr"
)

// AllRights is the access right mask of items without an entry in the
// access rights table.
const AllRights uint32 = 0xffffffff

// DefaultCellHint is the grid resolution used when the index is built
// implicitly.
const DefaultCellHint = 64

type options struct {
	log         *zap.Logger
	compression Codec
	cellHint    int
}

// Option configures Load, Decode and New.
type Option func(*options)

// WithLogger sets the logger. The default is the process logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithCompression makes Save wrap the file in a compression envelope.
func WithCompression(c Codec) Option {
	return func(o *options) { o.compression = c }
}

// WithCellHint sets the grid resolution used when Save has to build the
// index itself.
func WithCellHint(n int) Option {
	return func(o *options) { o.cellHint = n }
}

func buildOptions(opts []Option) options {
	o := options{cellHint: DefaultCellHint}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = logger.Get()
	}
	return o
}

// SectionInfo locates one section of a loaded file.
type SectionInfo struct {
	Name   string
	Offset int
	Size   int
}

// Map is one loaded or freshly built map. It is not safe for concurrent
// mutation; concurrent readers need no locking once building is done.
type Map struct {
	opts   options
	log    *zap.Logger
	header Header

	arenas      map[item.Type]*arena.Arena[item.Item]
	refs        map[handle.Handle]arena.Ref
	bands       [handle.NumBands][]*item.Item
	gfx         *arena.Arena[geom.Gfx]
	coords      *arena.Arena[geom.Coord]
	connections *arena.Arena[item.Connection]

	mapGfx       *geom.Gfx
	strings      *StringTable
	restrictions *item.RestrictionTable
	signPosts    *item.SignPostTable
	expansions   item.ExpansionTable
	landmarks    map[item.Edge][]Landmark
	boundary     []BoundarySegment
	categories   map[handle.Handle][]uint16
	lanes        map[item.Edge][]Lane
	areaOrder    map[handle.Handle]uint32
	poiLookup    map[uint32]handle.Handle

	rights       map[handle.Handle]uint32
	streetSides  map[handle.Handle]item.Side
	adminCentres []AdminCentre
	roadDisplay  map[handle.Handle]uint8
	areaDisplay  map[handle.Handle]uint8

	index      *hashindex.Index
	indexStale bool
	warnings   []error
	sections   []SectionInfo
}

// New returns an empty map for building.
func New(h Header, opts ...Option) *Map {
	if h.Version == 0 {
		h.Version = CurrentVersion
	}
	o := buildOptions(opts)
	m := &Map{
		opts:         o,
		log:          o.log.With(zap.Uint32("map_id", h.MapID)),
		header:       h,
		arenas:       make(map[item.Type]*arena.Arena[item.Item]),
		refs:         make(map[handle.Handle]arena.Ref),
		strings:      newStringTable(),
		restrictions: item.NewRestrictionTable(),
		signPosts:    item.NewSignPostTable(),
		expansions:   make(item.ExpansionTable),
		landmarks:    make(map[item.Edge][]Landmark),
		categories:   make(map[handle.Handle][]uint16),
		lanes:        make(map[item.Edge][]Lane),
		areaOrder:    make(map[handle.Handle]uint32),
		poiLookup:    make(map[uint32]handle.Handle),
		rights:       make(map[handle.Handle]uint32),
		streetSides:  make(map[handle.Handle]item.Side),
		roadDisplay:  make(map[handle.Handle]uint8),
		areaDisplay:  make(map[handle.Handle]uint8),
	}
	m.index = hashindex.New(m)
	return m
}

// Header returns the map header.
func (m *Map) Header() *Header { return &m.header }

// Warnings returns the non-fatal problems found while loading.
func (m *Map) Warnings() []error { return m.warnings }

// Sections returns the layout of the file the map was loaded from.
func (m *Map) Sections() []SectionInfo { return m.sections }

// Strings returns the string table.
func (m *Map) Strings() *StringTable { return m.strings }

// Restrictions returns the vehicle restriction table.
func (m *Map) Restrictions() *item.RestrictionTable { return m.restrictions }

// SignPosts returns the sign post table.
func (m *Map) SignPosts() *item.SignPostTable { return m.signPosts }

// Expansions returns the multi-connection expansion table.
func (m *Map) Expansions() item.ExpansionTable { return m.expansions }

// Index returns the spatial index.
func (m *Map) Index() *hashindex.Index { return m.index }

// MapGfx returns the outline of the map, or nil.
func (m *Map) MapGfx() *geom.Gfx { return m.mapGfx }

// SetMapGfx sets the outline of the map.
func (m *Map) SetMapGfx(g *geom.Gfx) { m.mapGfx = g }

// Reserve sizes the arena of type t for n items. It must be called before
// the first AddEntity of that type.
func (m *Map) Reserve(t item.Type, n int) error {
	if !t.Valid() {
		return fmt.Errorf("failed to reserve: unknown item type %d", uint8(t))
	}
	a, ok := m.arenas[t]
	if !ok {
		a = arena.New[item.Item](t.String())
		m.arenas[t] = a
	}
	return a.Reserve(n)
}

// Capacity returns the reserved and used slots of type t's arena.
func (m *Map) Capacity(t item.Type) (reserved, used int) {
	if a, ok := m.arenas[t]; ok {
		return a.Cap(), a.Len()
	}
	return 0, 0
}

// AddEntity allocates a zero item of type t in band and returns it with its
// handle set. Municipal items added to band 0 take the first removed slot
// of the band, every other item gets a fresh slot.
func (m *Map) AddEntity(t item.Type, band int) (*item.Item, error) {
	if band < 0 || band >= handle.NumBands {
		return nil, maperr.NewConsistencyError(maperr.KindHandle, handle.Invalid,
			fmt.Errorf("band %d: %w", band, maperr.ErrOutOfRange))
	}
	a, ok := m.arenas[t]
	if !ok {
		if !t.Valid() {
			return nil, fmt.Errorf("failed to add entity: unknown item type %d", uint8(t))
		}
		a = arena.New[item.Item](t.String())
		m.arenas[t] = a
	}

	index := len(m.bands[band])
	if t == item.TypeMunicipal && band == 0 {
		if free := slices.Index(m.bands[0], nil); free >= 0 {
			index = free
		}
	}
	if index > handle.MaxIndex {
		return nil, maperr.NewConsistencyError(maperr.KindCapacity, handle.Invalid,
			fmt.Errorf("band %d is full: %w", band, maperr.ErrCapacity))
	}
	h := handle.Make(band, uint32(index))

	slot, ref, err := a.Allocate()
	if err != nil {
		return nil, err
	}
	fresh, err := item.New(t, h)
	if err != nil {
		return nil, err
	}
	*slot = *fresh

	if index == len(m.bands[band]) {
		m.bands[band] = append(m.bands[band], slot)
	} else {
		m.bands[band][index] = slot
	}
	m.refs[h] = ref
	m.indexStale = true
	return slot, nil
}

// SetNodes fills the node pair of a routeable item, interning vehicle masks
// and sign posts in the map's tables.
func (m *Map) SetNodes(it *item.Item, specs [2]item.NodeSpec) error {
	rt, err := item.RouteableOf(it)
	if err != nil {
		return err
	}
	*rt = item.BuildNodePair(it.Handle, specs, m.restrictions, m.signPosts)
	return nil
}

// Lookup returns the item addressed by h. Node handles resolve to their
// item.
func (m *Map) Lookup(h handle.Handle) (*item.Item, error) {
	if !h.IsValid() {
		return nil, maperr.NewConsistencyError(maperr.KindHandle, h, maperr.ErrOutOfRange)
	}
	h = h.Item()
	band := m.bands[h.Band()]
	i := int(h.Index())
	if i >= len(band) || band[i] == nil {
		return nil, maperr.NewConsistencyError(maperr.KindHandle, h,
			fmt.Errorf("%d items in band %d: %w", len(band), h.Band(), maperr.ErrOutOfRange))
	}
	return band[i], nil
}

// LookupNode returns the node addressed by node handle h.
func (m *Map) LookupNode(h handle.Handle) (*item.Node, error) {
	it, err := m.Lookup(h)
	if err != nil {
		return nil, err
	}
	rt, err := item.RouteableOf(it)
	if err != nil {
		return nil, err
	}
	return &rt.Nodes[h.End()], nil
}

// BandLen returns the number of slots in band b, removed ones included.
func (m *Map) BandLen(b int) int {
	if b < 0 || b >= handle.NumBands {
		return 0
	}
	return len(m.bands[b])
}

// ItemsInBand yields the live items of band b in index order.
func (m *Map) ItemsInBand(b int) iter.Seq[*item.Item] {
	return func(yield func(*item.Item) bool) {
		if b < 0 || b >= handle.NumBands {
			return
		}
		for _, it := range m.bands[b] {
			if it != nil && !yield(it) {
				return
			}
		}
	}
}

// Items yields every live item, band by band.
func (m *Map) Items() iter.Seq[*item.Item] {
	return func(yield func(*item.Item) bool) {
		for b := range m.bands {
			for _, it := range m.bands[b] {
				if it != nil && !yield(it) {
					return
				}
			}
		}
	}
}

// Len returns the number of live items.
func (m *Map) Len() int {
	return len(m.refs)
}

// CountByType returns the number of live items of each type.
func (m *Map) CountByType() map[item.Type]int {
	out := make(map[item.Type]int, len(m.arenas))
	for t, a := range m.arenas {
		if n := a.LiveCount(); n > 0 {
			out[t] = n
		}
	}
	return out
}

// RemoveEntities removes the items in set and every reference to them:
// group lists, member lists, connections and side tables. Removed slots
// stay empty so other handles keep their meaning. It returns the number
// of items removed.
func (m *Map) RemoveEntities(set *roaring.Bitmap) int {
	removed := roaring.New()
	it := set.Iterator()
	for it.HasNext() {
		h := handle.Handle(it.Next()).Item()
		ref, ok := m.refs[h]
		if !ok {
			continue
		}
		found, _ := m.Lookup(h)
		if err := m.arenas[found.Type()].Release(ref); err != nil {
			m.log.Warn("Failed to release arena slot", zap.Stringer("handle", h), zap.Error(err))
		}
		m.bands[h.Band()][h.Index()] = nil
		delete(m.refs, h)
		removed.Add(uint32(h))
	}
	if removed.IsEmpty() {
		return 0
	}

	gone := func(h handle.Handle) bool { return removed.Contains(uint32(h.Item())) }
	for it := range m.Items() {
		it.Groups = slices.DeleteFunc(it.Groups, gone)
		switch v := it.Variant.(type) {
		case *item.Street:
			v.Members = slices.DeleteFunc(v.Members, gone)
		case *item.Area:
			v.Members = slices.DeleteFunc(v.Members, gone)
		case *item.BuiltUpArea:
			v.Members = slices.DeleteFunc(v.Members, gone)
		case *item.PointOfInterest:
			if v.Segment != handle.Invalid && gone(v.Segment) {
				v.Segment = handle.Invalid
			}
		}
		if rt, err := item.RouteableOf(it); err == nil {
			for i := range rt.Nodes {
				rt.Nodes[i].Connections = slices.DeleteFunc(rt.Nodes[i].Connections,
					func(c item.Connection) bool { return gone(c.From) })
			}
		}
	}

	for h := range m.rights {
		if gone(h) {
			delete(m.rights, h)
		}
	}
	for id, h := range m.poiLookup {
		if gone(h) {
			delete(m.poiLookup, id)
		}
	}
	for _, t := range []map[handle.Handle]uint8{m.roadDisplay, m.areaDisplay} {
		for h := range t {
			if gone(h) {
				delete(t, h)
			}
		}
	}
	for h := range m.streetSides {
		if gone(h) {
			delete(m.streetSides, h)
		}
	}
	for h := range m.categories {
		if gone(h) {
			delete(m.categories, h)
		}
	}
	for h := range m.areaOrder {
		if gone(h) {
			delete(m.areaOrder, h)
		}
	}
	m.adminCentres = slices.DeleteFunc(m.adminCentres, func(c AdminCentre) bool { return gone(c.Item) })
	m.boundary = slices.DeleteFunc(m.boundary, func(s BoundarySegment) bool { return gone(s.Item) })
	for e, lms := range m.landmarks {
		if gone(e.From) || gone(e.To) {
			delete(m.landmarks, e)
			continue
		}
		m.landmarks[e] = slices.DeleteFunc(lms, func(l Landmark) bool { return gone(l.Item) })
	}
	for e := range m.expansions {
		if gone(e.From) || gone(e.To) {
			delete(m.expansions, e)
		}
	}
	for e := range m.lanes {
		if gone(e.From) || gone(e.To) {
			delete(m.lanes, e)
		}
	}
	m.signPosts.DeleteFunc(func(e item.Edge) bool { return gone(e.From) || gone(e.To) })

	if m.index.Built() {
		m.index.Remove(removed)
	}
	n := int(removed.GetCardinality())
	m.log.Debug("Removed items", zap.Int("count", n))
	return n
}

// AccessRights returns the access right mask of h, AllRights when unset.
func (m *Map) AccessRights(h handle.Handle) uint32 {
	if r, ok := m.rights[h.Item()]; ok {
		return r
	}
	return AllRights
}

// SetAccessRights stores the masks in rights. A mask of AllRights clears
// the entry.
func (m *Map) SetAccessRights(rights map[handle.Handle]uint32) {
	for h, r := range rights {
		if r == AllRights {
			delete(m.rights, h.Item())
			continue
		}
		m.rights[h.Item()] = r
	}
}

// Region returns the first group of type t reached from h by following
// group lists, or nil if there is none.
func (m *Map) Region(h handle.Handle, t item.Type) (*item.Item, error) {
	start, err := m.Lookup(h)
	if err != nil {
		return nil, err
	}
	seen := map[handle.Handle]bool{start.Handle: true}
	queue := slices.Clone(start.Groups)
	for len(queue) > 0 {
		g := queue[0]
		queue = queue[1:]
		if seen[g] {
			continue
		}
		seen[g] = true
		group, err := m.Lookup(g)
		if err != nil {
			continue
		}
		if group.Type() == t {
			return group, nil
		}
		queue = append(queue, group.Groups...)
	}
	return nil, nil
}
