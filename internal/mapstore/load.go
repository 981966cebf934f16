package mapstore

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/edsrzf/mmap-go"
	"go.uber.org/zap"

	"github.com/wegman-software/mapstore-go/internal/arena"
	"github.com/wegman-software/mapstore-go/internal/databuf"
	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/handle"
	"github.com/wegman-software/mapstore-go/internal/item"
	"github.com/wegman-software/mapstore-go/internal/maperr"
)

// Load maps the file at path read-only and decodes it. The mapping is
// released before Load returns; the map owns copies of everything it keeps.
func Load(path string, opts ...Option) (*Map, error) {
	start := time.Now()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open map file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat map file: %w", err)
	}
	if st.Size() == 0 {
		return nil, maperr.NewFormatError("file", 0, maperr.ErrTruncated)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap %s: %w", path, err)
	}
	defer data.Unmap()

	m, err := Decode(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	m.log.Info("Loaded map",
		zap.String("path", path),
		zap.Int("items", m.Len()),
		zap.Int64("bytes", st.Size()),
		zap.Int("warnings", len(m.warnings)),
		zap.Duration("took", time.Since(start)))
	return m, nil
}

// Decode builds a map from the bytes of a map file, compressed or not.
// data is not retained.
func Decode(data []byte, opts ...Option) (*Map, error) {
	if isCompressed(data) {
		var err error
		if data, err = decompress(data); err != nil {
			return nil, err
		}
	}

	r := databuf.NewReader(data, "file")
	if magic := r.Raw(len(fileMagic)); r.Err() == nil && !bytes.Equal(magic, []byte(fileMagic)) {
		r.Fail(fmt.Errorf("%w: %q", maperr.ErrBadMagic, magic))
	}
	if err := r.Err(); err != nil {
		return nil, err
	}

	var h Header
	hr := r.Section("header")
	info := SectionInfo{Name: hr.Name(), Offset: hr.AbsOffset(), Size: hr.Len()}
	if err := h.decode(hr); err != nil {
		return nil, err
	}

	m := New(h, opts...)
	m.sections = append(m.sections, info)
	m.done(r, hr)

	b1 := m.section(r, "body1")
	m.decodeBody1(b1)
	m.done(r, b1)

	if h.Version >= CurrentVersion && r.More() {
		b2 := m.section(r, "body2")
		m.decodeBody2(b2)
		m.done(r, b2)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if r.Remaining() > 0 {
		m.warn("file", r.Remaining())
	}
	m.indexStale = false
	return m, nil
}

func (m *Map) section(r *databuf.Reader, name string) *databuf.Reader {
	sub := r.Section(name)
	m.sections = append(m.sections, SectionInfo{Name: name, Offset: sub.AbsOffset(), Size: sub.Len()})
	return sub
}

// done folds sub back into r and reports bytes sub did not consume.
func (m *Map) done(r, sub *databuf.Reader) {
	r.Finish(sub)
	if sub.Err() == nil && sub.Remaining() > 0 {
		m.warn(sub.Name(), sub.Remaining())
	}
}

func (m *Map) warn(section string, n int) {
	w := &maperr.UnknownTrailingData{Section: section, Bytes: n}
	m.warnings = append(m.warnings, w)
	m.log.Warn("Unknown trailing data", zap.String("section", section), zap.Int("bytes", n))
}

func (m *Map) decodeBody1(r *databuf.Reader) {
	types, counts, extras := m.decodeCounts(m.section(r, "counts"), r)
	if r.Err() != nil {
		return
	}
	for i, t := range types {
		if err := m.Reserve(t, counts[i]); err != nil {
			r.Fail(err)
			return
		}
	}
	if n := extras[extraGfx]; n > 0 {
		m.gfx = arena.New[geom.Gfx]("gfx")
		m.gfx.Reserve(int(n))
	}
	if n := extras[extraCoordinates]; n > 0 {
		m.coords = arena.New[geom.Coord]("coordinates")
		m.coords.Reserve(int(n))
	}
	if n := extras[extraConnections]; n > 0 {
		m.connections = arena.New[item.Connection]("connections")
		m.connections.Reserve(int(n))
	}

	sub := m.section(r, "map gfx")
	if sub.Bool() {
		m.mapGfx = &geom.Gfx{}
		m.mapGfx.Decode(sub, nil)
	}
	m.done(r, sub)

	sub = m.section(r, "strings")
	m.strings.decode(sub)
	m.done(r, sub)

	var tables listTables
	sub = m.section(r, "groups")
	tables.groups = decodeHandles(sub)
	m.done(r, sub)
	sub = m.section(r, "names")
	tables.names = decodeNames(sub)
	m.done(r, sub)
	sub = m.section(r, "group contents")
	tables.members = decodeHandles(sub)
	m.done(r, sub)

	sub = m.section(r, "restrictions")
	m.restrictions = item.DecodeRestrictionTable(sub)
	m.done(r, sub)
	sub = m.section(r, "poi lookup")
	m.poiLookup = decodePOILookup(sub)
	m.done(r, sub)

	sub = m.section(r, "bands")
	m.decodeBands(sub, counts, r.Remaining())
	m.done(r, sub)
	if r.Err() != nil {
		return
	}

	alloc := &item.Allocators{Gfx: m.gfx, Coords: m.coords, Connections: m.connections}
	for _, t := range types {
		r.Align(4)
		sub := m.section(r, t.String())
		m.decodeArena(sub, t, &tables, alloc)
		m.done(r, sub)
		if r.Err() != nil {
			return
		}
	}

	sub = m.section(r, "external connections")
	m.boundary = decodeBoundary(sub)
	m.done(r, sub)

	sub = m.section(r, "hash index")
	m.index.Decode(sub)
	m.done(r, sub)

	if r.More() {
		sub = m.section(r, "landmarks")
		m.landmarks = decodeLandmarks(sub)
		m.done(r, sub)
	}
	if r.More() {
		sub = m.section(r, "node expansions")
		m.expansions = item.DecodeExpansionTable(sub)
		m.done(r, sub)
	}
	if r.More() {
		sub = m.section(r, "sign posts")
		m.signPosts = item.DecodeSignPostTable(sub)
		m.done(r, sub)
	}
	if r.More() {
		sub = m.section(r, "categories")
		m.categories = decodeCategories(sub)
		m.done(r, sub)
	}
	if r.More() {
		sub = m.section(r, "lanes")
		m.lanes = decodeEdgeLists(sub, 4, func() Lane { return Lane(sub.U32()) })
		m.done(r, sub)
	}
	if r.More() {
		sub = m.section(r, "index area orders")
		m.areaOrder = decodeByHandle(sub, 4, sub.U32)
		m.done(r, sub)
	}
}

func (m *Map) decodeCounts(r, parent *databuf.Reader) (types []item.Type, counts []int, extras []uint32) {
	defer m.done(parent, r)
	k := r.Count(8)
	seen := make(map[item.Type]bool, k)
	for i := 0; i < k && r.Err() == nil; i++ {
		t := item.Type(r.U32())
		n := r.Count(0)
		if !t.Valid() || seen[t] {
			r.Failf("item type %d in counts", uint8(t))
			break
		}
		// every record takes at least its 12 byte header
		if n > parent.Remaining()/12 {
			r.Failf("%d items of type %s", n, t)
			break
		}
		seen[t] = true
		types = append(types, t)
		counts = append(counts, n)
	}
	e := r.Count(4)
	extras = make([]uint32, max(e, numExtras))
	for i := 0; i < e; i++ {
		extras[i] = r.U32()
	}
	// the arenas are sized from these, so they must fit in the file
	for _, i := range []int{extraGfx, extraCoordinates, extraConnections} {
		if int(extras[i]) > parent.Remaining() {
			r.Failf("extra count %d of %d", i, extras[i])
			break
		}
	}
	return types, counts, extras[:numExtras]
}

// limit bounds the removed slots a band table may claim.
func (m *Map) decodeBands(r *databuf.Reader, counts []int, limit int) {
	live := 0
	for _, n := range counts {
		live += n
	}
	total := 0
	for b := 0; b < handle.NumBands; b++ {
		n := int(r.U32())
		total += n
		if r.Err() != nil {
			return
		}
		if n > handle.MaxIndex+1 || total > live+limit {
			r.Failf("band %d with %d slots", b, n)
			return
		}
		m.bands[b] = make([]*item.Item, n)
	}
}

func (m *Map) decodeArena(r *databuf.Reader, t item.Type, tables *listTables, alloc *item.Allocators) {
	err := m.arenas[t].Deserialize(r, func(r *databuf.Reader, it *item.Item, ref arena.Ref) error {
		if err := item.Decode(r, it, tables, alloc); err != nil {
			return err
		}
		if it.Type() != t {
			r.Failf("%s record in %s arena", it.Type(), t)
			return r.Err()
		}
		h := it.Handle
		band := m.bands[h.Band()]
		if h != h.Item() || int(h.Index()) >= len(band) || band[h.Index()] != nil {
			r.Fail(fmt.Errorf("item handle %s: %w", h, maperr.ErrOutOfRange))
			return r.Err()
		}
		band[h.Index()] = it
		m.refs[h] = ref
		return nil
	})
	if err != nil && !maperr.IsFormat(err) {
		// capacity errors from the sub-record arenas mean the counts lied
		r.Fail(err)
	}
}

func (m *Map) decodeBody2(r *databuf.Reader) {
	if r.More() {
		sub := m.section(r, "access rights")
		m.rights = decodeByHandle(sub, 4, sub.U32)
		m.done(r, sub)
	}
	if r.More() {
		sub := m.section(r, "street sides")
		m.streetSides = decodeByHandle(sub, 1, func() item.Side { return item.Side(sub.U8()) })
		m.done(r, sub)
	}
	if r.More() {
		sub := m.section(r, "admin centres")
		m.adminCentres = decodeAdminCentres(sub)
		m.done(r, sub)
	}
	if r.More() {
		sub := m.section(r, "road display classes")
		m.roadDisplay = decodeByHandle(sub, 1, sub.U8)
		m.done(r, sub)
	}
	if r.More() {
		sub := m.section(r, "area display classes")
		m.areaDisplay = decodeByHandle(sub, 1, sub.U8)
		m.done(r, sub)
	}
}
