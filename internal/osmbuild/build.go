// Package osmbuild turns an OpenStreetMap extract into a map: highways
// become street segments joined into a routing graph, named highways
// become streets, and buildings, water, municipal boundaries and amenity
// nodes become their map items.
package osmbuild

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/osm"
	"go.uber.org/zap"

	"github.com/wegman-software/mapstore-go/internal/config"
	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/handle"
	"github.com/wegman-software/mapstore-go/internal/hashindex"
	"github.com/wegman-software/mapstore-go/internal/item"
	"github.com/wegman-software/mapstore-go/internal/mapstore"
	"github.com/wegman-software/mapstore-go/internal/nodeindex"
)

// ErrEmpty is returned when the input holds nothing that becomes a map item.
var ErrEmpty = errors.New("no map items in input")

// DefaultMaxNodeID covers the node ids of current planet files.
const DefaultMaxNodeID = 13_000_000_000

// Options controls a build.
type Options struct {
	MapID uint32
	Name  string
	// BBox drops ways and nodes outside it when set. The map box is then
	// the bbox, otherwise the union of the item bounds.
	BBox config.BBox
	// NodeIndexPath is the node coordinate file. Empty uses a temporary
	// file that is removed after the build.
	NodeIndexPath string
	MaxNodeID     int64
	CellHint      int
	Log           *zap.Logger
	// Progress, when set, counts scanned OSM objects.
	Progress   *atomic.Int64
	MapOptions []mapstore.Option
}

// Stats summarizes a build.
type Stats struct {
	Nodes        int64
	Ways         int64
	Segments     int
	Streets      int
	Buildings    int
	Water        int
	Municipals   int
	POIs         int
	Connections  int
	MissingNodes int
	Outside      int
	Elapsed      time.Duration
}

type way struct {
	id     osm.WayID
	kind   featureKind
	nodes  []osm.NodeID
	tags   osm.Tags
	coords []geom.Coord
}

type poi struct {
	id   osm.NodeID
	pos  geom.Coord
	tags osm.Tags
}

// segment is a routeable piece of a highway between two junctions.
type segment struct {
	way    *way
	coords []geom.Coord
	ends   [2]osm.NodeID
	it     *item.Item
}

type builder struct {
	opts  Options
	log   *zap.Logger
	idx   *nodeindex.MmapIndex
	stats Stats

	ways     []*way
	pois     []poi
	segments []*segment
}

// Build reads every object of scanner and assembles a map from them. The
// returned map has its spatial index built and a consistent routing graph.
func Build(ctx context.Context, scanner osm.Scanner, opts Options) (*mapstore.Map, *Stats, error) {
	start := time.Now()
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.MaxNodeID == 0 {
		opts.MaxNodeID = DefaultMaxNodeID
	}
	if opts.CellHint <= 0 {
		opts.CellHint = mapstore.DefaultCellHint
	}
	b := &builder{opts: opts, log: opts.Log.With(zap.Uint32("map_id", opts.MapID))}

	path := opts.NodeIndexPath
	if path == "" {
		dir, err := os.MkdirTemp("", "mapstore-nodes-")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create node index directory: %w", err)
		}
		defer os.RemoveAll(dir)
		path = filepath.Join(dir, "nodes.idx")
	}
	idx, err := nodeindex.NewMmapIndex(path, opts.MaxNodeID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create node index: %w", err)
	}
	defer idx.Close()
	b.idx = idx

	b.log.Info("Scanning OSM data")
	if err := b.scan(ctx, scanner); err != nil {
		return nil, nil, err
	}
	b.log.Info("Scan complete",
		zap.Int64("nodes", b.stats.Nodes),
		zap.Int64("ways", b.stats.Ways),
		zap.Int("features", len(b.ways)),
		zap.Int("pois", len(b.pois)))

	b.resolve()
	b.split()

	m, err := b.assemble(ctx)
	if err != nil {
		return nil, nil, err
	}
	b.stats.Elapsed = time.Since(start)
	b.log.Info("Map built",
		zap.Int("items", m.Len()),
		zap.Int("segments", b.stats.Segments),
		zap.Int("connections", b.stats.Connections),
		zap.Int("missing_nodes", b.stats.MissingNodes),
		zap.Duration("elapsed", b.stats.Elapsed))
	return m, &b.stats, nil
}

func (b *builder) scan(ctx context.Context, scanner osm.Scanner) error {
	var n int64
	for scanner.Scan() {
		n++
		if n%100_000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if b.opts.Progress != nil {
			b.opts.Progress.Add(1)
		}
		switch o := scanner.Object().(type) {
		case *osm.Node:
			b.stats.Nodes++
			pos := geom.FromDegrees(o.Lat, o.Lon)
			if !b.idx.Put(int64(o.ID), pos) {
				b.log.Debug("Node id beyond index", zap.Int64("node_id", int64(o.ID)))
				continue
			}
			if o.Tags.Find("amenity") != "" && b.opts.BBox.Contains(pos) {
				b.pois = append(b.pois, poi{id: o.ID, pos: pos, tags: o.Tags})
			}
		case *osm.Way:
			b.stats.Ways++
			kind := classifyWay(o.Tags)
			if kind == kindNone || len(o.Nodes) < 2 {
				continue
			}
			ids := make([]osm.NodeID, len(o.Nodes))
			for i, wn := range o.Nodes {
				ids[i] = wn.ID
			}
			b.ways = append(b.ways, &way{id: o.ID, kind: kind, nodes: ids, tags: o.Tags})
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan OSM data: %w", err)
	}
	return ctx.Err()
}

// resolve looks up way coordinates and drops ways with unknown nodes or
// outside the bbox.
func (b *builder) resolve() {
	kept := b.ways[:0]
	for _, w := range b.ways {
		coords := make([]geom.Coord, len(w.nodes))
		ok := true
		for i, id := range w.nodes {
			if coords[i], ok = b.idx.Get(int64(id)); !ok {
				break
			}
		}
		if !ok {
			b.stats.MissingNodes++
			continue
		}
		if b.opts.BBox.IsSet {
			bound := (&geom.Gfx{Polygons: [][]geom.Coord{coords}}).Bound()
			if !b.opts.BBox.Overlaps(bound) {
				b.stats.Outside++
				continue
			}
		}
		if w.kind != kindRoad {
			if !isClosed(w.nodes) {
				if w.kind != kindWater {
					continue
				}
			} else {
				// rings are stored without the closing coordinate
				coords = coords[:len(coords)-1]
				if len(coords) < 3 {
					continue
				}
			}
		}
		w.coords = coords
		kept = append(kept, w)
	}
	b.ways = kept
}

func isClosed(ids []osm.NodeID) bool {
	return len(ids) >= 4 && ids[0] == ids[len(ids)-1]
}

// split cuts highways at every node shared with another highway, so that
// segments only meet at their ends.
func (b *builder) split() {
	use := make(map[osm.NodeID]int)
	for _, w := range b.ways {
		if w.kind != kindRoad {
			continue
		}
		for _, id := range w.nodes {
			use[id]++
		}
	}
	for _, w := range b.ways {
		if w.kind != kindRoad {
			continue
		}
		from := 0
		for i := 1; i < len(w.nodes); i++ {
			if i < len(w.nodes)-1 && use[w.nodes[i]] < 2 {
				continue
			}
			b.segments = append(b.segments, &segment{
				way:    w,
				coords: w.coords[from : i+1],
				ends:   [2]osm.NodeID{w.nodes[from], w.nodes[i]},
			})
			from = i
		}
	}
}

// assemble reserves the arenas and adds every item to a new map.
func (b *builder) assemble(ctx context.Context) (*mapstore.Map, error) {
	box := b.opts.BBox.Box
	if !b.opts.BBox.IsSet {
		box = geom.EmptyBox()
		for _, w := range b.ways {
			box = box.Union((&geom.Gfx{Polygons: [][]geom.Coord{w.coords}}).Bound())
		}
		for _, p := range b.pois {
			box = box.Extend(p.pos)
		}
	}
	now := time.Now().UTC()
	m := mapstore.New(mapstore.Header{
		MapID:       b.opts.MapID,
		Box:         box,
		Created:     now,
		TrueCreated: now,
		Name:        b.opts.Name,
		Origin:      "openstreetmap",
	}, append([]mapstore.Option{mapstore.WithLogger(b.log)}, b.opts.MapOptions...)...)

	streets := b.streetNames()
	counts := map[item.Type]int{
		item.TypeStreetSegment:   len(b.segments),
		item.TypeStreet:          len(streets),
		item.TypePointOfInterest: len(b.pois),
	}
	for _, w := range b.ways {
		switch w.kind {
		case kindBuilding:
			counts[item.TypeBuilding]++
		case kindWater:
			counts[item.TypeWater]++
		case kindMunicipal:
			counts[item.TypeMunicipal]++
		}
	}
	for t, n := range counts {
		if n == 0 {
			continue
		}
		if err := m.Reserve(t, n); err != nil {
			return nil, fmt.Errorf("failed to reserve %s items: %w", t, err)
		}
	}

	if err := b.addSegments(m); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.connect(m); err != nil {
		return nil, err
	}
	streetItems, err := b.addStreets(m, streets)
	if err != nil {
		return nil, err
	}
	municipals, err := b.addAreas(m)
	if err != nil {
		return nil, err
	}
	pois, err := b.addPOIs(m)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.Len() == 0 {
		return nil, ErrEmpty
	}
	if err := m.BuildIndex(b.opts.CellHint); err != nil {
		return nil, err
	}
	b.placePOIs(m, pois)
	b.assignMunicipals(m, municipals, streetItems)

	if err := m.CheckConsistency(); err != nil {
		return nil, fmt.Errorf("built graph is inconsistent: %w", err)
	}
	return m, nil
}

func (b *builder) addSegments(m *mapstore.Map) error {
	rights := make(map[handle.Handle]uint32)
	for _, s := range b.segments {
		hw := s.way.tags.Find("highway")
		class := roadClass(hw)
		it, err := m.AddEntity(item.TypeStreetSegment, int(class))
		if err != nil {
			return fmt.Errorf("failed to add segment of way %d: %w", s.way.id, err)
		}
		it.Gfx = geom.NewLine(s.coords...)
		seg := it.Variant.(*item.StreetSegment)
		seg.RoadClass = class
		seg.Roundabout = s.way.tags.Find("junction") == "roundabout"
		seg.Ramp = len(hw) > 5 && hw[len(hw)-5:] == "_link"
		seg.ControlledAccess = hw == "motorway"
		if name := s.way.tags.Find("name"); name != "" {
			m.AddName(it, name, 0, item.NameOfficial)
		}
		if ref := s.way.tags.Find("ref"); ref != "" {
			m.AddName(it, ref, 0, item.NameRoadNumber)
		}
		if r := accessRights(hw); r != item.VehicleAll {
			rights[it.Handle] = r
		}
		m.SetRoadDisplayClass(it.Handle, uint8(class))
		s.it = it
	}
	m.SetAccessRights(rights)
	b.stats.Segments = len(b.segments)
	return nil
}

// streetNames returns the distinct names of the segments in sorted order.
func (b *builder) streetNames() []string {
	var names []string
	seen := make(map[string]bool)
	for _, s := range b.segments {
		name := s.way.tags.Find("name")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// addStreets groups the named segments into one street per name.
func (b *builder) addStreets(m *mapstore.Map, names []string) ([]*item.Item, error) {
	byName := make(map[string][]*segment)
	for _, s := range b.segments {
		if name := s.way.tags.Find("name"); name != "" {
			byName[name] = append(byName[name], s)
		}
	}
	out := make([]*item.Item, 0, len(names))
	for _, name := range names {
		it, err := m.AddEntity(item.TypeStreet, bandStreet)
		if err != nil {
			return nil, fmt.Errorf("failed to add street %q: %w", name, err)
		}
		st := it.Variant.(*item.Street)
		st.RoadClass = item.RoadFourthClass
		box := geom.EmptyBox()
		for _, s := range byName[name] {
			st.Members = append(st.Members, s.it.Handle)
			st.RoadClass = min(st.RoadClass, s.it.Variant.(*item.StreetSegment).RoadClass)
			s.it.Groups = append(s.it.Groups, it.Handle)
			box = box.Union(s.it.Gfx.Bound())
		}
		// streets are indexed by the centre of their segments
		it.Gfx = geom.NewPoint(box.Center())
		m.AddName(it, name, 0, item.NameOfficial)
		out = append(out, it)
	}
	b.stats.Streets = len(out)
	return out, nil
}

// addAreas adds buildings, water and municipal boundaries and returns the
// municipals.
func (b *builder) addAreas(m *mapstore.Map) ([]*item.Item, error) {
	var municipals []*item.Item
	for _, w := range b.ways {
		var (
			t    item.Type
			band int
		)
		switch w.kind {
		case kindBuilding:
			t, band = item.TypeBuilding, bandBuilding
		case kindWater:
			t, band = item.TypeWater, bandWater
		case kindMunicipal:
			t, band = item.TypeMunicipal, bandMunicipal
		default:
			continue
		}
		it, err := m.AddEntity(t, band)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s of way %d: %w", t, w.id, err)
		}
		if isClosed(w.nodes) {
			it.Gfx = geom.NewPolygon(w.coords...)
		} else {
			it.Gfx = geom.NewLine(w.coords...)
		}
		if name := w.tags.Find("name"); name != "" {
			m.AddName(it, name, 0, item.NameOfficial)
		}
		switch v := it.Variant.(type) {
		case *item.Building:
			v.BuildingType = buildingType(w.tags.Find("building"))
			if h, err := strconv.ParseFloat(w.tags.Find("height"), 64); err == nil && h > 0 {
				v.Height = uint16(min(h*10, 65535))
			}
			b.stats.Buildings++
		case *item.Feature:
			b.stats.Water++
			m.SetAreaDisplayClass(it.Handle, 1)
		case *item.Area:
			municipals = append(municipals, it)
			b.stats.Municipals++
		}
	}
	return municipals, nil
}

func buildingType(v string) uint8 {
	switch v {
	case "house", "detached", "residential", "apartments":
		return 1
	case "commercial", "retail", "office":
		return 2
	case "industrial", "warehouse":
		return 3
	}
	return 0
}

func (b *builder) addPOIs(m *mapstore.Map) ([]*item.Item, error) {
	out := make([]*item.Item, 0, len(b.pois))
	for _, p := range b.pois {
		it, err := m.AddEntity(item.TypePointOfInterest, bandPOI)
		if err != nil {
			return nil, fmt.Errorf("failed to add POI of node %d: %w", p.id, err)
		}
		it.Gfx = geom.NewPoint(p.pos)
		v := it.Variant.(*item.PointOfInterest)
		v.POIType = poiTypes[p.tags.Find("amenity")]
		if p.id > 0 && p.id <= 0xffffffff {
			v.ExternalID = uint32(p.id)
		}
		if name := p.tags.Find("name"); name != "" {
			m.AddName(it, name, 0, item.NameOfficial)
		}
		if v.POIType != 0 {
			m.SetCategories(it.Handle, []uint16{v.POIType})
		}
		out = append(out, it)
	}
	b.stats.POIs = len(out)
	return out, nil
}

// placePOIs attaches every POI to its closest street segment and records
// the side of the street it lies on.
func (b *builder) placePOIs(m *mapstore.Map, pois []*item.Item) {
	if len(b.segments) == 0 {
		return
	}
	f := hashindex.Filter{Types: []item.Type{item.TypeStreetSegment}}
	for _, it := range pois {
		pos, _ := it.Gfx.First()
		h, _, ok := m.Closest(pos, f)
		if !ok {
			continue
		}
		seg, err := m.Lookup(h)
		if err != nil {
			continue
		}
		v := it.Variant.(*item.PointOfInterest)
		v.Segment = h
		v.Side, v.Offset = streetSide(seg.Gfx.Polygons[0], pos)
		m.SetStreetSide(it.Handle, v.Side)
	}
}

// streetSide returns the side of line p lies on and the position of its
// projection along the line, scaled to 0..65535.
func streetSide(line []geom.Coord, p geom.Coord) (item.Side, uint16) {
	cos := geom.CosLat(p.Lat)
	best, bestD, bestT := 0, -1.0, 0.0
	for i := 0; i+1 < len(line); i++ {
		a, c := line[i], line[i+1]
		dx, dy := float64(c.Lon-a.Lon)*cos, float64(c.Lat-a.Lat)
		px, py := float64(p.Lon-a.Lon)*cos, float64(p.Lat-a.Lat)
		t := 0.0
		if l := dx*dx + dy*dy; l > 0 {
			t = min(max((px*dx+py*dy)/l, 0), 1)
		}
		ex, ey := px-t*dx, py-t*dy
		if d := ex*ex + ey*ey; bestD < 0 || d < bestD {
			best, bestD, bestT = i, d, t
		}
	}
	if len(line) < 2 {
		return item.SideUnknown, 0
	}
	a, c := line[best], line[best+1]
	cross := float64(c.Lon-a.Lon)*cos*float64(p.Lat-a.Lat) - float64(c.Lat-a.Lat)*float64(p.Lon-a.Lon)*cos
	side := item.SideUnknown
	switch {
	case cross > 0:
		side = item.SideLeft
	case cross < 0:
		side = item.SideRight
	}
	offset := (float64(best) + bestT) / float64(len(line)-1)
	return side, uint16(offset * 65535)
}

// assignMunicipals puts every street into the municipal containing its
// position and records each municipal's centre.
func (b *builder) assignMunicipals(m *mapstore.Map, municipals, streets []*item.Item) {
	polys := make([]orb.Polygon, len(municipals))
	for order, mu := range municipals {
		if p, ok := mu.Gfx.Geometry().(orb.Polygon); ok {
			polys[order] = p
		}
		centroid, _ := planar.CentroidArea(mu.Gfx.Geometry())
		m.SetAdminCentre(mu.Handle, geom.FromDegrees(centroid.Lat(), centroid.Lon()))
		m.SetIndexAreaOrder(mu.Handle, uint32(order))
	}
	for _, st := range streets {
		pos, _ := st.Gfx.First()
		for i, mu := range municipals {
			if polys[i] == nil || !mu.Gfx.Bound().Contains(pos) {
				continue
			}
			if !planar.PolygonContains(polys[i], pos.Point()) {
				continue
			}
			area := mu.Variant.(*item.Area)
			area.Members = append(area.Members, st.Handle)
			st.Groups = append(st.Groups, mu.Handle)
			break
		}
	}
}
