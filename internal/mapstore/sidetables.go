package mapstore

import (
	"cmp"
	"iter"
	"slices"

	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/handle"
	"github.com/wegman-software/mapstore-go/internal/item"
)

// AddName interns s and appends it to the names of it.
func (m *Map) AddName(it *item.Item, s string, language uint8, kind item.NameKind) {
	it.Names = append(it.Names, item.Name{StringIndex: m.strings.Add(s), Language: language, Kind: kind})
}

// Name returns the first name of h, or "".
func (m *Map) Name(h handle.Handle) string {
	it, err := m.Lookup(h)
	if err != nil || len(it.Names) == 0 {
		return ""
	}
	s, _ := m.strings.Get(it.Names[0].StringIndex)
	return s
}

// AddExpansion stores the intermediate nodes of the multi-connection from
// from to to.
func (m *Map) AddExpansion(from, to handle.Handle, via []handle.Handle) {
	m.expansions[item.Edge{From: from, To: to}] = slices.Clone(via)
}

// AddLandmark files lm under the connection from from to to.
func (m *Map) AddLandmark(from, to handle.Handle, lm Landmark) {
	e := item.Edge{From: from, To: to}
	m.landmarks[e] = append(m.landmarks[e], lm)
}

// Landmarks returns the landmarks of the connection from from to to.
func (m *Map) Landmarks(from, to handle.Handle) []Landmark {
	return m.landmarks[item.Edge{From: from, To: to}]
}

// AddBoundarySegment records a segment on the map border.
func (m *Map) AddBoundarySegment(s BoundarySegment) {
	m.boundary = append(m.boundary, s)
}

// BoundarySegments returns the segments on the map border.
func (m *Map) BoundarySegments() []BoundarySegment { return m.boundary }

// SetCategories sets the category ids of h.
func (m *Map) SetCategories(h handle.Handle, ids []uint16) {
	if len(ids) == 0 {
		delete(m.categories, h)
		return
	}
	m.categories[h] = slices.Clone(ids)
}

// Categories returns the category ids of h.
func (m *Map) Categories(h handle.Handle) []uint16 { return m.categories[h] }

// SetLanes sets the lanes of the connection from from to to.
func (m *Map) SetLanes(from, to handle.Handle, lanes []Lane) {
	m.lanes[item.Edge{From: from, To: to}] = slices.Clone(lanes)
}

// Lanes returns the lanes of the connection from from to to.
func (m *Map) Lanes(from, to handle.Handle) []Lane {
	return m.lanes[item.Edge{From: from, To: to}]
}

// SetIndexAreaOrder sets the index area order of h.
func (m *Map) SetIndexAreaOrder(h handle.Handle, order uint32) { m.areaOrder[h] = order }

// IndexAreaOrder returns the index area order of h.
func (m *Map) IndexAreaOrder(h handle.Handle) (uint32, bool) {
	o, ok := m.areaOrder[h]
	return o, ok
}

// POIByExternalID returns the POI with the given external id. The table is
// rebuilt from the live POIs on save.
func (m *Map) POIByExternalID(id uint32) (handle.Handle, bool) {
	h, ok := m.poiLookup[id]
	return h, ok
}

func (m *Map) rebuildPOILookup() {
	clear(m.poiLookup)
	for it := range m.ItemsInType(item.TypePointOfInterest) {
		if p, ok := it.Variant.(*item.PointOfInterest); ok && p.ExternalID != 0 {
			m.poiLookup[p.ExternalID] = it.Handle
		}
	}
}

// ItemsInType yields the live items of type t in handle order within each
// band.
func (m *Map) ItemsInType(t item.Type) iter.Seq[*item.Item] {
	return func(yield func(*item.Item) bool) {
		for it := range m.Items() {
			if it.Type() == t && !yield(it) {
				return
			}
		}
	}
}

// SetStreetSide sets the side of the street h lies on.
func (m *Map) SetStreetSide(h handle.Handle, s item.Side) {
	if s == item.SideUnknown {
		delete(m.streetSides, h)
		return
	}
	m.streetSides[h] = s
}

// StreetSide returns the side of the street h lies on.
func (m *Map) StreetSide(h handle.Handle) item.Side { return m.streetSides[h] }

// SetAdminCentre sets the centre of administrative area h.
func (m *Map) SetAdminCentre(h handle.Handle, c geom.Coord) {
	i, found := slices.BinarySearchFunc(m.adminCentres, h, func(a AdminCentre, h handle.Handle) int {
		return cmp.Compare(a.Item, h)
	})
	if found {
		m.adminCentres[i].Centre = c
		return
	}
	m.adminCentres = slices.Insert(m.adminCentres, i, AdminCentre{Item: h, Centre: c})
}

// AdminCentre returns the centre of administrative area h.
func (m *Map) AdminCentre(h handle.Handle) (geom.Coord, bool) {
	i, found := slices.BinarySearchFunc(m.adminCentres, h, func(a AdminCentre, h handle.Handle) int {
		return cmp.Compare(a.Item, h)
	})
	if !found {
		return geom.Coord{}, false
	}
	return m.adminCentres[i].Centre, true
}

// SetRoadDisplayClass overrides the display class of road h.
func (m *Map) SetRoadDisplayClass(h handle.Handle, class uint8) { m.roadDisplay[h] = class }

// RoadDisplayClass returns the display class override of road h.
func (m *Map) RoadDisplayClass(h handle.Handle) (uint8, bool) {
	c, ok := m.roadDisplay[h]
	return c, ok
}

// SetAreaDisplayClass overrides the display class of area h.
func (m *Map) SetAreaDisplayClass(h handle.Handle, class uint8) { m.areaDisplay[h] = class }

// AreaDisplayClass returns the display class override of area h.
func (m *Map) AreaDisplayClass(h handle.Handle) (uint8, bool) {
	c, ok := m.areaDisplay[h]
	return c, ok
}
