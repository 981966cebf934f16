package mapstore

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/handle"
	"github.com/wegman-software/mapstore-go/internal/hashindex"
)

// BuildIndex rebuilds the spatial index from the live items. The grid covers
// the header box, or the union of the item bounds when the header box is
// empty.
func (m *Map) BuildIndex(cellHint int) error {
	start := time.Now()
	box := m.header.Box
	if box.IsEmpty() {
		box = geom.EmptyBox()
		for it := range m.Items() {
			if it.Gfx != nil && it.Gfx.NumCoords() > 0 {
				box = box.Union(it.Gfx.Bound())
			}
		}
	}
	idx := hashindex.New(m)
	if err := idx.Build(box, cellHint); err != nil {
		return fmt.Errorf("failed to build index of map %d: %w", m.header.MapID, err)
	}
	for it := range m.Items() {
		if err := idx.Insert(it); err != nil {
			return fmt.Errorf("failed to index %s: %w", it.Handle, err)
		}
	}
	m.index = idx
	m.indexStale = false
	nLat, nLon := idx.Dims()
	m.log.Debug("Built spatial index",
		zap.Int("lat_cells", nLat),
		zap.Int("lon_cells", nLon),
		zap.Uint64("entries", idx.Len()),
		zap.Duration("took", time.Since(start)))
	return nil
}

// Query starts a spatial query restricted by f.
func (m *Map) Query(f hashindex.Filter) *hashindex.Query {
	return m.index.Query(f)
}

// Closest returns the item closest to p with its squared distance in
// square metres.
func (m *Map) Closest(p geom.Coord, f hashindex.Filter) (handle.Handle, float64, bool) {
	return m.index.Query(f).Closest(p)
}

// WithinRadius returns the items within meters of p in handle order.
func (m *Map) WithinRadius(p geom.Coord, meters float64, f hashindex.Filter) []handle.Handle {
	return m.index.Query(f).WithinRadius(p, meters)
}

// WithinBox returns the items whose bounds overlap b in handle order.
func (m *Map) WithinBox(b geom.Box, f hashindex.Filter) []handle.Handle {
	return m.index.Query(f).WithinBox(b)
}

// RebuiltIndex returns a fresh index over the current grid holding the live
// items. For a consistent map it equals Index().
func (m *Map) RebuiltIndex() (*hashindex.Index, error) {
	if !m.index.Built() {
		return nil, hashindex.ErrNotBuilt
	}
	idx := m.index.EmptyCopy()
	for it := range m.Items() {
		if err := idx.Insert(it); err != nil {
			return nil, err
		}
	}
	return idx, nil
}
