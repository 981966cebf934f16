package hashindex

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/handle"
	"github.com/wegman-software/mapstore-go/internal/item"
)

// Filter selects which items a query may return.
type Filter struct {
	// Types restricts results to these item types. Empty means all.
	Types []item.Type
	// Rights, when non-zero, requires at least one shared access right bit.
	Rights uint32
}

// Query is a filtered view of an index. It is cheap to create and must not
// outlive changes to the index.
type Query struct {
	idx    *Index
	types  uint64
	rights uint32
}

// Query returns a query session using f.
func (idx *Index) Query(f Filter) *Query {
	q := &Query{idx: idx, rights: f.Rights}
	for _, t := range f.Types {
		q.types |= 1 << t
	}
	return q
}

// match resolves h and applies the filter.
func (q *Query) match(h uint32) (*item.Item, bool) {
	hd := handle.Handle(h)
	it, err := q.idx.src.Lookup(hd)
	if err != nil || it == nil || it.Gfx == nil {
		return nil, false
	}
	if q.types != 0 && q.types&(1<<it.Type()) == 0 {
		return nil, false
	}
	if q.rights != 0 && q.idx.src.AccessRights(hd)&q.rights == 0 {
		return nil, false
	}
	return it, true
}

// ringMargin returns the squared distance from p to the outside of the
// square of cells within ring r around (ci, cj). It is +Inf once the
// square covers the whole grid.
func (idx *Index) ringMargin(p geom.Coord, ci, cj, r int) float64 {
	i0, i1, j0, j1 := ci-r, ci+r, cj-r, cj+r
	if i0 <= 0 && j0 <= 0 && i1 >= idx.nLat-1 && j1 >= idx.nLon-1 {
		return math.Inf(1)
	}
	margin := math.Inf(1)
	side := func(units int64, scale float64) {
		d := float64(max(units, 0)) * scale * geom.MetersPerUnit
		margin = min(margin, d*d)
	}
	if i0 > 0 {
		side(int64(p.Lat)-int64(idx.cellBox(i0, 0).MinLat), 1)
	}
	if i1 < idx.nLat-1 {
		side(int64(idx.cellBox(i1, 0).MaxLat)+1-int64(p.Lat), 1)
	}
	if j0 > 0 {
		side(int64(p.Lon)-int64(idx.cellBox(0, j0).MinLon), idx.cosLat)
	}
	if j1 < idx.nLon-1 {
		side(int64(idx.cellBox(0, j1).MaxLon)+1-int64(p.Lon), idx.cosLat)
	}
	return margin
}

// Closest returns the item nearest to p and its squared distance in
// metres. Equal distances go to the smaller handle.
func (q *Query) Closest(p geom.Coord) (handle.Handle, float64, bool) {
	idx := q.idx
	if !idx.built {
		return handle.Invalid, 0, false
	}
	ci, cj := idx.latCell(p.Lat), idx.lonCell(p.Lon)
	best, bestDist := handle.Invalid, math.Inf(1)
	seen := roaring.New()

	visit := func(i, j int) {
		if i < 0 || j < 0 || i >= idx.nLat || j >= idx.nLon {
			return
		}
		c := idx.cell(i, j)
		if c == nil {
			return
		}
		it := c.Iterator()
		for it.HasNext() {
			h := it.Next()
			if !seen.CheckedAdd(h) {
				continue
			}
			found, ok := q.match(h)
			if !ok {
				continue
			}
			d := found.Gfx.SquaredDistanceTo(p, idx.cosLat)
			if d < bestDist || (d == bestDist && handle.Handle(h) < best) {
				best, bestDist = handle.Handle(h), d
			}
		}
	}

	for r := 0; ; r++ {
		if r == 0 {
			visit(ci, cj)
		} else {
			for j := cj - r; j <= cj+r; j++ {
				visit(ci-r, j)
				visit(ci+r, j)
			}
			for i := ci - r + 1; i <= ci+r-1; i++ {
				visit(i, cj-r)
				visit(i, cj+r)
			}
		}
		margin := idx.ringMargin(p, ci, cj, r)
		if math.IsInf(margin, 1) || (best.IsValid() && margin > bestDist) {
			break
		}
	}
	if !best.IsValid() {
		return handle.Invalid, 0, false
	}
	return best, bestDist, true
}

// collect gathers the filtered handles of the cells covering b that pass
// keep. Cells entirely inside inner are taken without calling keep.
func (q *Query) collect(b, inner geom.Box, keep func(it *item.Item) bool) []handle.Handle {
	idx := q.idx
	if !idx.built || b.IsEmpty() || !b.Overlaps(idx.box) {
		return nil
	}
	result := roaring.New()
	rejected := roaring.New()
	i0, i1, j0, j1 := idx.cellRange(b)
	for i := i0; i <= i1; i++ {
		for j := j0; j <= j1; j++ {
			c := idx.cell(i, j)
			if c == nil {
				continue
			}
			// edge cells also hold items clamped in from outside the grid
			wholesale := !inner.IsEmpty() && i > 0 && j > 0 && i < idx.nLat-1 && j < idx.nLon-1 &&
				inner.ContainsBox(idx.cellBox(i, j))
			it := c.Iterator()
			for it.HasNext() {
				h := it.Next()
				if result.Contains(h) || rejected.Contains(h) {
					continue
				}
				found, ok := q.match(h)
				if ok && (wholesale || keep(found)) {
					result.Add(h)
				} else if !ok {
					rejected.Add(h)
				}
			}
		}
	}
	out := make([]handle.Handle, 0, result.GetCardinality())
	it := result.Iterator()
	for it.HasNext() {
		out = append(out, handle.Handle(it.Next()))
	}
	return out
}

// WithinRadius returns the items whose geometry lies within meters of p,
// boundary included, in ascending handle order.
func (q *Query) WithinRadius(p geom.Coord, meters float64) []handle.Handle {
	if meters < 0 {
		return nil
	}
	dLat := meters/geom.MetersPerUnit + 1
	dLon := dLat
	if q.idx.cosLat > 0 {
		dLon = dLat / q.idx.cosLat
	}
	clamp := func(v float64) int32 {
		return int32(max(min(v, math.MaxInt32), math.MinInt32))
	}
	b := geom.Box{
		MinLat: clamp(float64(p.Lat) - dLat), MaxLat: clamp(float64(p.Lat) + dLat),
		MinLon: clamp(float64(p.Lon) - dLon), MaxLon: clamp(float64(p.Lon) + dLon),
	}
	limit := meters * meters
	return q.collect(b, geom.EmptyBox(), func(it *item.Item) bool {
		return it.Gfx.SquaredDistanceTo(p, q.idx.cosLat) <= limit
	})
}

// WithinBox returns the items whose bounding box overlaps b, in ascending
// handle order.
func (q *Query) WithinBox(b geom.Box) []handle.Handle {
	return q.collect(b, b, func(it *item.Item) bool {
		return it.Gfx.Bound().Overlaps(b)
	})
}
