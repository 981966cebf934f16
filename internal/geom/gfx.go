package geom

import (
	"fmt"
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/wegman-software/mapstore-go/internal/databuf"
)

// Gfx is the geometry of one item: one or more coordinate lists. Closed
// geometries are polygon rings, open ones are polylines. A single
// one-coordinate list is a point.
type Gfx struct {
	Polygons [][]Coord
	Closed   bool
}

// NewPoint returns a point geometry.
func NewPoint(c Coord) *Gfx {
	return &Gfx{Polygons: [][]Coord{{c}}}
}

// NewLine returns an open polyline.
func NewLine(coords ...Coord) *Gfx {
	return &Gfx{Polygons: [][]Coord{coords}}
}

// NewPolygon returns a closed ring.
func NewPolygon(coords ...Coord) *Gfx {
	return &Gfx{Polygons: [][]Coord{coords}, Closed: true}
}

// NumCoords returns the total number of coordinates.
func (g *Gfx) NumCoords() int {
	n := 0
	for _, p := range g.Polygons {
		n += len(p)
	}
	return n
}

// IsPoint reports whether the geometry is a single coordinate.
func (g *Gfx) IsPoint() bool {
	return len(g.Polygons) == 1 && len(g.Polygons[0]) == 1
}

// First returns the first coordinate and false for an empty geometry.
func (g *Gfx) First() (Coord, bool) {
	for _, p := range g.Polygons {
		if len(p) > 0 {
			return p[0], true
		}
	}
	return Coord{}, false
}

// Last returns the last coordinate of the last non-empty list.
func (g *Gfx) Last() (Coord, bool) {
	for i := len(g.Polygons) - 1; i >= 0; i-- {
		if p := g.Polygons[i]; len(p) > 0 {
			return p[len(p)-1], true
		}
	}
	return Coord{}, false
}

// Bound returns the bounding box of all coordinates.
func (g *Gfx) Bound() Box {
	b := EmptyBox()
	for _, p := range g.Polygons {
		for _, c := range p {
			b = b.Extend(c)
		}
	}
	return b
}

// Equal reports whether both geometries have the same coordinates.
func (g *Gfx) Equal(o *Gfx) bool {
	if g == nil || o == nil {
		return g == o
	}
	if g.Closed != o.Closed || len(g.Polygons) != len(o.Polygons) {
		return false
	}
	for i := range g.Polygons {
		if !slices.Equal(g.Polygons[i], o.Polygons[i]) {
			return false
		}
	}
	return true
}

// Length returns the length in metres of all lines, or the perimeter of
// closed rings.
func (g *Gfx) Length(cosLat float64) float64 {
	total := 0.0
	for _, p := range g.Polygons {
		ls := make(orb.LineString, 0, len(p)+1)
		for _, c := range p {
			ls = append(ls, c.metric(cosLat))
		}
		if g.Closed && len(p) > 2 {
			ls = append(ls, p[0].metric(cosLat))
		}
		total += planar.Length(ls)
	}
	return total
}

// SquaredDistanceTo returns the squared distance in metres from c to the
// geometry. Points inside a closed ring are at distance zero.
func (g *Gfx) SquaredDistanceTo(c Coord, cosLat float64) float64 {
	best := math.Inf(1)
	pt := c.metric(cosLat)
	for _, p := range g.Polygons {
		switch len(p) {
		case 0:
			continue
		case 1:
			best = min(best, SquaredDistance(c, p[0], cosLat))
			continue
		}
		if g.Closed && len(p) > 2 && planar.RingContains(g.ring(p, cosLat), pt) {
			return 0
		}
		for i := 1; i < len(p); i++ {
			best = min(best, planar.DistanceFromSegmentSquared(p[i-1].metric(cosLat), p[i].metric(cosLat), pt))
		}
		if g.Closed && len(p) > 2 {
			best = min(best, planar.DistanceFromSegmentSquared(p[len(p)-1].metric(cosLat), p[0].metric(cosLat), pt))
		}
	}
	return best
}

func (g *Gfx) ring(p []Coord, cosLat float64) orb.Ring {
	r := make(orb.Ring, 0, len(p)+1)
	for _, c := range p {
		r = append(r, c.metric(cosLat))
	}
	return append(r, p[0].metric(cosLat))
}

// Geometry converts the geometry to an orb geometry in degrees.
func (g *Gfx) Geometry() orb.Geometry {
	if g.IsPoint() {
		return g.Polygons[0][0].Point()
	}
	if g.Closed {
		mp := make(orb.MultiPolygon, 0, len(g.Polygons))
		for _, p := range g.Polygons {
			if len(p) == 0 {
				continue
			}
			r := make(orb.Ring, 0, len(p)+1)
			for _, c := range p {
				r = append(r, c.Point())
			}
			r = append(r, p[0].Point())
			mp = append(mp, orb.Polygon{r})
		}
		if len(mp) == 1 {
			return mp[0]
		}
		return mp
	}
	mls := make(orb.MultiLineString, 0, len(g.Polygons))
	for _, p := range g.Polygons {
		ls := make(orb.LineString, 0, len(p))
		for _, c := range p {
			ls = append(ls, c.Point())
		}
		mls = append(mls, ls)
	}
	if len(mls) == 1 {
		return mls[0]
	}
	return mls
}

const gfxClosedFlag = 0x01

// Encode writes the geometry. The first coordinate of every list is stored
// absolute, the rest as varint deltas.
func (g *Gfx) Encode(w *databuf.Writer) {
	var flags uint8
	if g.Closed {
		flags |= gfxClosedFlag
	}
	w.U8(flags)
	w.Uvarint(uint64(len(g.Polygons)))
	for _, p := range g.Polygons {
		w.Uvarint(uint64(len(p)))
		var prev Coord
		for i, c := range p {
			if i == 0 {
				w.I32(c.Lat)
				w.I32(c.Lon)
			} else {
				w.Varint(int64(c.Lat) - int64(prev.Lat))
				w.Varint(int64(c.Lon) - int64(prev.Lon))
			}
			prev = c
		}
	}
}

// CoordAllocator hands out coordinate storage while decoding. A nil
// allocator means plain heap slices.
type CoordAllocator interface {
	AllocateN(n int) ([]Coord, error)
}

// Decode reads a geometry written by Encode into g.
func (g *Gfx) Decode(r *databuf.Reader, alloc CoordAllocator) error {
	flags := r.U8()
	g.Closed = flags&gfxClosedFlag != 0
	n := int(r.Uvarint())
	if n > r.Remaining() {
		r.Failf("geometry with %d lists", n)
		return r.Err()
	}
	g.Polygons = make([][]Coord, n)
	for i := 0; i < n; i++ {
		cnt := int(r.Uvarint())
		if err := r.Err(); err != nil {
			return err
		}
		if cnt > r.Remaining() {
			r.Failf("geometry list with %d coordinates", cnt)
			return r.Err()
		}
		var coords []Coord
		if alloc != nil {
			var err error
			if coords, err = alloc.AllocateN(cnt); err != nil {
				return fmt.Errorf("failed to allocate %d coordinates: %w", cnt, err)
			}
		} else {
			coords = make([]Coord, cnt)
		}
		var prev Coord
		for j := 0; j < cnt; j++ {
			if j == 0 {
				prev = Coord{Lat: r.I32(), Lon: r.I32()}
			} else {
				prev = Coord{
					Lat: int32(int64(prev.Lat) + r.Varint()),
					Lon: int32(int64(prev.Lon) + r.Varint()),
				}
			}
			coords[j] = prev
		}
		g.Polygons[i] = coords
	}
	return r.Err()
}
