package hashindex

import (
	"math"
	"math/rand"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/mapstore-go/internal/databuf"
	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/handle"
	"github.com/wegman-software/mapstore-go/internal/item"
	"github.com/wegman-software/mapstore-go/internal/maperr"
)

type memSource struct {
	items  map[handle.Handle]*item.Item
	rights map[handle.Handle]uint32
}

func newMemSource() *memSource {
	return &memSource{items: map[handle.Handle]*item.Item{}, rights: map[handle.Handle]uint32{}}
}

func (s *memSource) Lookup(h handle.Handle) (*item.Item, error) {
	if it, ok := s.items[h]; ok {
		return it, nil
	}
	return nil, maperr.ErrOutOfRange
}

func (s *memSource) AccessRights(h handle.Handle) uint32 {
	if r, ok := s.rights[h]; ok {
		return r
	}
	return math.MaxUint32
}

func (s *memSource) add(t *testing.T, idx *Index, typ item.Type, h handle.Handle, g *geom.Gfx) {
	t.Helper()
	it, err := item.New(typ, h)
	require.NoError(t, err)
	it.Gfx = g
	s.items[h] = it
	require.NoError(t, idx.Insert(it))
}

func pt(lat, lon int32) *geom.Gfx { return geom.NewPoint(geom.Coord{Lat: lat, Lon: lon}) }

var testBox = geom.Box{MinLat: 0, MinLon: 0, MaxLat: 1_000_000, MaxLon: 1_000_000}

func TestBuildCellSizing(t *testing.T) {
	tests := []struct {
		name string
		hint int
		want int
	}{
		{"single cell", 0, 1},
		{"sixteen", 16, 16},
		{"capped", 5000, 977},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := New(newMemSource())
			require.NoError(t, idx.Build(testBox, tt.hint))
			nLat, nLon := idx.Dims()
			assert.Equal(t, tt.want, nLat)
			assert.Equal(t, tt.want, nLon)
			assert.LessOrEqual(t, nLat, MaxCellsPerAxis)
		})
	}

	assert.Error(t, New(nil).Build(geom.EmptyBox(), 16))
}

func TestGetHashIndexClamps(t *testing.T) {
	assert.Equal(t, 0, getHashIndex(-5, 0, 4, 10))
	assert.Equal(t, 1, getHashIndex(16, 0, 4, 10))
	assert.Equal(t, 9, getHashIndex(1<<20, 0, 4, 10))
}

func TestScenarioThreePoints(t *testing.T) {
	src := newMemSource()
	idx := New(src)
	require.NoError(t, idx.Build(testBox, 16))

	a, b, c := handle.Make(0, 0), handle.Make(0, 1), handle.Make(0, 2)
	src.add(t, idx, item.TypePointOfInterest, a, pt(100, 100))
	src.add(t, idx, item.TypePointOfInterest, b, pt(200, 200))
	src.add(t, idx, item.TypePointOfInterest, c, pt(900, 900))

	q := idx.Query(Filter{})
	p := geom.Coord{Lat: 150, Lon: 150}

	// a and b are equally far, the smaller handle wins
	h, d, ok := q.Closest(p)
	require.True(t, ok)
	assert.Equal(t, a, h)
	assert.InDelta(t, geom.SquaredDistance(p, geom.Coord{Lat: 100, Lon: 100}, testBox.CosLat()), d, 1e-9)

	h, _, ok = q.Closest(geom.Coord{Lat: 160, Lon: 160})
	require.True(t, ok)
	assert.Equal(t, b, h)

	units := 100.0
	assert.Equal(t, []handle.Handle{a, b}, q.WithinRadius(p, units*geom.MetersPerUnit))
}

func TestClosestTieBreakIgnoresInsertOrder(t *testing.T) {
	src := newMemSource()
	idx := New(src)
	require.NoError(t, idx.Build(testBox, 64))

	src.add(t, idx, item.TypePointOfInterest, handle.Make(0, 9), pt(1000, 1000))
	src.add(t, idx, item.TypePointOfInterest, handle.Make(0, 3), pt(3000, 3000))

	h, _, ok := idx.Query(Filter{}).Closest(geom.Coord{Lat: 2000, Lon: 2000})
	require.True(t, ok)
	assert.Equal(t, handle.Make(0, 3), h)
}

func TestClosestAcrossManyCells(t *testing.T) {
	src := newMemSource()
	idx := New(src)
	require.NoError(t, idx.Build(testBox, 1024))

	far := handle.Make(1, 0)
	src.add(t, idx, item.TypeWater, far, pt(10, 10))

	h, d, ok := idx.Query(Filter{}).Closest(geom.Coord{Lat: 600_000, Lon: 600_000})
	require.True(t, ok)
	assert.Equal(t, far, h)
	assert.Greater(t, d, 0.0)
}

func TestClosestMatchesBruteForce(t *testing.T) {
	src := newMemSource()
	idx := New(src)
	box := geom.Box{MaxLat: math.MaxUint16, MaxLon: math.MaxUint16}
	require.NoError(t, idx.Build(box, 32))

	f := fuzz.New().RandSource(rand.NewSource(7))
	var pos struct{ Lat, Lon uint16 }
	coords := map[handle.Handle]geom.Coord{}
	for i := uint32(0); i < 200; i++ {
		f.Fuzz(&pos)
		c := geom.Coord{Lat: int32(pos.Lat), Lon: int32(pos.Lon)}
		h := handle.Make(2, i)
		coords[h] = c
		src.add(t, idx, item.TypePointOfInterest, h, geom.NewPoint(c))
	}

	q := idx.Query(Filter{})
	for n := 0; n < 50; n++ {
		f.Fuzz(&pos)
		p := geom.Coord{Lat: int32(pos.Lat), Lon: int32(pos.Lon)}

		want, wantDist := handle.Invalid, math.Inf(1)
		for h, c := range coords {
			d := geom.SquaredDistance(p, c, box.CosLat())
			if d < wantDist || (d == wantDist && h < want) {
				want, wantDist = h, d
			}
		}
		got, gotDist, ok := q.Closest(p)
		require.True(t, ok)
		assert.Equal(t, want, got, "closest to %v", p)
		assert.Equal(t, wantDist, gotDist)
	}
}

func TestRadiusIsBoundaryInclusive(t *testing.T) {
	src := newMemSource()
	idx := New(src)
	require.NoError(t, idx.Build(testBox, 128))

	h := handle.Make(0, 4)
	src.add(t, idx, item.TypePointOfInterest, h, pt(5100, 5000))

	q := idx.Query(Filter{})
	p := geom.Coord{Lat: 5000, Lon: 5000}
	units := 100.0
	assert.Equal(t, []handle.Handle{h}, q.WithinRadius(p, units*geom.MetersPerUnit))
	units = 99.0
	assert.Empty(t, q.WithinRadius(p, units*geom.MetersPerUnit))
}

func TestRadiusAgainstLines(t *testing.T) {
	src := newMemSource()
	idx := New(src)
	require.NoError(t, idx.Build(testBox, 256))

	road := handle.Make(0, 1)
	src.add(t, idx, item.TypeStreetSegment, road, geom.NewLine(
		geom.Coord{Lat: 0, Lon: 0}, geom.Coord{Lat: 0, Lon: 200_000}))

	q := idx.Query(Filter{})
	// far from both endpoints but close to the middle of the line
	assert.Equal(t, []handle.Handle{road}, q.WithinRadius(geom.Coord{Lat: 50, Lon: 100_000}, 60*geom.MetersPerUnit))
}

func TestWithinBox(t *testing.T) {
	src := newMemSource()
	idx := New(src)
	require.NoError(t, idx.Build(testBox, 64))

	inside := handle.Make(0, 1)
	crossing := handle.Make(0, 2)
	outside := handle.Make(0, 3)
	area := handle.Make(3, 0)
	src.add(t, idx, item.TypePointOfInterest, inside, pt(300_000, 300_000))
	src.add(t, idx, item.TypeStreetSegment, crossing, geom.NewLine(
		geom.Coord{Lat: 100_000, Lon: 300_000}, geom.Coord{Lat: 300_000, Lon: 300_000}))
	src.add(t, idx, item.TypePointOfInterest, outside, pt(900_000, 900_000))
	src.add(t, idx, item.TypeForest, area, geom.NewPolygon(
		geom.Coord{Lat: 0, Lon: 0}, geom.Coord{Lat: 1_000_000, Lon: 0}, geom.Coord{Lat: 1_000_000, Lon: 1_000_000}))

	q := idx.Query(Filter{})
	got := q.WithinBox(geom.Box{MinLat: 200_000, MinLon: 200_000, MaxLat: 600_000, MaxLon: 600_000})
	assert.Equal(t, []handle.Handle{inside, crossing, area}, got)

	got = idx.Query(Filter{Types: []item.Type{item.TypePointOfInterest}}).
		WithinBox(geom.Box{MinLat: 200_000, MinLon: 200_000, MaxLat: 600_000, MaxLon: 600_000})
	assert.Equal(t, []handle.Handle{inside}, got)

	assert.Empty(t, q.WithinBox(geom.Box{MinLat: 2_000_000, MinLon: 2_000_000, MaxLat: 3_000_000, MaxLon: 3_000_000}))
}

func TestFilterRights(t *testing.T) {
	src := newMemSource()
	idx := New(src)
	require.NoError(t, idx.Build(testBox, 16))

	public := handle.Make(0, 1)
	private := handle.Make(0, 2)
	src.add(t, idx, item.TypePointOfInterest, public, pt(100, 100))
	src.add(t, idx, item.TypePointOfInterest, private, pt(101, 101))
	src.rights[public] = 0x1
	src.rights[private] = 0x2

	h, _, ok := idx.Query(Filter{Rights: 0x2}).Closest(geom.Coord{Lat: 100, Lon: 100})
	require.True(t, ok)
	assert.Equal(t, private, h)

	_, _, ok = idx.Query(Filter{Rights: 0x4}).Closest(geom.Coord{Lat: 100, Lon: 100})
	assert.False(t, ok)
}

func TestUnbuiltIndex(t *testing.T) {
	src := newMemSource()
	idx := New(src)
	it, err := item.New(item.TypePointOfInterest, handle.Make(0, 0))
	require.NoError(t, err)
	it.Gfx = pt(1, 1)
	assert.ErrorIs(t, idx.Insert(it), ErrNotBuilt)

	q := idx.Query(Filter{})
	_, _, ok := q.Closest(geom.Coord{})
	assert.False(t, ok)
	assert.Empty(t, q.WithinRadius(geom.Coord{}, 1000))
	assert.Empty(t, q.WithinBox(testBox))
}

func TestItemsWithoutGeometryAreSkipped(t *testing.T) {
	src := newMemSource()
	idx := New(src)
	require.NoError(t, idx.Build(testBox, 16))
	src.add(t, idx, item.TypeStreet, handle.Make(0, 0), nil)
	assert.Zero(t, idx.Len())
}

func TestRemove(t *testing.T) {
	src := newMemSource()
	idx := New(src)
	require.NoError(t, idx.Build(testBox, 16))
	a, b := handle.Make(0, 0), handle.Make(0, 1)
	src.add(t, idx, item.TypePointOfInterest, a, pt(100, 100))
	src.add(t, idx, item.TypePointOfInterest, b, pt(200, 200))

	idx.Remove(roaring.BitmapOf(uint32(a)))
	h, _, ok := idx.Query(Filter{}).Closest(geom.Coord{Lat: 100, Lon: 100})
	require.True(t, ok)
	assert.Equal(t, b, h)
	assert.EqualValues(t, 1, idx.Len())
}

func TestEncodeDecode(t *testing.T) {
	src := newMemSource()
	idx := New(src)
	require.NoError(t, idx.Build(testBox, 32))

	// one triangle touching every cell makes most cells share a group
	src.add(t, idx, item.TypeForest, handle.Make(4, 0), geom.NewPolygon(
		geom.Coord{Lat: 0, Lon: 0}, geom.Coord{Lat: 1_000_000, Lon: 0}, geom.Coord{Lat: 1_000_000, Lon: 1_000_000}))
	src.add(t, idx, item.TypePointOfInterest, handle.Make(0, 1), pt(100, 100))
	src.add(t, idx, item.TypePointOfInterest, handle.Make(0, 2), pt(700_000, 20_000))
	assert.Equal(t, 3, idx.Groups())

	w := databuf.NewWriter(0)
	require.NoError(t, idx.Encode(w))

	got := New(src)
	r := databuf.NewReader(w.Bytes(), "hash index")
	require.NoError(t, got.Decode(r))
	assert.Zero(t, r.Remaining())
	assert.True(t, idx.Equal(got))

	// decoded cells do not alias each other
	src.add(t, got, item.TypePointOfInterest, handle.Make(0, 3), pt(500_000, 500_000))
	assert.False(t, idx.Equal(got))
	h, _, ok := got.Query(Filter{}).Closest(geom.Coord{Lat: 900_000, Lon: 100_000})
	require.True(t, ok)
	assert.Equal(t, handle.Make(4, 0), h)
}

func TestEncodeUnbuilt(t *testing.T) {
	w := databuf.NewWriter(0)
	require.NoError(t, New(nil).Encode(w))
	got := New(nil)
	require.NoError(t, got.Decode(databuf.NewReader(w.Bytes(), "hash index")))
	assert.False(t, got.Built())
	assert.True(t, got.Equal(New(nil)))
}

func TestDecodeCorrupt(t *testing.T) {
	src := newMemSource()
	idx := New(src)
	require.NoError(t, idx.Build(testBox, 4))
	src.add(t, idx, item.TypePointOfInterest, handle.Make(0, 1), pt(100, 100))
	w := databuf.NewWriter(0)
	require.NoError(t, idx.Encode(w))

	t.Run("truncated", func(t *testing.T) {
		buf := w.Bytes()[:w.Len()-3]
		err := New(src).Decode(databuf.NewReader(buf, "hash index"))
		require.Error(t, err)
		assert.True(t, maperr.IsFormat(err))
	})

	t.Run("bad group id", func(t *testing.T) {
		buf := append([]byte(nil), w.Bytes()...)
		// first cell id follows flag, box, shifts and dims
		off := 1 + 16 + 2 + 8
		buf[off], buf[off+1], buf[off+2], buf[off+3] = 7, 0, 0, 0
		err := New(src).Decode(databuf.NewReader(buf, "hash index"))
		require.Error(t, err)
		assert.True(t, maperr.IsFormat(err))
	})
}
