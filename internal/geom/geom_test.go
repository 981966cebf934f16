package geom

import (
	"math"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/mapstore-go/internal/databuf"
)

func TestDegreesRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
	}{
		{"Lund", 55.7047, 13.1910},
		{"origin", 0, 0},
		{"south west", -33.8688, -70.6693},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := FromDegrees(tt.lat, tt.lon)
			lat, lon := c.Degrees()
			assert.InDelta(t, tt.lat, lat, 1e-6)
			assert.InDelta(t, tt.lon, lon, 1e-6)
		})
	}
}

func TestSquaredDistance(t *testing.T) {
	a := Coord{Lat: 0, Lon: 0}
	b := Coord{Lat: 100, Lon: 0}
	assert.InDelta(t, math.Pow(100*MetersPerUnit, 2), SquaredDistance(a, b, 1), 1e-12)

	// longitude shrinks with cos(lat)
	c := Coord{Lat: 0, Lon: 100}
	assert.InDelta(t, math.Pow(50*MetersPerUnit, 2), SquaredDistance(a, c, 0.5), 1e-12)
}

func TestBox(t *testing.T) {
	b := EmptyBox()
	assert.True(t, b.IsEmpty())

	b = b.Extend(Coord{10, 20}).Extend(Coord{-5, 40})
	assert.False(t, b.IsEmpty())
	assert.Equal(t, Box{MinLat: -5, MinLon: 20, MaxLat: 10, MaxLon: 40}, b)
	assert.True(t, b.Contains(Coord{0, 30}))
	assert.True(t, b.Contains(Coord{10, 40}), "bounds are inclusive")
	assert.False(t, b.Contains(Coord{11, 30}))

	assert.True(t, b.Overlaps(Box{MinLat: 10, MinLon: 40, MaxLat: 20, MaxLon: 50}))
	assert.False(t, b.Overlaps(Box{MinLat: 11, MinLon: 0, MaxLat: 20, MaxLon: 50}))
	assert.True(t, b.ContainsBox(Box{MinLat: 0, MinLon: 25, MaxLat: 5, MaxLon: 30}))

	assert.Equal(t, b, EmptyBox().Union(b))
	assert.Equal(t, Coord{Lat: 2, Lon: 30}, b.Center())
	assert.Equal(t, 0.0, b.SquaredDistanceTo(Coord{0, 30}, 1))
}

func TestGfxDistance(t *testing.T) {
	line := NewLine(Coord{0, 0}, Coord{0, 1000})
	// perpendicular distance to the middle of the segment
	d := line.SquaredDistanceTo(Coord{Lat: 100, Lon: 500}, 1)
	assert.InDelta(t, math.Pow(100*MetersPerUnit, 2), d, 1e-9)

	square := NewPolygon(Coord{0, 0}, Coord{0, 100}, Coord{100, 100}, Coord{100, 0})
	assert.Equal(t, 0.0, square.SquaredDistanceTo(Coord{50, 50}, 1))
	assert.InDelta(t, math.Pow(50*MetersPerUnit, 2), square.SquaredDistanceTo(Coord{150, 50}, 1), 1e-9)

	pt := NewPoint(Coord{3, 4})
	assert.InDelta(t, 25*MetersPerUnit*MetersPerUnit, pt.SquaredDistanceTo(Coord{0, 0}, 1), 1e-12)
}

func TestGfxLength(t *testing.T) {
	line := NewLine(Coord{0, 0}, Coord{300, 0}, Coord{300, 400})
	assert.InDelta(t, 700*MetersPerUnit, line.Length(1), 1e-9)

	square := NewPolygon(Coord{0, 0}, Coord{0, 100}, Coord{100, 100}, Coord{100, 0})
	assert.InDelta(t, 400*MetersPerUnit, square.Length(1), 1e-9)
}

func TestGfxGeometry(t *testing.T) {
	_, ok := NewPoint(Coord{1, 2}).Geometry().(orb.Point)
	assert.True(t, ok)

	_, ok = NewLine(Coord{1, 2}, Coord{3, 4}).Geometry().(orb.LineString)
	assert.True(t, ok)

	poly, ok := NewPolygon(Coord{0, 0}, Coord{0, 10}, Coord{10, 10}).Geometry().(orb.Polygon)
	require.True(t, ok)
	assert.Len(t, poly[0], 4, "ring is closed")
}

func TestGfxEncodeRoundTrip(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(1, 6)
	for i := 0; i < 200; i++ {
		var g Gfx
		f.Fuzz(&g)

		w := databuf.NewWriter(128)
		g.Encode(w)

		var got Gfx
		r := databuf.NewReader(w.Bytes(), "gfx")
		require.NoError(t, got.Decode(r, nil))
		assert.True(t, g.Equal(&got), "iteration %d", i)
		assert.False(t, r.More())
	}
}

func TestGfxDecodeTruncated(t *testing.T) {
	g := NewLine(Coord{1, 1}, Coord{2, 2}, Coord{3, 3})
	w := databuf.NewWriter(32)
	g.Encode(w)

	buf := w.Bytes()[:w.Len()-1]
	var got Gfx
	assert.Error(t, got.Decode(databuf.NewReader(buf, "gfx"), nil))
}
