package wkb

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/proj"
)

func TestEncodePoint(t *testing.T) {
	e := NewEncoder(64)
	c := geom.FromDegrees(55.7, 13.2)
	b := e.Encode(geom.NewPoint(c))

	// 1 + 4 + 4 + 16
	require.Len(t, b, 25)
	assert.Equal(t, byte(0x01), b[0])
	assert.Equal(t, uint32(wkbPoint|wkbSRIDFlag), binary.LittleEndian.Uint32(b[1:]))
	assert.Equal(t, uint32(proj.SRID4326), binary.LittleEndian.Uint32(b[5:]))

	lat, lon := c.Degrees()
	assert.Equal(t, lon, math.Float64frombits(binary.LittleEndian.Uint64(b[9:])))
	assert.Equal(t, lat, math.Float64frombits(binary.LittleEndian.Uint64(b[17:])))
}

func TestEncodeTypes(t *testing.T) {
	a, b, c := geom.Coord{Lat: 0, Lon: 0}, geom.Coord{Lat: 0, Lon: 100}, geom.Coord{Lat: 100, Lon: 100}

	tests := []struct {
		name     string
		gfx      *geom.Gfx
		wantType uint32
		wantLen  int
	}{
		{"line", geom.NewLine(a, b), wkbLineString, 13 + 2*16},
		{"polygon closes ring", geom.NewPolygon(a, b, c), wkbPolygon, 17 + 4*16},
		{"multi line", &geom.Gfx{Polygons: [][]geom.Coord{{a, b}, {b, c}}}, wkbMultiLineString, 13 + 2*(9+2*16)},
		{"multi polygon", &geom.Gfx{Polygons: [][]geom.Coord{{a, b, c}, {a, b, c, a}}, Closed: true}, wkbMultiPolygon, 13 + 2*(13+4*16)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewEncoder(16).Encode(tt.gfx)
			require.Len(t, out, tt.wantLen)
			assert.Equal(t, tt.wantType|wkbSRIDFlag, binary.LittleEndian.Uint32(out[1:]))
		})
	}
}

func TestEncodeEmpty(t *testing.T) {
	e := NewEncoder(8)
	assert.Nil(t, e.Encode(nil))
	assert.Nil(t, e.Encode(&geom.Gfx{}))
}

func TestEncodeProjected(t *testing.T) {
	tr, err := proj.NewTransformer(proj.SRID3857)
	require.NoError(t, err)
	e := NewProjectedEncoder(32, tr)
	assert.Equal(t, proj.SRID3857, e.SRID())

	c := geom.FromDegrees(52.5, 13.4)
	b := e.Encode(geom.NewPoint(c))
	require.Len(t, b, 25)
	assert.Equal(t, uint32(proj.SRID3857), binary.LittleEndian.Uint32(b[5:]))

	x, y := tr.Project(c)
	assert.Equal(t, x, math.Float64frombits(binary.LittleEndian.Uint64(b[9:])))
	assert.Equal(t, y, math.Float64frombits(binary.LittleEndian.Uint64(b[17:])))
	assert.Greater(t, y, 6e6)
}
