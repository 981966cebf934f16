// Package wkb encodes item geometry as PostGIS extended WKB.
package wkb

import (
	"encoding/binary"
	"math"

	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/proj"
)

// WKB type constants (ISO SQL/MM specification)
const (
	wkbPoint           = 1
	wkbLineString      = 2
	wkbPolygon         = 3
	wkbMultiLineString = 5
	wkbMultiPolygon    = 6

	// SRID flag for EWKB (PostGIS extended WKB)
	wkbSRIDFlag = 0x20000000
)

// Encoder encodes item geometry to little-endian EWKB. Coordinates are
// projected by the encoder's transformer, WGS84 degrees by default.
// The returned slices alias the encoder's buffer and are valid until the
// next call.
type Encoder struct {
	buf []byte
	tr  *proj.Transformer
}

// NewEncoder creates a new WKB encoder with a pre-allocated buffer.
func NewEncoder(initialSize int) *Encoder {
	return &Encoder{buf: make([]byte, 0, initialSize)}
}

// NewProjectedEncoder creates an encoder writing coordinates in the SRID
// of tr.
func NewProjectedEncoder(initialSize int, tr *proj.Transformer) *Encoder {
	return &Encoder{buf: make([]byte, 0, initialSize), tr: tr}
}

// SRID returns the spatial reference id written into the EWKB header.
func (e *Encoder) SRID() int {
	return e.tr.SRID()
}

// Reset clears the buffer for reuse
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Bytes returns the encoded WKB bytes
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Encode picks the WKB type from the geometry's shape: a single coordinate
// is a Point, open lists are (Multi)LineStrings and closed lists are
// (Multi)Polygons with one ring each. It returns nil for empty geometry.
func (e *Encoder) Encode(g *geom.Gfx) []byte {
	e.Reset()
	if g == nil || g.NumCoords() == 0 {
		return nil
	}

	switch {
	case g.IsPoint():
		e.header(wkbPoint, true)
		e.coord(g.Polygons[0][0])
	case !g.Closed && len(g.Polygons) == 1:
		e.header(wkbLineString, true)
		e.line(g.Polygons[0])
	case !g.Closed:
		e.header(wkbMultiLineString, true)
		e.appendUint32(uint32(len(g.Polygons)))
		for _, p := range g.Polygons {
			e.header(wkbLineString, false)
			e.line(p)
		}
	case len(g.Polygons) == 1:
		e.header(wkbPolygon, true)
		e.appendUint32(1)
		e.ring(g.Polygons[0])
	default:
		e.header(wkbMultiPolygon, true)
		e.appendUint32(uint32(len(g.Polygons)))
		for _, p := range g.Polygons {
			// embedded geometries carry no SRID
			e.header(wkbPolygon, false)
			e.appendUint32(1)
			e.ring(p)
		}
	}
	return e.buf
}

func (e *Encoder) header(typ uint32, withSRID bool) {
	// Byte order (little-endian)
	e.buf = append(e.buf, 0x01)
	if withSRID {
		e.appendUint32(typ | wkbSRIDFlag)
		e.appendUint32(uint32(e.tr.SRID()))
		return
	}
	e.appendUint32(typ)
}

func (e *Encoder) line(p []geom.Coord) {
	e.appendUint32(uint32(len(p)))
	for _, c := range p {
		e.coord(c)
	}
}

// ring writes p closed: WKB rings repeat the first point at the end.
func (e *Encoder) ring(p []geom.Coord) {
	closed := len(p) > 0 && p[0] == p[len(p)-1]
	n := len(p)
	if !closed {
		n++
	}
	e.appendUint32(uint32(n))
	for _, c := range p {
		e.coord(c)
	}
	if !closed {
		e.coord(p[0])
	}
}

func (e *Encoder) coord(c geom.Coord) {
	x, y := e.tr.Project(c)
	e.appendFloat64(x)
	e.appendFloat64(y)
}

func (e *Encoder) appendUint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) appendFloat64(v float64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(v))
}
