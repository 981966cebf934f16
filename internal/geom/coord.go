// Package geom holds the integer geometry stored in map files.
//
// Coordinates use the MC2 scale: the full circle is 2^32 units, so one
// degree is 2^32/360 units and one unit is about 9.3 mm of latitude.
package geom

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// UnitsPerDegree converts degrees to MC2 units.
	UnitsPerDegree = 4294967296.0 / 360.0
	// MetersPerUnit is the length of one MC2 unit along a meridian.
	MetersPerUnit = 40075016.6855784 / 4294967296.0
)

// Coord is a point in MC2 units.
type Coord struct {
	Lat int32
	Lon int32
}

// FromDegrees converts a WGS84 position to MC2 units.
func FromDegrees(lat, lon float64) Coord {
	return Coord{
		Lat: int32(math.Round(lat * UnitsPerDegree)),
		Lon: int32(math.Round(lon * UnitsPerDegree)),
	}
}

// Degrees returns the position in degrees.
func (c Coord) Degrees() (lat, lon float64) {
	return float64(c.Lat) / UnitsPerDegree, float64(c.Lon) / UnitsPerDegree
}

// Point returns the position as an orb point in degrees (X=lon, Y=lat).
func (c Coord) Point() orb.Point {
	lat, lon := c.Degrees()
	return orb.Point{lon, lat}
}

// CosLat returns the horizontal scale factor at latitude lat (MC2 units).
func CosLat(lat int32) float64 {
	return math.Cos(float64(lat) / UnitsPerDegree * math.Pi / 180)
}

// metric projects c onto a local plane in metres, scaling longitude by
// cosLat.
func (c Coord) metric(cosLat float64) orb.Point {
	return orb.Point{
		float64(c.Lon) * cosLat * MetersPerUnit,
		float64(c.Lat) * MetersPerUnit,
	}
}

// SquaredDistance returns the squared distance in metres between a and b.
func SquaredDistance(a, b Coord, cosLat float64) float64 {
	dLat := float64(int64(a.Lat)-int64(b.Lat)) * MetersPerUnit
	dLon := float64(int64(a.Lon)-int64(b.Lon)) * cosLat * MetersPerUnit
	return dLat*dLat + dLon*dLon
}

// Box is an axis-aligned rectangle in MC2 units, bounds inclusive.
type Box struct {
	MinLat, MinLon int32
	MaxLat, MaxLon int32
}

// EmptyBox returns a box that contains nothing; extending it with a point
// yields that point's box.
func EmptyBox() Box {
	return Box{
		MinLat: math.MaxInt32, MinLon: math.MaxInt32,
		MaxLat: math.MinInt32, MaxLon: math.MinInt32,
	}
}

// IsEmpty reports whether the box contains no point.
func (b Box) IsEmpty() bool {
	return b.MinLat > b.MaxLat || b.MinLon > b.MaxLon
}

// Extend grows the box to include c.
func (b Box) Extend(c Coord) Box {
	b.MinLat = min(b.MinLat, c.Lat)
	b.MaxLat = max(b.MaxLat, c.Lat)
	b.MinLon = min(b.MinLon, c.Lon)
	b.MaxLon = max(b.MaxLon, c.Lon)
	return b
}

// Union returns the smallest box containing both.
func (b Box) Union(o Box) Box {
	if o.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return o
	}
	return Box{
		MinLat: min(b.MinLat, o.MinLat), MinLon: min(b.MinLon, o.MinLon),
		MaxLat: max(b.MaxLat, o.MaxLat), MaxLon: max(b.MaxLon, o.MaxLon),
	}
}

// Contains reports whether c lies inside the box.
func (b Box) Contains(c Coord) bool {
	return c.Lat >= b.MinLat && c.Lat <= b.MaxLat && c.Lon >= b.MinLon && c.Lon <= b.MaxLon
}

// ContainsBox reports whether o lies entirely inside b.
func (b Box) ContainsBox(o Box) bool {
	return o.MinLat >= b.MinLat && o.MaxLat <= b.MaxLat && o.MinLon >= b.MinLon && o.MaxLon <= b.MaxLon
}

// Overlaps reports whether the boxes share at least one point.
func (b Box) Overlaps(o Box) bool {
	return !(o.MinLat > b.MaxLat || o.MaxLat < b.MinLat || o.MinLon > b.MaxLon || o.MaxLon < b.MinLon)
}

// Center returns the midpoint of the box.
func (b Box) Center() Coord {
	return Coord{
		Lat: int32((int64(b.MinLat) + int64(b.MaxLat)) / 2),
		Lon: int32((int64(b.MinLon) + int64(b.MaxLon)) / 2),
	}
}

// CosLat returns the horizontal scale factor at the box centre.
func (b Box) CosLat() float64 {
	if b.IsEmpty() {
		return 1
	}
	return CosLat(b.Center().Lat)
}

// SquaredDistanceTo returns the squared distance in metres from c to the
// nearest point of the box, zero if c is inside.
func (b Box) SquaredDistanceTo(c Coord, cosLat float64) float64 {
	nearest := Coord{
		Lat: min(max(c.Lat, b.MinLat), b.MaxLat),
		Lon: min(max(c.Lon, b.MinLon), b.MaxLon),
	}
	return SquaredDistance(c, nearest, cosLat)
}

// Bound returns the box as an orb.Bound in degrees.
func (b Box) Bound() orb.Bound {
	return orb.Bound{
		Min: Coord{Lat: b.MinLat, Lon: b.MinLon}.Point(),
		Max: Coord{Lat: b.MaxLat, Lon: b.MaxLon}.Point(),
	}
}
