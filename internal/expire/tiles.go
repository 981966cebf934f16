// Package expire computes the web map tiles covered by changed map items.
package expire

import (
	"fmt"
	"math"

	"github.com/wegman-software/mapstore-go/internal/geom"
)

// Tile represents a map tile at a specific zoom level
type Tile struct {
	Z int // Zoom level
	X int // X coordinate (column)
	Y int // Y coordinate (row)
}

// String returns the tile in z/x/y format
func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// MaxMercatorLat is the latitude limit of the Web Mercator tile scheme.
const MaxMercatorLat = 85.0511287798

// MaxZoom is the deepest zoom level accepted by the tracker.
const MaxZoom = 24

// LatLonToTile converts latitude/longitude to tile coordinates at a given zoom level
// Uses the standard Web Mercator tile scheme (OSM/Google style)
func LatLonToTile(lat, lon float64, zoom int) Tile {
	lat = max(-MaxMercatorLat, min(MaxMercatorLat, lat))
	lon = max(-180, min(180, lon))

	n := 1 << zoom

	x := int((lon + 180.0) / 360.0 * float64(n))
	latRad := lat * math.Pi / 180.0
	y := int((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * float64(n))

	return Tile{Z: zoom, X: min(max(x, 0), n-1), Y: min(max(y, 0), n-1)}
}

// TileRange represents a range of tiles at a specific zoom level
type TileRange struct {
	Z          int
	MinX, MaxX int
	MinY, MaxY int
}

// BoxToTileRange converts a map box to the range of tiles it touches.
func BoxToTileRange(b geom.Box, zoom int) TileRange {
	maxLat, minLon := geom.Coord{Lat: b.MaxLat, Lon: b.MinLon}.Degrees()
	minLat, maxLon := geom.Coord{Lat: b.MinLat, Lon: b.MaxLon}.Degrees()

	// tile Y grows southwards
	topLeft := LatLonToTile(maxLat, minLon, zoom)
	bottomRight := LatLonToTile(minLat, maxLon, zoom)
	return TileRange{
		Z:    zoom,
		MinX: topLeft.X,
		MaxX: bottomRight.X,
		MinY: topLeft.Y,
		MaxY: bottomRight.Y,
	}
}

// TileCount returns the number of tiles in the range
func (r TileRange) TileCount() int {
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// Tiles returns all tiles in the range
func (r TileRange) Tiles() []Tile {
	tiles := make([]Tile, 0, r.TileCount())
	for x := r.MinX; x <= r.MaxX; x++ {
		for y := r.MinY; y <= r.MaxY; y++ {
			tiles = append(tiles, Tile{Z: r.Z, X: x, Y: y})
		}
	}
	return tiles
}

// AffectedTiles returns the tiles touched by b from minZoom to maxZoom.
func AffectedTiles(b geom.Box, minZoom, maxZoom int) []Tile {
	if b.IsEmpty() {
		return nil
	}
	var tiles []Tile
	for z := minZoom; z <= maxZoom; z++ {
		tiles = append(tiles, BoxToTileRange(b, z).Tiles()...)
	}
	return tiles
}
