// Package proj projects map coordinates into output spatial reference systems.
package proj

import (
	"fmt"
	"math"
	"strings"

	"github.com/wegman-software/mapstore-go/internal/geom"
)

// SRID constants for common projections
const (
	SRID4326 = 4326 // WGS84 (lat/lon)
	SRID3857 = 3857 // Web Mercator
)

// Web Mercator constants
const (
	// Semi-major axis of WGS84 ellipsoid in meters
	earthRadius = 6378137.0
	// Maximum extent of Web Mercator
	maxExtent = 20037508.342789244
	maxLat    = 85.06
)

// Transformer projects map coordinates to a target SRID. A nil Transformer
// projects to WGS84.
type Transformer struct {
	srid int
}

// NewTransformer creates a transformer to the target SRID.
func NewTransformer(srid int) (*Transformer, error) {
	if srid != SRID4326 && srid != SRID3857 {
		return nil, fmt.Errorf("unsupported target SRID: %d (only 4326 and 3857 supported)", srid)
	}
	return &Transformer{srid: srid}, nil
}

// SRID returns the target spatial reference id.
func (t *Transformer) SRID() int {
	if t == nil {
		return SRID4326
	}
	return t.srid
}

// Project returns c as x, y in the target projection. For WGS84 that is
// longitude, latitude in degrees.
func (t *Transformer) Project(c geom.Coord) (x, y float64) {
	lat, lon := c.Degrees()
	if t.SRID() == SRID3857 {
		return lonLatToWebMercator(lon, lat)
	}
	return lon, lat
}

// lonLatToWebMercator converts WGS84 (lon, lat) to Web Mercator (x, y)
func lonLatToWebMercator(lon, lat float64) (x, y float64) {
	// Clamp latitude to avoid infinity at poles
	lat = max(-maxLat, min(maxLat, lat))

	x = lon * maxExtent / 180.0
	// y = R * ln(tan(π/4 + φ/2))
	latRad := lat * math.Pi / 180.0
	y = math.Log(math.Tan(math.Pi/4.0+latRad/2.0)) * earthRadius
	return x, y
}

// ParseSRID parses a projection string to SRID
// Accepts: "4326", "3857", "EPSG:4326", "EPSG:3857"
func ParseSRID(s string) (int, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "4326", "EPSG:4326":
		return SRID4326, nil
	case "3857", "EPSG:3857":
		return SRID3857, nil
	default:
		return 0, fmt.Errorf("unsupported projection: %s (supported: 4326, 3857)", s)
	}
}
