package export

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/paulmach/orb/geojson"
)

// GeoJSONWriter streams rows as one FeatureCollection. Rows without
// geometry are counted but not written.
type GeoJSONWriter struct {
	file     *os.File
	w        *bufio.Writer
	features int
	skipped  int
}

// NewGeoJSONWriter creates the file at path and writes the collection
// header.
func NewGeoJSONWriter(path string) (*GeoJSONWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &GeoJSONWriter{file: f, w: bufio.NewWriterSize(f, 1<<20)}
	if _, err := io.WriteString(w.w, `{"type":"FeatureCollection","features":[`); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Feature converts a row to a GeoJSON feature with its attributes as
// properties. It returns nil for rows without geometry.
func Feature(row *Row) *geojson.Feature {
	if row.Gfx == nil || row.Gfx.NumCoords() == 0 {
		return nil
	}
	f := geojson.NewFeature(row.Gfx.Geometry())
	f.ID = row.Handle
	f.Properties["map_id"] = row.MapID
	f.Properties["band"] = row.Band
	f.Properties["rights"] = row.Rights
	for k, v := range row.Attrs {
		if _, taken := f.Properties[k]; !taken {
			f.Properties[k] = v
		}
	}
	return f
}

// Write appends one feature
func (g *GeoJSONWriter) Write(row *Row) error {
	f := Feature(row)
	if f == nil {
		g.skipped++
		return nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode feature: %w", err)
	}
	if g.features > 0 {
		if err := g.w.WriteByte(','); err != nil {
			return err
		}
	}
	g.features++
	_, err = g.w.Write(b)
	return err
}

// Skipped returns the number of rows dropped for lack of geometry.
func (g *GeoJSONWriter) Skipped() int { return g.skipped }

// Close terminates the collection and closes the file
func (g *GeoJSONWriter) Close() error {
	_, err := io.WriteString(g.w, "]}\n")
	return errors.Join(err, g.w.Flush(), g.file.Close())
}
