package cmd

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wegman-software/mapstore-go/internal/export"
	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/hashindex"
	"github.com/wegman-software/mapstore-go/internal/item"
	"github.com/wegman-software/mapstore-go/internal/mapstore"
	"github.com/wegman-software/mapstore-go/internal/proj"
)

func testMap(t *testing.T) *mapstore.Map {
	t.Helper()
	m := mapstore.New(mapstore.Header{
		MapID:     12,
		Box:       geom.Box{MinLat: 0, MinLon: 0, MaxLat: 1000, MaxLon: 1000},
		Name:      "tiny",
		Created:   time.Unix(1_700_000_000, 0).UTC(),
		Languages: []uint8{1},
	}, mapstore.WithLogger(zap.NewNop()))
	require.NoError(t, m.Reserve(item.TypePointOfInterest, 2))
	for i, c := range []geom.Coord{{Lat: 100, Lon: 100}, {Lat: 900, Lon: 900}} {
		it, err := m.AddEntity(item.TypePointOfInterest, 0)
		require.NoError(t, err)
		it.Gfx = geom.NewPoint(c)
		m.AddName(it, []string{"near", "far"}[i], 0, item.NameOfficial)
	}
	require.NoError(t, m.BuildIndex(8))
	return m
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "berlin.gmap", outputName("/data/berlin.osm.pbf"))
	assert.Equal(t, "town.gmap", outputName("town.osm"))
	assert.Equal(t, "x.gmap", outputName("x"))
}

func TestExportPath(t *testing.T) {
	assert.Equal(t, "out/berlin.parquet", exportPath("out", "/maps/berlin.gmap", export.FormatParquet))
	assert.Equal(t, "out/berlin.geojson", exportPath("out", "berlin.gmap", export.FormatGeoJSON))
}

func TestProjection(t *testing.T) {
	tr, err := projection(export.FormatParquet, "EPSG:3857")
	require.NoError(t, err)
	assert.Equal(t, proj.SRID3857, tr.SRID())

	tr, err = projection(export.FormatGeoJSON, "4326")
	require.NoError(t, err)
	assert.Equal(t, proj.SRID4326, tr.SRID())

	_, err = projection(export.FormatGeoJSON, "3857")
	assert.Error(t, err)
	_, err = projection(export.FormatPostGIS, "900913")
	assert.Error(t, err)
}

func TestParseFilter(t *testing.T) {
	f, err := parseFilter("street_segment, point_of_interest", "0x80")
	require.NoError(t, err)
	assert.Equal(t, []item.Type{item.TypeStreetSegment, item.TypePointOfInterest}, f.Types)
	assert.Equal(t, uint32(0x80), f.Rights)

	f, err = parseFilter("", "")
	require.NoError(t, err)
	assert.Empty(t, f.Types)
	assert.Zero(t, f.Rights)

	_, err = parseFilter("spaceship", "")
	assert.Error(t, err)
	_, err = parseFilter("", "lots")
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	m := testMap(t)
	var all = filterFor(t, "")

	hs, dist, err := search(m, "closest", geom.Coord{Lat: 120, Lon: 120}, 0, nil, all)
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Equal(t, "near", m.Name(hs[0]))
	assert.Greater(t, dist[hs[0]], 0.0)

	hs, _, err = search(m, "bbox", geom.Coord{}, 0, &geom.Box{MinLat: 800, MinLon: 800, MaxLat: 1000, MaxLon: 1000}, all)
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Equal(t, "far", m.Name(hs[0]))

	_, _, err = search(m, "bbox", geom.Coord{}, 0, nil, all)
	assert.Error(t, err)
	_, _, err = search(m, "nearest", geom.Coord{}, 0, nil, all)
	assert.Error(t, err)
}

func filterFor(t *testing.T, types string) hashindex.Filter {
	t.Helper()
	f, err := parseFilter(types, "")
	require.NoError(t, err)
	return f
}

func TestWriteResults(t *testing.T) {
	m := testMap(t)
	hs, dist, err := search(m, "closest", geom.Coord{Lat: 100, Lon: 100}, 0, nil, filterFor(t, ""))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeResults(&buf, m, hs, dist))
	fc, err := geojson.UnmarshalFeatureCollection(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "near", fc.Features[0].Properties["name"])
	assert.Equal(t, 0.0, fc.Features[0].Properties["distance_m"])
}

func TestWriteInfo(t *testing.T) {
	info := describe("tiny.gmap", testMap(t))
	assert.Equal(t, uint32(12), info.MapID)
	assert.Equal(t, 2, info.Types["point_of_interest"])
	assert.Equal(t, []int{1}, info.Languages)
	require.NotNil(t, info.Box)

	var buf bytes.Buffer
	require.NoError(t, writeInfo(&buf, []*mapInfo{info}, "yaml"))
	var fromYAML []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	require.Len(t, fromYAML, 1)
	assert.Equal(t, "tiny", fromYAML[0]["name"])
	assert.Equal(t, 2, fromYAML[0]["items"])

	buf.Reset()
	require.NoError(t, writeInfo(&buf, []*mapInfo{info}, "json"))
	var fromJSON []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Equal(t, float64(12), fromJSON[0]["map_id"])

	assert.Error(t, writeInfo(&buf, nil, "xml"))
}
