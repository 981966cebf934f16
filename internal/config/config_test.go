package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/mapstore-go/internal/geom"
)

func TestParseBBox(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    geom.Box
		isSet   bool
		wantErr bool
	}{
		{name: "empty", in: "", isSet: false},
		{name: "mc2", in: "0,10,1000000,20", want: geom.Box{MinLon: 0, MinLat: 10, MaxLon: 1000000, MaxLat: 20}, isSet: true},
		{name: "spaces", in: " -5 , -6 , 7 , 8 ", want: geom.Box{MinLon: -5, MinLat: -6, MaxLon: 7, MaxLat: 8}, isSet: true},
		{name: "degrees", in: "deg:13,52,14,53", want: geom.Box{
			MinLon: geom.FromDegrees(0, 13).Lon, MinLat: geom.FromDegrees(52, 0).Lat,
			MaxLon: geom.FromDegrees(0, 14).Lon, MaxLat: geom.FromDegrees(53, 0).Lat,
		}, isSet: true},
		{name: "three values", in: "1,2,3", wantErr: true},
		{name: "float in mc2", in: "1.5,2,3,4", wantErr: true},
		{name: "overflow", in: "0,0,3000000000,1", wantErr: true},
		{name: "min above max", in: "10,0,5,1", wantErr: true},
		{name: "latitude out of range", in: "deg:0,-91,1,1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ParseBBox(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.isSet, b.IsSet)
			if tt.isSet {
				assert.Equal(t, tt.want, b.Box)
			}
		})
	}
}

func TestBBoxContains(t *testing.T) {
	var unset *BBox
	assert.True(t, unset.Contains(geom.Coord{Lat: 1 << 30}))

	b, err := ParseBBox("0,0,100,100")
	require.NoError(t, err)
	assert.True(t, b.Contains(geom.Coord{Lat: 100, Lon: 0}))
	assert.False(t, b.Contains(geom.Coord{Lat: 101, Lon: 0}))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
map_id: 42
bbox: "0,0,1000,2000"
compression: zstd
metrics_interval: 15s
db_name: maps
`), 0o644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFile(path))
	assert.Equal(t, uint32(42), cfg.MapID)
	assert.True(t, cfg.BBox.IsSet)
	assert.Equal(t, int32(2000), cfg.BBox.MaxLat)
	assert.Equal(t, "zstd", cfg.Compression)
	assert.Equal(t, 15*time.Second, cfg.MetricsInterval)
	assert.Equal(t, "maps", cfg.DBName)
	// untouched keys keep their defaults
	assert.Equal(t, 5432, cfg.DBPort)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	require.Error(t, cfg.LoadFile(filepath.Join(dir, "missing.yaml")))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("bbox: \"1,2\"\n"), 0o644))
	require.Error(t, cfg.LoadFile(bad))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MAPSTORE_MAP_ID", "7")
	t.Setenv("MAPSTORE_WORKERS", "3")
	t.Setenv("MAPSTORE_BBOX", "deg:0,0,1,1")
	t.Setenv("MAPSTORE_METRICS_INTERVAL", "1m")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("MAPSTORE_DB_SCHEMA=tiles\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("MAPSTORE_DB_SCHEMA") })

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(envFile, filepath.Join(t.TempDir(), "absent.env")))
	assert.Equal(t, uint32(7), cfg.MapID)
	assert.Equal(t, 3, cfg.Workers)
	assert.True(t, cfg.BBox.IsSet)
	assert.Equal(t, time.Minute, cfg.MetricsInterval)
	assert.Equal(t, "tiles", cfg.DBSchema)
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Setenv("MAPSTORE_DB_PORT", "many")
	cfg := DefaultConfig()
	require.Error(t, cfg.ApplyEnv())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"compression", func(c *Config) { c.Compression = "gzip" }},
		{"cell hint", func(c *Config) { c.CellHint = 0 }},
		{"workers", func(c *Config) { c.Workers = 0 }},
		{"batch size", func(c *Config) { c.BatchSize = 0 }},
		{"metrics interval", func(c *Config) { c.MetricsInterval = -time.Second }},
	}
	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConnectionString(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "host=localhost port=5432 dbname=gis user=postgres sslmode=disable", cfg.ConnectionString())
	cfg.DBPassword = "secret"
	assert.Contains(t, cfg.ConnectionString(), "password=secret")
}
