package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/wegman-software/mapstore-go/internal/geom"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MAPSTORE_"

// degreesPrefix marks a bbox given in WGS84 degrees instead of MC2 units.
const degreesPrefix = "deg:"

// BBox represents a bounding box in MC2 units
type BBox struct {
	geom.Box
	IsSet bool
}

// Contains checks if a point is within the bounding box
func (b *BBox) Contains(c geom.Coord) bool {
	if b == nil || !b.IsSet {
		return true
	}
	return b.Box.Contains(c)
}

// ParseBBox parses a bbox string in format "minlon,minlat,maxlon,maxlat".
// Values are MC2 integers unless the string starts with "deg:", in which
// case they are degrees.
func ParseBBox(s string) (*BBox, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return &BBox{IsSet: false}, nil
	}
	degrees := strings.HasPrefix(s, degreesPrefix)
	s = strings.TrimPrefix(s, degreesPrefix)

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values: minlon,minlat,maxlon,maxlat")
	}

	var coords [4]int32
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if degrees {
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid bbox coordinate %q: %w", p, err)
			}
			limit := 180.0
			if i%2 == 1 {
				limit = 90
			}
			if v < -limit || v > limit {
				return nil, fmt.Errorf("bbox coordinate %s out of range", p)
			}
			// lat and lon convert with the same scale
			coords[i] = geom.FromDegrees(v, 0).Lat
			continue
		}
		v, err := strconv.ParseInt(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox coordinate %q: %w", p, err)
		}
		coords[i] = int32(v)
	}

	bbox := &BBox{
		Box: geom.Box{
			MinLon: coords[0],
			MinLat: coords[1],
			MaxLon: coords[2],
			MaxLat: coords[3],
		},
		IsSet: true,
	}

	// Validate
	if bbox.MinLon > bbox.MaxLon {
		return nil, fmt.Errorf("minlon (%d) must be <= maxlon (%d)", bbox.MinLon, bbox.MaxLon)
	}
	if bbox.MinLat > bbox.MaxLat {
		return nil, fmt.Errorf("minlat (%d) must be <= maxlat (%d)", bbox.MinLat, bbox.MaxLat)
	}

	return bbox, nil
}

// UnmarshalYAML accepts the same string forms as ParseBBox.
func (b *BBox) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseBBox(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*b = *parsed
	return nil
}

// Config holds the global configuration of the mapstore tools
type Config struct {
	// Map file settings
	MapID       uint32 `yaml:"map_id"`
	BBox        *BBox  `yaml:"bbox"`        // Map box for build, query box default
	Compression string `yaml:"compression"` // none, lz4 or zstd
	CellHint    int    `yaml:"cell_hint"`   // Spatial index cells per axis

	// Build settings
	OutputFile    string `yaml:"output"`
	NodeIndexFile string `yaml:"node_index"` // Node coordinate file (temp file when empty)

	// Export settings
	StyleFile    string `yaml:"style"`  // Path to style YAML for type/name filtering
	FilterScript string `yaml:"filter"` // Lua filter script
	OutputDir    string `yaml:"output_dir"`

	// Database settings
	DBHost     string `yaml:"db_host"`
	DBPort     int    `yaml:"db_port"`
	DBName     string `yaml:"db_name"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBSchema   string `yaml:"db_schema"`

	// Processing settings
	Workers   int `yaml:"workers"`
	BatchSize int `yaml:"batch_size"`

	// Logging and metrics
	Verbose         bool          `yaml:"verbose"`
	LogFile         string        `yaml:"log_file"`         // Path to log file (empty = no file logging)
	MetricsInterval time.Duration `yaml:"metrics_interval"` // Interval for system metrics logging
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		BBox:            &BBox{IsSet: false},
		Compression:     "none",
		CellHint:        64,
		OutputDir:       "./export",
		DBHost:          "localhost",
		DBPort:          5432,
		DBName:          "gis",
		DBUser:          "postgres",
		DBSchema:        "public",
		Workers:         runtime.NumCPU(),
		BatchSize:       10000,
		MetricsInterval: 0, // Metrics logging off unless requested
	}
}

// LoadFile merges the YAML file at path into c. Keys missing from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// ApplyEnv loads the given .env files, when present, and applies the
// MAPSTORE_* variables of the environment on top of c.
func (c *Config) ApplyEnv(envFiles ...string) error {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("COMPRESSION", &c.Compression)
	str("OUTPUT", &c.OutputFile)
	str("NODE_INDEX", &c.NodeIndexFile)
	str("STYLE", &c.StyleFile)
	str("FILTER", &c.FilterScript)
	str("OUTPUT_DIR", &c.OutputDir)
	str("DB_HOST", &c.DBHost)
	str("DB_NAME", &c.DBName)
	str("DB_USER", &c.DBUser)
	str("DB_PASSWORD", &c.DBPassword)
	str("DB_SCHEMA", &c.DBSchema)
	str("LOG_FILE", &c.LogFile)
	for key, dst := range map[string]*int{
		"CELL_HINT":  &c.CellHint,
		"DB_PORT":    &c.DBPort,
		"WORKERS":    &c.Workers,
		"BATCH_SIZE": &c.BatchSize,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "MAP_ID"); ok {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid %sMAP_ID: %w", EnvPrefix, err)
		}
		c.MapID = uint32(id)
	}
	if v, ok := os.LookupEnv(EnvPrefix + "BBOX"); ok {
		b, err := ParseBBox(v)
		if err != nil {
			return err
		}
		c.BBox = b
	}
	if v, ok := os.LookupEnv(EnvPrefix + "METRICS_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sMETRICS_INTERVAL: %w", EnvPrefix, err)
		}
		c.MetricsInterval = d
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Compression {
	case "", "none", "lz4", "zstd":
	default:
		return fmt.Errorf("unknown compression %q", c.Compression)
	}
	if c.CellHint < 1 {
		return fmt.Errorf("cell hint must be at least 1")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if c.MetricsInterval < 0 {
		return fmt.Errorf("metrics interval must not be negative")
	}
	return nil
}
