// Package style filters map items for export using a YAML description of
// which item attributes to keep per geometry class.
package style

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/item"
)

// Config represents the style configuration for filtering map items
type Config struct {
	// Points configuration for point geometries
	Points *FilterConfig `yaml:"points,omitempty"`
	// Lines configuration for polyline geometries
	Lines *FilterConfig `yaml:"lines,omitempty"`
	// Polygons configuration for closed geometries
	Polygons *FilterConfig `yaml:"polygons,omitempty"`
	// Bare configuration for items without geometry, such as streets
	Bare *FilterConfig `yaml:"bare,omitempty"`
}

// FilterConfig defines filtering rules for a geometry class. Rules match
// item attributes such as "type", "name" or "road_class".
type FilterConfig struct {
	// Include specifies which attribute keys/values to include
	// If empty, all items are included (no filtering)
	Include map[string][]string `yaml:"include,omitempty"`
	// Exclude specifies which attribute keys/values to exclude
	// Applied after include rules
	Exclude map[string][]string `yaml:"exclude,omitempty"`
	// RequireAny specifies that at least one of these attributes must be present
	RequireAny []string `yaml:"require_any,omitempty"`
}

// LoadConfig loads a style configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse style YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid style %s: %w", path, err)
	}
	return &cfg, nil
}

// DefaultConfig returns a configuration that includes everything
func DefaultConfig() *Config {
	return &Config{}
}

// Validate checks that every "type" value names a known item type.
func (c *Config) Validate() error {
	for _, fc := range []*FilterConfig{c.Points, c.Lines, c.Polygons, c.Bare} {
		if fc == nil {
			continue
		}
		for _, rules := range []map[string][]string{fc.Include, fc.Exclude} {
			for _, v := range rules["type"] {
				if v == "*" {
					continue
				}
				if _, err := item.ParseType(v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// For returns the filter for items with geometry g.
func (c *Config) For(g *geom.Gfx) *Filter {
	switch {
	case g == nil || g.NumCoords() == 0:
		return NewFilter(c.Bare)
	case g.IsPoint():
		return NewFilter(c.Points)
	case g.Closed:
		return NewFilter(c.Polygons)
	default:
		return NewFilter(c.Lines)
	}
}

// Filter checks if item attributes match the filter configuration
type Filter struct {
	cfg *FilterConfig
}

// NewFilter creates a filter from configuration
func NewFilter(cfg *FilterConfig) *Filter {
	if cfg == nil {
		return &Filter{cfg: &FilterConfig{}}
	}
	return &Filter{cfg: cfg}
}

// Match checks if the given attributes match the filter rules
// Returns true if the item should be exported
func (f *Filter) Match(attrs map[string]string) bool {
	if f.cfg == nil {
		return true
	}

	// Check require_any - at least one attribute must be present
	if len(f.cfg.RequireAny) > 0 {
		found := false
		for _, key := range f.cfg.RequireAny {
			if _, ok := attrs[key]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	// Check include rules
	if len(f.cfg.Include) > 0 {
		matched := false
		for key, values := range f.cfg.Include {
			if v, ok := attrs[key]; ok && matchValue(values, v) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	// Check exclude rules
	for key, values := range f.cfg.Exclude {
		if v, ok := attrs[key]; ok && matchValue(values, v) {
			return false
		}
	}

	return true
}

// matchValue reports whether v is allowed by values. No values, or "*",
// match anything.
func matchValue(values []string, v string) bool {
	if len(values) == 0 {
		return true
	}
	for _, want := range values {
		if want == v || want == "*" {
			return true
		}
	}
	return false
}

// HasFilter returns true if filtering is enabled
func (f *Filter) HasFilter() bool {
	if f.cfg == nil {
		return false
	}
	return len(f.cfg.Include) > 0 || len(f.cfg.Exclude) > 0 || len(f.cfg.RequireAny) > 0
}
