// Package export writes the items of a map to Parquet, GeoJSON or a
// PostGIS table, optionally filtered by a style file and a Lua script.
package export

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/item"
	"github.com/wegman-software/mapstore-go/internal/mapstore"
	"github.com/wegman-software/mapstore-go/internal/script"
	"github.com/wegman-software/mapstore-go/internal/style"
)

// Row is one exported item.
type Row struct {
	MapID  uint32
	Handle uint32
	Type   string
	Band   int
	Name   string
	Rights uint32
	Attrs  map[string]string
	Gfx    *geom.Gfx
}

// AttrsToJSON converts row attributes to a JSON object string
func AttrsToJSON(attrs map[string]string) string {
	if len(attrs) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(attrs)
	return string(b)
}

// Attributes describes it as string attributes, the vocabulary style
// rules and filter scripts match on.
func Attributes(m *mapstore.Map, it *item.Item) map[string]string {
	a := map[string]string{
		"type": it.Type().String(),
		"band": strconv.Itoa(it.Handle.Band()),
	}
	if name := m.Name(it.Handle); name != "" {
		a["name"] = name
	}
	if r := m.AccessRights(it.Handle); r != mapstore.AllRights {
		a["rights"] = strconv.FormatUint(uint64(r), 10)
	}
	if c, ok := m.RoadDisplayClass(it.Handle); ok {
		a["road_display_class"] = strconv.Itoa(int(c))
	}
	if c, ok := m.AreaDisplayClass(it.Handle); ok {
		a["area_display_class"] = strconv.Itoa(int(c))
	}
	if cats := m.Categories(it.Handle); len(cats) > 0 {
		b, _ := json.Marshal(cats)
		a["categories"] = string(b)
	}

	u := func(k string, v uint64) { a[k] = strconv.FormatUint(v, 10) }
	switch v := it.Variant.(type) {
	case *item.StreetSegment:
		u("road_class", uint64(v.RoadClass))
		u("speed_limit", uint64(v.Nodes[0].SpeedLimit))
		if v.Roundabout {
			a["roundabout"] = "yes"
		}
		if v.Ramp {
			a["ramp"] = "yes"
		}
		if v.ControlledAccess {
			a["controlled_access"] = "yes"
		}
	case *item.Ferry:
		u("ferry_type", uint64(v.FerryType))
	case *item.BusRoute:
		u("route_id", uint64(v.RouteID))
	case *item.Street:
		u("road_class", uint64(v.RoadClass))
		u("members", uint64(len(v.Members)))
	case *item.Area:
		u("members", uint64(len(v.Members)))
	case *item.BuiltUpArea:
		u("population", uint64(v.Population))
		u("members", uint64(len(v.Members)))
	case *item.PointOfInterest:
		u("poi_type", uint64(v.POIType))
		u("external_id", uint64(v.ExternalID))
		if v.Segment.IsValid() {
			u("segment", uint64(v.Segment))
		}
	case *item.Building:
		u("building_type", uint64(v.BuildingType))
		if v.Height > 0 {
			u("height", uint64(v.Height))
		}
	case *item.Feature:
		u("subtype", uint64(v.SubType))
	case *item.Category:
		u("category_id", uint64(v.CategoryID))
	case *item.SubwayLine:
		a["colour"] = fmt.Sprintf("#%06x", v.Colour&0xffffff)
	case *item.Plain:
	}
	return a
}

// Selector decides which items are exported. Both the style and the script
// are optional.
type Selector struct {
	style  *style.Config
	script *script.Runtime
}

// NewSelector returns a selector applying cfg, then rt.
func NewSelector(cfg *style.Config, rt *script.Runtime) *Selector {
	if cfg == nil {
		cfg = style.DefaultConfig()
	}
	return &Selector{style: cfg, script: rt}
}

// Select builds the row for it, or reports false when it is filtered out.
func (s *Selector) Select(m *mapstore.Map, it *item.Item) (*Row, bool, error) {
	attrs := Attributes(m, it)
	if !s.style.For(it.Gfx).Match(attrs) {
		return nil, false, nil
	}
	row := &Row{
		MapID:  m.Header().MapID,
		Handle: uint32(it.Handle),
		Type:   attrs["type"],
		Band:   it.Handle.Band(),
		Name:   attrs["name"],
		Rights: m.AccessRights(it.Handle),
		Attrs:  attrs,
		Gfx:    it.Gfx,
	}
	if s.script == nil || !s.script.HasFilter() {
		return row, true, nil
	}

	obj := &script.Object{
		Handle: row.Handle,
		Type:   row.Type,
		Band:   row.Band,
		Name:   row.Name,
		Rights: row.Rights,
		Attrs:  attrs,
	}
	if it.Gfx != nil {
		obj.NumCoords = it.Gfx.NumCoords()
		obj.Closed = it.Gfx.Closed
		if c, ok := it.Gfx.First(); ok {
			obj.Lat, obj.Lon = c.Degrees()
			obj.HasCoords = true
		}
	}
	keep, extra, err := s.script.Filter(obj)
	if err != nil || !keep {
		return nil, false, err
	}
	for k, v := range extra {
		row.Attrs[k] = v
	}
	return row, true, nil
}
