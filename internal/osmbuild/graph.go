package osmbuild

import (
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/osm"

	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/handle"
	"github.com/wegman-software/mapstore-go/internal/item"
	"github.com/wegman-software/mapstore-go/internal/mapstore"
)

// segEnd is one end of a segment located at a junction.
type segEnd struct {
	seg *segment
	end int
}

// near returns the coordinate next to the junction at end e.
func (s *segment) near(e int) geom.Coord {
	if e == 0 {
		return s.coords[1]
	}
	return s.coords[len(s.coords)-2]
}

func (s *segment) at(e int) geom.Coord {
	if e == 0 {
		return s.coords[0]
	}
	return s.coords[len(s.coords)-1]
}

// connect creates the node pairs of all segments. Every pair of segment
// ends meeting at an OSM node is joined in both directions: entering S at
// end e from T, which reaches the junction at its end f, is a connection
// stored at node (S,e) from node (T,1-f).
func (b *builder) connect(m *mapstore.Map) error {
	junctions := make(map[osm.NodeID][]segEnd)
	for _, s := range b.segments {
		for e := range 2 {
			junctions[s.ends[e]] = append(junctions[s.ends[e]], segEnd{seg: s, end: e})
		}
	}

	for _, s := range b.segments {
		var specs [2]item.NodeSpec
		seg := s.it.Variant.(*item.StreetSegment)
		speed := speedLimit(s.way.tags, seg.RoadClass)
		dir := oneway(s.way.tags)
		var lanes uint8
		if n, err := strconv.Atoi(s.way.tags.Find("lanes")); err == nil && n > 0 && n < 256 {
			lanes = uint8(n)
		}
		for e := range 2 {
			spec := &specs[e]
			spec.MajorRoad = seg.RoadClass <= item.RoadSecondClass
			spec.RoadToll = s.way.tags.Find("toll") == "yes"
			spec.SpeedLimit = speed
			spec.LaneCount = lanes
			if l, err := strconv.Atoi(s.way.tags.Find("layer")); err == nil && l >= math.MinInt8 && l <= math.MaxInt8 {
				spec.Level = int8(l)
			}
			if (dir > 0 && e == 1) || (dir < 0 && e == 0) {
				spec.EntryRestrictions = item.EntryNoEntry
			}

			ends := junctions[s.ends[e]]
			crossing := crossingKind(ends)
			if len(ends) == 3 && anyRamp(ends) {
				spec.JunctionType = item.JunctionBifurcation
			}
			rights := accessRights(s.way.tags.Find("highway"))
			for _, o := range ends {
				if o.seg == s && o.end == e {
					continue
				}
				cs := item.ConnectionSpec{
					From:          handle.Node(o.seg.it.Handle, 1-o.end),
					TurnDirection: turnFor(o, segEnd{seg: s, end: e}),
					CrossingKind:  crossing,
				}
				if rights != item.VehicleAll {
					cs.Vehicles = rights
				}
				if crossing == item.CrossingRoundabout && cs.TurnDirection == item.TurnExitRoundabout {
					cs.ExitCount = uint8(min(len(ends)-1, 255))
				}
				spec.Connections = append(spec.Connections, cs)
			}
			b.stats.Connections += len(spec.Connections)
		}
		if err := m.SetNodes(s.it, specs); err != nil {
			return fmt.Errorf("failed to set nodes of %s: %w", s.it.Handle, err)
		}
	}
	return nil
}

func anyRamp(ends []segEnd) bool {
	for _, e := range ends {
		if e.seg.it.Variant.(*item.StreetSegment).Ramp {
			return true
		}
	}
	return false
}

func crossingKind(ends []segEnd) item.CrossingKind {
	for _, e := range ends {
		if e.seg.it.Variant.(*item.StreetSegment).Roundabout {
			return item.CrossingRoundabout
		}
	}
	switch n := len(ends); {
	case n <= 2:
		return item.CrossingNone
	case n == 3:
		return item.Crossing3WaysT
	case n >= 8:
		return item.Crossing8Ways
	default:
		return item.Crossing4Ways + item.CrossingKind(n-4)
	}
}

// turnFor classifies travelling along from into to.
func turnFor(from, to segEnd) item.TurnDirection {
	fs := from.seg.it.Variant.(*item.StreetSegment)
	ts := to.seg.it.Variant.(*item.StreetSegment)
	switch {
	case ts.Roundabout && !fs.Roundabout:
		return item.TurnEnterRoundabout
	case fs.Roundabout && !ts.Roundabout:
		return item.TurnExitRoundabout
	case fs.Roundabout && ts.Roundabout:
		return item.TurnAheadRoundabout
	case ts.Ramp && !fs.Ramp:
		return item.TurnOnRamp
	case fs.Ramp && !ts.Ramp:
		return item.TurnOffRamp
	}
	return turnDirection(from.seg.near(from.end), to.seg.at(to.end), to.seg.near(to.end))
}

// turnDirection classifies the angle between arriving at at from prev and
// leaving towards next.
func turnDirection(prev, at, next geom.Coord) item.TurnDirection {
	cos := geom.CosLat(at.Lat)
	ix, iy := float64(at.Lon-prev.Lon)*cos, float64(at.Lat-prev.Lat)
	ox, oy := float64(next.Lon-at.Lon)*cos, float64(next.Lat-at.Lat)
	if (ix == 0 && iy == 0) || (ox == 0 && oy == 0) {
		return item.TurnAhead
	}
	a := math.Atan2(ix*oy-iy*ox, ix*ox+iy*oy) * 180 / math.Pi
	switch {
	case math.Abs(a) <= 30:
		return item.TurnAhead
	case math.Abs(a) >= 160:
		return item.TurnUTurn
	case a > 0:
		return item.TurnLeft
	default:
		return item.TurnRight
	}
}
