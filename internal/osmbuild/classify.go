package osmbuild

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/paulmach/osm"

	"github.com/wegman-software/mapstore-go/internal/item"
)

// featureKind is what an OSM way becomes in the map.
type featureKind uint8

const (
	kindNone featureKind = iota
	kindRoad
	kindBuilding
	kindWater
	kindMunicipal
)

// Item bands used by the builder. Roads use their road class.
const (
	bandMunicipal = 0
	bandStreet    = 5
	bandWater     = 6
	bandBuilding  = 7
	bandPOI       = 8
)

var roadClasses = map[string]item.RoadClass{
	"motorway":       item.RoadMain,
	"motorway_link":  item.RoadMain,
	"trunk":          item.RoadMain,
	"trunk_link":     item.RoadMain,
	"primary":        item.RoadFirstClass,
	"primary_link":   item.RoadFirstClass,
	"secondary":      item.RoadSecondClass,
	"secondary_link": item.RoadSecondClass,
	"tertiary":       item.RoadThirdClass,
	"tertiary_link":  item.RoadThirdClass,
	"unclassified":   item.RoadFourthClass,
	"residential":    item.RoadFourthClass,
	"living_street":  item.RoadFourthClass,
	"service":        item.RoadFourthClass,
	"track":          item.RoadFourthClass,
	"pedestrian":     item.RoadFourthClass,
	"footway":        item.RoadFourthClass,
	"path":           item.RoadFourthClass,
	"steps":          item.RoadFourthClass,
	"cycleway":       item.RoadFourthClass,
}

// default speed in km/h by road class
var defaultSpeed = [...]uint8{
	item.RoadMain:        110,
	item.RoadFirstClass:  90,
	item.RoadSecondClass: 70,
	item.RoadThirdClass:  50,
	item.RoadFourthClass: 30,
}

// poiTypes maps amenity values to POI type codes. Unknown amenities get 0.
var poiTypes = map[string]uint16{
	"restaurant":   1,
	"cafe":         2,
	"fuel":         3,
	"parking":      4,
	"hospital":     5,
	"school":       6,
	"pharmacy":     7,
	"bank":         8,
	"post_office":  9,
	"police":       10,
	"fire_station": 11,
	"toilets":      12,
}

func classifyWay(tags osm.Tags) featureKind {
	if _, ok := roadClasses[tags.Find("highway")]; ok {
		return kindRoad
	}
	if tags.Find("boundary") == "administrative" && tags.Find("admin_level") == "8" {
		return kindMunicipal
	}
	if v := tags.Find("building"); v != "" && v != "no" {
		return kindBuilding
	}
	if tags.Find("natural") == "water" {
		return kindWater
	}
	return kindNone
}

// roadClass returns the class of a highway value.
func roadClass(highway string) item.RoadClass {
	if c, ok := roadClasses[highway]; ok {
		return c
	}
	return item.RoadFourthClass
}

// speedLimit parses maxspeed ("50", "30 mph") and falls back to the class
// default.
func speedLimit(tags osm.Tags, class item.RoadClass) uint8 {
	v := strings.TrimSpace(tags.Find("maxspeed"))
	end := strings.IndexFunc(v, func(r rune) bool { return !unicode.IsDigit(r) })
	if end < 0 {
		end = len(v)
	}
	n, err := strconv.Atoi(v[:end])
	if err != nil || n <= 0 {
		return defaultSpeed[class]
	}
	if strings.HasSuffix(v, "mph") {
		n = n * 1609 / 1000
	}
	return uint8(min(n, 255))
}

// oneway returns +1 for ways drivable only along their node order, -1 for
// the reverse and 0 for both directions.
func oneway(tags osm.Tags) int {
	switch tags.Find("oneway") {
	case "yes", "true", "1":
		return 1
	case "-1", "reverse":
		return -1
	}
	if tags.Find("junction") == "roundabout" || tags.Find("highway") == "motorway" {
		return 1
	}
	return 0
}

// accessRights returns the vehicles allowed on a highway type.
func accessRights(highway string) uint32 {
	switch highway {
	case "footway", "pedestrian", "steps":
		return item.VehiclePedestrian
	case "path":
		return item.VehiclePedestrian | item.VehicleBicycle
	case "cycleway":
		return item.VehicleBicycle
	case "motorway", "motorway_link":
		return item.VehicleAll &^ (item.VehiclePedestrian | item.VehicleBicycle | item.VehicleMoped)
	}
	return item.VehicleAll
}
