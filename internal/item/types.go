package item

import (
	"fmt"
	"sort"
)

// Type is the variant tag stored with every item. Values are part of the
// file format.
type Type uint8

const (
	TypeStreetSegment      Type = 0
	TypeMunicipal          Type = 1
	TypeWater              Type = 2
	TypePark               Type = 3
	TypeForest             Type = 4
	TypeBuilding           Type = 5
	TypeRailway            Type = 6
	TypeIsland             Type = 7
	TypeStreet             Type = 8
	TypeNull               Type = 9
	TypeZipCode            Type = 10
	TypeBuiltUpArea        Type = 11
	TypeCityPart           Type = 12
	TypeZipArea            Type = 13
	TypePointOfInterest    Type = 14
	TypeCategory           Type = 15
	TypeBusRoute           Type = 17
	TypeFerry              Type = 18
	TypeAirport            Type = 19
	TypeAircraftRoad       Type = 20
	TypePedestrianArea     Type = 21
	TypeMilitaryBase       Type = 22
	TypeIndividualBuilding Type = 23
	TypeSubwayLine         Type = 24
	TypeBorder             Type = 26
	TypeCartographic       Type = 27
)

var typeNames = map[Type]string{
	TypeStreetSegment:      "street_segment",
	TypeMunicipal:          "municipal",
	TypeWater:              "water",
	TypePark:               "park",
	TypeForest:             "forest",
	TypeBuilding:           "building",
	TypeRailway:            "railway",
	TypeIsland:             "island",
	TypeStreet:             "street",
	TypeNull:               "null",
	TypeZipCode:            "zip_code",
	TypeBuiltUpArea:        "built_up_area",
	TypeCityPart:           "city_part",
	TypeZipArea:            "zip_area",
	TypePointOfInterest:    "point_of_interest",
	TypeCategory:           "category",
	TypeBusRoute:           "bus_route",
	TypeFerry:              "ferry",
	TypeAirport:            "airport",
	TypeAircraftRoad:       "aircraft_road",
	TypePedestrianArea:     "pedestrian_area",
	TypeMilitaryBase:       "military_base",
	TypeIndividualBuilding: "individual_building",
	TypeSubwayLine:         "subway_line",
	TypeBorder:             "border",
	TypeCartographic:       "cartographic",
}

var typesByName = func() map[string]Type {
	m := make(map[string]Type, len(typeNames))
	for t, n := range typeNames {
		m[n] = t
	}
	return m
}()

// AllTypes returns every known type in ascending order.
func AllTypes() []Type {
	out := make([]Type, 0, len(typeNames))
	for t := range typeNames {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// ParseType converts a type name such as "street_segment" to its Type.
func ParseType(name string) (Type, error) {
	if t, ok := typesByName[name]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("unknown item type %q", name)
}

// IsRouteable reports whether items of this type carry a node pair.
func (t Type) IsRouteable() bool {
	switch t {
	case TypeStreetSegment, TypeFerry, TypeBusRoute:
		return true
	}
	return false
}

// IsGroup reports whether items of this type own a member list.
func (t Type) IsGroup() bool {
	switch t {
	case TypeStreet, TypeMunicipal, TypeBuiltUpArea, TypeCityPart, TypeZipCode, TypeZipArea:
		return true
	}
	return false
}

// NameKind classifies a name.
type NameKind uint8

const (
	NameOfficial NameKind = iota
	NameAlternative
	NameRoadNumber
	NameInvalid
	NameAbbreviation
	NameUnique
	NameExitNumber
	NameSynonym
)

// Name references an entry of the map's string table.
type Name struct {
	StringIndex uint32
	Language    uint8
	Kind        NameKind
}
