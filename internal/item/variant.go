package item

import (
	"fmt"

	"github.com/wegman-software/mapstore-go/internal/databuf"
	"github.com/wegman-software/mapstore-go/internal/handle"
)

// Variant holds the type-specific fields of an item. The set of
// implementations is closed; newVariant is the only constructor.
type Variant interface {
	Type() Type
	encode(w *databuf.Writer, tw TableWriter)
	decode(r *databuf.Reader, h handle.Handle, tr TableReader, alloc *Allocators) error
}

func newVariant(t Type) (Variant, error) {
	switch t {
	case TypeStreetSegment:
		return &StreetSegment{}, nil
	case TypeFerry:
		return &Ferry{}, nil
	case TypeBusRoute:
		return &BusRoute{}, nil
	case TypeStreet:
		return &Street{}, nil
	case TypeMunicipal, TypeCityPart, TypeZipCode, TypeZipArea:
		return &Area{Kind: t}, nil
	case TypeBuiltUpArea:
		return &BuiltUpArea{}, nil
	case TypePointOfInterest:
		return &PointOfInterest{Segment: handle.Invalid}, nil
	case TypeBuilding, TypeIndividualBuilding:
		return &Building{Kind: t}, nil
	case TypeWater, TypePark, TypeCartographic:
		return &Feature{Kind: t}, nil
	case TypeCategory:
		return &Category{}, nil
	case TypeSubwayLine:
		return &SubwayLine{}, nil
	case TypeForest, TypeRailway, TypeIsland, TypeNull, TypeAirport, TypeAircraftRoad,
		TypePedestrianArea, TypeMilitaryBase, TypeBorder:
		return &Plain{Kind: t}, nil
	}
	return nil, fmt.Errorf("unknown item type %d", uint8(t))
}

// RoadClass ranks street segments, 0 being the most important.
type RoadClass uint8

const (
	RoadMain RoadClass = iota
	RoadFirstClass
	RoadSecondClass
	RoadThirdClass
	RoadFourthClass
)

// StreetSegment is a routeable piece of road between two nodes.
type StreetSegment struct {
	Routeable
	RoadClass        RoadClass
	Condition        uint8
	Ramp             bool
	Roundabout       bool
	MultiDigitised   bool
	ControlledAccess bool
	StreetNumberType uint8
	LeftStart        uint16
	LeftEnd          uint16
	RightStart       uint16
	RightEnd         uint16
	Width            uint8
}

func (*StreetSegment) Type() Type { return TypeStreetSegment }

const (
	segRampBit = 1 << iota
	segRoundaboutBit
	segMultiDigitisedBit
	segControlledAccessBit
)

func (s *StreetSegment) encode(w *databuf.Writer, _ TableWriter) {
	s.Routeable.encode(w)
	var bits uint8
	if s.Ramp {
		bits |= segRampBit
	}
	if s.Roundabout {
		bits |= segRoundaboutBit
	}
	if s.MultiDigitised {
		bits |= segMultiDigitisedBit
	}
	if s.ControlledAccess {
		bits |= segControlledAccessBit
	}
	w.U8(s.Condition)
	w.U8(uint8(s.RoadClass))
	w.U8(bits)
	w.U8(s.StreetNumberType)
	w.U16(s.LeftStart)
	w.U16(s.LeftEnd)
	w.U16(s.RightStart)
	w.U16(s.RightEnd)
	w.U8(s.Width)
}

func (s *StreetSegment) decode(r *databuf.Reader, h handle.Handle, _ TableReader, alloc *Allocators) error {
	if err := s.Routeable.decode(r, h, alloc); err != nil {
		return err
	}
	s.Condition = r.U8()
	s.RoadClass = RoadClass(r.U8())
	bits := r.U8()
	s.Ramp = bits&segRampBit != 0
	s.Roundabout = bits&segRoundaboutBit != 0
	s.MultiDigitised = bits&segMultiDigitisedBit != 0
	s.ControlledAccess = bits&segControlledAccessBit != 0
	s.StreetNumberType = r.U8()
	s.LeftStart = r.U16()
	s.LeftEnd = r.U16()
	s.RightStart = r.U16()
	s.RightEnd = r.U16()
	s.Width = r.U8()
	return r.Err()
}

// Ferry is a routeable ferry line.
type Ferry struct {
	Routeable
	FerryType uint8
}

func (*Ferry) Type() Type { return TypeFerry }

func (f *Ferry) encode(w *databuf.Writer, _ TableWriter) {
	f.Routeable.encode(w)
	w.U8(f.FerryType)
}

func (f *Ferry) decode(r *databuf.Reader, h handle.Handle, _ TableReader, alloc *Allocators) error {
	if err := f.Routeable.decode(r, h, alloc); err != nil {
		return err
	}
	f.FerryType = r.U8()
	return r.Err()
}

// BusRoute is a routeable leg of a bus line.
type BusRoute struct {
	Routeable
	RouteID uint32
	Offset  uint16
}

func (*BusRoute) Type() Type { return TypeBusRoute }

func (b *BusRoute) encode(w *databuf.Writer, _ TableWriter) {
	b.Routeable.encode(w)
	w.U32(b.RouteID)
	w.U16(b.Offset)
}

func (b *BusRoute) decode(r *databuf.Reader, h handle.Handle, _ TableReader, alloc *Allocators) error {
	if err := b.Routeable.decode(r, h, alloc); err != nil {
		return err
	}
	b.RouteID = r.U32()
	b.Offset = r.U16()
	return r.Err()
}

// Group is the member list of items other items belong to.
type Group struct {
	Members []handle.Handle
}

func (g *Group) encode(w *databuf.Writer, tw TableWriter) {
	w.U32(uint32(len(g.Members)))
	if len(g.Members) > 0 {
		w.U32(tw.AddMembers(g.Members))
	}
}

func (g *Group) decode(r *databuf.Reader, tr TableReader) error {
	n := int(r.U32())
	if n > 0 {
		off := r.U32()
		if err := r.Err(); err != nil {
			return err
		}
		m, err := tr.Members(off, n)
		if err != nil {
			r.Fail(err)
			return r.Err()
		}
		g.Members = m
	}
	return r.Err()
}

// Street groups the segments sharing a street name.
type Street struct {
	Group
	RoadClass RoadClass
}

func (*Street) Type() Type { return TypeStreet }

func (s *Street) encode(w *databuf.Writer, tw TableWriter) {
	s.Group.encode(w, tw)
	w.U8(uint8(s.RoadClass))
}

func (s *Street) decode(r *databuf.Reader, _ handle.Handle, tr TableReader, _ *Allocators) error {
	if err := s.Group.decode(r, tr); err != nil {
		return err
	}
	s.RoadClass = RoadClass(r.U8())
	return r.Err()
}

// Area is an administrative or postal region: municipal, city part, zip
// code or zip area.
type Area struct {
	Group
	Kind Type
}

func (a *Area) Type() Type { return a.Kind }

func (a *Area) encode(w *databuf.Writer, tw TableWriter) {
	a.Group.encode(w, tw)
}

func (a *Area) decode(r *databuf.Reader, _ handle.Handle, tr TableReader, _ *Allocators) error {
	return a.Group.decode(r, tr)
}

// BuiltUpArea is a city or village.
type BuiltUpArea struct {
	Group
	Population uint32
}

func (*BuiltUpArea) Type() Type { return TypeBuiltUpArea }

func (b *BuiltUpArea) encode(w *databuf.Writer, tw TableWriter) {
	b.Group.encode(w, tw)
	w.U32(b.Population)
}

func (b *BuiltUpArea) decode(r *databuf.Reader, _ handle.Handle, tr TableReader, _ *Allocators) error {
	if err := b.Group.decode(r, tr); err != nil {
		return err
	}
	b.Population = r.U32()
	return r.Err()
}

// Side of the street a point lies on.
type Side uint8

const (
	SideUnknown Side = iota
	SideLeft
	SideRight
)

// PointOfInterest is a company, amenity or landmark.
type PointOfInterest struct {
	POIType    uint16
	ExternalID uint32
	Segment    handle.Handle
	Offset     uint16
	Side       Side
}

func (*PointOfInterest) Type() Type { return TypePointOfInterest }

func (p *PointOfInterest) encode(w *databuf.Writer, _ TableWriter) {
	w.U16(p.POIType)
	w.U32(p.ExternalID)
	w.U32(uint32(p.Segment))
	w.U16(p.Offset)
	w.U8(uint8(p.Side))
}

func (p *PointOfInterest) decode(r *databuf.Reader, _ handle.Handle, _ TableReader, _ *Allocators) error {
	p.POIType = r.U16()
	p.ExternalID = r.U32()
	p.Segment = handle.Handle(r.U32())
	p.Offset = r.U16()
	p.Side = Side(r.U8())
	return r.Err()
}

// Building is a building footprint or an individual building.
type Building struct {
	Kind         Type
	BuildingType uint8
	Height       uint16
}

func (b *Building) Type() Type { return b.Kind }

func (b *Building) encode(w *databuf.Writer, _ TableWriter) {
	w.U8(b.BuildingType)
	if b.Kind == TypeIndividualBuilding {
		w.U16(b.Height)
	}
}

func (b *Building) decode(r *databuf.Reader, _ handle.Handle, _ TableReader, _ *Allocators) error {
	b.BuildingType = r.U8()
	if b.Kind == TypeIndividualBuilding {
		b.Height = r.U16()
	}
	return r.Err()
}

// Feature is an area with a subtype byte: water, park or cartographic.
type Feature struct {
	Kind    Type
	SubType uint8
}

func (f *Feature) Type() Type { return f.Kind }

func (f *Feature) encode(w *databuf.Writer, _ TableWriter) {
	w.U8(f.SubType)
}

func (f *Feature) decode(r *databuf.Reader, _ handle.Handle, _ TableReader, _ *Allocators) error {
	f.SubType = r.U8()
	return r.Err()
}

// Category is a POI category node.
type Category struct {
	CategoryID uint16
}

func (*Category) Type() Type { return TypeCategory }

func (c *Category) encode(w *databuf.Writer, _ TableWriter) {
	w.U16(c.CategoryID)
}

func (c *Category) decode(r *databuf.Reader, _ handle.Handle, _ TableReader, _ *Allocators) error {
	c.CategoryID = r.U16()
	return r.Err()
}

// SubwayLine is a drawn subway line.
type SubwayLine struct {
	Colour uint32
}

func (*SubwayLine) Type() Type { return TypeSubwayLine }

func (s *SubwayLine) encode(w *databuf.Writer, _ TableWriter) {
	w.U32(s.Colour)
}

func (s *SubwayLine) decode(r *databuf.Reader, _ handle.Handle, _ TableReader, _ *Allocators) error {
	s.Colour = r.U32()
	return r.Err()
}

// Plain covers the types with no fields of their own. A null item is the
// tombstone of a removed slot.
type Plain struct {
	Kind Type
}

func (p *Plain) Type() Type { return p.Kind }

func (*Plain) encode(*databuf.Writer, TableWriter) {}

func (*Plain) decode(r *databuf.Reader, _ handle.Handle, _ TableReader, _ *Allocators) error {
	return r.Err()
}
