package item

import (
	"fmt"

	"github.com/wegman-software/mapstore-go/internal/databuf"
	"github.com/wegman-software/mapstore-go/internal/handle"
	"github.com/wegman-software/mapstore-go/internal/maperr"
)

// TurnDirection describes the manoeuvre a connection represents.
type TurnDirection uint8

const (
	TurnUndefined TurnDirection = iota
	TurnLeft
	TurnAhead
	TurnRight
	TurnUTurn
	TurnFollowRoad
	TurnEnterRoundabout
	TurnExitRoundabout
	TurnRightRoundabout
	TurnLeftRoundabout
	TurnOnRamp
	TurnOffRamp
	TurnEnterBus
	TurnExitBus
	TurnChangeBus
	TurnKeepRight
	TurnKeepLeft
	TurnEnterFerry
	TurnExitFerry
	TurnChangeFerry
	TurnOffRampLeft
	TurnOffRampRight
	// TurnMultiConnection marks a placeholder edge whose node chain is kept
	// in the expansion table.
	TurnMultiConnection
	TurnAheadRoundabout
)

// CrossingKind describes the shape of the crossing a connection passes.
type CrossingKind uint8

const (
	CrossingUndefined CrossingKind = iota
	CrossingNone
	Crossing3WaysT
	Crossing3WaysY
	Crossing4Ways
	Crossing5Ways
	Crossing6Ways
	Crossing7Ways
	Crossing8Ways
	CrossingRoundabout
	CrossingMultiwayRoundabout
)

// EntryRestriction limits entering a segment at a node.
type EntryRestriction uint8

const (
	EntryNoRestrictions EntryRestriction = iota
	EntryNoThroughfare
	EntryNoEntry
	EntryNoWay
)

// JunctionType classifies the crossing at a node.
type JunctionType uint8

const (
	JunctionNormal JunctionType = iota
	JunctionBifurcation
	JunctionRailwayCrossing
	JunctionBorderCrossing
)

// Vehicle masks used in restriction sets.
const (
	VehiclePassengerCar   uint32 = 0x00000001
	VehicleTransportTruck uint32 = 0x00000002
	VehiclePublicBus      uint32 = 0x00000004
	VehicleBicycle        uint32 = 0x00000008
	VehicleTaxi           uint32 = 0x00000010
	VehicleEmergency      uint32 = 0x00000020
	VehicleHighOccupancy  uint32 = 0x00000040
	VehiclePedestrian     uint32 = 0x00000080
	VehiclePrivateBus     uint32 = 0x00000400
	VehicleDeliveryTruck  uint32 = 0x00001000
	VehicleMotorcycle     uint32 = 0x00002000
	VehicleMoped          uint32 = 0x00004000

	VehicleAll uint32 = 0xffffffff
)

// NoRestriction is the restriction index of a connection without a
// restriction set.
const NoRestriction uint32 = 0xffffffff

// Connection is an entry connection: it is stored at the node it leads to
// and records the node it comes from.
type Connection struct {
	From               handle.Handle
	VehicleRestriction uint32
	TurnDirection      TurnDirection
	CrossingKind       CrossingKind
	ExitCount          uint8
}

// IsMulti reports whether the connection stands for an expanded node chain.
func (c *Connection) IsMulti() bool {
	return c.TurnDirection == TurnMultiConnection
}

// Node is one endpoint of a routeable item.
type Node struct {
	Handle            handle.Handle
	MajorRoad         bool
	RoadToll          bool
	EntryRestrictions EntryRestriction
	Level             int8
	MaxWeight         uint8
	MaxHeight         uint8
	SpeedLimit        uint8
	LaneCount         uint8
	JunctionType      JunctionType
	Connections       []Connection
}

// Connection returns the entry connection coming from from, or nil.
func (n *Node) Connection(from handle.Handle) *Connection {
	for i := range n.Connections {
		if n.Connections[i].From == from {
			return &n.Connections[i]
		}
	}
	return nil
}

// Routeable is the node pair carried by road-like items.
type Routeable struct {
	Nodes [2]Node
}

// RouteableOf returns the node pair of it, or maperr.ErrNotRoutable.
func RouteableOf(it *Item) (*Routeable, error) {
	switch v := it.Variant.(type) {
	case *StreetSegment:
		return &v.Routeable, nil
	case *Ferry:
		return &v.Routeable, nil
	case *BusRoute:
		return &v.Routeable, nil
	}
	return nil, fmt.Errorf("%s (%s): %w", it.Handle, it.Type(), maperr.ErrNotRoutable)
}

const (
	nodeMajorRoadBit = 0x80
	nodeRoadTollBit  = 0x40
	nodeEntryMask    = 0x0c
	nodeEntryShift   = 2
	// maxConnections is the largest connection count a node record holds.
	maxConnections = 0xffff
)

func (n *Node) encode(w *databuf.Writer) {
	var bits uint8
	if n.MajorRoad {
		bits |= nodeMajorRoadBit
	}
	if n.RoadToll {
		bits |= nodeRoadTollBit
	}
	bits |= uint8(n.EntryRestrictions) << nodeEntryShift & nodeEntryMask
	w.U8(bits)
	w.U8(uint8(n.Level))
	w.U8(n.MaxWeight)
	w.U8(n.MaxHeight)
	w.U8(n.SpeedLimit)
	w.U8(uint8(n.JunctionType))
	w.U8(n.LaneCount)
	w.U16(uint16(len(n.Connections)))
	for i := range n.Connections {
		EncodeConnection(w, &n.Connections[i])
	}
}

// ConnectionSize is the encoded size of one connection record.
const ConnectionSize = 12

// EncodeConnection writes one connection record.
func EncodeConnection(w *databuf.Writer, c *Connection) {
	w.U32(uint32(c.From))
	w.U32(c.VehicleRestriction)
	w.U8(uint8(c.TurnDirection))
	w.U8(uint8(c.CrossingKind))
	w.U8(c.ExitCount)
	// reserved, formerly the inline sign post count
	w.U8(0)
}

// DecodeConnection reads one connection record into c.
func DecodeConnection(r *databuf.Reader, c *Connection) {
	c.From = handle.Handle(r.U32())
	c.VehicleRestriction = r.U32()
	c.TurnDirection = TurnDirection(r.U8())
	c.CrossingKind = CrossingKind(r.U8())
	c.ExitCount = r.U8()
	r.U8()
}

func (n *Node) decode(r *databuf.Reader, alloc *Allocators) error {
	bits := r.U8()
	n.MajorRoad = bits&nodeMajorRoadBit != 0
	n.RoadToll = bits&nodeRoadTollBit != 0
	n.EntryRestrictions = EntryRestriction((bits & nodeEntryMask) >> nodeEntryShift)
	n.Level = int8(r.U8())
	n.MaxWeight = r.U8()
	n.MaxHeight = r.U8()
	n.SpeedLimit = r.U8()
	n.JunctionType = JunctionType(r.U8())
	n.LaneCount = r.U8()
	cnt := int(r.U16())
	if err := r.Err(); err != nil {
		return err
	}
	if cnt*ConnectionSize > r.Remaining() {
		r.Failf("node %s: %d connections", n.Handle, cnt)
		return r.Err()
	}

	conns, err := alloc.connections(cnt)
	if err != nil {
		return err
	}
	for i := range conns {
		DecodeConnection(r, &conns[i])
	}
	n.Connections = conns
	return r.Err()
}

func (rt *Routeable) encode(w *databuf.Writer) {
	rt.Nodes[0].encode(w)
	rt.Nodes[1].encode(w)
}

func (rt *Routeable) decode(r *databuf.Reader, item handle.Handle, alloc *Allocators) error {
	for end := range rt.Nodes {
		rt.Nodes[end].Handle = handle.Node(item, end)
		if err := rt.Nodes[end].decode(r, alloc); err != nil {
			return err
		}
	}
	return nil
}
