package item

import (
	"fmt"
	"slices"
	"sort"

	"github.com/wegman-software/mapstore-go/internal/databuf"
	"github.com/wegman-software/mapstore-go/internal/handle"
	"github.com/wegman-software/mapstore-go/internal/maperr"
)

// NodeLookup finds a node by its node handle.
type NodeLookup interface {
	LookupNode(h handle.Handle) (*Node, error)
}

// OpposingConnection returns the connection that drives conn in the other
// direction. conn is an entry connection stored at toNode. Multi-connections
// have no opposing connection and yield (nil, nil). A missing reverse edge
// yields maperr.ErrMissingOpposing.
func OpposingConnection(nodes NodeLookup, conn *Connection, toNode handle.Handle) (*Connection, error) {
	if conn.IsMulti() {
		return nil, nil
	}
	from, err := nodes.LookupNode(conn.From.Opposite())
	if err != nil {
		return nil, err
	}
	if opp := from.Connection(toNode.Opposite()); opp != nil {
		return opp, nil
	}
	return nil, fmt.Errorf("connection %s -> %s: %w", conn.From, toNode, maperr.ErrMissingOpposing)
}

// Edge identifies a connection by its from-node and to-node.
type Edge struct {
	From handle.Handle
	To   handle.Handle
}

func sortedEdges[V any](m map[Edge]V) []Edge {
	keys := make([]Edge, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].From != keys[j].From {
			return keys[i].From < keys[j].From
		}
		return keys[i].To < keys[j].To
	})
	return keys
}

// ExpansionTable stores the intermediate nodes of multi-connections.
type ExpansionTable map[Edge][]handle.Handle

// Expand returns the full node chain from from to to. Without a stored
// expansion the chain is the straight edge.
func (t ExpansionTable) Expand(from, to handle.Handle) []handle.Handle {
	inter, ok := t[Edge{From: from, To: to}]
	out := make([]handle.Handle, 0, len(inter)+2)
	out = append(out, from)
	if ok {
		out = append(out, inter...)
	}
	return append(out, to)
}

// Encode writes count, then per edge: from, to, n, n nodes.
func (t ExpansionTable) Encode(w *databuf.Writer) {
	w.U32(uint32(len(t)))
	for _, e := range sortedEdges(t) {
		nodes := t[e]
		w.U32(uint32(e.From))
		w.U32(uint32(e.To))
		w.U32(uint32(len(nodes)))
		for _, n := range nodes {
			w.U32(uint32(n))
		}
	}
}

// DecodeExpansionTable reads a table written by Encode.
func DecodeExpansionTable(r *databuf.Reader) ExpansionTable {
	n := r.Count(12)
	t := make(ExpansionTable, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		e := Edge{From: handle.Handle(r.U32()), To: handle.Handle(r.U32())}
		k := r.Count(4)
		nodes := make([]handle.Handle, k)
		for j := range nodes {
			nodes[j] = handle.Handle(r.U32())
		}
		t[e] = nodes
	}
	return t
}

// RestrictionTable interns vehicle masks so equal restriction sets share
// one index.
type RestrictionTable struct {
	masks []uint32
	index map[uint32]uint32
}

// NewRestrictionTable returns an empty table.
func NewRestrictionTable() *RestrictionTable {
	return &RestrictionTable{index: make(map[uint32]uint32)}
}

// Intern returns the index of mask, adding it if needed.
func (t *RestrictionTable) Intern(mask uint32) uint32 {
	if idx, ok := t.index[mask]; ok {
		return idx
	}
	idx := uint32(len(t.masks))
	t.masks = append(t.masks, mask)
	t.index[mask] = idx
	return idx
}

// Mask returns the vehicle mask stored at idx. NoRestriction allows every
// vehicle.
func (t *RestrictionTable) Mask(idx uint32) (uint32, error) {
	if idx == NoRestriction {
		return VehicleAll, nil
	}
	if int(idx) >= len(t.masks) {
		return 0, fmt.Errorf("restriction %d of %d: %w", idx, len(t.masks), maperr.ErrOutOfRange)
	}
	return t.masks[idx], nil
}

// Len returns the number of distinct masks.
func (t *RestrictionTable) Len() int { return len(t.masks) }

// Encode writes the masks in index order.
func (t *RestrictionTable) Encode(w *databuf.Writer) {
	w.U32(uint32(len(t.masks)))
	for _, m := range t.masks {
		w.U32(m)
	}
}

// DecodeRestrictionTable reads a table written by Encode.
func DecodeRestrictionTable(r *databuf.Reader) *RestrictionTable {
	t := NewRestrictionTable()
	n := r.Count(4)
	for i := 0; i < n; i++ {
		m := r.U32()
		t.masks = append(t.masks, m)
		if _, dup := t.index[m]; !dup {
			t.index[m] = uint32(i)
		}
	}
	return t
}

// SignPost is one sign shown when taking a connection.
type SignPost struct {
	Text     uint32 // string table index
	Kind     uint8
	Priority uint8
	Colour   uint8
}

// SignPostTable holds the sign posts of each connection, highest priority
// first.
type SignPostTable struct {
	posts map[Edge][]SignPost
}

// NewSignPostTable returns an empty table.
func NewSignPostTable() *SignPostTable {
	return &SignPostTable{posts: make(map[Edge][]SignPost)}
}

// Add inserts sp for edge e, keeping descending priority. It returns false
// if an identical sign post is already present.
func (t *SignPostTable) Add(e Edge, sp SignPost) bool {
	list := t.posts[e]
	if slices.Contains(list, sp) {
		return false
	}
	// insert after every entry of equal or higher priority
	pos := sort.Search(len(list), func(i int) bool { return list[i].Priority < sp.Priority })
	t.posts[e] = slices.Insert(list, pos, sp)
	return true
}

// Get returns the sign posts of edge e.
func (t *SignPostTable) Get(e Edge) []SignPost {
	return t.posts[e]
}

// DeleteFunc removes the sign posts of every edge for which del returns
// true and reports how many edges were dropped.
func (t *SignPostTable) DeleteFunc(del func(Edge) bool) int {
	n := 0
	for e := range t.posts {
		if del(e) {
			delete(t.posts, e)
			n++
		}
	}
	return n
}

// Len returns the number of edges with sign posts.
func (t *SignPostTable) Len() int { return len(t.posts) }

// Count returns the total number of sign posts.
func (t *SignPostTable) Count() int {
	n := 0
	for _, l := range t.posts {
		n += len(l)
	}
	return n
}

// Encode writes count, then per edge: from, to, n, n sign posts.
func (t *SignPostTable) Encode(w *databuf.Writer) {
	w.U32(uint32(len(t.posts)))
	for _, e := range sortedEdges(t.posts) {
		list := t.posts[e]
		w.U32(uint32(e.From))
		w.U32(uint32(e.To))
		w.U32(uint32(len(list)))
		for _, sp := range list {
			w.U32(sp.Text)
			w.U8(sp.Kind)
			w.U8(sp.Priority)
			w.U8(sp.Colour)
		}
	}
}

// DecodeSignPostTable reads a table written by Encode.
func DecodeSignPostTable(r *databuf.Reader) *SignPostTable {
	t := NewSignPostTable()
	n := r.Count(12)
	for i := 0; i < n && r.Err() == nil; i++ {
		e := Edge{From: handle.Handle(r.U32()), To: handle.Handle(r.U32())}
		k := r.Count(7)
		list := make([]SignPost, k)
		for j := range list {
			list[j] = SignPost{Text: r.U32(), Kind: r.U8(), Priority: r.U8(), Colour: r.U8()}
		}
		t.posts[e] = list
	}
	return t
}

// ConnectionSpec describes a connection before it is added to a map.
type ConnectionSpec struct {
	From          handle.Handle
	Vehicles      uint32 // 0 means unrestricted
	TurnDirection TurnDirection
	CrossingKind  CrossingKind
	ExitCount     uint8
	SignPosts     []SignPost
}

// NodeSpec describes one endpoint before it is added to a map.
type NodeSpec struct {
	MajorRoad         bool
	RoadToll          bool
	EntryRestrictions EntryRestriction
	Level             int8
	MaxWeight         uint8
	MaxHeight         uint8
	SpeedLimit        uint8
	LaneCount         uint8
	JunctionType      JunctionType
	Connections       []ConnectionSpec
}

// BuildNodePair creates the node pair of routeable item h. Vehicle masks
// are interned in restrictions and sign posts are filed in signs under
// the edge (from, node).
func BuildNodePair(h handle.Handle, specs [2]NodeSpec, restrictions *RestrictionTable, signs *SignPostTable) Routeable {
	var rt Routeable
	for end, spec := range specs {
		n := &rt.Nodes[end]
		n.Handle = handle.Node(h, end)
		n.MajorRoad = spec.MajorRoad
		n.RoadToll = spec.RoadToll
		n.EntryRestrictions = spec.EntryRestrictions
		n.Level = spec.Level
		n.MaxWeight = spec.MaxWeight
		n.MaxHeight = spec.MaxHeight
		n.SpeedLimit = spec.SpeedLimit
		n.LaneCount = spec.LaneCount
		n.JunctionType = spec.JunctionType
		if len(spec.Connections) == 0 {
			continue
		}
		n.Connections = make([]Connection, len(spec.Connections))
		for i, cs := range spec.Connections {
			restriction := NoRestriction
			if cs.Vehicles != 0 {
				restriction = restrictions.Intern(cs.Vehicles)
			}
			n.Connections[i] = Connection{
				From:               cs.From,
				VehicleRestriction: restriction,
				TurnDirection:      cs.TurnDirection,
				CrossingKind:       cs.CrossingKind,
				ExitCount:          cs.ExitCount,
			}
			for _, sp := range cs.SignPosts {
				signs.Add(Edge{From: cs.From, To: n.Handle}, sp)
			}
		}
	}
	return rt
}
