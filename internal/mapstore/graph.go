package mapstore

import (
	"errors"
	"fmt"

	"github.com/wegman-software/mapstore-go/internal/handle"
	"github.com/wegman-software/mapstore-go/internal/item"
	"github.com/wegman-software/mapstore-go/internal/maperr"
)

// OpposingConnection returns the connection driving conn in the opposite
// direction. conn is an entry connection of toNode.
func (m *Map) OpposingConnection(conn *item.Connection, toNode handle.Handle) (*item.Connection, error) {
	return item.OpposingConnection(m, conn, toNode)
}

// ExpandNodeChain returns the nodes passed when driving from from to to,
// both included.
func (m *Map) ExpandNodeChain(from, to handle.Handle) []handle.Handle {
	return m.expansions.Expand(from, to)
}

// ConnectionCost returns the cost of entering toNode through conn: the
// length of the segment owning toNode, the time to drive it at the node's
// speed limit and the stand-still time of the turn.
func (m *Map) ConnectionCost(conn *item.Connection, toNode handle.Handle) (item.Cost, error) {
	it, err := m.Lookup(toNode)
	if err != nil {
		return item.Cost{}, err
	}
	n, err := m.LookupNode(toNode)
	if err != nil {
		return item.Cost{}, err
	}
	var length float64
	if it.Gfx != nil {
		length = it.Gfx.Length(m.header.Box.CosLat())
	}
	return item.Cost{
		Length:     length,
		Time:       item.TravelTime(length, n.SpeedLimit),
		StandStill: item.StandStillTime(conn.TurnDirection, n.MajorRoad),
	}, nil
}

// ChainCost sums the connection costs along the expanded chain from from to
// to. Hops between the two ends of one item are part of entering it; every
// other hop must be a stored entry connection.
func (m *Map) ChainCost(from, to handle.Handle) (item.Cost, error) {
	chain := m.ExpandNodeChain(from, to)
	var total item.Cost
	for i := 1; i < len(chain); i++ {
		if chain[i].Item() == chain[i-1].Item() {
			continue
		}
		n, err := m.LookupNode(chain[i])
		if err != nil {
			return item.Cost{}, err
		}
		conn := n.Connection(chain[i-1])
		if conn == nil {
			return item.Cost{}, maperr.NewConsistencyError(maperr.KindHandle, chain[i],
				fmt.Errorf("no connection from %s: %w", chain[i-1], maperr.ErrOutOfRange))
		}
		c, err := m.ConnectionCost(conn, chain[i])
		if err != nil {
			return item.Cost{}, err
		}
		total = total.Add(c)
	}
	return total, nil
}

// CheckConsistency verifies that every non-multi connection has its
// opposing connection and that every connection starts at a live node.
// Country maps are not checked.
func (m *Map) CheckConsistency() error {
	if m.header.CountryMap {
		return nil
	}
	if v := m.Violations(1); len(v) > 0 {
		return v[0]
	}
	return nil
}

// Violations returns up to limit consistency errors. A limit <= 0 returns
// all of them.
func (m *Map) Violations(limit int) []error {
	var out []error
	full := func() bool { return limit > 0 && len(out) >= limit }
	for it := range m.Items() {
		rt, err := item.RouteableOf(it)
		if err != nil {
			continue
		}
		for end := range rt.Nodes {
			n := &rt.Nodes[end]
			for i := range n.Connections {
				if full() {
					return out
				}
				c := &n.Connections[i]
				if err := m.checkConnection(c, n.Handle); err != nil {
					out = append(out, err)
				}
			}
		}
	}
	return out
}

func (m *Map) checkConnection(c *item.Connection, to handle.Handle) error {
	if _, err := m.LookupNode(c.From); err != nil {
		return maperr.NewConsistencyError(maperr.KindHandle, to,
			fmt.Errorf("connection from %s: %w", c.From, err))
	}
	_, err := m.OpposingConnection(c, to)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, maperr.ErrMissingOpposing):
		return maperr.NewConsistencyError(maperr.KindSymmetry, to, err)
	default:
		return maperr.NewConsistencyError(maperr.KindHandle, to, err)
	}
}
