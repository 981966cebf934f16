package expire

import (
	"github.com/spaolacci/murmur3"

	"github.com/wegman-software/mapstore-go/internal/databuf"
	"github.com/wegman-software/mapstore-go/internal/item"
	"github.com/wegman-software/mapstore-go/internal/mapstore"
)

// fingerprint identifies an item's rendered content independently of its
// handle: type, resolved names and geometry.
type fingerprint struct{ hi, lo uint64 }

func fingerprintOf(m *mapstore.Map, it *item.Item, w *databuf.Writer) fingerprint {
	w.Reset()
	w.U8(uint8(it.Type()))
	for _, n := range it.Names {
		s, _ := m.Strings().Get(n.StringIndex)
		w.U8(n.Language)
		w.U8(uint8(n.Kind))
		w.Str(s)
	}
	if it.Gfx != nil {
		it.Gfx.Encode(w)
	}
	hi, lo := murmur3.Sum128(w.Bytes())
	return fingerprint{hi, lo}
}

// DiffStats counts the items that differ between two maps.
type DiffStats struct {
	Added   int
	Removed int
}

// Diff marks the tiles of every item present in only one of oldMap and
// newMap. Items are matched by content, so renumbered handles do not
// count as changes.
func Diff(oldMap, newMap *mapstore.Map, t *Tracker) DiffStats {
	w := databuf.NewWriter(256)
	before := make(map[fingerprint]int)
	for it := range oldMap.Items() {
		before[fingerprintOf(oldMap, it, w)]++
	}

	var stats DiffStats
	for it := range newMap.Items() {
		fp := fingerprintOf(newMap, it, w)
		if before[fp] > 0 {
			before[fp]--
			continue
		}
		stats.Added++
		t.ExpireGfx(it.Gfx)
	}
	for it := range oldMap.Items() {
		fp := fingerprintOf(oldMap, it, w)
		if before[fp] == 0 {
			continue
		}
		before[fp]--
		stats.Removed++
		t.ExpireGfx(it.Gfx)
	}
	return stats
}

// All marks the tiles of every item in m.
func All(m *mapstore.Map, t *Tracker) int {
	n := 0
	for it := range m.Items() {
		t.ExpireGfx(it.Gfx)
		n++
	}
	return n
}
