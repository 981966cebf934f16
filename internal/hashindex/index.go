// Package hashindex implements the uniform grid that answers proximity
// queries over the items of one map.
//
// Every cell holds the set of item handles whose bounding box touches it.
// The grid is a pure function of the box, the cell hint and the item set,
// so an index rebuilt from loaded items equals the stored one.
package hashindex

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/handle"
	"github.com/wegman-software/mapstore-go/internal/item"
)

// MaxCellsPerAxis caps the grid resolution.
const MaxCellsPerAxis = 1024

// ErrNotBuilt is returned when inserting into an index without a grid.
var ErrNotBuilt = errors.New("hash index not built")

// Source resolves the handles stored in the grid.
type Source interface {
	Lookup(h handle.Handle) (*item.Item, error)
	AccessRights(h handle.Handle) uint32
}

// Index is a grid of handle sets over the map box.
type Index struct {
	src Source

	built    bool
	box      geom.Box
	cosLat   float64
	latShift uint
	lonShift uint
	nLat     int
	nLon     int
	cells    []*roaring.Bitmap
}

// New returns an empty index resolving handles through src.
func New(src Source) *Index {
	return &Index{src: src}
}

// cellShift returns the power-of-two cell size, as a shift, that covers
// extent units with at most cells cells.
func cellShift(extent int64, cells int) uint {
	size := (extent + int64(cells) - 1) / int64(cells)
	if size <= 1 {
		return 0
	}
	return uint(bits.Len64(uint64(size - 1)))
}

// Build resets the index to an empty grid over box. Each axis gets at most
// min(cellHint, MaxCellsPerAxis) cells.
func (idx *Index) Build(box geom.Box, cellHint int) error {
	if box.IsEmpty() {
		return fmt.Errorf("failed to build hash index: empty box")
	}
	cells := min(max(cellHint, 1), MaxCellsPerAxis)

	latExtent := int64(box.MaxLat) - int64(box.MinLat) + 1
	lonExtent := int64(box.MaxLon) - int64(box.MinLon) + 1

	idx.box = box
	idx.cosLat = box.CosLat()
	idx.latShift = cellShift(latExtent, cells)
	idx.lonShift = cellShift(lonExtent, cells)
	idx.nLat = int((latExtent-1)>>idx.latShift) + 1
	idx.nLon = int((lonExtent-1)>>idx.lonShift) + 1
	idx.cells = make([]*roaring.Bitmap, idx.nLat*idx.nLon)
	idx.built = true
	return nil
}

// EmptyCopy returns an index with the same grid and source and no entries.
func (idx *Index) EmptyCopy() *Index {
	c := *idx
	if idx.built {
		c.cells = make([]*roaring.Bitmap, len(idx.cells))
	}
	return &c
}

// Built reports whether the index has a grid.
func (idx *Index) Built() bool { return idx.built }

// Box returns the area covered by the grid.
func (idx *Index) Box() geom.Box { return idx.box }

// Dims returns the number of cells along latitude and longitude.
func (idx *Index) Dims() (nLat, nLon int) { return idx.nLat, idx.nLon }

// Len returns the number of distinct handles in the grid.
func (idx *Index) Len() uint64 {
	all := roaring.New()
	for _, c := range idx.cells {
		if c != nil {
			all.Or(c)
		}
	}
	return all.GetCardinality()
}

func getHashIndex(pos, origin int32, shift uint, n int) int {
	i := (int64(pos) - int64(origin)) >> shift
	if i < 0 {
		return 0
	}
	if i >= int64(n) {
		return n - 1
	}
	return int(i)
}

func (idx *Index) latCell(lat int32) int { return getHashIndex(lat, idx.box.MinLat, idx.latShift, idx.nLat) }
func (idx *Index) lonCell(lon int32) int { return getHashIndex(lon, idx.box.MinLon, idx.lonShift, idx.nLon) }

func (idx *Index) cell(i, j int) *roaring.Bitmap { return idx.cells[i*idx.nLon+j] }

// cellBox returns the MC2 area of cell (i, j).
func (idx *Index) cellBox(i, j int) geom.Box {
	minLat := int64(idx.box.MinLat) + int64(i)<<idx.latShift
	minLon := int64(idx.box.MinLon) + int64(j)<<idx.lonShift
	return geom.Box{
		MinLat: int32(minLat),
		MinLon: int32(minLon),
		MaxLat: int32(min(minLat+int64(1)<<idx.latShift-1, int64(idx.box.MaxLat))),
		MaxLon: int32(min(minLon+int64(1)<<idx.lonShift-1, int64(idx.box.MaxLon))),
	}
}

// cellRange returns the inclusive cell ranges covering b.
func (idx *Index) cellRange(b geom.Box) (i0, i1, j0, j1 int) {
	return idx.latCell(b.MinLat), idx.latCell(b.MaxLat), idx.lonCell(b.MinLon), idx.lonCell(b.MaxLon)
}

// Insert adds it to every cell its bounding box touches. Items without
// geometry are skipped.
func (idx *Index) Insert(it *item.Item) error {
	if !idx.built {
		return ErrNotBuilt
	}
	if it.Gfx == nil || it.Gfx.NumCoords() == 0 {
		return nil
	}
	i0, i1, j0, j1 := idx.cellRange(it.Gfx.Bound())
	for i := i0; i <= i1; i++ {
		for j := j0; j <= j1; j++ {
			k := i*idx.nLon + j
			if idx.cells[k] == nil {
				idx.cells[k] = roaring.New()
			}
			idx.cells[k].Add(uint32(it.Handle))
		}
	}
	return nil
}

// Remove drops every handle in set from the grid.
func (idx *Index) Remove(set *roaring.Bitmap) {
	for k, c := range idx.cells {
		if c == nil {
			continue
		}
		c.AndNot(set)
		if c.IsEmpty() {
			idx.cells[k] = nil
		}
	}
}

// Equal reports whether both indexes have the same grid and cell contents.
func (idx *Index) Equal(o *Index) bool {
	if idx.built != o.built {
		return false
	}
	if !idx.built {
		return true
	}
	if idx.box != o.box || idx.latShift != o.latShift || idx.lonShift != o.lonShift ||
		idx.nLat != o.nLat || idx.nLon != o.nLon {
		return false
	}
	for k := range idx.cells {
		a, b := idx.cells[k], o.cells[k]
		aEmpty := a == nil || a.IsEmpty()
		bEmpty := b == nil || b.IsEmpty()
		if aEmpty != bEmpty {
			return false
		}
		if !aEmpty && !a.Equals(b) {
			return false
		}
	}
	return true
}
