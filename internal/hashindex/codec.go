package hashindex

import (
	"bytes"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/spaolacci/murmur3"

	"github.com/wegman-software/mapstore-go/internal/databuf"
	"github.com/wegman-software/mapstore-go/internal/geom"
)

const noGroup = 0xffffffff

// Encode writes the grid: built flag, box, shifts and dimensions, then one
// group id per cell, then the distinct cell groups. Cells with equal handle
// sets share a group.
func (idx *Index) Encode(w *databuf.Writer) error {
	w.Bool(idx.built)
	if !idx.built {
		return nil
	}
	w.I32(idx.box.MinLat)
	w.I32(idx.box.MinLon)
	w.I32(idx.box.MaxLat)
	w.I32(idx.box.MaxLon)
	w.U8(uint8(idx.latShift))
	w.U8(uint8(idx.lonShift))
	w.U32(uint32(idx.nLat))
	w.U32(uint32(idx.nLon))

	var groups [][]byte
	byHash := make(map[uint64][]uint32)
	ids := make([]uint32, len(idx.cells))
	for k, c := range idx.cells {
		if c == nil || c.IsEmpty() {
			ids[k] = noGroup
			continue
		}
		c.RunOptimize()
		data, err := c.ToBytes()
		if err != nil {
			return fmt.Errorf("failed to serialize cell %d: %w", k, err)
		}
		sum := murmur3.Sum64(data)
		id := uint32(noGroup)
		for _, cand := range byHash[sum] {
			if bytes.Equal(groups[cand], data) {
				id = cand
				break
			}
		}
		if id == noGroup {
			id = uint32(len(groups))
			groups = append(groups, data)
			byHash[sum] = append(byHash[sum], id)
		}
		ids[k] = id
	}

	for _, id := range ids {
		w.U32(id)
	}
	w.U32(uint32(len(groups)))
	for _, g := range groups {
		w.U32(uint32(len(g)))
		w.Raw(g)
	}
	return nil
}

// Decode replaces the index with the grid read from r.
func (idx *Index) Decode(r *databuf.Reader) error {
	*idx = Index{src: idx.src}
	if !r.Bool() {
		return r.Err()
	}
	box := geom.Box{MinLat: r.I32(), MinLon: r.I32(), MaxLat: r.I32(), MaxLon: r.I32()}
	latShift := uint(r.U8())
	lonShift := uint(r.U8())
	nLat := int(r.U32())
	nLon := int(r.U32())
	if err := r.Err(); err != nil {
		return err
	}
	if nLat <= 0 || nLon <= 0 || nLat > MaxCellsPerAxis || nLon > MaxCellsPerAxis || latShift > 32 || lonShift > 32 {
		r.Failf("hash grid %dx%d with shifts %d/%d", nLat, nLon, latShift, lonShift)
		return r.Err()
	}
	if nLat*nLon*4 > r.Remaining() {
		r.Failf("hash grid %dx%d cells", nLat, nLon)
		return r.Err()
	}
	ids := make([]uint32, nLat*nLon)
	for k := range ids {
		ids[k] = r.U32()
	}

	n := r.Count(4)
	groups := make([]*roaring.Bitmap, n)
	for i := range groups {
		size := r.Count(1)
		data := r.Raw(size)
		if err := r.Err(); err != nil {
			return err
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(data); err != nil {
			r.Fail(fmt.Errorf("cell group %d: %w", i, err))
			return r.Err()
		}
		groups[i] = bm
	}
	if err := r.Err(); err != nil {
		return err
	}

	cells := make([]*roaring.Bitmap, len(ids))
	used := make([]bool, len(groups))
	for k, id := range ids {
		if id == noGroup {
			continue
		}
		if int(id) >= len(groups) {
			r.Failf("cell %d refers to group %d of %d", k, id, len(groups))
			return r.Err()
		}
		// each cell owns its set so later inserts stay local
		if used[id] {
			cells[k] = groups[id].Clone()
		} else {
			cells[k] = groups[id]
			used[id] = true
		}
	}

	idx.box = box
	idx.cosLat = box.CosLat()
	idx.latShift = latShift
	idx.lonShift = lonShift
	idx.nLat = nLat
	idx.nLon = nLon
	idx.cells = cells
	idx.built = true
	return nil
}

// Groups returns the number of distinct non-empty cell sets, as Encode
// would store them.
func (idx *Index) Groups() int {
	seen := make(map[uint64][]*roaring.Bitmap)
	n := 0
	for _, c := range idx.cells {
		if c == nil || c.IsEmpty() {
			continue
		}
		c.RunOptimize()
		data, err := c.ToBytes()
		if err != nil {
			continue
		}
		sum := murmur3.Sum64(data)
		dup := false
		for _, o := range seen[sum] {
			if o.Equals(c) {
				dup = true
				break
			}
		}
		if !dup {
			seen[sum] = append(seen[sum], c)
			n++
		}
	}
	return n
}
