// Package handle defines the 32-bit item and node references used across a
// map file.
//
// Layout:
//
//	bit 31      node endpoint (node handles only)
//	bits 27-30  zoom band
//	bits 0-26   index within the band
package handle

import "fmt"

// Handle addresses an item (or one endpoint of an item) inside a map.
type Handle uint32

const (
	// Invalid marks an absent reference.
	Invalid Handle = 0xffffffff

	// NumBands is the number of zoom bands a map is split into.
	NumBands = 16

	// MaxIndex is the largest index that fits in a band.
	MaxIndex = 0x07ffffff

	bandShift = 27
	bandMask  = 0x78000000
	indexMask = 0x07ffffff
	nodeBit   = 0x80000000
)

// Make builds an item handle from a band and an index.
func Make(band int, index uint32) Handle {
	return Handle(uint32(band&0xf)<<bandShift | index&indexMask)
}

// Node returns the handle of endpoint end (0 or 1) of item h.
func Node(h Handle, end int) Handle {
	if end != 0 {
		return Handle(uint32(h.Item()) | nodeBit)
	}
	return h.Item()
}

// IsValid reports whether h is not the reserved all-ones value.
func (h Handle) IsValid() bool { return h != Invalid }

// Band returns the zoom band.
func (h Handle) Band() int { return int((uint32(h) & bandMask) >> bandShift) }

// Index returns the position inside the band.
func (h Handle) Index() uint32 { return uint32(h) & indexMask }

// Item strips the endpoint bit.
func (h Handle) Item() Handle { return Handle(uint32(h) &^ nodeBit) }

// End returns which endpoint a node handle names.
func (h Handle) End() int {
	if uint32(h)&nodeBit != 0 {
		return 1
	}
	return 0
}

// Opposite returns the other endpoint of the same item.
func (h Handle) Opposite() Handle { return Handle(uint32(h) ^ nodeBit) }

func (h Handle) String() string {
	if !h.IsValid() {
		return "invalid"
	}
	if h.End() == 1 {
		return fmt.Sprintf("%d:%d/1", h.Band(), h.Index())
	}
	return fmt.Sprintf("%d:%d", h.Band(), h.Index())
}
