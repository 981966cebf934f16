// Package nodeindex stores OSM node positions in a memory-mapped file so
// the builder can resolve way node references without holding every node
// in memory.
package nodeindex

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/edsrzf/mmap-go"

	"github.com/wegman-software/mapstore-go/internal/geom"
)

const (
	// Each node entry: MC2 lat (int32) + lon (int32) = 8 bytes
	entrySize = 8
	// MaxNodeID bounds the ids the index accepts
	MaxNodeID = 20_000_000_000
)

// MmapIndex is a memory-mapped node coordinate index
// Node coordinates are stored at offset = nodeID * 8
// This gives O(1) lookup for any node ID
type MmapIndex struct {
	file *os.File
	data mmap.MMap
	size int64
	// (0,0) is a valid MC2 position, so presence is tracked separately
	present *roaring64.Bitmap
}

// NewMmapIndex creates an index file at path holding ids below maxID.
// The file is sparse; only pages of written nodes use disk.
func NewMmapIndex(path string, maxID int64) (*MmapIndex, error) {
	if maxID <= 0 || maxID > MaxNodeID {
		return nil, fmt.Errorf("node index size %d out of range", maxID)
	}
	size := maxID * entrySize

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create mmap file: %w", err)
	}

	// Truncate to full size (creates sparse file on Linux)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to truncate file: %w", err)
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap file: %w", err)
	}

	return &MmapIndex{
		file:    f,
		data:    data,
		size:    size,
		present: roaring64.New(),
	}, nil
}

// Put stores a node's position. It reports false for ids the index cannot
// hold.
func (m *MmapIndex) Put(nodeID int64, c geom.Coord) bool {
	offset := nodeID * entrySize
	if nodeID < 0 || offset+entrySize > m.size {
		return false
	}
	binary.LittleEndian.PutUint32(m.data[offset:], uint32(c.Lat))
	binary.LittleEndian.PutUint32(m.data[offset+4:], uint32(c.Lon))
	m.present.Add(uint64(nodeID))
	return true
}

// Get retrieves a node's position
func (m *MmapIndex) Get(nodeID int64) (geom.Coord, bool) {
	if nodeID < 0 || !m.present.Contains(uint64(nodeID)) {
		return geom.Coord{}, false
	}
	offset := nodeID * entrySize
	return geom.Coord{
		Lat: int32(binary.LittleEndian.Uint32(m.data[offset:])),
		Lon: int32(binary.LittleEndian.Uint32(m.data[offset+4:])),
	}, true
}

// Len returns the number of stored nodes
func (m *MmapIndex) Len() uint64 {
	return m.present.GetCardinality()
}

// Sync flushes changes to disk
func (m *MmapIndex) Sync() error {
	return m.data.Flush()
}

// Close unmaps and closes the index file. The file stays on disk.
func (m *MmapIndex) Close() error {
	if err := m.data.Unmap(); err != nil {
		m.file.Close()
		return err
	}
	return m.file.Close()
}
