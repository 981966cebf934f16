package mapstore

import (
	"fmt"
	"os"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/mapstore-go/internal/databuf"
	"github.com/wegman-software/mapstore-go/internal/handle"
	"github.com/wegman-software/mapstore-go/internal/item"
)

// Positions of the extra counts in the counts section.
const (
	extraGfx = iota
	extraNodes
	extraConnections
	extraCoordinates
	extraPolygons
	extraLanes
	extraCategories
	extraSignPosts
	numExtras
)

// Save checks the routing graph, brings the spatial index up to date and
// writes the map to path. The file is written next to path and renamed
// into place once complete.
func (m *Map) Save(path string) error {
	start := time.Now()
	if err := m.CheckConsistency(); err != nil {
		return fmt.Errorf("failed to save map %d: %w", m.header.MapID, err)
	}
	if !m.index.Built() || m.indexStale {
		if err := m.BuildIndex(m.opts.cellHint); err != nil {
			m.log.Warn("Saving without spatial index", zap.Error(err))
		}
	}
	m.rebuildPOILookup()

	data, err := m.Encode(CurrentVersion)
	if err != nil {
		return err
	}
	size := len(data)
	if m.opts.compression != CodecNone {
		if data, err = compress(data, m.opts.compression); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	if err := writeFile(tmp, data); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", tmp, err)
	}

	m.log.Info("Saved map",
		zap.String("path", path),
		zap.Int("items", m.Len()),
		zap.Int("bytes", size),
		zap.Int("stored_bytes", len(data)),
		zap.Stringer("compression", m.opts.compression),
		zap.Duration("took", time.Since(start)))
	return nil
}

func writeFile(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Encode serializes the map in the given format version. It does not check
// consistency or touch the index; Save does both.
func (m *Map) Encode(version uint8) ([]byte, error) {
	if version < Version1 || version > CurrentVersion {
		return nil, fmt.Errorf("failed to encode map %d: unsupported version %d", m.header.MapID, version)
	}
	w := databuf.NewWriter(1 << 16)
	w.Raw([]byte(fileMagic))

	h := m.header
	h.Version = version
	pos := w.BeginSection()
	if err := h.encode(w); err != nil {
		return nil, err
	}
	w.EndSection(pos)

	pos = w.BeginSection()
	if err := m.encodeBody1(w); err != nil {
		return nil, fmt.Errorf("failed to encode map %d: %w", m.header.MapID, err)
	}
	w.EndSection(pos)

	if version >= CurrentVersion {
		w.Section(m.encodeBody2)
	}
	return w.Bytes(), nil
}

// liveTypes returns the types with live items in ascending order.
func (m *Map) liveTypes() []item.Type {
	var out []item.Type
	for t, a := range m.arenas {
		if a.LiveCount() > 0 {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return out
}

func (m *Map) extras() []uint32 {
	ex := make([]uint32, numExtras)
	for it := range m.Items() {
		if it.Gfx != nil {
			ex[extraGfx]++
			ex[extraPolygons] += uint32(len(it.Gfx.Polygons))
			ex[extraCoordinates] += uint32(it.Gfx.NumCoords())
		}
		if rt, err := item.RouteableOf(it); err == nil {
			ex[extraNodes] += 2
			for i := range rt.Nodes {
				ex[extraConnections] += uint32(len(rt.Nodes[i].Connections))
			}
		}
	}
	for _, l := range m.lanes {
		ex[extraLanes] += uint32(len(l))
	}
	for _, c := range m.categories {
		ex[extraCategories] += uint32(len(c))
	}
	ex[extraSignPosts] = uint32(m.signPosts.Count())
	return ex
}

func (m *Map) encodeBody1(w *databuf.Writer) error {
	types := m.liveTypes()

	// Items go first into their own buffer: encoding them fills the shared
	// lists that precede them in the file.
	var tables listTables
	items := databuf.NewWriter(1 << 16)
	for _, t := range types {
		items.Align(4)
		pos := items.BeginSection()
		err := m.arenas[t].Serialize(items, func(w *databuf.Writer, it *item.Item) error {
			return it.Encode(w, &tables)
		})
		if err != nil {
			return err
		}
		items.EndSection(pos)
	}

	w.Section(func(w *databuf.Writer) {
		w.U32(uint32(len(types)))
		for _, t := range types {
			w.U32(uint32(t))
			w.U32(uint32(m.arenas[t].LiveCount()))
		}
		ex := m.extras()
		w.U32(uint32(len(ex)))
		for _, v := range ex {
			w.U32(v)
		}
	})
	w.Section(func(w *databuf.Writer) {
		w.Bool(m.mapGfx != nil)
		if m.mapGfx != nil {
			m.mapGfx.Encode(w)
		}
	})
	w.Section(m.strings.encode)
	w.Section(func(w *databuf.Writer) { encodeHandles(w, tables.groups) })
	w.Section(func(w *databuf.Writer) { encodeNames(w, tables.names) })
	w.Section(func(w *databuf.Writer) { encodeHandles(w, tables.members) })
	w.Section(m.restrictions.Encode)
	w.Section(func(w *databuf.Writer) { encodePOILookup(w, m.poiLookup) })
	w.Section(func(w *databuf.Writer) {
		for b := 0; b < handle.NumBands; b++ {
			w.U32(uint32(len(m.bands[b])))
		}
	})

	// Item records are aligned relative to the file start, so the copied
	// buffer must start on the same boundary it was written at.
	w.Align(4)
	w.Raw(items.Bytes())

	pos := w.BeginSection()
	if err := encodeBoundary(w, m.boundary); err != nil {
		return err
	}
	w.EndSection(pos)

	pos = w.BeginSection()
	if err := m.index.Encode(w); err != nil {
		return err
	}
	w.EndSection(pos)

	w.Section(func(w *databuf.Writer) { encodeLandmarks(w, m.landmarks) })
	w.Section(m.expansions.Encode)
	w.Section(m.signPosts.Encode)
	w.Section(func(w *databuf.Writer) { encodeCategories(w, m.categories) })
	w.Section(func(w *databuf.Writer) {
		encodeEdgeLists(w, m.lanes, func(l Lane) { w.U32(uint32(l)) })
	})
	w.Section(func(w *databuf.Writer) { encodeByHandle(w, m.areaOrder, w.U32) })
	return nil
}

func (m *Map) encodeBody2(w *databuf.Writer) {
	w.Section(func(w *databuf.Writer) { encodeByHandle(w, m.rights, w.U32) })
	w.Section(func(w *databuf.Writer) {
		encodeByHandle(w, m.streetSides, func(s item.Side) { w.U8(uint8(s)) })
	})
	w.Section(func(w *databuf.Writer) { encodeAdminCentres(w, m.adminCentres) })
	w.Section(func(w *databuf.Writer) { encodeByHandle(w, m.roadDisplay, w.U8) })
	w.Section(func(w *databuf.Writer) { encodeByHandle(w, m.areaDisplay, w.U8) })
}
