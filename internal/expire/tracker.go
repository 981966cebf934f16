package expire

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/wegman-software/mapstore-go/internal/geom"
)

// Tracker collects the deduplicated set of tiles to expire (re-render).
// It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	tiles   map[Tile]struct{}
	minZoom int
	maxZoom int
}

// NewTracker creates a tracker for zoom levels minZoom..maxZoom.
func NewTracker(minZoom, maxZoom int) (*Tracker, error) {
	if minZoom < 0 || maxZoom > MaxZoom || minZoom > maxZoom {
		return nil, fmt.Errorf("invalid zoom range %d..%d (allowed 0..%d)", minZoom, maxZoom, MaxZoom)
	}
	return &Tracker{
		tiles:   make(map[Tile]struct{}),
		minZoom: minZoom,
		maxZoom: maxZoom,
	}, nil
}

// ExpireBox marks the tiles intersecting b.
func (t *Tracker) ExpireBox(b geom.Box) {
	tiles := AffectedTiles(b, t.minZoom, t.maxZoom)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tile := range tiles {
		t.tiles[tile] = struct{}{}
	}
}

// ExpireGfx marks the tiles under the bounding box of g.
func (t *Tracker) ExpireGfx(g *geom.Gfx) {
	if g == nil {
		return
	}
	t.ExpireBox(g.Bound())
}

// Count returns the number of unique expired tiles
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tiles)
}

// CountByZoom returns the count of tiles at each zoom level
func (t *Tracker) CountByZoom() map[int]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[int]int)
	for tile := range t.tiles {
		counts[tile.Z]++
	}
	return counts
}

// Tiles returns the expired tiles ordered by zoom, x and y.
func (t *Tracker) Tiles() []Tile {
	t.mu.Lock()
	tiles := make([]Tile, 0, len(t.tiles))
	for tile := range t.tiles {
		tiles = append(tiles, tile)
	}
	t.mu.Unlock()

	slices.SortFunc(tiles, func(a, b Tile) int {
		if c := cmp.Compare(a.Z, b.Z); c != 0 {
			return c
		}
		if c := cmp.Compare(a.X, b.X); c != 0 {
			return c
		}
		return cmp.Compare(a.Y, b.Y)
	})
	return tiles
}

// WriteTo writes one z/x/y line per tile.
func (t *Tracker) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	for _, tile := range t.Tiles() {
		k, err := fmt.Fprintln(bw, tile.String())
		n += int64(k)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// WriteFile writes the tile list to filename and logs a per-zoom summary.
func (t *Tracker) WriteFile(filename string, log *zap.Logger) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create expire file: %w", err)
	}
	if _, err := t.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write expire file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write expire file: %w", err)
	}

	counts := t.CountByZoom()
	zooms := make([]int, 0, len(counts))
	for z := range counts {
		zooms = append(zooms, z)
	}
	slices.Sort(zooms)

	fields := make([]zap.Field, 0, len(counts)+2)
	fields = append(fields, zap.String("file", filename))
	for _, z := range zooms {
		fields = append(fields, zap.Int(fmt.Sprintf("z%d", z), counts[z]))
	}
	fields = append(fields, zap.Int("total", t.Count()))
	log.Info("Wrote expire tiles", fields...)
	return nil
}
