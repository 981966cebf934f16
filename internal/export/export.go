package export

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/mapstore-go/internal/mapstore"
)

// Format names an output format.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatGeoJSON Format = "geojson"
	FormatPostGIS Format = "postgis"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatParquet, FormatGeoJSON, FormatPostGIS:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q (want parquet, geojson or postgis)", s)
}

// Writer receives exported rows.
type Writer interface {
	Write(row *Row) error
	Close() error
}

// Stats holds export statistics
type Stats struct {
	Rows    int64
	Skipped int64
}

// Run writes the selected items of m to w in handle order within each
// band. It does not close w. progress, when not nil, counts written rows.
func Run(ctx context.Context, m *mapstore.Map, sel *Selector, w Writer, log *zap.Logger, progress *atomic.Int64) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}
	for it := range m.Items() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		row, ok, err := sel.Select(m, it)
		if err != nil {
			return stats, fmt.Errorf("failed to filter %s: %w", it.Handle, err)
		}
		if !ok {
			stats.Skipped++
			continue
		}
		if err := w.Write(row); err != nil {
			return stats, fmt.Errorf("failed to write %s: %w", it.Handle, err)
		}
		stats.Rows++
		if progress != nil {
			progress.Add(1)
		}
	}
	log.Info("Exported map",
		zap.Int64("rows", stats.Rows),
		zap.Int64("skipped", stats.Skipped),
		zap.Duration("took", time.Since(start)))
	return stats, nil
}
