package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/mapstore-go/internal/export"
	"github.com/wegman-software/mapstore-go/internal/logger"
	"github.com/wegman-software/mapstore-go/internal/mapstore"
	"github.com/wegman-software/mapstore-go/internal/progress"
	"github.com/wegman-software/mapstore-go/internal/proj"
	"github.com/wegman-software/mapstore-go/internal/script"
	"github.com/wegman-software/mapstore-go/internal/style"
)

var (
	exportFormat  string
	exportTable   string
	exportSRID    string
	dropExisting  bool
	createIndexes bool
)

var exportCmd = &cobra.Command{
	Use:   "export <map.gmap>...",
	Short: "Export map items to Parquet, GeoJSON or PostGIS",
	Long: `Export the items of one or more maps.

Every item becomes a row with its handle, type, band, name, access rights,
attributes and WGS84 geometry. Items can be filtered with a style YAML
(--style, include/exclude rules on attributes per geometry class) and a Lua
script (--filter) defining mapstore.filter(obj), which returns whether to
keep the item and optionally extra attributes.

Parquet and GeoJSON write one file per map into --output-dir. PostGIS loads
every map into one table through COPY.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "parquet", "Output format: parquet, geojson or postgis")
	exportCmd.Flags().StringVarP(&flagCfg.OutputDir, "output-dir", "o", flagCfg.OutputDir, "Directory for Parquet and GeoJSON files")
	exportCmd.Flags().StringVarP(&flagCfg.StyleFile, "style", "S", "", "Style YAML file for attribute filtering")
	exportCmd.Flags().StringVar(&flagCfg.FilterScript, "filter", "", "Lua filter script")
	exportCmd.Flags().IntVar(&flagCfg.BatchSize, "batch-size", flagCfg.BatchSize, "Rows per Parquet row group or COPY batch")
	exportCmd.Flags().StringVar(&exportTable, "table", "mapstore_items", "PostGIS table")
	exportCmd.Flags().StringVar(&exportSRID, "srid", "4326", "Geometry projection for Parquet and PostGIS: 4326 or 3857")
	exportCmd.Flags().BoolVar(&dropExisting, "drop-existing", false, "Drop the PostGIS table before loading")
	exportCmd.Flags().BoolVar(&createIndexes, "create-indexes", true, "Create spatial indexes after a PostGIS load")
}

// exportPath returns the output file of the map at input.
func exportPath(dir, input string, format export.Format) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(dir, base+"."+string(format))
}

// projection parses --srid. GeoJSON is always WGS84.
func projection(format export.Format, srid string) (*proj.Transformer, error) {
	id, err := proj.ParseSRID(srid)
	if err != nil {
		return nil, err
	}
	if format == export.FormatGeoJSON && id != proj.SRID4326 {
		return nil, fmt.Errorf("geojson output is WGS84 only, got SRID %d", id)
	}
	return proj.NewTransformer(id)
}

func newWriter(ctx context.Context, format export.Format, input string, tr *proj.Transformer) (export.Writer, error) {
	switch format {
	case export.FormatParquet:
		return export.NewParquetWriter(exportPath(cfg.OutputDir, input, format), cfg.BatchSize, tr)
	case export.FormatGeoJSON:
		return export.NewGeoJSONWriter(exportPath(cfg.OutputDir, input, format))
	case export.FormatPostGIS:
		return export.NewPostGISWriter(ctx, cfg, export.PostGISOptions{Table: exportTable, Projection: tr}, logger.Get())
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

// newSelector loads the style and, when configured, a private Lua runtime
// for one worker.
func newSelector(styleCfg *style.Config) (*export.Selector, func(), error) {
	if cfg.FilterScript == "" {
		return export.NewSelector(styleCfg, nil), func() {}, nil
	}
	rt := script.NewRuntime(logger.Get())
	if err := rt.LoadFile(cfg.FilterScript); err != nil {
		rt.Close()
		return nil, nil, err
	}
	return export.NewSelector(styleCfg, rt), rt.Close, nil
}

func exportMap(ctx context.Context, input string, format export.Format, tr *proj.Transformer, styleCfg *style.Config, rows *atomic.Int64) (*export.Stats, error) {
	m, err := mapstore.Load(input, mapOptions()...)
	if err != nil {
		return nil, err
	}
	sel, release, err := newSelector(styleCfg)
	if err != nil {
		return nil, err
	}
	defer release()

	w, err := newWriter(ctx, format, input, tr)
	if err != nil {
		return nil, err
	}
	stats, err := export.Run(ctx, m, sel, w, logger.ForMap(logger.Get(), input, m.Header().MapID), rows)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return stats, err
}

func runExport(cmd *cobra.Command, args []string) {
	log := logger.Get()
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		exitWithError("invalid format", err)
	}
	tr, err := projection(format, exportSRID)
	if err != nil {
		exitWithError("invalid projection", err)
	}

	styleCfg := style.DefaultConfig()
	if cfg.StyleFile != "" {
		if styleCfg, err = style.LoadConfig(cfg.StyleFile); err != nil {
			exitWithError("failed to load style", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()
	collector := startMetrics(ctx)
	rows := counter(collector, "rows_exported")

	switch format {
	case export.FormatPostGIS:
		if dropExisting {
			// recreate the table once, before the workers append to it
			w, err := export.NewPostGISWriter(ctx, cfg, export.PostGISOptions{Table: exportTable, DropExisting: true, Projection: tr}, log)
			if err != nil {
				exitWithError("failed to prepare table", err)
			}
			if err := w.Close(); err != nil {
				exitWithError("failed to prepare table", err)
			}
		}
	default:
		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			exitWithError("failed to create output directory", err)
		}
	}

	log.Info("Starting export",
		zap.Int("maps", len(args)),
		zap.String("format", string(format)),
		zap.Int("srid", tr.SRID()),
		zap.String("output_dir", cfg.OutputDir),
		zap.String("style", cfg.StyleFile),
		zap.String("filter", cfg.FilterScript),
		zap.Int("workers", cfg.Workers))
	start := time.Now()

	progressCtx, stopProgress := context.WithCancel(ctx)
	go progress.NewTracker(0, "Exporting items").Log(progressCtx, rows, progressInterval, log)

	var skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for _, input := range args {
		g.Go(func() error {
			stats, err := exportMap(gctx, input, format, tr, styleCfg, rows)
			if err != nil {
				return fmt.Errorf("%s: %w", input, err)
			}
			skipped.Add(stats.Skipped)
			return nil
		})
	}
	err = g.Wait()
	stopProgress()
	if err != nil {
		exitWithError("export failed", err)
	}

	if format == export.FormatPostGIS && createIndexes {
		if err := export.CreateIndexes(ctx, cfg, exportTable, log); err != nil {
			exitWithError("failed to create indexes", err)
		}
	}

	elapsed := time.Since(start)
	log.Info("Export complete",
		zap.Duration("total_time", elapsed.Round(time.Second)),
		zap.Int64("rows", rows.Load()),
		zap.Int64("skipped", skipped.Load()),
		zap.String("throughput", progress.FormatThroughput(float64(rows.Load())/max(elapsed.Seconds(), 1e-9))))
}
