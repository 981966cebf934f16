package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/mapstore-go/internal/logger"
	"github.com/wegman-software/mapstore-go/internal/osmbuild"
	"github.com/wegman-software/mapstore-go/internal/progress"
)

var mapName string

var buildCmd = &cobra.Command{
	Use:   "build <input.osm.pbf|input.osm>",
	Short: "Build a map file from an OSM extract",
	Long: `Build a map file from an OpenStreetMap extract:

  1. Stream nodes into a memory-mapped index (O(1) lookup)
  2. Split highways at junctions into street segments and connect them
  3. Group named segments into streets and streets into municipals
  4. Attach amenity POIs to their closest segment
  5. Build the spatial index and save the map

PBF input is decoded in parallel with --workers decoders.`,
	Args: cobra.ExactArgs(1),
	Run:  runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVarP(&flagCfg.OutputFile, "output", "o", "", "Output map file (default: input name with .gmap)")
	buildCmd.Flags().Uint32Var(&flagCfg.MapID, "map-id", 0, "Map id written to the header")
	buildCmd.Flags().StringVar(&flagCfg.NodeIndexFile, "node-index", "", "Node index file (temporary when empty)")
	buildCmd.Flags().StringVar(&mapName, "name", "", "Map name written to the header")
}

// openScanner picks the OSM decoder by file extension.
func openScanner(ctx context.Context, f *os.File) osm.Scanner {
	name := strings.ToLower(f.Name())
	if strings.HasSuffix(name, ".osm") || strings.HasSuffix(name, ".xml") {
		return osmxml.New(ctx, f)
	}
	return osmpbf.New(ctx, f, cfg.Workers)
}

func outputName(input string) string {
	base := filepath.Base(input)
	for _, ext := range []string{".osm.pbf", ".pbf", ".osm", ".xml"} {
		if strings.HasSuffix(strings.ToLower(base), ext) {
			base = base[:len(base)-len(ext)]
			break
		}
	}
	return base + ".gmap"
}

func runBuild(cmd *cobra.Command, args []string) {
	log := logger.Get()
	input := args[0]
	output := cfg.OutputFile
	if output == "" {
		output = outputName(input)
	}

	ctx, cancel := signalContext()
	defer cancel()
	collector := startMetrics(ctx)

	f, err := os.Open(input)
	if err != nil {
		exitWithError("failed to open input", err)
	}
	defer f.Close()
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}

	name := mapName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(output), ".gmap")
	}
	start := time.Now()
	log.Info("Starting map build",
		zap.String("input", input),
		zap.String("input_size", progress.FormatBytes(size)),
		zap.String("output", output),
		zap.Uint32("map_id", cfg.MapID),
		zap.Int("workers", cfg.Workers),
		zap.String("compression", cfg.Compression))

	scanned := counter(collector, "osm_objects")
	progressCtx, stopProgress := context.WithCancel(ctx)
	go progress.NewTracker(0, "Scanning OSM data").Log(progressCtx, scanned, progressInterval, log)

	scanner := openScanner(ctx, f)
	defer scanner.Close()
	m, stats, err := osmbuild.Build(ctx, scanner, osmbuild.Options{
		MapID:         cfg.MapID,
		Name:          name,
		BBox:          *cfg.BBox,
		NodeIndexPath: cfg.NodeIndexFile,
		CellHint:      cfg.CellHint,
		Log:           log,
		Progress:      scanned,
		MapOptions:    mapOptions(),
	})
	stopProgress()
	if err != nil {
		exitWithError("build failed", err)
	}

	if err := m.Save(output); err != nil {
		exitWithError("failed to save map", err)
	}

	log.Info("Build complete",
		zap.Duration("total_time", time.Since(start).Round(time.Second)),
		zap.Int64("nodes", stats.Nodes),
		zap.Int64("ways", stats.Ways),
		zap.Int("segments", stats.Segments),
		zap.Int("streets", stats.Streets),
		zap.Int("buildings", stats.Buildings),
		zap.Int("water", stats.Water),
		zap.Int("municipals", stats.Municipals),
		zap.Int("pois", stats.POIs),
		zap.Int("connections", stats.Connections),
		zap.Int("ways_missing_nodes", stats.MissingNodes),
		zap.Int("ways_outside_bbox", stats.Outside))
}
