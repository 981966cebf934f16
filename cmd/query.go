package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/mapstore-go/internal/export"
	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/handle"
	"github.com/wegman-software/mapstore-go/internal/hashindex"
	"github.com/wegman-software/mapstore-go/internal/item"
	"github.com/wegman-software/mapstore-go/internal/logger"
	"github.com/wegman-software/mapstore-go/internal/mapstore"
)

var (
	queryLat    float64
	queryLon    float64
	queryMeters float64
	queryTypes  string
	queryRights string
	queryLimit  int
)

var queryCmd = &cobra.Command{
	Use:   "query <map.gmap> <closest|radius|bbox>",
	Short: "Run a spatial query and print the matches as GeoJSON",
	Long: `Query the spatial index of a map:

  closest  the item nearest to --lat/--lon
  radius   items within --meters of --lat/--lon
  bbox     items overlapping --bbox

--types restricts results to item types (e.g. street_segment,point_of_interest)
and --rights to items sharing at least one access right bit with the mask.`,
	Args: cobra.ExactArgs(2),
	Run:  runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().Float64Var(&queryLat, "lat", 0, "Latitude in degrees")
	queryCmd.Flags().Float64Var(&queryLon, "lon", 0, "Longitude in degrees")
	queryCmd.Flags().Float64Var(&queryMeters, "meters", 100, "Radius in metres")
	queryCmd.Flags().StringVar(&queryTypes, "types", "", "Comma-separated item types")
	queryCmd.Flags().StringVar(&queryRights, "rights", "", "Access right mask (e.g. 0x80)")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "Maximum number of results (0 = all)")
}

// parseFilter builds a query filter from the --types and --rights values.
func parseFilter(types, rights string) (hashindex.Filter, error) {
	var f hashindex.Filter
	for _, name := range strings.Split(types, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		t, err := item.ParseType(name)
		if err != nil {
			return f, err
		}
		f.Types = append(f.Types, t)
	}
	if rights != "" {
		r, err := strconv.ParseUint(rights, 0, 32)
		if err != nil {
			return f, fmt.Errorf("invalid rights mask %q: %w", rights, err)
		}
		f.Rights = uint32(r)
	}
	return f, nil
}

// search runs one query kind against m.
func search(m *mapstore.Map, kind string, p geom.Coord, meters float64, box *geom.Box, f hashindex.Filter) ([]handle.Handle, map[handle.Handle]float64, error) {
	switch kind {
	case "closest":
		h, sq, ok := m.Closest(p, f)
		if !ok {
			return nil, nil, nil
		}
		return []handle.Handle{h}, map[handle.Handle]float64{h: math.Sqrt(sq)}, nil
	case "radius":
		return m.WithinRadius(p, meters, f), nil, nil
	case "bbox":
		if box == nil {
			return nil, nil, fmt.Errorf("bbox query needs --bbox")
		}
		return m.WithinBox(*box, f), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown query %q (want closest, radius or bbox)", kind)
}

// writeResults prints the items as a GeoJSON feature collection.
func writeResults(w io.Writer, m *mapstore.Map, hs []handle.Handle, dist map[handle.Handle]float64) error {
	fc := geojson.NewFeatureCollection()
	sel := export.NewSelector(nil, nil)
	for _, h := range hs {
		it, err := m.Lookup(h)
		if err != nil {
			return err
		}
		row, _, err := sel.Select(m, it)
		if err != nil {
			return err
		}
		f := export.Feature(row)
		if f == nil {
			continue
		}
		if d, ok := dist[h]; ok {
			f.Properties["distance_m"] = math.Round(d*10) / 10
		}
		fc.Append(f)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(fc)
}

func runQuery(cmd *cobra.Command, args []string) {
	log := logger.Get()
	f, err := parseFilter(queryTypes, queryRights)
	if err != nil {
		exitWithError("invalid filter", err)
	}

	m, err := mapstore.Load(args[0], mapOptions()...)
	if err != nil {
		exitWithError("failed to load map", err)
	}
	if !m.Index().Built() {
		if err := m.BuildIndex(cfg.CellHint); err != nil {
			exitWithError("failed to build index", err)
		}
	}

	var box *geom.Box
	if cfg.BBox != nil && cfg.BBox.IsSet {
		box = &cfg.BBox.Box
	}
	hs, dist, err := search(m, args[1], geom.FromDegrees(queryLat, queryLon), queryMeters, box, f)
	if err != nil {
		exitWithError("query failed", err)
	}
	if queryLimit > 0 && len(hs) > queryLimit {
		hs = hs[:queryLimit]
	}
	log.Debug("Query complete", zap.String("kind", args[1]), zap.Int("results", len(hs)))
	if err := writeResults(os.Stdout, m, hs, dist); err != nil {
		exitWithError("failed to write results", err)
	}
}
