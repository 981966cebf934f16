package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/mapstore-go/internal/expire"
	"github.com/wegman-software/mapstore-go/internal/logger"
	"github.com/wegman-software/mapstore-go/internal/mapstore"
)

var (
	expireOutput  string
	expireMinZoom int
	expireMaxZoom int
)

var expireCmd = &cobra.Command{
	Use:   "expire [old.gmap] <new.gmap>",
	Short: "List the web map tiles touched by changed items",
	Long: `Compare two builds of a map and write the z/x/y tiles covering every
item that was added, removed or changed. Items are matched by type, names
and geometry, so a rebuild that only renumbers handles expires nothing.

With a single map every item's tiles are listed.`,
	Args: cobra.RangeArgs(1, 2),
	Run:  runExpire,
}

func init() {
	rootCmd.AddCommand(expireCmd)
	expireCmd.Flags().StringVarP(&expireOutput, "output", "o", "", "Tile list file (default: stdout)")
	expireCmd.Flags().IntVar(&expireMinZoom, "min-zoom", 10, "Lowest zoom level to expire")
	expireCmd.Flags().IntVar(&expireMaxZoom, "max-zoom", 18, "Highest zoom level to expire")
}

func runExpire(cmd *cobra.Command, args []string) {
	log := logger.Get()
	tracker, err := expire.NewTracker(expireMinZoom, expireMaxZoom)
	if err != nil {
		exitWithError("invalid zoom range", err)
	}

	maps := make([]*mapstore.Map, len(args))
	for i, path := range args {
		if maps[i], err = mapstore.Load(path, mapOptions()...); err != nil {
			exitWithError("failed to load map", err)
		}
		logger.ForMap(log, path, maps[i].Header().MapID).Debug("Loaded map", zap.Int("items", maps[i].Len()))
	}

	if len(maps) == 1 {
		n := expire.All(maps[0], tracker)
		log.Info("Expiring all items", zap.Int("items", n))
	} else {
		stats := expire.Diff(maps[0], maps[1], tracker)
		log.Info("Compared maps",
			zap.String("old", args[0]),
			zap.String("new", args[1]),
			zap.Int("added", stats.Added),
			zap.Int("removed", stats.Removed))
	}

	if expireOutput == "" {
		if _, err := tracker.WriteTo(os.Stdout); err != nil {
			exitWithError("failed to write tiles", err)
		}
		return
	}
	if err := tracker.WriteFile(expireOutput, log); err != nil {
		exitWithError("failed to write tiles", err)
	}
}
