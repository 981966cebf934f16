package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/mapstore-go/internal/config"
	"github.com/wegman-software/mapstore-go/internal/logger"
	"github.com/wegman-software/mapstore-go/internal/mapstore"
	"github.com/wegman-software/mapstore-go/internal/metrics"
)

var (
	cfg        = config.DefaultConfig()
	flagCfg    = config.DefaultConfig()
	configFile string
	envFile    string
	bboxStr    string
)

var rootCmd = &cobra.Command{
	Use:   "mapstore",
	Short: "Build, inspect and export binary map files",
	Long: `mapstore works with binary map files: arenas of map items with a
routing graph, name and side tables, and a spatial hash index.

Features:
  - Build maps from OSM PBF or XML extracts
  - Inspect headers, item counts and file sections
  - Verify graph symmetry and spatial index consistency
  - Spatial queries: closest item, radius and bounding box
  - Export to Parquet, GeoJSON or PostGIS with style and Lua filters

Settings are read from defaults, then --config, then the environment
(MAPSTORE_*, optionally from a .env file), then command line flags.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := loadConfig(cmd); err != nil {
			// the logger is not configured yet
			logger.Init(false)
			exitWithError("invalid configuration", err)
		}
		if cfg.LogFile != "" {
			logger.InitWithFile(cfg.Verbose, cfg.LogFile)
		} else {
			logger.Init(cfg.Verbose)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	pf.StringVar(&envFile, "env-file", ".env", "Environment file with MAPSTORE_* settings")
	pf.BoolVarP(&flagCfg.Verbose, "verbose", "v", false, "Enable verbose output")
	pf.IntVarP(&flagCfg.Workers, "workers", "j", flagCfg.Workers, "Number of parallel workers")
	pf.StringVar(&flagCfg.Compression, "compression", flagCfg.Compression, "Map file compression: none, lz4 or zstd")
	pf.IntVar(&flagCfg.CellHint, "cell-hint", flagCfg.CellHint, "Spatial index cells per axis")
	pf.StringVarP(&bboxStr, "bbox", "b", "", "Bounding box: minlon,minlat,maxlon,maxlat (MC2 units, or degrees with a deg: prefix)")

	// Logging and metrics flags
	pf.StringVar(&flagCfg.LogFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	pf.DurationVar(&flagCfg.MetricsInterval, "metrics-interval", 0, "Interval for system metrics logging (e.g., 30s, 1m); 0 disables")

	// Database flags (persistent so they're available to all subcommands)
	pf.StringVar(&flagCfg.DBHost, "db-host", flagCfg.DBHost, "PostgreSQL host")
	pf.IntVar(&flagCfg.DBPort, "db-port", flagCfg.DBPort, "PostgreSQL port")
	pf.StringVarP(&flagCfg.DBName, "db-name", "d", flagCfg.DBName, "PostgreSQL database name")
	pf.StringVarP(&flagCfg.DBUser, "db-user", "U", flagCfg.DBUser, "PostgreSQL user")
	pf.StringVarP(&flagCfg.DBPassword, "db-password", "W", flagCfg.DBPassword, "PostgreSQL password")
	pf.StringVar(&flagCfg.DBSchema, "db-schema", flagCfg.DBSchema, "PostgreSQL schema")
}

// flagSetters copies explicitly given flags over the file and environment
// settings.
var flagSetters = map[string]func(){
	"verbose":          func() { cfg.Verbose = flagCfg.Verbose },
	"workers":          func() { cfg.Workers = flagCfg.Workers },
	"compression":      func() { cfg.Compression = flagCfg.Compression },
	"cell-hint":        func() { cfg.CellHint = flagCfg.CellHint },
	"log-file":         func() { cfg.LogFile = flagCfg.LogFile },
	"metrics-interval": func() { cfg.MetricsInterval = flagCfg.MetricsInterval },
	"db-host":          func() { cfg.DBHost = flagCfg.DBHost },
	"db-port":          func() { cfg.DBPort = flagCfg.DBPort },
	"db-name":          func() { cfg.DBName = flagCfg.DBName },
	"db-user":          func() { cfg.DBUser = flagCfg.DBUser },
	"db-password":      func() { cfg.DBPassword = flagCfg.DBPassword },
	"db-schema":        func() { cfg.DBSchema = flagCfg.DBSchema },
	"map-id":           func() { cfg.MapID = flagCfg.MapID },
	"output":           func() { cfg.OutputFile = flagCfg.OutputFile },
	"node-index":       func() { cfg.NodeIndexFile = flagCfg.NodeIndexFile },
	"style":            func() { cfg.StyleFile = flagCfg.StyleFile },
	"filter":           func() { cfg.FilterScript = flagCfg.FilterScript },
	"output-dir":       func() { cfg.OutputDir = flagCfg.OutputDir },
	"batch-size":       func() { cfg.BatchSize = flagCfg.BatchSize },
}

func loadConfig(cmd *cobra.Command) error {
	if configFile != "" {
		if err := cfg.LoadFile(configFile); err != nil {
			return err
		}
	}
	if err := cfg.ApplyEnv(envFile); err != nil {
		return err
	}
	for name, set := range flagSetters {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			set()
		}
	}
	if bboxStr != "" {
		bbox, err := config.ParseBBox(bboxStr)
		if err != nil {
			return err
		}
		cfg.BBox = bbox
	}
	return cfg.Validate()
}

// mapOptions returns the load and save options of the configuration.
func mapOptions() []mapstore.Option {
	codec, err := mapstore.ParseCodec(cfg.Compression)
	if err != nil {
		exitWithError("invalid compression", err)
	}
	return []mapstore.Option{
		mapstore.WithLogger(logger.Get()),
		mapstore.WithCompression(codec),
		mapstore.WithCellHint(cfg.CellHint),
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// startMetrics starts the system metrics collector when an interval is
// configured. It returns nil otherwise.
func startMetrics(ctx context.Context) *metrics.Collector {
	if cfg.MetricsInterval <= 0 {
		return nil
	}
	log := logger.Get()
	collector := metrics.NewCollector(cfg.MetricsInterval, log)
	go collector.Start(ctx)
	log.Info("System metrics collection started",
		zap.Duration("interval", cfg.MetricsInterval))
	return collector
}

// counter returns a collector counter, or a private one when metrics are
// off.
func counter(c *metrics.Collector, name string) *atomic.Int64 {
	if c == nil {
		return new(atomic.Int64)
	}
	return c.Counter(name)
}

// progressInterval is how often long commands log their progress.
const progressInterval = 10 * time.Second

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
