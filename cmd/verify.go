package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/mapstore-go/internal/logger"
	"github.com/wegman-software/mapstore-go/internal/progress"
	"github.com/wegman-software/mapstore-go/internal/verify"
)

var maxViolations int

var verifyCmd = &cobra.Command{
	Use:   "verify <map.gmap>...",
	Short: "Check map files for load errors, graph asymmetry and index drift",
	Long: `Load every map and check that:

  - the file decodes without errors (warnings are reported, not fatal)
  - every connection has its opposing connection (country maps excepted)
  - the stored spatial index equals one rebuilt from the items

Maps are checked in parallel with --workers goroutines. The command exits
non-zero when any map fails.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().IntVar(&maxViolations, "max-violations", 100, "Graph errors reported per map (0 = all)")
}

func runVerify(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx, cancel := signalContext()
	defer cancel()
	collector := startMetrics(ctx)
	checked := counter(collector, "maps_verified")

	progressCtx, stopProgress := context.WithCancel(ctx)
	go progress.NewTracker(int64(len(args)), "Verifying maps").Log(progressCtx, checked, progressInterval, log)

	start := time.Now()
	reports, err := verify.Files(ctx, args, verify.Options{
		Workers:       cfg.Workers,
		MaxViolations: maxViolations,
		Log:           log,
		Checked:       checked,
	})
	stopProgress()

	failed := 0
	for _, r := range reports {
		if r != nil && !r.OK() {
			failed++
		}
	}
	log.Info("Verification complete",
		zap.Int("maps", len(args)),
		zap.Int("failed", failed),
		zap.Duration("total_time", time.Since(start).Round(time.Millisecond)))
	switch {
	case errors.Is(err, verify.ErrFailed):
		exitWithError("verification failed", nil)
	case err != nil:
		exitWithError("verification aborted", err)
	}
}
