package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/photo-faces/internal/detect"
	"github.com/kozaktomas/photo-faces/internal/paths"
	"github.com/kozaktomas/photo-faces/internal/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Detect faces in pictures that have not been scanned yet",
	Long: `Runs face detection over every picture that has no scan record,
newest first. Each finished picture is recorded immediately, so the scan
can be interrupted and resumed without losing or repeating work.

Unreadable pictures are marked broken and leave the queue; pictures that
fail for transient reasons (detector down, network) stay queued for the
next run.

Examples:
  # Scan everything pending
  photo-faces scan

  # Scan at most 100 pictures with 2 parallel detection calls
  photo-faces scan --limit 100 --concurrency 2`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().Int("concurrency", 0, "Parallel detection calls (default from config)")
	scanCmd.Flags().Int("limit", 0, "Maximum pictures to scan (0 = no limit)")
}

func runScan(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	concurrency := mustGetInt(cmd, "concurrency")

	cfg, db, repo, err := openRepository()
	if err != nil {
		return err
	}
	defer db.Close()

	if concurrency <= 0 {
		concurrency = cfg.Detector.Concurrency
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	// Ctrl-C stops dispatching new pictures; in-flight ones finish their
	// writes so no picture is left half recorded.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	detector := detect.NewClient(cfg.Detector.URL, paths.NewRoot(cfg.Library.CacheDir))

	s := scanner.New(repo, detector, log, concurrency)
	s.ShowProgress(true)

	report, err := s.Run(ctx, limit)
	fmt.Println()
	fmt.Printf("Scanned %d pictures (%d faces found), %d marked broken, %d failed\n",
		report.Scanned, report.Faces, report.Broken, report.Failed)

	if errors.Is(err, context.Canceled) {
		fmt.Println("Scan interrupted, run again to resume.")
		return nil
	}
	return err
}
