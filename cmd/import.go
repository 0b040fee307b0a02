package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-faces/internal/library"
	"github.com/kozaktomas/photo-faces/internal/paths"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Index the photo library",
	Long: `Walks the photo library and catalogues every picture file with its
EXIF and filesystem timestamps. Already catalogued files are left
untouched, so re-running import after adding photos is cheap.

Examples:
  # Index the configured library
  photo-faces import`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, db, _, err := openRepository()
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Printf("Indexing %s...\n", cfg.Library.Dir)

	importer := library.NewImporter(
		library.NewRepository(db),
		paths.NewRoot(cfg.Library.Dir),
	)
	report, err := importer.Run()
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("Added %d new pictures (%d already known, %d non-picture files skipped)\n",
		report.Added, report.Known, report.Skipped)
	if report.Failed > 0 {
		fmt.Printf("Failed to inspect %d files\n", report.Failed)
	}
	return nil
}
