package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List pictures waiting for a face scan",
	Long: `Prints every picture that has no face scan record, newest first.
This is the exact work list the scan command processes.`,
	RunE: runQueue,
}

func init() {
	rootCmd.AddCommand(queueCmd)
}

func runQueue(cmd *cobra.Command, args []string) error {
	_, db, repo, err := openRepository()
	if err != nil {
		return err
	}
	defer db.Close()

	targets, err := repo.FindNeedFaceScan()
	if err != nil {
		return fmt.Errorf("failed to read scan queue: %w", err)
	}

	scanned, err := repo.CountScanned()
	if err != nil {
		return fmt.Errorf("failed to count scanned pictures: %w", err)
	}
	faces, err := repo.CountFaces()
	if err != nil {
		return fmt.Errorf("failed to count faces: %w", err)
	}

	if len(targets) == 0 {
		fmt.Printf("Nothing to scan: %d pictures processed, %d faces stored.\n", scanned, faces)
		return nil
	}

	for _, target := range targets {
		fmt.Printf("%8d  %s\n", target.PictureID, target.Path)
	}
	fmt.Printf("\n%d pictures waiting (%d already scanned, %d faces stored)\n",
		len(targets), scanned, faces)
	return nil
}
