package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-faces/internal/people"
)

var notAFaceCmd = &cobra.Command{
	Use:   "not-a-face <face-id>",
	Short: "Mark a detection as a false positive",
	Long: `Marks a detected face as not actually being a face. The detection
stops appearing in face listings but its row is kept, so the correction
can be audited or reverted in the database.

Examples:
  photo-faces not-a-face 1337`,
	Args: cobra.ExactArgs(1),
	RunE: runNotAFace,
}

func init() {
	rootCmd.AddCommand(notAFaceCmd)
}

func runNotAFace(cmd *cobra.Command, args []string) error {
	faceID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid face id %q", args[0])
	}

	_, db, repo, err := openRepository()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repo.MarkNotAFace(people.FaceID(faceID)); err != nil {
		return fmt.Errorf("failed to mark face: %w", err)
	}

	fmt.Printf("Face %d marked as not a face\n", faceID)
	return nil
}
