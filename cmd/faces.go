package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-faces/internal/library"
)

var facesCmd = &cobra.Command{
	Use:   "faces <picture-id>",
	Short: "Print the faces detected in a picture",
	Long: `Prints every confirmed face stored for a picture, with its bounding
box, detection confidence, and the person's name when the face has been
linked to one.

Examples:
  photo-faces faces 42`,
	Args: cobra.ExactArgs(1),
	RunE: runFaces,
}

func init() {
	rootCmd.AddCommand(facesCmd)
}

func runFaces(cmd *cobra.Command, args []string) error {
	pictureID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid picture id %q", args[0])
	}

	_, db, repo, err := openRepository()
	if err != nil {
		return err
	}
	defer db.Close()

	faces, err := repo.FindFaces(library.PictureID(pictureID))
	if err != nil {
		return fmt.Errorf("failed to load faces: %w", err)
	}

	if len(faces) == 0 {
		fmt.Println("No faces stored for this picture.")
		return nil
	}

	for _, pf := range faces {
		name := "(unknown)"
		if pf.Person != nil {
			name = pf.Person.Name
		}
		fmt.Printf("%8d  %-20s  %.0f%%  [%gx%g at %g,%g]  %s\n",
			pf.Face.ID,
			name,
			pf.Face.Confidence*100,
			pf.Face.Bounds.Width, pf.Face.Bounds.Height,
			pf.Face.Bounds.X, pf.Face.Bounds.Y,
			pf.Face.ModelName,
		)
	}
	fmt.Printf("\n%d faces\n", len(faces))
	return nil
}
