package cmd

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-faces/internal/config"
	"github.com/kozaktomas/photo-faces/internal/database"
	"github.com/kozaktomas/photo-faces/internal/people"
)

var rootCmd = &cobra.Command{
	Use:   "photo-faces",
	Short: "Face detection bookkeeping for a photo library",
	Long: `Photo Faces tracks face detection across a photo library: which
pictures have been scanned, the faces found in them, and the people
those faces belong to. Scans are resumable; an interrupted run picks up
where it left off.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// openRepository loads config, opens the database, runs migrations, and
// builds the face repository. Shared by every command that touches data.
func openRepository() (*config.Config, *sql.DB, *people.Repository, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	repo, err := people.NewRepository(db, cfg.Library.Dir, cfg.Library.CacheDir)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	return cfg, db, repo, nil
}
