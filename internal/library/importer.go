package library

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/kozaktomas/photo-faces/internal/paths"
)

// pictureExtensions are the file types the importer catalogues.
var pictureExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".tiff": true,
	".heic": true,
}

// ImportReport summarizes one importer run.
type ImportReport struct {
	Added   int // newly catalogued pictures
	Known   int // files already in the catalog
	Skipped int // non-picture files
	Failed  int // files that could not be read or catalogued
}

// Importer walks the library root and registers every picture it finds.
type Importer struct {
	repo        *Repository
	libraryRoot paths.Root
}

// NewImporter creates an importer for the given library root.
func NewImporter(repo *Repository, libraryRoot paths.Root) *Importer {
	return &Importer{repo: repo, libraryRoot: libraryRoot}
}

// Run walks the library and adds every picture file to the catalog.
// Timestamps come from EXIF where available and from the filesystem
// otherwise; a file with unreadable EXIF is still catalogued.
func (im *Importer) Run() (ImportReport, error) {
	var report ImportReport

	err := filepath.WalkDir(im.libraryRoot.Base(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !pictureExtensions[strings.ToLower(filepath.Ext(path))] {
			report.Skipped++
			return nil
		}

		picture, err := im.inspect(path, d)
		if err != nil {
			report.Failed++
			return nil
		}

		_, added, err := im.repo.Add(picture)
		if err != nil {
			return err
		}
		if added {
			report.Added++
		} else {
			report.Known++
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("walking library: %w", err)
	}

	return report, nil
}

// inspect builds a Picture for one file: library-relative path, EXIF
// timestamps when the file carries them, and filesystem modification time.
func (im *Importer) inspect(path string, d fs.DirEntry) (Picture, error) {
	rel, err := im.libraryRoot.Rebase(path)
	if err != nil {
		return Picture{}, err
	}

	picture := Picture{Path: rel}

	if info, err := d.Info(); err == nil {
		mtime := info.ModTime().UTC()
		picture.FSModifiedAt = &mtime
	}

	exifCreated, exifModified := readExifTimestamps(path)
	picture.ExifCreatedAt = exifCreated
	picture.ExifModifiedAt = exifModified

	return picture, nil
}

// exifTimeLayout is the timestamp format mandated by the EXIF standard.
const exifTimeLayout = "2006:01:02 15:04:05"

// readExifTimestamps extracts the original and modified timestamps from a
// picture's EXIF block. Missing or malformed EXIF data yields nils; EXIF
// is best-effort metadata, never a reason to fail an import.
func readExifTimestamps(path string) (created, modified *time.Time) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return nil, nil
	}

	created = exifTagTime(x, exif.DateTimeOriginal)
	modified = exifTagTime(x, exif.DateTime)
	return created, modified
}

func exifTagTime(x *exif.Exif, name exif.FieldName) *time.Time {
	tag, err := x.Get(name)
	if err != nil {
		return nil
	}
	value, err := tag.StringVal()
	if err != nil {
		return nil
	}
	ts, err := time.Parse(exifTimeLayout, value)
	if err != nil {
		return nil
	}
	ts = ts.UTC()
	return &ts
}
