// Package library is the picture catalog: which files exist in the photo
// library and when they were taken. Other components reference pictures
// by PictureID and never store raw library paths.
package library

import "time"

// PictureID identifies a picture in the catalog.
type PictureID int64

// Picture is one file in the photo library. Path is relative to the
// library root; timestamps are optional because not every file carries
// EXIF data and not every filesystem reports a creation time.
type Picture struct {
	ID             PictureID
	Path           string
	ExifCreatedAt  *time.Time
	ExifModifiedAt *time.Time
	FSCreatedAt    *time.Time
	FSModifiedAt   *time.Time
	IsBroken       bool
}
