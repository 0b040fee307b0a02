// Package people tracks face detection across the photo library: which
// pictures have been scanned, the geometry of every detected face, and
// the optional link from a face to a named person.
package people

import (
	"time"

	"github.com/kozaktomas/photo-faces/internal/library"
)

// FaceID identifies one detected face candidate.
type FaceID int64

// PersonID identifies a named person.
type PersonID int64

// Point is a 2D facial landmark coordinate in the detector's units.
type Point struct {
	X float64
	Y float64
}

// Bounds is a face bounding box in the detector's units.
type Bounds struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Observation is the detector's output for one candidate face, before
// persistence. Asset paths are absolute and must live under the cache
// root. Landmarks are optional: a nil pointer means the detector did not
// report that landmark.
type Observation struct {
	ThumbnailPath string
	BoundsPath    string
	ModelName     string
	Bounds        Bounds

	RightEye         *Point
	LeftEye          *Point
	Nose             *Point
	RightMouthCorner *Point
	LeftMouthCorner  *Point

	Confidence float64
}

// Face is one stored face candidate. Asset paths are absolute in memory
// and cache-relative on disk. IsFace is true until a user rejects the
// detection; rejected faces keep their row for audit and undo.
type Face struct {
	ID            FaceID
	PictureID     library.PictureID
	ThumbnailPath string
	BoundsPath    string
	ModelName     string
	Bounds        Bounds

	RightEye         *Point
	LeftEye          *Point
	Nose             *Point
	RightMouthCorner *Point
	LeftMouthCorner  *Point

	Confidence float64
	IsFace     bool
}

// Person is a named identity a face can be linked to. ThumbnailPath is
// absolute in memory.
type Person struct {
	ID            PersonID
	Name          string
	ThumbnailPath string
}

// PictureFace pairs a stored face with its linked person, if any. Person
// is nil unless the link exists and the person row carries both a name
// and a thumbnail; a partially populated person never leaks out.
type PictureFace struct {
	Face   Face
	Person *Person
}

// FaceScan is the bookkeeping record marking a picture as processed by
// the detection pipeline, successfully or as broken. FaceCount is the
// number of detections at scan time; later corrections do not change it.
type FaceScan struct {
	PictureID library.PictureID
	IsBroken  bool
	FaceCount int
	ScanAt    time.Time
}

// ScanTarget is one picture awaiting a face scan.
type ScanTarget struct {
	PictureID library.PictureID
	Path      string
}
