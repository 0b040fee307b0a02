package people

import (
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kozaktomas/photo-faces/internal/library"
	"github.com/kozaktomas/photo-faces/internal/paths"
)

// Repository stores face scans, faces, and person links. It owns the
// database connection: a single mutex serializes every statement and
// transaction, so the batch scanner and the UI can share one repository
// across goroutines. No method holds the lock while waiting on anything
// but the database.
type Repository struct {
	mu          sync.Mutex
	db          *sql.DB
	libraryRoot paths.Root
	cacheRoot   paths.Root
}

// NewRepository creates a Repository. The library root must be an
// existing directory; the cache root is created on demand by asset
// writers, so it is not checked here.
func NewRepository(db *sql.DB, libraryDir, cacheDir string) (*Repository, error) {
	info, err := os.Stat(libraryDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("library path %q is not a directory", libraryDir)
	}

	return &Repository{
		db:          db,
		libraryRoot: paths.NewRoot(libraryDir),
		cacheRoot:   paths.NewRoot(cacheDir),
	}, nil
}

// FindNeedFaceScan returns every picture that has never been through face
// detection, newest first. "Newest" uses the best available timestamp:
// EXIF creation, then EXIF modification, then filesystem times. Pictures
// flagged broken are excluded, as is any picture with a scan record of
// either outcome. Rows whose stored path fails to decode are dropped:
// this is a best-effort work listing, not a strict contract.
func (r *Repository) FindNeedFaceScan() ([]ScanTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`
		SELECT
			pictures.picture_id,
			pictures.picture_path_b64
		FROM pictures
		LEFT OUTER JOIN pictures_face_scans USING (picture_id)
		WHERE pictures_face_scans.picture_id IS NULL
		AND pictures.is_broken = FALSE
		ORDER BY COALESCE(
			pictures.exif_created_ts,
			pictures.exif_modified_ts,
			pictures.fs_created_ts,
			pictures.fs_modified_ts,
			CURRENT_TIMESTAMP
		) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query scan queue: %w", err)
	}
	defer rows.Close()

	var targets []ScanTarget
	for rows.Next() {
		var id int64
		var encoded string
		if err := rows.Scan(&id, &encoded); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}

		rel, err := paths.Decode(encoded)
		if err != nil {
			continue
		}

		targets = append(targets, ScanTarget{
			PictureID: library.PictureID(id),
			Path:      r.libraryRoot.Resolve(rel),
		})
	}

	return targets, rows.Err()
}

// AddFaceScans records one completed detection run for a picture: the
// scan bookkeeping row and every observed face, in a single transaction.
// Re-running a scan for the same picture overwrites the scan row and
// replaces the picture's face rows. If any observation carries an asset
// path outside the cache root the whole call rolls back, so a picture is
// never marked scanned with incomplete face data.
func (r *Repository) AddFaceScans(pictureID library.PictureID, observations []Observation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin face scan transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertFaceScan(tx, pictureID, false, len(observations)); err != nil {
		return err
	}

	// Rescans replace: a picture's face rows always reflect its latest
	// detection run.
	if _, err := tx.Exec(
		`DELETE FROM pictures_faces WHERE picture_id = ?`, int64(pictureID),
	); err != nil {
		return fmt.Errorf("clear prior faces for picture %d: %w", pictureID, err)
	}

	insert, err := tx.Prepare(`
		INSERT INTO pictures_faces (
			picture_id,
			thumbnail_path,
			bounds_path,
			model_name,
			bounds_x,
			bounds_y,
			bounds_width,
			bounds_height,
			right_eye_x,
			right_eye_y,
			left_eye_x,
			left_eye_y,
			nose_x,
			nose_y,
			right_mouth_corner_x,
			right_mouth_corner_y,
			left_mouth_corner_x,
			left_mouth_corner_y,
			confidence,
			is_face
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, TRUE)`)
	if err != nil {
		return fmt.Errorf("prepare face insert: %w", err)
	}
	defer insert.Close()

	for _, obs := range observations {
		thumbnail, err := r.cacheRoot.Rebase(obs.ThumbnailPath)
		if err != nil {
			return fmt.Errorf("face thumbnail for picture %d: %w", pictureID, err)
		}
		bounds, err := r.cacheRoot.Rebase(obs.BoundsPath)
		if err != nil {
			return fmt.Errorf("face bounds image for picture %d: %w", pictureID, err)
		}

		_, err = insert.Exec(
			int64(pictureID),
			thumbnail,
			bounds,
			obs.ModelName,
			obs.Bounds.X,
			obs.Bounds.Y,
			obs.Bounds.Width,
			obs.Bounds.Height,
			pointX(obs.RightEye),
			pointY(obs.RightEye),
			pointX(obs.LeftEye),
			pointY(obs.LeftEye),
			pointX(obs.Nose),
			pointY(obs.Nose),
			pointX(obs.RightMouthCorner),
			pointY(obs.RightMouthCorner),
			pointX(obs.LeftMouthCorner),
			pointY(obs.LeftMouthCorner),
			obs.Confidence,
		)
		if err != nil {
			return fmt.Errorf("insert face for picture %d: %w", pictureID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit face scan for picture %d: %w", pictureID, err)
	}
	return nil
}

// MarkFaceScanBroken records that detection could not process a picture
// at all, for example an unreadable file. The picture leaves the scan
// queue and stays out until something external forces a rescan.
func (r *Repository) MarkFaceScanBroken(pictureID library.PictureID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin broken mark transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertFaceScan(tx, pictureID, true, 0); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit broken mark for picture %d: %w", pictureID, err)
	}
	return nil
}

// upsertFaceScan writes the bookkeeping row for one detection attempt.
// The picture_id primary key makes a rescan overwrite rather than
// duplicate, which is what lets an interrupted batch resume cleanly.
func upsertFaceScan(tx *sql.Tx, pictureID library.PictureID, isBroken bool, faceCount int) error {
	_, err := tx.Exec(`
		INSERT INTO pictures_face_scans (
			picture_id,
			is_broken,
			face_count,
			scan_ts
		) VALUES (?, ?, ?, ?)
		ON CONFLICT (picture_id) DO UPDATE SET
			is_broken = excluded.is_broken,
			face_count = excluded.face_count,
			scan_ts = excluded.scan_ts`,
		int64(pictureID), isBroken, faceCount, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert face scan for picture %d: %w", pictureID, err)
	}
	return nil
}

// FindFaces returns the valid faces of a picture with their linked
// people, ordered by face id so the UI layout is stable across calls.
// Detections a user rejected are excluded. A person is attached only
// when the link exists and the person row has both a name and a
// thumbnail; anything less degrades to no person.
func (r *Repository) FindFaces(pictureID library.PictureID) ([]PictureFace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`
		SELECT
			pictures_faces.face_id,
			pictures_faces.picture_id,
			pictures_faces.thumbnail_path,
			pictures_faces.bounds_path,
			pictures_faces.model_name,
			pictures_faces.bounds_x,
			pictures_faces.bounds_y,
			pictures_faces.bounds_width,
			pictures_faces.bounds_height,
			pictures_faces.right_eye_x,
			pictures_faces.right_eye_y,
			pictures_faces.left_eye_x,
			pictures_faces.left_eye_y,
			pictures_faces.nose_x,
			pictures_faces.nose_y,
			pictures_faces.right_mouth_corner_x,
			pictures_faces.right_mouth_corner_y,
			pictures_faces.left_mouth_corner_x,
			pictures_faces.left_mouth_corner_y,
			pictures_faces.confidence,
			pictures_faces.is_face,
			people.person_id,
			people.name,
			people.thumbnail_path
		FROM pictures_faces
		LEFT OUTER JOIN people USING (person_id)
		WHERE pictures_faces.picture_id = ? AND pictures_faces.is_face = TRUE
		ORDER BY pictures_faces.face_id`,
		int64(pictureID),
	)
	if err != nil {
		return nil, fmt.Errorf("query faces for picture %d: %w", pictureID, err)
	}
	defer rows.Close()

	var result []PictureFace
	for rows.Next() {
		pictureFace, err := r.scanPictureFace(rows)
		if err != nil {
			return nil, fmt.Errorf("faces for picture %d: %w", pictureID, err)
		}
		result = append(result, pictureFace)
	}

	return result, rows.Err()
}

// scanPictureFace maps one joined row to a face and its optional person.
func (r *Repository) scanPictureFace(rows *sql.Rows) (PictureFace, error) {
	var face Face
	var rightEyeX, rightEyeY sql.NullFloat64
	var leftEyeX, leftEyeY sql.NullFloat64
	var noseX, noseY sql.NullFloat64
	var rightMouthX, rightMouthY sql.NullFloat64
	var leftMouthX, leftMouthY sql.NullFloat64
	var personID sql.NullInt64
	var personName, personThumbnail sql.NullString

	err := rows.Scan(
		&face.ID,
		&face.PictureID,
		&face.ThumbnailPath,
		&face.BoundsPath,
		&face.ModelName,
		&face.Bounds.X,
		&face.Bounds.Y,
		&face.Bounds.Width,
		&face.Bounds.Height,
		&rightEyeX,
		&rightEyeY,
		&leftEyeX,
		&leftEyeY,
		&noseX,
		&noseY,
		&rightMouthX,
		&rightMouthY,
		&leftMouthX,
		&leftMouthY,
		&face.Confidence,
		&face.IsFace,
		&personID,
		&personName,
		&personThumbnail,
	)
	if err != nil {
		return PictureFace{}, err
	}

	face.ThumbnailPath = r.cacheRoot.Resolve(face.ThumbnailPath)
	face.BoundsPath = r.cacheRoot.Resolve(face.BoundsPath)
	face.RightEye = pointFrom(rightEyeX, rightEyeY)
	face.LeftEye = pointFrom(leftEyeX, leftEyeY)
	face.Nose = pointFrom(noseX, noseY)
	face.RightMouthCorner = pointFrom(rightMouthX, rightMouthY)
	face.LeftMouthCorner = pointFrom(leftMouthX, leftMouthY)

	var person *Person
	if personID.Valid && personName.Valid && personThumbnail.Valid {
		person = &Person{
			ID:            PersonID(personID.Int64),
			Name:          personName.String,
			ThumbnailPath: r.cacheRoot.Resolve(personThumbnail.String),
		}
	}

	return PictureFace{Face: face, Person: person}, nil
}

// MarkNotAFace records a user's verdict that a detection is not actually
// a face. The row is kept so the verdict can be audited or undone; the
// face simply stops appearing in FindFaces. An unknown id is a no-op.
func (r *Repository) MarkNotAFace(faceID FaceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(
		`UPDATE pictures_faces SET is_face = FALSE WHERE face_id = ?`, int64(faceID),
	)
	if err != nil {
		return fmt.Errorf("mark face %d as not a face: %w", faceID, err)
	}
	return nil
}

// GetFaceScan returns the scan record for a picture, with found = false
// when the picture has never been scanned.
func (r *Repository) GetFaceScan(pictureID library.PictureID) (FaceScan, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var scan FaceScan
	err := r.db.QueryRow(`
		SELECT picture_id, is_broken, face_count, scan_ts
		FROM pictures_face_scans
		WHERE picture_id = ?`,
		int64(pictureID),
	).Scan(&scan.PictureID, &scan.IsBroken, &scan.FaceCount, &scan.ScanAt)
	if err == sql.ErrNoRows {
		return FaceScan{}, false, nil
	}
	if err != nil {
		return FaceScan{}, false, fmt.Errorf("query face scan for picture %d: %w", pictureID, err)
	}
	return scan, true, nil
}

// CountScanned returns how many pictures have a scan record of either
// outcome.
func (r *Repository) CountScanned() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM pictures_face_scans`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count face scans: %w", err)
	}
	return count, nil
}

// CountFaces returns the number of stored face rows, rejected ones
// included.
func (r *Repository) CountFaces() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM pictures_faces`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return count, nil
}

func pointX(p *Point) any {
	if p == nil {
		return nil
	}
	return p.X
}

func pointY(p *Point) any {
	if p == nil {
		return nil
	}
	return p.Y
}

func pointFrom(x, y sql.NullFloat64) *Point {
	if !x.Valid || !y.Valid {
		return nil
	}
	return &Point{X: x.Float64, Y: y.Float64}
}
