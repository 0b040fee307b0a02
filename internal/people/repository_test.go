package people

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/photo-faces/internal/database"
	"github.com/kozaktomas/photo-faces/internal/library"
	"github.com/kozaktomas/photo-faces/internal/paths"
)

// testEnv wires a repository to an in-memory database with temp
// library and cache directories.
type testEnv struct {
	db       *sql.DB
	repo     *Repository
	pictures *library.Repository
	cacheDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	libraryDir := t.TempDir()
	cacheDir := t.TempDir()

	repo, err := NewRepository(db, libraryDir, cacheDir)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	return &testEnv{
		db:       db,
		repo:     repo,
		pictures: library.NewRepository(db),
		cacheDir: cacheDir,
	}
}

// addPicture catalogues a picture with an optional EXIF creation time.
func (e *testEnv) addPicture(t *testing.T, path string, exifCreated *time.Time) library.PictureID {
	t.Helper()
	id, _, err := e.pictures.Add(library.Picture{Path: path, ExifCreatedAt: exifCreated})
	if err != nil {
		t.Fatalf("failed to add picture %q: %v", path, err)
	}
	return id
}

// observation builds a valid observation with assets under the cache root.
func (e *testEnv) observation(name string, landmarks bool) Observation {
	obs := Observation{
		ThumbnailPath: filepath.Join(e.cacheDir, "faces", name+"_thumb.png"),
		BoundsPath:    filepath.Join(e.cacheDir, "faces", name+"_bounds.png"),
		ModelName:     "retinaface-r50",
		Bounds:        Bounds{X: 10, Y: 20, Width: 64, Height: 64},
		Confidence:    0.97,
	}
	if landmarks {
		obs.RightEye = &Point{X: 21, Y: 30}
		obs.LeftEye = &Point{X: 51, Y: 30}
		obs.Nose = &Point{X: 36, Y: 45}
		obs.RightMouthCorner = &Point{X: 25, Y: 60}
		obs.LeftMouthCorner = &Point{X: 47, Y: 60}
	}
	return obs
}

// addPerson inserts a person row directly; person rows are written by an
// external collaborator, so tests write them the same way.
func (e *testEnv) addPerson(t *testing.T, name, thumbnail any) PersonID {
	t.Helper()
	result, err := e.db.Exec(
		`INSERT INTO people (name, thumbnail_path) VALUES (?, ?)`, name, thumbnail,
	)
	if err != nil {
		t.Fatalf("failed to insert person: %v", err)
	}
	id, _ := result.LastInsertId()
	return PersonID(id)
}

// linkFace points a face row at a person, as the clustering collaborator
// would.
func (e *testEnv) linkFace(t *testing.T, faceID FaceID, personID PersonID) {
	t.Helper()
	_, err := e.db.Exec(
		`UPDATE pictures_faces SET person_id = ? WHERE face_id = ?`,
		int64(personID), int64(faceID),
	)
	if err != nil {
		t.Fatalf("failed to link face to person: %v", err)
	}
}

func TestNewRepositoryRejectsMissingLibraryDir(t *testing.T) {
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	_, err = NewRepository(db, "/definitely/not/a/directory", t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing library directory, got nil")
	}
}

func TestFindNeedFaceScan(t *testing.T) {
	t.Run("orders newest first by best timestamp", func(t *testing.T) {
		env := newTestEnv(t)

		older := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)
		newer := time.Date(2023, 8, 15, 9, 30, 0, 0, time.UTC)
		oldID := env.addPicture(t, "2020/old.jpg", &older)
		newID := env.addPicture(t, "2023/new.jpg", &newer)

		targets, err := env.repo.FindNeedFaceScan()
		if err != nil {
			t.Fatalf("FindNeedFaceScan failed: %v", err)
		}
		if len(targets) != 2 {
			t.Fatalf("expected 2 targets, got %d", len(targets))
		}
		if targets[0].PictureID != newID || targets[1].PictureID != oldID {
			t.Errorf("expected order [%d %d], got [%d %d]",
				newID, oldID, targets[0].PictureID, targets[1].PictureID)
		}
	})

	t.Run("resolves paths against the library root", func(t *testing.T) {
		env := newTestEnv(t)
		env.addPicture(t, filepath.Join("2023", "beach.jpg"), nil)

		targets, err := env.repo.FindNeedFaceScan()
		if err != nil {
			t.Fatalf("FindNeedFaceScan failed: %v", err)
		}
		want := env.repo.libraryRoot.Resolve(filepath.Join("2023", "beach.jpg"))
		if len(targets) != 1 || targets[0].Path != want {
			t.Errorf("expected path %q, got %+v", want, targets)
		}
	})

	t.Run("excludes broken pictures", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.addPicture(t, "corrupt.jpg", nil)
		if err := env.pictures.MarkBroken(id); err != nil {
			t.Fatalf("MarkBroken failed: %v", err)
		}

		targets, err := env.repo.FindNeedFaceScan()
		if err != nil {
			t.Fatalf("FindNeedFaceScan failed: %v", err)
		}
		if len(targets) != 0 {
			t.Errorf("expected empty queue, got %d targets", len(targets))
		}
	})

	t.Run("excludes pictures with any scan record", func(t *testing.T) {
		env := newTestEnv(t)
		scanned := env.addPicture(t, "scanned.jpg", nil)
		broken := env.addPicture(t, "broken.jpg", nil)
		pending := env.addPicture(t, "pending.jpg", nil)

		if err := env.repo.AddFaceScans(scanned, nil); err != nil {
			t.Fatalf("AddFaceScans failed: %v", err)
		}
		if err := env.repo.MarkFaceScanBroken(broken); err != nil {
			t.Fatalf("MarkFaceScanBroken failed: %v", err)
		}

		targets, err := env.repo.FindNeedFaceScan()
		if err != nil {
			t.Fatalf("FindNeedFaceScan failed: %v", err)
		}
		if len(targets) != 1 || targets[0].PictureID != pending {
			t.Errorf("expected only picture %d in queue, got %+v", pending, targets)
		}
	})

	t.Run("silently drops rows with undecodable paths", func(t *testing.T) {
		env := newTestEnv(t)
		env.addPicture(t, "good.jpg", nil)
		if _, err := env.db.Exec(
			`INSERT INTO pictures (picture_path_b64) VALUES ('%%%not-base64%%%')`,
		); err != nil {
			t.Fatalf("failed to insert corrupt row: %v", err)
		}

		targets, err := env.repo.FindNeedFaceScan()
		if err != nil {
			t.Fatalf("FindNeedFaceScan failed: %v", err)
		}
		if len(targets) != 1 {
			t.Errorf("expected corrupt row to be dropped, got %d targets", len(targets))
		}
	})
}

func TestAddFaceScans(t *testing.T) {
	t.Run("records scan and faces", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.addPicture(t, "family.jpg", nil)

		obs := []Observation{
			env.observation("a", true),
			env.observation("b", false),
		}
		if err := env.repo.AddFaceScans(id, obs); err != nil {
			t.Fatalf("AddFaceScans failed: %v", err)
		}

		scan, found, err := env.repo.GetFaceScan(id)
		if err != nil || !found {
			t.Fatalf("GetFaceScan = (%v, %v, %v), want found scan", scan, found, err)
		}
		if scan.IsBroken {
			t.Error("scan should not be broken")
		}
		if scan.FaceCount != 2 {
			t.Errorf("expected face count 2, got %d", scan.FaceCount)
		}

		faces, err := env.repo.FindFaces(id)
		if err != nil {
			t.Fatalf("FindFaces failed: %v", err)
		}
		if len(faces) != 2 {
			t.Fatalf("expected 2 faces, got %d", len(faces))
		}
		for _, pf := range faces {
			if pf.Person != nil {
				t.Errorf("face %d should have no person", pf.Face.ID)
			}
		}
	})

	t.Run("rescan overwrites scan row and replaces faces", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.addPicture(t, "group.jpg", nil)
		obs := []Observation{env.observation("a", true), env.observation("b", true)}

		if err := env.repo.AddFaceScans(id, obs); err != nil {
			t.Fatalf("first AddFaceScans failed: %v", err)
		}
		first, _, err := env.repo.GetFaceScan(id)
		if err != nil {
			t.Fatalf("GetFaceScan failed: %v", err)
		}

		if err := env.repo.AddFaceScans(id, obs); err != nil {
			t.Fatalf("second AddFaceScans failed: %v", err)
		}

		var scanRows int
		if err := env.db.QueryRow(
			`SELECT COUNT(*) FROM pictures_face_scans WHERE picture_id = ?`, int64(id),
		).Scan(&scanRows); err != nil {
			t.Fatalf("count scan rows: %v", err)
		}
		if scanRows != 1 {
			t.Errorf("expected exactly 1 scan row, got %d", scanRows)
		}

		second, _, err := env.repo.GetFaceScan(id)
		if err != nil {
			t.Fatalf("GetFaceScan failed: %v", err)
		}
		if second.ScanAt.Before(first.ScanAt) {
			t.Errorf("rescan timestamp %v is older than first %v", second.ScanAt, first.ScanAt)
		}

		faces, err := env.repo.FindFaces(id)
		if err != nil {
			t.Fatalf("FindFaces failed: %v", err)
		}
		if len(faces) != 2 {
			t.Errorf("rescan should replace faces, expected 2 rows, got %d", len(faces))
		}
	})

	t.Run("zero observations still records the scan", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.addPicture(t, "landscape.jpg", nil)

		if err := env.repo.AddFaceScans(id, nil); err != nil {
			t.Fatalf("AddFaceScans failed: %v", err)
		}

		scan, found, err := env.repo.GetFaceScan(id)
		if err != nil || !found {
			t.Fatalf("expected scan record, got (%v, %v, %v)", scan, found, err)
		}
		if scan.FaceCount != 0 || scan.IsBroken {
			t.Errorf("expected clean zero-face scan, got %+v", scan)
		}
	})

	t.Run("rolls back everything when an asset path escapes the cache root", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.addPicture(t, "party.jpg", nil)

		bad := env.observation("bad", false)
		bad.ThumbnailPath = "/tmp/elsewhere/thumb.png"
		obs := []Observation{env.observation("good", true), bad}

		err := env.repo.AddFaceScans(id, obs)
		if !errors.Is(err, paths.ErrNotUnderRoot) {
			t.Fatalf("expected ErrNotUnderRoot, got %v", err)
		}

		if _, found, err := env.repo.GetFaceScan(id); err != nil || found {
			t.Errorf("scan row should have rolled back (found=%v, err=%v)", found, err)
		}
		var faceRows int
		if err := env.db.QueryRow(`SELECT COUNT(*) FROM pictures_faces`).Scan(&faceRows); err != nil {
			t.Fatalf("count faces: %v", err)
		}
		if faceRows != 0 {
			t.Errorf("face rows should have rolled back, got %d", faceRows)
		}
	})
}

func TestMarkFaceScanBroken(t *testing.T) {
	env := newTestEnv(t)
	id := env.addPicture(t, "corrupt.jpg", nil)

	queue, err := env.repo.FindNeedFaceScan()
	if err != nil {
		t.Fatalf("FindNeedFaceScan failed: %v", err)
	}
	if len(queue) != 1 || queue[0].PictureID != id {
		t.Fatalf("expected picture %d in queue, got %+v", id, queue)
	}

	if err := env.repo.MarkFaceScanBroken(id); err != nil {
		t.Fatalf("MarkFaceScanBroken failed: %v", err)
	}

	queue, err = env.repo.FindNeedFaceScan()
	if err != nil {
		t.Fatalf("FindNeedFaceScan failed: %v", err)
	}
	if len(queue) != 0 {
		t.Errorf("broken picture should leave the queue, got %+v", queue)
	}

	scan, found, err := env.repo.GetFaceScan(id)
	if err != nil || !found {
		t.Fatalf("expected scan record, got (%v, %v, %v)", scan, found, err)
	}
	if !scan.IsBroken || scan.FaceCount != 0 {
		t.Errorf("expected broken scan with zero faces, got %+v", scan)
	}

	faces, err := env.repo.FindFaces(id)
	if err != nil {
		t.Fatalf("FindFaces failed: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("broken picture should have no faces, got %d", len(faces))
	}
}

func TestLandmarksRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	id := env.addPicture(t, "portraits.jpg", nil)

	withLandmarks := env.observation("full", true)
	withoutLandmarks := env.observation("none", false)
	if err := env.repo.AddFaceScans(id, []Observation{withLandmarks, withoutLandmarks}); err != nil {
		t.Fatalf("AddFaceScans failed: %v", err)
	}

	faces, err := env.repo.FindFaces(id)
	if err != nil {
		t.Fatalf("FindFaces failed: %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(faces))
	}

	full := faces[0].Face
	if full.RightEye == nil || full.LeftEye == nil || full.Nose == nil ||
		full.RightMouthCorner == nil || full.LeftMouthCorner == nil {
		t.Errorf("expected all landmarks present, got %+v", full)
	}
	if full.RightEye != nil && (full.RightEye.X != 21 || full.RightEye.Y != 30) {
		t.Errorf("right eye round trip = %+v, want (21, 30)", full.RightEye)
	}

	none := faces[1].Face
	if none.RightEye != nil || none.LeftEye != nil || none.Nose != nil ||
		none.RightMouthCorner != nil || none.LeftMouthCorner != nil {
		t.Errorf("expected no landmarks, got %+v", none)
	}

	// Pairs are stored as a unit: for every landmark both columns are
	// set or both are null.
	rows, err := env.db.Query(`
		SELECT
			(right_eye_x IS NULL) = (right_eye_y IS NULL),
			(left_eye_x IS NULL) = (left_eye_y IS NULL),
			(nose_x IS NULL) = (nose_y IS NULL),
			(right_mouth_corner_x IS NULL) = (right_mouth_corner_y IS NULL),
			(left_mouth_corner_x IS NULL) = (left_mouth_corner_y IS NULL)
		FROM pictures_faces`)
	if err != nil {
		t.Fatalf("query landmark pairs: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pairs [5]bool
		if err := rows.Scan(&pairs[0], &pairs[1], &pairs[2], &pairs[3], &pairs[4]); err != nil {
			t.Fatalf("scan landmark pairs: %v", err)
		}
		for i, whole := range pairs {
			if !whole {
				t.Errorf("landmark pair %d stored partially", i)
			}
		}
	}
}

func TestAssetPathRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	id := env.addPicture(t, "nested.jpg", nil)

	obs := env.observation("x", false)
	obs.ThumbnailPath = filepath.Join(env.cacheDir, "faces", "42", "deep", "0_thumb.png")
	obs.BoundsPath = filepath.Join(env.cacheDir, "faces", "42", "deep", "0_bounds.png")

	if err := env.repo.AddFaceScans(id, []Observation{obs}); err != nil {
		t.Fatalf("AddFaceScans failed: %v", err)
	}

	faces, err := env.repo.FindFaces(id)
	if err != nil {
		t.Fatalf("FindFaces failed: %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("expected 1 face, got %d", len(faces))
	}
	if faces[0].Face.ThumbnailPath != obs.ThumbnailPath {
		t.Errorf("thumbnail round trip = %q, want %q", faces[0].Face.ThumbnailPath, obs.ThumbnailPath)
	}
	if faces[0].Face.BoundsPath != obs.BoundsPath {
		t.Errorf("bounds round trip = %q, want %q", faces[0].Face.BoundsPath, obs.BoundsPath)
	}
}

func TestFindFacesPersonJoin(t *testing.T) {
	t.Run("attaches fully populated person", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.addPicture(t, "wedding.jpg", nil)
		if err := env.repo.AddFaceScans(id, []Observation{env.observation("a", true)}); err != nil {
			t.Fatalf("AddFaceScans failed: %v", err)
		}

		personID := env.addPerson(t, "Ada", "people/ada.png")
		faces, _ := env.repo.FindFaces(id)
		env.linkFace(t, faces[0].Face.ID, personID)

		faces, err := env.repo.FindFaces(id)
		if err != nil {
			t.Fatalf("FindFaces failed: %v", err)
		}
		if faces[0].Person == nil {
			t.Fatal("expected linked person, got nil")
		}
		if faces[0].Person.Name != "Ada" {
			t.Errorf("person name = %q, want Ada", faces[0].Person.Name)
		}
		want := filepath.Join(env.cacheDir, "people", "ada.png")
		if faces[0].Person.ThumbnailPath != want {
			t.Errorf("person thumbnail = %q, want %q", faces[0].Person.ThumbnailPath, want)
		}
	})

	t.Run("degrades partial person rows to no person", func(t *testing.T) {
		tests := []struct {
			name      string
			personRow [2]any // name, thumbnail
		}{
			{"null name", [2]any{nil, "people/x.png"}},
			{"null thumbnail", [2]any{"Ada", nil}},
			{"both null", [2]any{nil, nil}},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				env := newTestEnv(t)
				id := env.addPicture(t, "pic.jpg", nil)
				if err := env.repo.AddFaceScans(id, []Observation{env.observation("a", false)}); err != nil {
					t.Fatalf("AddFaceScans failed: %v", err)
				}

				personID := env.addPerson(t, tc.personRow[0], tc.personRow[1])
				faces, _ := env.repo.FindFaces(id)
				env.linkFace(t, faces[0].Face.ID, personID)

				faces, err := env.repo.FindFaces(id)
				if err != nil {
					t.Fatalf("FindFaces failed: %v", err)
				}
				if faces[0].Person != nil {
					t.Errorf("partial person row should degrade to nil, got %+v", faces[0].Person)
				}
			})
		}
	})

	t.Run("orders by face id", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.addPicture(t, "crowd.jpg", nil)
		obs := []Observation{
			env.observation("a", false),
			env.observation("b", false),
			env.observation("c", false),
		}
		if err := env.repo.AddFaceScans(id, obs); err != nil {
			t.Fatalf("AddFaceScans failed: %v", err)
		}

		faces, err := env.repo.FindFaces(id)
		if err != nil {
			t.Fatalf("FindFaces failed: %v", err)
		}
		for i := 1; i < len(faces); i++ {
			if faces[i].Face.ID <= faces[i-1].Face.ID {
				t.Errorf("faces out of order: %d before %d", faces[i-1].Face.ID, faces[i].Face.ID)
			}
		}
	})
}

func TestMarkNotAFace(t *testing.T) {
	t.Run("excludes the face from later reads", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.addPicture(t, "pic.jpg", nil)
		obs := []Observation{env.observation("a", false), env.observation("b", false)}
		if err := env.repo.AddFaceScans(id, obs); err != nil {
			t.Fatalf("AddFaceScans failed: %v", err)
		}

		faces, _ := env.repo.FindFaces(id)
		rejected := faces[0].Face.ID
		if err := env.repo.MarkNotAFace(rejected); err != nil {
			t.Fatalf("MarkNotAFace failed: %v", err)
		}

		faces, err := env.repo.FindFaces(id)
		if err != nil {
			t.Fatalf("FindFaces failed: %v", err)
		}
		if len(faces) != 1 {
			t.Fatalf("expected 1 remaining face, got %d", len(faces))
		}
		if faces[0].Face.ID == rejected {
			t.Error("rejected face still returned")
		}

		// The row is kept, only demoted.
		var total int
		if err := env.db.QueryRow(`SELECT COUNT(*) FROM pictures_faces`).Scan(&total); err != nil {
			t.Fatalf("count faces: %v", err)
		}
		if total != 2 {
			t.Errorf("expected both rows kept, got %d", total)
		}

		// FaceCount reflects detections at scan time, not current faces.
		scan, _, err := env.repo.GetFaceScan(id)
		if err != nil {
			t.Fatalf("GetFaceScan failed: %v", err)
		}
		if scan.FaceCount != 2 {
			t.Errorf("face count should stay at 2, got %d", scan.FaceCount)
		}
	})

	t.Run("unknown id is a no-op", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.addPicture(t, "pic.jpg", nil)
		if err := env.repo.AddFaceScans(id, []Observation{env.observation("a", false)}); err != nil {
			t.Fatalf("AddFaceScans failed: %v", err)
		}

		if err := env.repo.MarkNotAFace(99999); err != nil {
			t.Errorf("MarkNotAFace on unknown id should succeed, got %v", err)
		}

		faces, err := env.repo.FindFaces(id)
		if err != nil {
			t.Fatalf("FindFaces failed: %v", err)
		}
		if len(faces) != 1 {
			t.Errorf("no row should have changed, got %d faces", len(faces))
		}
	})
}

func TestBrokenPictureScenario(t *testing.T) {
	env := newTestEnv(t)
	id := env.addPicture(t, "p1.jpg", nil)

	queue, err := env.repo.FindNeedFaceScan()
	if err != nil {
		t.Fatalf("FindNeedFaceScan failed: %v", err)
	}
	if len(queue) != 1 || queue[0].PictureID != id {
		t.Fatalf("expected (%d, path) in queue, got %+v", id, queue)
	}

	if err := env.repo.MarkFaceScanBroken(id); err != nil {
		t.Fatalf("MarkFaceScanBroken failed: %v", err)
	}

	queue, err = env.repo.FindNeedFaceScan()
	if err != nil {
		t.Fatalf("FindNeedFaceScan failed: %v", err)
	}
	if len(queue) != 0 {
		t.Errorf("queue should be empty after broken mark, got %+v", queue)
	}

	faces, err := env.repo.FindFaces(id)
	if err != nil {
		t.Fatalf("FindFaces failed: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("expected no faces for broken picture, got %d", len(faces))
	}
}

func TestCounts(t *testing.T) {
	env := newTestEnv(t)
	p1 := env.addPicture(t, "p1.jpg", nil)
	p2 := env.addPicture(t, "p2.jpg", nil)

	if err := env.repo.AddFaceScans(p1, []Observation{env.observation("a", false)}); err != nil {
		t.Fatalf("AddFaceScans failed: %v", err)
	}
	if err := env.repo.MarkFaceScanBroken(p2); err != nil {
		t.Fatalf("MarkFaceScanBroken failed: %v", err)
	}

	scanned, err := env.repo.CountScanned()
	if err != nil {
		t.Fatalf("CountScanned failed: %v", err)
	}
	if scanned != 2 {
		t.Errorf("expected 2 scanned pictures, got %d", scanned)
	}

	faceCount, err := env.repo.CountFaces()
	if err != nil {
		t.Fatalf("CountFaces failed: %v", err)
	}
	if faceCount != 1 {
		t.Errorf("expected 1 stored face, got %d", faceCount)
	}
}
