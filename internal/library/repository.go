package library

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/kozaktomas/photo-faces/internal/paths"
)

// Repository provides catalog access to the pictures table.
type Repository struct {
	mu sync.Mutex
	db *sql.DB
}

// NewRepository creates a picture catalog repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Add registers a picture under its library-relative path. The encoded
// path is the unique key: re-importing an already known file returns the
// existing id with added = false and leaves the row untouched.
func (r *Repository) Add(picture Picture) (id PictureID, added bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	encoded := paths.Encode(picture.Path)

	result, err := r.db.Exec(`
		INSERT INTO pictures (
			picture_path_b64,
			exif_created_ts,
			exif_modified_ts,
			fs_created_ts,
			fs_modified_ts,
			is_broken
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (picture_path_b64) DO NOTHING`,
		encoded,
		picture.ExifCreatedAt,
		picture.ExifModifiedAt,
		picture.FSCreatedAt,
		picture.FSModifiedAt,
		picture.IsBroken,
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert picture: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("insert picture: %w", err)
	}
	if affected > 0 {
		inserted, err := result.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("insert picture: %w", err)
		}
		return PictureID(inserted), true, nil
	}

	// Already catalogued, look up the existing row.
	var existing int64
	err = r.db.QueryRow(
		`SELECT picture_id FROM pictures WHERE picture_path_b64 = ?`, encoded,
	).Scan(&existing)
	if err != nil {
		return 0, false, fmt.Errorf("look up existing picture: %w", err)
	}
	return PictureID(existing), false, nil
}

// Get returns one catalogued picture, or sql.ErrNoRows if the id is unknown.
func (r *Repository) Get(id PictureID) (Picture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var picture Picture
	var encoded string

	err := r.db.QueryRow(`
		SELECT
			picture_id,
			picture_path_b64,
			exif_created_ts,
			exif_modified_ts,
			fs_created_ts,
			fs_modified_ts,
			is_broken
		FROM pictures
		WHERE picture_id = ?`, int64(id),
	).Scan(
		&picture.ID,
		&encoded,
		&picture.ExifCreatedAt,
		&picture.ExifModifiedAt,
		&picture.FSCreatedAt,
		&picture.FSModifiedAt,
		&picture.IsBroken,
	)
	if err != nil {
		return Picture{}, fmt.Errorf("query picture %d: %w", id, err)
	}

	path, err := paths.Decode(encoded)
	if err != nil {
		return Picture{}, fmt.Errorf("picture %d: %w", id, err)
	}
	picture.Path = path

	return picture, nil
}

// MarkBroken flags a picture as unreadable so listing queries skip it.
func (r *Repository) MarkBroken(id PictureID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(
		`UPDATE pictures SET is_broken = TRUE WHERE picture_id = ?`, int64(id),
	)
	if err != nil {
		return fmt.Errorf("mark picture %d broken: %w", id, err)
	}
	return nil
}

// Count returns the number of catalogued pictures.
func (r *Repository) Count() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM pictures`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pictures: %w", err)
	}
	return count, nil
}
