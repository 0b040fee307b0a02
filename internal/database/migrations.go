package database

import (
	"database/sql"
	"fmt"
)

// Migrate creates the operational tables. Safe to call on every startup.
func Migrate(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pictures (
			picture_id       INTEGER PRIMARY KEY AUTOINCREMENT,
			picture_path_b64 TEXT NOT NULL UNIQUE,
			exif_created_ts  TIMESTAMP,
			exif_modified_ts TIMESTAMP,
			fs_created_ts    TIMESTAMP,
			fs_modified_ts   TIMESTAMP,
			is_broken        BOOLEAN NOT NULL DEFAULT FALSE
		)`,

		`CREATE TABLE IF NOT EXISTS people (
			person_id      INTEGER PRIMARY KEY AUTOINCREMENT,
			name           TEXT,
			thumbnail_path TEXT
		)`,

		// One row per picture that has been through face detection. The
		// picture_id primary key is the upsert target for rescans.
		`CREATE TABLE IF NOT EXISTS pictures_face_scans (
			picture_id INTEGER PRIMARY KEY REFERENCES pictures (picture_id),
			is_broken  BOOLEAN NOT NULL DEFAULT FALSE,
			face_count INTEGER NOT NULL DEFAULT 0 CHECK (face_count >= 0),
			scan_ts    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Landmark coordinates are nullable pairs: both columns of a pair
		// are set or both are null, enforced by the writer.
		`CREATE TABLE IF NOT EXISTS pictures_faces (
			face_id              INTEGER PRIMARY KEY AUTOINCREMENT,
			picture_id           INTEGER NOT NULL REFERENCES pictures (picture_id),
			person_id            INTEGER REFERENCES people (person_id),
			thumbnail_path       TEXT NOT NULL,
			bounds_path          TEXT NOT NULL,
			model_name           TEXT NOT NULL,
			bounds_x             REAL NOT NULL,
			bounds_y             REAL NOT NULL,
			bounds_width         REAL NOT NULL,
			bounds_height        REAL NOT NULL,
			right_eye_x          REAL,
			right_eye_y          REAL,
			left_eye_x           REAL,
			left_eye_y           REAL,
			nose_x               REAL,
			nose_y               REAL,
			right_mouth_corner_x REAL,
			right_mouth_corner_y REAL,
			left_mouth_corner_x  REAL,
			left_mouth_corner_y  REAL,
			confidence           REAL NOT NULL,
			is_face              BOOLEAN NOT NULL DEFAULT TRUE
		)`,

		`CREATE INDEX IF NOT EXISTS pictures_faces_picture_id_idx
			ON pictures_faces (picture_id)`,

		`CREATE INDEX IF NOT EXISTS pictures_faces_person_id_idx
			ON pictures_faces (person_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	return nil
}
