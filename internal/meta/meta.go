// Package meta persists upload metadata in SQLite: one row per stored file,
// keyed by the file's short key.
package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound means no upload row exists for the requested key.
	ErrNotFound = errors.New("upload record not found")
	// ErrUnavailable means the database failed to respond.
	ErrUnavailable = errors.New("metadata store unavailable")
)

// Upload is one stored file's metadata row.
type Upload struct {
	ID         string
	Filename   string
	Filetype   string
	UploadedAt time.Time
	HasPreview bool
}

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	id          TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	filetype    TEXT NOT NULL,
	uploaded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	has_preview INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_uploads_uploaded_at ON uploads(uploaded_at DESC);
`

// Store wraps the uploads table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and ensures
// the schema exists. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// SQLite handles one writer at a time; a second writer gets "database is
	// locked" instead of queueing unless the pool is capped.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores the metadata row for a fresh upload.
func (s *Store) Insert(ctx context.Context, u Upload) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (id, filename, filetype, uploaded_at, has_preview) VALUES (?, ?, ?, CURRENT_TIMESTAMP, ?)`,
		u.ID, u.Filename, u.Filetype, u.HasPreview,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get returns the row for key, or [ErrNotFound].
func (s *Store) Get(ctx context.Context, key string) (*Upload, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, filetype, uploaded_at, has_preview FROM uploads WHERE id = ?`, key)

	var u Upload
	if err := row.Scan(&u.ID, &u.Filename, &u.Filetype, &u.UploadedAt, &u.HasPreview); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &u, nil
}

// List returns all rows, most recent upload first.
func (s *Store) List(ctx context.Context) ([]Upload, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, filetype, uploaded_at, has_preview FROM uploads ORDER BY uploaded_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var uploads []Upload
	for rows.Next() {
		var u Upload
		if err := rows.Scan(&u.ID, &u.Filename, &u.Filetype, &u.UploadedAt, &u.HasPreview); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		uploads = append(uploads, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return uploads, nil
}

// Delete removes the row for key. Deleting an absent row is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, key); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
