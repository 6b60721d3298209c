// Package blob stores uploaded file bytes on an afero filesystem, one object
// per key. Video preview thumbnails live next to their file under
// "<key>-preview". Metadata (filename, content type) is the metadata store's
// business, not this package's.
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

var (
	// ErrNotFound means no object exists under the requested key.
	ErrNotFound = errors.New("blob not found")
	// ErrUnavailable means the backing filesystem failed.
	ErrUnavailable = errors.New("blob store unavailable")
)

// PreviewKey returns the object key holding the preview thumbnail for key.
func PreviewKey(key string) string {
	return key + "-preview"
}

// Store is a flat object store rooted at a single directory.
type Store struct {
	fs   afero.Fs
	root string
}

// NewStore creates a [Store] on fs rooted at root, creating the root
// directory if needed.
func NewStore(fs afero.Fs, root string) (*Store, error) {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Store{fs: fs, root: root}, nil
}

func (s *Store) path(key string) string {
	// Keys are server-generated UUIDs, but never trust a key to be a safe
	// path component.
	return filepath.Join(s.root, filepath.Base(key))
}

// Put writes the object bytes for key, replacing any previous object.
func (s *Store) Put(key string, r io.Reader) (int64, error) {
	f, err := s.fs.Create(s.path(key))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		_ = s.fs.Remove(s.path(key))
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Get opens the object for key. The caller owns the returned ReadCloser.
// Size is reported so handlers can set Content-Length without buffering.
func (s *Store) Get(key string) (io.ReadCloser, int64, error) {
	info, err := s.fs.Stat(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	f, err := s.fs.Open(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return f, info.Size(), nil
}

// Delete removes the object for key and its preview, if present. Deleting an
// absent object is a no-op.
func (s *Store) Delete(key string) error {
	for _, p := range []string{s.path(key), s.path(PreviewKey(key))} {
		if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// Exists reports whether an object is stored under key.
func (s *Store) Exists(key string) (bool, error) {
	_, err := s.fs.Stat(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}
