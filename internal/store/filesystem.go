package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"pdfbot/internal/pdfbot"
)

// FileSystemStore implements pdfbot.FileStore with one directory per user
// under a common base:
//
//	<base>/
//	  <user_id>/
//	    <sanitized_filename>.pdf          (uploads)
//	    merged.pdf, extract_*.pdf, ...    (operation outputs)
//	    images_*/                          (rasterization outputs)
//
// User directories are created lazily on first write and removed whole on
// purge. No two users' directories overlap.
type FileSystemStore struct {
	base string
}

// NewFileSystemStore creates a store rooted at base, creating it if needed.
func NewFileSystemStore(base string) (*FileSystemStore, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}
	return &FileSystemStore{base: base}, nil
}

// UserDir returns the user's directory path without creating it.
func (s *FileSystemStore) UserDir(userID int64) string {
	return filepath.Join(s.base, strconv.FormatInt(userID, 10))
}

// Write stores content under the user's directory using a temp file plus
// rename, so a crash mid-write never leaves a partial file at the final
// name. When name is taken, a numbered variant (name_2.pdf, name_3.pdf, ...)
// is chosen.
func (s *FileSystemStore) Write(userID int64, name string, r io.Reader, size int64) (*pdfbot.StoredFile, error) {
	dir := s.UserDir(userID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating user directory: %w", err)
	}

	final := uniqueName(dir, name)
	destPath := filepath.Join(dir, final)

	// Temp file in the same directory so the rename is atomic.
	tmpFile, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("writing data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("closing temp file: %w", err)
	}
	if written != size {
		return nil, fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return nil, fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return &pdfbot.StoredFile{Name: final, Path: destPath, Size: written}, nil
}

// OutputPath returns a path inside the user's directory for an operation
// result, creating the directory if needed.
func (s *FileSystemStore) OutputPath(userID int64, name string) (string, error) {
	dir := s.UserDir(userID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating user directory: %w", err)
	}
	return filepath.Join(dir, name), nil
}

// Purge removes the user's entire directory. Purging a user with no
// directory is a no-op.
func (s *FileSystemStore) Purge(userID int64) error {
	if err := os.RemoveAll(s.UserDir(userID)); err != nil {
		return fmt.Errorf("removing user directory: %w", err)
	}
	return nil
}

// uniqueName picks a name not yet present in dir, appending _2, _3, ... to
// the stem on collision.
func uniqueName(dir, name string) string {
	if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for k := 2; ; k++ {
		candidate := fmt.Sprintf("%s_%d%s", base, k, ext)
		if _, err := os.Stat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate
		}
	}
}

// Compile-time check that FileSystemStore implements pdfbot.FileStore.
var _ pdfbot.FileStore = (*FileSystemStore)(nil)
