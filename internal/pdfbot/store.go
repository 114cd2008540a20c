package pdfbot

import (
	"io"
	"path/filepath"
	"regexp"
	"strings"
)

// StoredFile describes a file written into a user's directory.
type StoredFile struct {
	// Name is the final stored name. It differs from the requested name
	// when a file with that name already exists.
	Name string
	Path string
	Size int64
}

// FileStore manages the on-disk area holding each user's uploaded files.
// The layout is one directory per user under a common base; operation
// outputs share the user's directory and are removed together with it.
type FileStore interface {
	// Write stores content under the user's directory, creating it if
	// needed. The write is atomic (temp file plus rename) so a crash
	// mid-write never leaves a partial file at the final name. size is the
	// expected byte count; a mismatch is an error.
	Write(userID int64, name string, r io.Reader, size int64) (*StoredFile, error)

	// OutputPath returns a path inside the user's directory for an
	// operation result, creating the directory if needed.
	OutputPath(userID int64, name string) (string, error)

	// UserDir returns the user's directory path without creating it.
	UserDir(userID int64) string

	// Purge removes the user's entire directory. Purging a user with no
	// directory is a no-op, not an error.
	Purge(userID int64) error
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename maps an upload name to a safe on-disk name. Path
// separators and other hostile characters are replaced with underscores;
// the result must be a plain .pdf name.
func SanitizeFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", E(KindInvalidFilename, "empty filename")
	}
	name = unsafeNameChars.ReplaceAllString(name, "_")
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return "", E(KindInvalidFilename, "not a .pdf file: %s", name)
	}
	if strings.TrimSuffix(name, filepath.Ext(name)) == "" {
		return "", E(KindInvalidFilename, "filename has no base name")
	}
	return name, nil
}
