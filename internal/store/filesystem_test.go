package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *FileSystemStore {
	t.Helper()
	s, err := NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return s
}

func TestWrite(t *testing.T) {
	s := newTestStore(t)

	stored, err := s.Write(7, "doc.pdf", strings.NewReader("content"), 7)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if stored.Name != "doc.pdf" {
		t.Errorf("Name = %q, want doc.pdf", stored.Name)
	}
	if stored.Size != 7 {
		t.Errorf("Size = %d, want 7", stored.Size)
	}
	data, err := os.ReadFile(stored.Path)
	if err != nil {
		t.Fatalf("reading stored file: %v", err)
	}
	if string(data) != "content" {
		t.Errorf("content = %q, want %q", data, "content")
	}
	if filepath.Dir(stored.Path) != s.UserDir(7) {
		t.Errorf("file written outside the user directory: %s", stored.Path)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Write(7, "doc.pdf", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Write: %v", err)
	}
	leftovers, err := filepath.Glob(filepath.Join(s.UserDir(7), ".upload-*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestWriteSizeMismatch(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Write(7, "doc.pdf", strings.NewReader("short"), 100)
	if err == nil {
		t.Fatal("expected a size mismatch error")
	}

	// Neither the final file nor the temp file may survive a failed write.
	entries, readErr := os.ReadDir(s.UserDir(7))
	if readErr != nil {
		t.Fatalf("reading user dir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("failed write left files behind: %v", entries)
	}
}

func TestWriteDeduplicatesNames(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Write(7, "doc.pdf", strings.NewReader("1"), 1)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	second, err := s.Write(7, "doc.pdf", strings.NewReader("2"), 1)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	third, err := s.Write(7, "doc.pdf", strings.NewReader("3"), 1)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if first.Name != "doc.pdf" || second.Name != "doc_2.pdf" || third.Name != "doc_3.pdf" {
		t.Errorf("names = %q, %q, %q; want doc.pdf, doc_2.pdf, doc_3.pdf",
			first.Name, second.Name, third.Name)
	}
	data, err := os.ReadFile(first.Path)
	if err != nil {
		t.Fatalf("reading first file: %v", err)
	}
	if string(data) != "1" {
		t.Errorf("first upload overwritten: %q", data)
	}
}

func TestUsersDoNotShareDirectories(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Write(1, "doc.pdf", strings.NewReader("a"), 1)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	b, err := s.Write(2, "doc.pdf", strings.NewReader("b"), 1)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Dir(a.Path) == filepath.Dir(b.Path) {
		t.Error("two users share one directory")
	}
	if a.Name != "doc.pdf" || b.Name != "doc.pdf" {
		t.Errorf("cross-user dedup applied: %q, %q", a.Name, b.Name)
	}
}

func TestOutputPathCreatesUserDir(t *testing.T) {
	s := newTestStore(t)

	out, err := s.OutputPath(7, "merged.pdf")
	if err != nil {
		t.Fatalf("OutputPath: %v", err)
	}
	if filepath.Dir(out) != s.UserDir(7) {
		t.Errorf("output path outside the user directory: %s", out)
	}
	if info, err := os.Stat(s.UserDir(7)); err != nil || !info.IsDir() {
		t.Errorf("user directory not created: %v", err)
	}
}

func TestPurge(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Write(7, "doc.pdf", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Purge(7); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, err := os.Stat(s.UserDir(7)); !os.IsNotExist(err) {
		t.Error("user directory still present after purge")
	}

	// Purging an absent user is a no-op.
	if err := s.Purge(99); err != nil {
		t.Errorf("Purge of absent user: %v", err)
	}
}
