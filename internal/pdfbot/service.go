package pdfbot

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Limits carries the per-operation policy knobs, fixed at startup.
type Limits struct {
	MaxFileBytes   int64
	ToolTimeout    time.Duration
	DefaultDPI     int
	MaxRenderPages int
}

// Rasterization results above this many pages are bundled into one zip
// archive instead of being returned as individual image paths.
const zipThreshold = 10

// Service validates and sequences user commands against their sessions,
// delegating all PDF byte work to the external toolchain. Mutating
// operations are serialized per user by the session lock and never across
// users; a concurrent second command for the same user is rejected with
// KindSessionBusy.
type Service struct {
	registry *Registry
	store    FileStore
	db       Database
	tools    Toolchain
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	limits   Limits
}

// NewService creates a Service with the provided dependencies.
func NewService(registry *Registry, store FileStore, db Database, tools Toolchain, logger Logger, clock Clock, idgen IDGenerator, limits Limits) *Service {
	return &Service{
		registry: registry,
		store:    store,
		db:       db,
		tools:    tools,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		limits:   limits,
	}
}

// Registry exposes the session registry, mainly for wiring the reaper.
func (s *Service) Registry() *Registry { return s.registry }

// Upload stores one PDF into the user's working set. The file is appended
// at the end of the set; upload order is the merge order.
func (s *Service) Upload(userID int64, filename string, r io.Reader, size int64) (*FileRef, error) {
	if size > s.limits.MaxFileBytes {
		return nil, E(KindFileTooLarge, "file is %d bytes, limit is %d", size, s.limits.MaxFileBytes)
	}
	name, err := SanitizeFilename(filename)
	if err != nil {
		return nil, err
	}

	sess, err := s.acquire(userID)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	stored, err := s.store.Write(userID, name, r, size)
	if err != nil {
		return nil, WrapE(KindStorage, err, "storing %s", name)
	}
	ref := FileRef{
		ID:         s.idgen.New(),
		Filename:   stored.Name,
		StoredPath: stored.Path,
		SizeBytes:  stored.Size,
		UploadedAt: s.clock.Now(),
	}
	if err := s.db.AppendFileRef(userID, &ref); err != nil {
		// Keep disk and index consistent: a file without a ref would be
		// invisible to list/merge yet still claim its name until expiry.
		if rmErr := os.Remove(stored.Path); rmErr != nil {
			s.logger.Warn("removing unindexed upload", "user", userID, "path", stored.Path, "error", rmErr)
		}
		return nil, WrapE(KindStorage, err, "indexing %s", stored.Name)
	}
	sess.appendRef(ref)
	s.registry.Touch(userID)
	s.logger.Info("file uploaded", "user", userID, "name", stored.Name, "size", stored.Size)
	return &ref, nil
}

// List returns the user's working set in upload order. An empty set is a
// valid result, not an error. List takes no operation lock.
func (s *Service) List(userID int64) ([]FileRef, error) {
	sess, err := s.registry.GetOrCreate(userID)
	if err != nil {
		return nil, err
	}
	refs := sess.Refs()
	s.registry.Touch(userID)
	return refs, nil
}

// MergeResult describes a completed merge.
type MergeResult struct {
	OutputPath string
	InputCount int
}

// Merge concatenates every file in the set, in upload order, into one
// document. Requires at least two files.
func (s *Service) Merge(userID int64) (*MergeResult, error) {
	sess, err := s.acquire(userID)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	refs := sess.Refs()
	if len(refs) < 2 {
		return nil, E(KindInsufficientFiles, "merge needs at least 2 files, have %d", len(refs))
	}
	inputs := make([]string, len(refs))
	for i, ref := range refs {
		inputs[i] = ref.StoredPath
	}

	out, err := s.store.OutputPath(userID, "merged.pdf")
	if err != nil {
		return nil, WrapE(KindStorage, err, "preparing merge output")
	}

	ctx, cancel := s.toolContext()
	defer cancel()
	if err := s.tools.Merge(ctx, inputs, out); err != nil {
		return nil, toolOpError(err, "merging %d files", len(inputs))
	}

	s.registry.Touch(userID)
	s.logger.Info("files merged", "user", userID, "count", len(inputs))
	return &MergeResult{OutputPath: out, InputCount: len(inputs)}, nil
}

// ExtractResult describes a completed page extraction.
type ExtractResult struct {
	Source     string
	TotalPages int
	Pages      []int // resolved pages, ascending
	Compact    string
	OutputPath string
}

// Extract writes the pages selected by rangeSpec from the named file to a
// new document. The source file set is left unchanged.
func (s *Service) Extract(userID int64, filename, rangeSpec string) (*ExtractResult, error) {
	sess, err := s.acquire(userID)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	ref, ok := sess.findRef(filename)
	if !ok {
		return nil, E(KindFileNotFound, "no file named %s in your set", filename)
	}

	ctx, cancel := s.toolContext()
	defer cancel()

	total, err := s.tools.PageCount(ctx, ref.StoredPath)
	if err != nil {
		return nil, toolOpError(err, "reading page count of %s", ref.Filename)
	}
	pages, err := ParsePageRanges(rangeSpec, total)
	if err != nil {
		return nil, err
	}

	outName := fmt.Sprintf("extract_%s_%s.pdf", stem(ref.Filename), slug(rangeSpec))
	out, err := s.store.OutputPath(userID, outName)
	if err != nil {
		return nil, WrapE(KindStorage, err, "preparing extract output")
	}
	if err := s.tools.ExtractPages(ctx, ref.StoredPath, pages, out); err != nil {
		return nil, toolOpError(err, "extracting pages from %s", ref.Filename)
	}

	resolved := append([]int(nil), pages...)
	sort.Ints(resolved)

	s.registry.Touch(userID)
	s.logger.Info("pages extracted", "user", userID, "source", ref.Filename, "pages", len(resolved))
	return &ExtractResult{
		Source:     ref.Filename,
		TotalPages: total,
		Pages:      resolved,
		Compact:    CompactRanges(resolved),
		OutputPath: out,
	}, nil
}

// ImagesResult describes a completed rasterization. Either ImagePaths or
// ZipPath is set, never both.
type ImagesResult struct {
	Source     string
	Pages      int
	DPI        int
	ImagePaths []string
	ZipPath    string
}

// Images renders the named file to one PNG per page. dpi 0 selects the
// default; values are clamped to 72..400. Documents above the render page
// limit are rejected before the tool runs.
func (s *Service) Images(userID int64, filename string, dpi int) (*ImagesResult, error) {
	if dpi == 0 {
		dpi = s.limits.DefaultDPI
	}
	if dpi < 72 {
		dpi = 72
	}
	if dpi > 400 {
		dpi = 400
	}

	sess, err := s.acquire(userID)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	ref, ok := sess.findRef(filename)
	if !ok {
		return nil, E(KindFileNotFound, "no file named %s in your set", filename)
	}

	ctx, cancel := s.toolContext()
	defer cancel()

	total, err := s.tools.PageCount(ctx, ref.StoredPath)
	if err != nil {
		return nil, toolOpError(err, "reading page count of %s", ref.Filename)
	}
	if total > s.limits.MaxRenderPages {
		return nil, E(KindTooManyPages, "document has %d pages, render limit is %d", total, s.limits.MaxRenderPages)
	}

	dirName := fmt.Sprintf("images_%s_%ddpi", stem(ref.Filename), dpi)
	outDir, err := s.store.OutputPath(userID, dirName)
	if err != nil {
		return nil, WrapE(KindStorage, err, "preparing image output")
	}
	imgs, err := s.tools.Rasterize(ctx, ref.StoredPath, outDir, dpi)
	if err != nil {
		return nil, toolOpError(err, "rendering %s", ref.Filename)
	}

	result := &ImagesResult{Source: ref.Filename, Pages: len(imgs), DPI: dpi}
	if len(imgs) > zipThreshold {
		zipPath, err := s.store.OutputPath(userID, dirName+".zip")
		if err != nil {
			return nil, WrapE(KindStorage, err, "preparing image archive")
		}
		if err := zipFiles(imgs, zipPath); err != nil {
			return nil, WrapE(KindStorage, err, "archiving images for %s", ref.Filename)
		}
		result.ZipPath = zipPath
	} else {
		result.ImagePaths = imgs
	}

	s.registry.Touch(userID)
	s.logger.Info("file rendered", "user", userID, "source", ref.Filename, "pages", len(imgs), "dpi", dpi)
	return result, nil
}

// CompressResult describes a completed compression.
type CompressResult struct {
	Source      string
	Preset      string
	OutputPath  string
	BytesBefore int64
	BytesAfter  int64
}

var compressPresets = map[string]bool{
	"screen":   true,
	"ebook":    true,
	"printer":  true,
	"prepress": true,
}

// Compress rewrites the named file at the given Ghostscript quality preset
// and linearizes the result.
func (s *Service) Compress(userID int64, filename, preset string) (*CompressResult, error) {
	preset = strings.ToLower(strings.TrimSpace(preset))
	if !compressPresets[preset] {
		return nil, E(KindInvalidPreset, "preset must be one of screen, ebook, printer, prepress")
	}

	sess, err := s.acquire(userID)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	ref, ok := sess.findRef(filename)
	if !ok {
		return nil, E(KindFileNotFound, "no file named %s in your set", filename)
	}

	out, err := s.store.OutputPath(userID, fmt.Sprintf("compressed_%s_%s", preset, ref.Filename))
	if err != nil {
		return nil, WrapE(KindStorage, err, "preparing compress output")
	}

	ctx, cancel := s.toolContext()
	defer cancel()
	if err := s.tools.Compress(ctx, ref.StoredPath, out, preset); err != nil {
		return nil, toolOpError(err, "compressing %s", ref.Filename)
	}

	info, err := os.Stat(out)
	if err != nil {
		return nil, WrapE(KindStorage, err, "reading compressed output size")
	}

	s.registry.Touch(userID)
	s.logger.Info("file compressed", "user", userID, "source", ref.Filename, "preset", preset,
		"before", ref.SizeBytes, "after", info.Size())
	return &CompressResult{
		Source:      ref.Filename,
		Preset:      preset,
		OutputPath:  out,
		BytesBefore: ref.SizeBytes,
		BytesAfter:  info.Size(),
	}, nil
}

// Clear empties the user's working set, removing uploads and operation
// outputs alike. Clearing an already-empty session succeeds. Clear counts
// as activity: the session's TTL restarts.
func (s *Service) Clear(userID int64) error {
	sess, err := s.acquire(userID)
	if err != nil {
		return err
	}
	defer sess.Release()

	if err := s.store.Purge(userID); err != nil {
		return WrapE(KindStorage, err, "clearing files for user %d", userID)
	}
	if err := s.db.DeleteFileRefs(userID); err != nil {
		return WrapE(KindStorage, err, "clearing file index for user %d", userID)
	}
	sess.clearRefs()
	s.registry.Touch(userID)
	s.logger.Info("session cleared", "user", userID)
	return nil
}

// acquire resolves the session and takes its operation lock, rejecting
// immediately when another operation is in flight.
func (s *Service) acquire(userID int64) (*Session, error) {
	sess, err := s.registry.GetOrCreate(userID)
	if err != nil {
		return nil, err
	}
	if !sess.TryAcquire() {
		return nil, E(KindSessionBusy, "another operation is already running for user %d", userID)
	}
	return sess, nil
}

// toolContext bounds external tool invocations. It is deliberately not
// derived from a caller context: an in-flight tool run is allowed to finish
// even if the transport gives up, so the file set stays consistent.
func (s *Service) toolContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.limits.ToolTimeout)
}

// toolOpError maps a toolchain failure to the operation error taxonomy.
func toolOpError(err error, format string, args ...any) error {
	kind := KindExternalTool
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindToolTimeout
	}
	return WrapE(kind, err, format, args...)
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// slug makes a range spec safe to embed in an output filename.
func slug(spec string) string {
	spec = unsafeNameChars.ReplaceAllString(strings.TrimSpace(spec), "_")
	if spec == "" {
		return "pages"
	}
	return spec
}

// zipFiles writes the given files into a zip archive at zipPath, atomically.
func zipFiles(paths []string, zipPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(zipPath), ".zip-*")
	if err != nil {
		return fmt.Errorf("creating temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	zw := zip.NewWriter(tmp)
	for _, path := range paths {
		if err := addToZip(zw, path); err != nil {
			zw.Close()
			tmp.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finalizing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	if err := os.Rename(tmpPath, zipPath); err != nil {
		return fmt.Errorf("renaming archive: %w", err)
	}
	success = true
	return nil
}

func addToZip(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return fmt.Errorf("adding %s to archive: %w", path, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("writing %s to archive: %w", path, err)
	}
	return nil
}
