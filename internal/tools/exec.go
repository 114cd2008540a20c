package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"pdfbot/internal/config"
	"pdfbot/internal/pdfbot"
)

// ExecToolchain runs the external PDF binaries as subprocesses: qpdf for
// merge/extract/linearize, pdfinfo for page counts, pdftoppm for
// rasterization, ghostscript for compression. Every output is written to a
// temp name and renamed into place on success, so failed or timed-out runs
// leave nothing at the destination.
type ExecToolchain struct {
	qpdf     string
	pdftoppm string
	pdfinfo  string
	gs       string
}

// NewExecToolchain creates a toolchain from the configured binary paths,
// falling back to the conventional names resolved via PATH.
func NewExecToolchain(cfg config.ToolsConfig) *ExecToolchain {
	t := &ExecToolchain{
		qpdf:     cfg.QPDF,
		pdftoppm: cfg.PDFToPPM,
		pdfinfo:  cfg.PDFInfo,
		gs:       cfg.Ghostscript,
	}
	if t.qpdf == "" {
		t.qpdf = "qpdf"
	}
	if t.pdftoppm == "" {
		t.pdftoppm = "pdftoppm"
	}
	if t.pdfinfo == "" {
		t.pdfinfo = "pdfinfo"
	}
	if t.gs == "" {
		t.gs = "gs"
	}
	return t
}

var pagesLine = regexp.MustCompile(`(?m)^Pages:\s+(\d+)\s*$`)

// PageCount reads the page count from pdfinfo output.
func (t *ExecToolchain) PageCount(ctx context.Context, path string) (int, error) {
	out, err := t.run(ctx, t.pdfinfo, path)
	if err != nil {
		return 0, err
	}
	return parsePageCount(out)
}

func parsePageCount(out string) (int, error) {
	m := pagesLine.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("no page count in pdfinfo output")
	}
	return strconv.Atoi(m[1])
}

// Merge concatenates the inputs, in order, into out.
func (t *ExecToolchain) Merge(ctx context.Context, inputs []string, out string) error {
	return t.runToFile(ctx, out, func(tmp string) error {
		args := append([]string{"--empty", "--pages"}, inputs...)
		args = append(args, "--", tmp)
		_, err := t.run(ctx, t.qpdf, args...)
		return err
	})
}

// ExtractPages writes the given 1-based pages of src, in order, to out.
func (t *ExecToolchain) ExtractPages(ctx context.Context, src string, pages []int, out string) error {
	return t.runToFile(ctx, out, func(tmp string) error {
		args := []string{src, "--pages", src}
		for _, p := range pages {
			args = append(args, strconv.Itoa(p))
		}
		args = append(args, "--", tmp)
		_, err := t.run(ctx, t.qpdf, args...)
		return err
	})
}

// Rasterize renders src into outDir as page-*.png files, replacing outDir
// if it exists. pdftoppm zero-pads page numbers, so the lexical sort from
// Glob is page order.
func (t *ExecToolchain) Rasterize(ctx context.Context, src, outDir string, dpi int) ([]string, error) {
	tmpDir, err := os.MkdirTemp(filepath.Dir(outDir), ".render-*")
	if err != nil {
		return nil, fmt.Errorf("creating render directory: %w", err)
	}
	success := false
	defer func() {
		if !success {
			os.RemoveAll(tmpDir)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	if _, err := t.run(ctx, t.pdftoppm, "-png", "-r", strconv.Itoa(dpi), src, prefix); err != nil {
		return nil, err
	}

	if err := os.RemoveAll(outDir); err != nil {
		return nil, fmt.Errorf("replacing image directory: %w", err)
	}
	if err := os.Rename(tmpDir, outDir); err != nil {
		return nil, fmt.Errorf("renaming image directory: %w", err)
	}
	success = true

	imgs, err := filepath.Glob(filepath.Join(outDir, "page-*.png"))
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	if len(imgs) == 0 {
		return nil, &pdfbot.ToolError{Tool: "pdftoppm", Reason: pdfbot.ToolReasonCrashed, Stderr: "no images produced"}
	}
	return imgs, nil
}

// Compress rewrites src through ghostscript at the given preset, then
// linearizes the result with qpdf.
func (t *ExecToolchain) Compress(ctx context.Context, src, out, preset string) error {
	return t.runToFile(ctx, out, func(tmp string) error {
		gsOut := tmp + ".gs"
		defer os.Remove(gsOut)

		args := []string{
			"-sDEVICE=pdfwrite",
			"-dCompatibilityLevel=1.4",
			"-dNOPAUSE", "-dBATCH", "-dSAFER",
			"-dPDFSETTINGS=/" + preset,
			"-dDetectDuplicateImages=true",
			"-dCompressFonts=true",
			"-dDownsampleColorImages=true",
			"-dDownsampleGrayImages=true",
			"-dDownsampleMonoImages=true",
			"-sOutputFile=" + gsOut,
			src,
		}
		if _, err := t.run(ctx, t.gs, args...); err != nil {
			return err
		}
		_, err := t.run(ctx, t.qpdf, "--linearize", gsOut, tmp)
		return err
	})
}

// runToFile runs fn against a temp destination and renames the result into
// place on success.
func (t *ExecToolchain) runToFile(ctx context.Context, dest string, fn func(tmp string) error) error {
	tmp := fmt.Sprintf("%s.%s.tmp", dest, uuid.NewString()[:8])
	if err := fn(tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming output: %w", err)
	}
	return nil
}

// run executes one binary, returning stdout. Failures become ToolErrors
// classified from stderr; a cancelled or timed-out context is surfaced as
// the context error so callers can map it to the timeout taxonomy.
func (t *ExecToolchain) run(ctx context.Context, bin string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s: %w", filepath.Base(bin), ctx.Err())
		}
		return "", &pdfbot.ToolError{
			Tool:   filepath.Base(bin),
			Reason: classifyStderr(stderr.String()),
			Stderr: tail(stderr.String(), 2000),
		}
	}
	return stdout.String(), nil
}

// classifyStderr maps tool stderr to a failure sub-reason.
func classifyStderr(s string) pdfbot.ToolReason {
	l := strings.ToLower(s)
	switch {
	case strings.Contains(l, "password"), strings.Contains(l, "encrypted"):
		return pdfbot.ToolReasonEncrypted
	case strings.Contains(l, "damaged"), strings.Contains(l, "not a pdf"),
		strings.Contains(l, "couldn't find startxref"), strings.Contains(l, "invalid"):
		return pdfbot.ToolReasonCorrupt
	default:
		return pdfbot.ToolReasonCrashed
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Compile-time check that ExecToolchain implements pdfbot.Toolchain.
var _ pdfbot.Toolchain = (*ExecToolchain)(nil)
