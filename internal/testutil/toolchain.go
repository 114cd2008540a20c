package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"pdfbot/internal/pdfbot"
)

// StubToolchain is an in-process pdfbot.Toolchain for tests. It fabricates
// outputs instead of invoking binaries, records every call, and reports
// page counts from a configurable table.
type StubToolchain struct {
	mu sync.Mutex

	// PageCounts maps a source path to its page count. Paths not present
	// use DefaultPages.
	PageCounts   map[string]int
	DefaultPages int

	// Err, when set, is returned by every operation.
	Err error

	MergeCalls   [][]string
	ExtractCalls [][]int
}

// NewStubToolchain returns a toolchain reporting 3 pages per document.
func NewStubToolchain() *StubToolchain {
	return &StubToolchain{PageCounts: make(map[string]int), DefaultPages: 3}
}

// SetPages sets the page count reported for path.
func (t *StubToolchain) SetPages(path string, pages int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.PageCounts[path] = pages
}

func (t *StubToolchain) pages(path string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.PageCounts[path]; ok {
		return n
	}
	return t.DefaultPages
}

func (t *StubToolchain) PageCount(_ context.Context, path string) (int, error) {
	if t.Err != nil {
		return 0, t.Err
	}
	return t.pages(path), nil
}

func (t *StubToolchain) Merge(_ context.Context, inputs []string, out string) error {
	if t.Err != nil {
		return t.Err
	}
	t.mu.Lock()
	t.MergeCalls = append(t.MergeCalls, append([]string(nil), inputs...))
	t.mu.Unlock()
	return os.WriteFile(out, []byte("merged:"+strings.Join(inputs, ",")), 0644)
}

func (t *StubToolchain) ExtractPages(_ context.Context, src string, pages []int, out string) error {
	if t.Err != nil {
		return t.Err
	}
	t.mu.Lock()
	t.ExtractCalls = append(t.ExtractCalls, append([]int(nil), pages...))
	t.mu.Unlock()
	return os.WriteFile(out, []byte(fmt.Sprintf("extract:%s:%v", src, pages)), 0644)
}

func (t *StubToolchain) Rasterize(_ context.Context, src, outDir string, dpi int) ([]string, error) {
	if t.Err != nil {
		return nil, t.Err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}
	n := t.pages(src)
	paths := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("page-%02d.png", i))
		if err := os.WriteFile(p, []byte(fmt.Sprintf("png:%d:%ddpi", i, dpi)), 0644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func (t *StubToolchain) Compress(_ context.Context, src, out, preset string) error {
	if t.Err != nil {
		return t.Err
	}
	return os.WriteFile(out, []byte("compressed:"+preset+":"+src), 0644)
}

// Compile-time check that StubToolchain implements pdfbot.Toolchain.
var _ pdfbot.Toolchain = (*StubToolchain)(nil)
