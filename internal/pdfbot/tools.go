package pdfbot

import "context"

// Toolchain is the boundary to the external PDF binaries. Implementations
// must honor ctx cancellation and must never leave partial output at the
// destination path on failure; outputs appear atomically or not at all.
type Toolchain interface {
	// PageCount reports the number of pages in the document at path.
	PageCount(ctx context.Context, path string) (int, error)

	// Merge concatenates the inputs, in order, into a single document at out.
	Merge(ctx context.Context, inputs []string, out string) error

	// ExtractPages writes the given 1-based pages of src, in the given
	// order, to out.
	ExtractPages(ctx context.Context, src string, pages []int, out string) error

	// Rasterize renders src to one PNG per page inside outDir at the given
	// dpi, replacing outDir if it exists. Returns the image paths in page
	// order.
	Rasterize(ctx context.Context, src, outDir string, dpi int) ([]string, error)

	// Compress rewrites src at the given quality preset to out.
	Compress(ctx context.Context, src, out, preset string) error
}
