// Package raster renders PDF pages to PNG images with poppler's pdftoppm.
package raster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/zulandar/docyard/internal/pdfdoc"
	"github.com/zulandar/docyard/internal/runner"
)

// Page is one rendered page. Index counts from 0.
type Page struct {
	Index int
	Image []byte
}

// Rasterizer shells out to pdftoppm.
type Rasterizer struct {
	Runner   runner.Runner
	Pdftoppm string
}

// New returns a Rasterizer that runs pdftoppm through r.
func New(r runner.Runner, pdftoppm string) *Rasterizer {
	if pdftoppm == "" {
		pdftoppm = "pdftoppm"
	}
	return &Rasterizer{Runner: r, Pdftoppm: pdftoppm}
}

// PagesToImages renders every page of pdf at dpi. The pdf is validated first
// so unreadable input fails with pdfdoc.ErrCorrupt.
func (r *Rasterizer) PagesToImages(ctx context.Context, pdf []byte, dpi int) ([]Page, error) {
	if err := pdfdoc.Validate(pdf); err != nil {
		return nil, err
	}
	if dpi <= 0 {
		dpi = 300
	}

	dir, err := os.MkdirTemp("", "dy-raster-*")
	if err != nil {
		return nil, fmt.Errorf("raster: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, pdf, 0600); err != nil {
		return nil, fmt.Errorf("raster: write input: %w", err)
	}
	prefix := filepath.Join(dir, "page")

	_, stderr, err := r.Runner.Run(ctx, r.Pdftoppm, "-r", strconv.Itoa(dpi), "-png", in, prefix)
	if err != nil {
		return nil, fmt.Errorf("raster: pdftoppm: %w: %s", err, runner.Truncate(string(stderr), 512))
	}

	files, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, fmt.Errorf("raster: glob: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("raster: pdftoppm produced no pages")
	}
	// pdftoppm zero-pads page numbers to the width of the page count, but
	// sort numerically anyway.
	sort.Slice(files, func(i, j int) bool {
		return pageNumber(files[i]) < pageNumber(files[j])
	})

	pages := make([]Page, 0, len(files))
	for i, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("raster: read %s: %w", filepath.Base(f), err)
		}
		pages = append(pages, Page{Index: i, Image: data})
	}
	return pages, nil
}

func pageNumber(file string) int {
	base := strings.TrimSuffix(filepath.Base(file), ".png")
	n, _ := strconv.Atoi(base[strings.LastIndex(base, "-")+1:])
	return n
}
