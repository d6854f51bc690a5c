// Package convert turns uploaded documents into PDF. Images are wrapped with
// pdfcpu; office formats go through a headless LibreOffice.
package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zulandar/docyard/internal/artifact"
	"github.com/zulandar/docyard/internal/pdfdoc"
	"github.com/zulandar/docyard/internal/runner"
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// IsImage reports whether filename is an image format ToPDF wraps directly.
func IsImage(filename string) bool {
	return imageExts[strings.ToLower(filepath.Ext(filename))]
}

// Converter produces PDFs from arbitrary uploads.
type Converter struct {
	Runner  runner.Runner
	Soffice string
}

// New returns a Converter that runs soffice through r.
func New(r runner.Runner, soffice string) *Converter {
	if soffice == "" {
		soffice = "soffice"
	}
	return &Converter{Runner: r, Soffice: soffice}
}

// ToPDF converts data, uploaded as filename, to PDF. It returns the PDF bytes
// and the PDF file name. Input that is already a PDF is validated and returned
// unchanged.
func (c *Converter) ToPDF(ctx context.Context, data []byte, filename string) ([]byte, string, error) {
	pdfName := artifact.PDFName(filename)
	ext := strings.ToLower(filepath.Ext(filename))

	switch {
	case ext == ".pdf":
		if err := pdfdoc.Validate(data); err != nil {
			return nil, "", err
		}
		return data, pdfName, nil
	case IsImage(filename):
		pdf, err := pdfdoc.FromImages(data)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", pdfdoc.ErrCorrupt, err)
		}
		return pdf, pdfName, nil
	default:
		pdf, err := c.office(ctx, data, filename)
		if err != nil {
			return nil, "", err
		}
		return pdf, pdfName, nil
	}
}

// office runs soffice --headless --convert-to pdf in a scratch directory.
func (c *Converter) office(ctx context.Context, data []byte, filename string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "dy-convert-*")
	if err != nil {
		return nil, fmt.Errorf("convert: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	name := filepath.Base(filepath.FromSlash(filename))
	if name == "." || name == string(filepath.Separator) {
		name = "document"
	}
	in := filepath.Join(dir, name)
	if err := os.WriteFile(in, data, 0600); err != nil {
		return nil, fmt.Errorf("convert: write input: %w", err)
	}

	_, stderr, err := c.Runner.Run(ctx, c.Soffice,
		"--headless", "--norestore", "--convert-to", "pdf", "--outdir", dir, in)
	if err != nil {
		return nil, fmt.Errorf("convert: %s %s: %w: %s", c.Soffice, name, err, runner.Truncate(string(stderr), 512))
	}

	out := filepath.Join(dir, strings.TrimSuffix(name, filepath.Ext(name))+".pdf")
	pdf, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("convert: %s produced no pdf for %s: %w", c.Soffice, name, err)
	}
	if err := pdfdoc.Validate(pdf); err != nil {
		return nil, err
	}
	return pdf, nil
}
