// Package content loads the bytes a handler works on. It never fails: when
// nothing can be found it hands back a placeholder PDF so the pipeline keeps
// moving.
package content

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zulandar/docyard/internal/artifact"
	"github.com/zulandar/docyard/internal/models"
	"github.com/zulandar/docyard/internal/pdfdoc"
	"github.com/zulandar/docyard/internal/storage"
)

// Origin records where a Content came from.
type Origin string

const (
	FromStore       Origin = "store"
	FromUploadDir   Origin = "upload_dir"
	FromConverted   Origin = "converted"
	FromConversion  Origin = "converted_on_the_fly"
	FromPlaceholder Origin = "placeholder"
)

// Content is a loaded document body.
type Content struct {
	Data     []byte
	Filename string
	Origin   Origin
}

// IsPlaceholder reports whether the real upload could not be found.
func (c Content) IsPlaceholder() bool { return c.Origin == FromPlaceholder }

// Converter is the subset of convert.Converter the loader uses.
type Converter interface {
	ToPDF(ctx context.Context, data []byte, filename string) ([]byte, string, error)
}

// Loader finds document bytes in the object store and the upload directory.
type Loader struct {
	Store     storage.ObjectStore
	Buckets   storage.Buckets
	UploadDir string
	Converter Converter
	Logger    *slog.Logger
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// Original returns the uploaded file for doc. It looks in the originals
// bucket, then the upload directory, then falls back to a placeholder PDF.
func (l *Loader) Original(ctx context.Context, doc models.Document) Content {
	data, err := l.Store.Get(ctx, l.Buckets.Originals, artifact.Original(doc.Title))
	if err == nil && len(data) > 0 {
		return Content{Data: data, Filename: doc.Title, Origin: FromStore}
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		l.logger().Warn("original lookup failed", "document_id", doc.ID, "error", err)
	}

	if data, path, ok := l.readUpload(doc.Title, idPrefixed(doc.ID, doc.Title)); ok {
		l.logger().Debug("original found in upload dir", "document_id", doc.ID, "path", path)
		return Content{Data: data, Filename: doc.Title, Origin: FromUploadDir}
	}

	l.logger().Warn("original not found, using placeholder", "document_id", doc.ID, "title", doc.Title)
	return l.placeholder(doc)
}

// Working returns the PDF the page handlers operate on. PDFs load as their
// original. Other formats prefer the stored converted PDF, then convert the
// original on the fly, then fall back to the original bytes as they are.
func (l *Loader) Working(ctx context.Context, doc models.Document) Content {
	if artifact.IsPDF(doc.Title) {
		return l.Original(ctx, doc)
	}
	pdfName := artifact.PDFName(doc.Title)

	data, err := l.Store.Get(ctx, l.Buckets.Originals, artifact.ConvertedPDF(doc.ID, doc.Title))
	if err == nil && len(data) > 0 {
		return Content{Data: data, Filename: pdfName, Origin: FromConverted}
	}
	if data, _, ok := l.readUpload(idPrefixed(doc.ID, pdfName), pdfName); ok {
		return Content{Data: data, Filename: pdfName, Origin: FromConverted}
	}

	orig := l.Original(ctx, doc)
	if orig.IsPlaceholder() || l.Converter == nil {
		return orig
	}
	pdf, name, err := l.Converter.ToPDF(ctx, orig.Data, doc.Title)
	if err != nil {
		l.logger().Warn("on-the-fly conversion failed, using original",
			"document_id", doc.ID, "error", err)
		return orig
	}
	return Content{Data: pdf, Filename: name, Origin: FromConversion}
}

// readUpload returns the first non-empty file among names in UploadDir.
func (l *Loader) readUpload(names ...string) ([]byte, string, bool) {
	if l.UploadDir == "" {
		return nil, "", false
	}
	for _, name := range names {
		if strings.Contains(name, "..") {
			continue
		}
		path := filepath.Join(l.UploadDir, filepath.FromSlash(name))
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			return data, path, true
		}
	}
	return nil, "", false
}

func (l *Loader) placeholder(doc models.Document) Content {
	data, err := pdfdoc.Placeholder(doc.Title)
	if err != nil {
		l.logger().Error("placeholder render failed", "document_id", doc.ID, "error", err)
	}
	return Content{Data: data, Filename: artifact.PDFName(doc.Title), Origin: FromPlaceholder}
}

func idPrefixed(id uint, name string) string {
	return strconv.FormatUint(uint64(id), 10) + "_" + name
}
