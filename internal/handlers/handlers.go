// Package handlers implements the four document processing job types.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zulandar/docyard/internal/config"
	"github.com/zulandar/docyard/internal/content"
	"github.com/zulandar/docyard/internal/convert"
	"github.com/zulandar/docyard/internal/imaging"
	"github.com/zulandar/docyard/internal/jobtype"
	"github.com/zulandar/docyard/internal/models"
	"github.com/zulandar/docyard/internal/pdfdoc"
	"github.com/zulandar/docyard/internal/raster"
	"github.com/zulandar/docyard/internal/storage"
	"github.com/zulandar/docyard/internal/worker"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDPI          = 300
	defaultThumbnailDPI = 72
	defaultOCRLang      = "eng"
	defaultUploads      = 8
	thumbnailQuality    = 85
)

// Content locates document bytes.
type Content interface {
	Original(ctx context.Context, doc models.Document) content.Content
	Working(ctx context.Context, doc models.Document) content.Content
}

// Converter turns an upload into PDF.
type Converter interface {
	ToPDF(ctx context.Context, data []byte, filename string) ([]byte, string, error)
}

// Rasterizer renders PDF pages to PNG.
type Rasterizer interface {
	PagesToImages(ctx context.Context, pdf []byte, dpi int) ([]raster.Page, error)
}

// Recognizer extracts text from a page image.
type Recognizer interface {
	ImageToText(ctx context.Context, img []byte, lang string) (string, error)
}

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Content    Content
	Store      storage.ObjectStore
	Buckets    storage.Buckets
	Converter  Converter
	Rasterizer Rasterizer
	OCR        Recognizer
	Tools      config.ToolsConfig
	// Uploads caps concurrent artifact writes per page. Zero means 8.
	Uploads int
	Logger  *slog.Logger
}

func (d *Deps) validate() error {
	var errs []error
	if d.Content == nil {
		errs = append(errs, fmt.Errorf("handlers: content loader is required"))
	}
	if d.Store == nil {
		errs = append(errs, fmt.Errorf("handlers: object store is required"))
	}
	if d.Converter == nil {
		errs = append(errs, fmt.Errorf("handlers: converter is required"))
	}
	if d.Rasterizer == nil {
		errs = append(errs, fmt.Errorf("handlers: rasterizer is required"))
	}
	if d.OCR == nil {
		errs = append(errs, fmt.Errorf("handlers: ocr engine is required"))
	}
	return errors.Join(errs...)
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Registry builds the worker registry with one handler per job type.
func Registry(d Deps) (*worker.Registry, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	return worker.NewRegistry(map[jobtype.Type]worker.Handler{
		jobtype.Convert:   &Convert{Deps: &d},
		jobtype.Tile:      &Tile{Deps: &d},
		jobtype.Thumbnail: &Thumbnail{Deps: &d},
		jobtype.OCR:       &OCR{Deps: &d},
	})
}

// object is one artifact waiting to be written.
type object struct {
	bucket      string
	key         string
	data        []byte
	contentType string
}

// putAll writes objs concurrently and returns the first error.
func (d *Deps) putAll(ctx context.Context, objs []object) error {
	limit := d.Uploads
	if limit <= 0 {
		limit = defaultUploads
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, o := range objs {
		g.Go(func() error {
			if err := d.Store.Put(gctx, o.bucket, o.key, o.data, o.contentType); err != nil {
				return fmt.Errorf("store %s/%s: %w", o.bucket, o.key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// render rasterizes the working copy of doc. An image upload that never made
// it to PDF is used as a single page.
func (d *Deps) render(ctx context.Context, doc models.Document, work content.Content, dpi int) ([]raster.Page, error) {
	pages, err := d.Rasterizer.PagesToImages(ctx, work.Data, dpi)
	if err == nil {
		if len(pages) == 0 {
			return nil, fmt.Errorf("%w: no pages", pdfdoc.ErrCorrupt)
		}
		return pages, nil
	}
	if !errors.Is(err, pdfdoc.ErrCorrupt) || !convert.IsImage(doc.Title) {
		return nil, err
	}
	if _, derr := imaging.Decode(work.Data); derr != nil {
		return nil, err
	}
	d.logger().Info("rendering image upload directly", "document_id", doc.ID, "title", doc.Title)
	return []raster.Page{{Index: 0, Image: work.Data}}, nil
}

// outcome maps err to a terminal failure for unreadable input and a retry
// for everything else.
func outcome(step string, err error) worker.Outcome {
	if errors.Is(err, pdfdoc.ErrCorrupt) || errors.Is(err, imaging.ErrDecode) {
		return worker.Failf("%s: %v", step, err)
	}
	return worker.Retryf("%s: %v", step, err)
}

func report(task worker.Task, pct int) {
	if task.Progress != nil {
		task.Progress(pct)
	}
}

// stepProgress spreads per-page progress between from and to.
func stepProgress(from, to, done, total int) int {
	if total <= 0 {
		return to
	}
	return from + (to-from)*done/total
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
