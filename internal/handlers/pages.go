package handlers

import (
	"context"

	"github.com/zulandar/docyard/internal/artifact"
	"github.com/zulandar/docyard/internal/imaging"
	"github.com/zulandar/docyard/internal/worker"
)

// Tile renders every page onto a fixed canvas and cuts it into tiles for the
// zoomable viewer.
type Tile struct {
	*Deps
	// Canvas and tile geometry; zero values use the imaging defaults.
	CanvasWidth, CanvasHeight, TileSize int
}

func (h *Tile) Handle(ctx context.Context, task worker.Task) worker.Outcome {
	doc := task.Document
	work := h.Content.Working(ctx, doc)
	report(task, 20)

	pages, err := h.render(ctx, doc, work, orDefault(h.Tools.DPI, defaultDPI))
	if err != nil {
		return outcome("rasterize", err)
	}
	report(task, 50)

	w := orDefault(h.CanvasWidth, imaging.CanvasWidth)
	ht := orDefault(h.CanvasHeight, imaging.CanvasHeight)
	size := orDefault(h.TileSize, imaging.TileSize)

	for i, p := range pages {
		n := p.Index + 1
		img, err := imaging.Decode(p.Image)
		if err != nil {
			return outcome("decode page", err)
		}
		canvas := imaging.FitCanvas(img, w, ht)
		full, err := imaging.EncodePNG(canvas)
		if err != nil {
			return worker.Retryf("encode page %d: %v", n, err)
		}
		objs := []object{{h.Buckets.Tiles, artifact.PageImage(doc.ID, n), full, "image/png"}}
		for _, t := range imaging.Tiles(canvas, size) {
			data, err := imaging.EncodePNG(t.Image)
			if err != nil {
				return worker.Retryf("encode tile %d/%d_%d: %v", n, t.X, t.Y, err)
			}
			objs = append(objs, object{h.Buckets.Tiles, artifact.Tile(doc.ID, n, t.X, t.Y), data, "image/png"})
		}
		if err := h.putAll(ctx, objs); err != nil {
			return worker.Retryf("upload page %d: %v", n, err)
		}
		report(task, stepProgress(50, 90, i+1, len(pages)))
	}

	h.logger().Info("document tiled", "document_id", doc.ID, "pages", len(pages))
	return worker.Done("")
}

// Thumbnail writes a small JPEG preview of every page.
type Thumbnail struct {
	*Deps
}

func (h *Thumbnail) Handle(ctx context.Context, task worker.Task) worker.Outcome {
	doc := task.Document
	work := h.Content.Working(ctx, doc)
	report(task, 25)

	pages, err := h.render(ctx, doc, work, orDefault(h.Tools.ThumbnailDPI, defaultThumbnailDPI))
	if err != nil {
		return outcome("rasterize", err)
	}
	report(task, 50)

	for i, p := range pages {
		n := p.Index + 1
		img, err := imaging.Decode(p.Image)
		if err != nil {
			return outcome("decode page", err)
		}
		data, err := imaging.EncodeJPEG(imaging.Thumbnail(img, imaging.ThumbWidth, imaging.ThumbHeight), thumbnailQuality)
		if err != nil {
			return worker.Retryf("encode thumbnail %d: %v", n, err)
		}
		obj := object{h.Buckets.Thumbnails, artifact.Thumbnail(doc.ID, n), data, "image/jpeg"}
		if err := h.putAll(ctx, []object{obj}); err != nil {
			return worker.Retryf("upload thumbnail %d: %v", n, err)
		}
		report(task, stepProgress(50, 100, i+1, len(pages)))
	}
	return worker.Done("")
}
