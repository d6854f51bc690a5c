package handlers

import (
	"context"

	"github.com/zulandar/docyard/internal/artifact"
	"github.com/zulandar/docyard/internal/worker"
)

// NoteAlreadyPDF is the success note of a convert job on a PDF upload.
const NoteAlreadyPDF = "already PDF"

// Convert stores a PDF rendition of the upload in the originals bucket.
type Convert struct {
	*Deps
}

func (h *Convert) Handle(ctx context.Context, task worker.Task) worker.Outcome {
	doc := task.Document
	if artifact.IsPDF(doc.Title) {
		report(task, 100)
		return worker.Done(NoteAlreadyPDF)
	}

	orig := h.Content.Original(ctx, doc)
	if len(orig.Data) == 0 {
		return worker.Retry("load original: no data")
	}
	report(task, 20)

	pdf := orig.Data
	if !orig.IsPlaceholder() {
		var err error
		if pdf, _, err = h.Converter.ToPDF(ctx, orig.Data, doc.Title); err != nil {
			return outcome("convert to pdf", err)
		}
	}
	report(task, 70)

	err := h.putAll(ctx, []object{{
		bucket:      h.Buckets.Originals,
		key:         artifact.ConvertedPDF(doc.ID, doc.Title),
		data:        pdf,
		contentType: "application/pdf",
	}})
	if err != nil {
		return worker.Retryf("upload converted pdf: %v", err)
	}
	h.logger().Info("document converted",
		"document_id", doc.ID, "source", orig.Origin, "bytes", len(pdf))
	report(task, 100)
	return worker.Done("")
}
