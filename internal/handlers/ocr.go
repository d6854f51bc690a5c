package handlers

import (
	"context"
	"encoding/json"

	"github.com/zulandar/docyard/internal/artifact"
	"github.com/zulandar/docyard/internal/worker"
)

// PageText is the recognized text of one page.
type PageText struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// OCRResult is the document stored at artifact.OCRText. JobID names the job
// that wrote it, so output of a replaced job set is never mistaken for the
// current one.
type OCRResult struct {
	DocumentID uint       `json:"document_id"`
	JobID      uint       `json:"job_id"`
	Pages      []PageText `json:"pages"`
	TotalPages int        `json:"total_pages"`
}

// OCR extracts the text of every page. A page that fails recognition is
// recorded inline and does not fail the job.
type OCR struct {
	*Deps
}

func (h *OCR) Handle(ctx context.Context, task worker.Task) worker.Outcome {
	doc := task.Document
	work := h.Content.Working(ctx, doc)
	report(task, 20)

	pages, err := h.render(ctx, doc, work, orDefault(h.Tools.DPI, defaultDPI))
	if err != nil {
		return outcome("rasterize", err)
	}
	report(task, 40)

	lang := doc.Language
	if lang == "" {
		lang = h.Tools.OCRLang
	}
	if lang == "" {
		lang = defaultOCRLang
	}

	res := OCRResult{DocumentID: doc.ID, JobID: task.Job.ID, TotalPages: len(pages)}
	for i, p := range pages {
		n := p.Index + 1
		text, err := h.OCR.ImageToText(ctx, p.Image, lang)
		if err != nil {
			if ctx.Err() != nil {
				return worker.Retryf("ocr page %d: %v", n, ctx.Err())
			}
			h.logger().Warn("page ocr failed", "document_id", doc.ID, "page", n, "error", err)
			text = "[OCR Error: " + err.Error() + "]"
		}
		res.Pages = append(res.Pages, PageText{Page: n, Text: text})
		report(task, stepProgress(40, 90, i+1, len(pages)))
	}

	data, err := json.Marshal(res)
	if err != nil {
		return worker.Failf("encode ocr result: %v", err)
	}
	obj := object{h.Buckets.OCR, artifact.OCRText(doc.ID), data, "application/json"}
	if err := h.putAll(ctx, []object{obj}); err != nil {
		return worker.Retryf("upload ocr result: %v", err)
	}
	h.logger().Info("document ocr finished", "document_id", doc.ID, "pages", len(pages), "language", lang)
	return worker.Done("")
}
