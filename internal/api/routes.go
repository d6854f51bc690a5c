package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/docyard/internal/dispatch"
	"github.com/zulandar/docyard/internal/models"
	"github.com/zulandar/docyard/internal/store"
)

// registerRoutes sets up all API routes on the gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	h := &handler{opts: opts}

	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))

	docs := router.Group("/documents")
	{
		docs.GET("", h.listDocuments)
		docs.POST("", h.createDocument)
		docs.GET("/:id", h.getDocument)
		docs.POST("/:id/process", h.process)
		docs.POST("/:id/reprocess", h.reprocess)
		docs.GET("/:id/jobs", h.jobs)
	}

	router.POST("/admin/sweep", h.sweep)
}

type handler struct {
	opts StartOpts
}

// CreateDocumentRequest registers an uploaded document.
type CreateDocumentRequest struct {
	Title    string `json:"title" binding:"required"`
	Language string `json:"language"`
	// Enqueue defaults to true.
	Enqueue *bool `json:"enqueue"`
}

// DocumentResponse is a document with its jobs.
type DocumentResponse struct {
	ID       uint               `json:"id"`
	Title    string             `json:"title"`
	Language string             `json:"language"`
	Status   string             `json:"status"`
	Jobs     []dispatch.JobView `json:"jobs"`
}

func newDocumentResponse(doc *models.Document, jobs []dispatch.JobView) DocumentResponse {
	if jobs == nil {
		jobs = []dispatch.JobView{}
	}
	return DocumentResponse{ID: doc.ID, Title: doc.Title, Language: doc.Language, Status: doc.Status, Jobs: jobs}
}

func views(jobs []models.ProcessingJob) []dispatch.JobView {
	out := make([]dispatch.JobView, len(jobs))
	for i, j := range jobs {
		out[i] = dispatch.NewJobView(j)
	}
	return out
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) listDocuments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	docs, err := h.opts.Documents.ListDocuments(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]DocumentResponse, len(docs))
	for i := range docs {
		out[i] = newDocumentResponse(&docs[i], nil)
	}
	c.JSON(http.StatusOK, gin.H{"documents": out})
}

func (h *handler) createDocument(c *gin.Context) {
	var req CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	doc, err := h.opts.Documents.CreateDocument(ctx, req.Title, req.Language)
	if err != nil {
		h.fail(c, err)
		return
	}
	var jobs []dispatch.JobView
	if req.Enqueue == nil || *req.Enqueue {
		created, err := h.opts.Dispatcher.EnqueueProcessing(ctx, doc.ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		jobs = views(created)
	}
	c.JSON(http.StatusCreated, newDocumentResponse(doc, jobs))
}

func (h *handler) getDocument(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	doc, err := h.opts.Documents.GetDocument(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	jobs, err := h.opts.Dispatcher.ListJobs(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newDocumentResponse(doc, jobs))
}

func (h *handler) process(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	jobs, err := h.opts.Dispatcher.EnqueueProcessing(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"document_id": id, "jobs": views(jobs)})
}

func (h *handler) reprocess(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	jobs, err := h.opts.Dispatcher.Reprocess(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"document_id": id, "jobs": views(jobs)})
}

func (h *handler) jobs(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.opts.Documents.GetDocument(ctx, id); err != nil {
		h.fail(c, err)
		return
	}
	jobs, err := h.opts.Dispatcher.ListJobs(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if jobs == nil {
		jobs = []dispatch.JobView{}
	}
	c.JSON(http.StatusOK, gin.H{"document_id": id, "jobs": jobs})
}

func (h *handler) sweep(c *gin.Context) {
	if h.opts.Sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stuck-job monitor is not configured"})
		return
	}
	c.JSON(http.StatusOK, h.opts.Sweeper.Sweep(c.Request.Context()))
}

func documentID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return 0, false
	}
	return uint(id), true
}

// fail maps store sentinels to status codes.
func (h *handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrDocumentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrJobsExist):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.opts.Logger.Error("api request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
