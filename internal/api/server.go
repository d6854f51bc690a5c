// Package api serves the document processing HTTP API.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/docyard/internal/dispatch"
	"github.com/zulandar/docyard/internal/metrics"
	"github.com/zulandar/docyard/internal/models"
	"github.com/zulandar/docyard/internal/monitor"
)

// Documents is the document access the API needs.
type Documents interface {
	CreateDocument(ctx context.Context, title, language string) (*models.Document, error)
	GetDocument(ctx context.Context, id uint) (*models.Document, error)
	ListDocuments(ctx context.Context, status string, limit int) ([]models.Document, error)
}

// Dispatcher creates and lists processing jobs.
type Dispatcher interface {
	EnqueueProcessing(ctx context.Context, documentID uint) ([]models.ProcessingJob, error)
	Reprocess(ctx context.Context, documentID uint) ([]models.ProcessingJob, error)
	ListJobs(ctx context.Context, documentID uint) ([]dispatch.JobView, error)
}

// Sweeper runs one stuck-job sweep.
type Sweeper interface {
	Sweep(ctx context.Context) monitor.SweepResult
}

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Documents  Documents
	Dispatcher Dispatcher
	Sweeper    Sweeper
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Port       int
	Out        io.Writer
}

// NewRouter validates opts and builds the gin engine with every route
// registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Documents == nil {
		return nil, fmt.Errorf("api: documents store is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("api: dispatcher is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger))
	registerRoutes(router, opts)
	return router, nil
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
