// Package aggregate derives a document's status from its processing jobs.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zulandar/docyard/internal/metrics"
	"github.com/zulandar/docyard/internal/models"
)

// Store is the data access the aggregator needs.
type Store interface {
	ListByDocument(ctx context.Context, documentID uint) ([]models.ProcessingJob, error)
	SetDocumentStatus(ctx context.Context, id uint, status string) (bool, error)
}

// Listener is notified when a job reaches completed or failed.
type Listener interface {
	JobResolved(ctx context.Context, job models.ProcessingJob)
}

// Derive returns the document status implied by jobs: error if any job
// failed, ready if all completed. It returns "" while work is still pending,
// meaning the current status should be left alone.
func Derive(jobs []models.ProcessingJob) string {
	if len(jobs) == 0 {
		return ""
	}
	completed := 0
	for _, j := range jobs {
		switch j.Status {
		case models.JobFailed:
			return models.DocError
		case models.JobCompleted:
			completed++
		}
	}
	if completed == len(jobs) {
		return models.DocReady
	}
	return ""
}

// Aggregator writes derived document statuses and fans out job resolutions.
type Aggregator struct {
	store     Store
	listeners []Listener
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New returns an Aggregator backed by store.
func New(store Store, logger *slog.Logger, m *metrics.Metrics) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, logger: logger, metrics: m}
}

// AddListener registers l for job resolutions. It is not safe to call once
// the aggregator is in use.
func (a *Aggregator) AddListener(l Listener) {
	a.listeners = append(a.listeners, l)
}

// Recompute derives documentID's status and stores it if it changed. It
// returns the derived status ("" when pending) and whether a write happened.
func (a *Aggregator) Recompute(ctx context.Context, documentID uint) (string, bool, error) {
	jobs, err := a.store.ListByDocument(ctx, documentID)
	if err != nil {
		return "", false, fmt.Errorf("aggregate: %w", err)
	}
	status := Derive(jobs)
	if status == "" {
		return "", false, nil
	}
	changed, err := a.store.SetDocumentStatus(ctx, documentID, status)
	if err != nil {
		return status, false, fmt.Errorf("aggregate: %w", err)
	}
	if changed {
		a.metrics.DocumentStatus(status)
		a.logger.Info("document status changed", "document_id", documentID, "status", status)
	}
	return status, changed, nil
}

// Observe reacts to a job write. Resolved jobs are passed to the listeners
// before the document status is recomputed. Errors are logged, never
// returned.
func (a *Aggregator) Observe(ctx context.Context, job models.ProcessingJob) {
	if job.Terminal() {
		for _, l := range a.listeners {
			l.JobResolved(ctx, job)
		}
	}
	if _, _, err := a.Recompute(ctx, job.DocumentID); err != nil {
		a.logger.Error("recompute document status failed", "document_id", job.DocumentID, "error", err)
	}
}
