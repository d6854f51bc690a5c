package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/docyard/internal/models"
)

// JobView is the API projection of a job.
type JobView struct {
	ID             uint       `json:"id"`
	DocumentID     uint       `json:"document_id"`
	JobType        string     `json:"job_type"`
	Status         string     `json:"status"`
	Progress       int        `json:"progress"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	ExternalTaskID string     `json:"external_task_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// NewJobView projects job.
func NewJobView(job models.ProcessingJob) JobView {
	return JobView{
		ID:             job.ID,
		DocumentID:     job.DocumentID,
		JobType:        job.JobType,
		Status:         job.Status,
		Progress:       job.Progress,
		ErrorMessage:   job.ErrorMessage,
		ExternalTaskID: job.ExternalTaskID,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
	}
}

// ListJobs returns the jobs of documentID.
func (d *Dispatcher) ListJobs(ctx context.Context, documentID uint) ([]JobView, error) {
	jobs, err := d.store.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	views := make([]JobView, len(jobs))
	for i, j := range jobs {
		views[i] = NewJobView(j)
	}
	return views, nil
}
