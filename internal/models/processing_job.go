package models

import "time"

// Job statuses.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// ProcessingJob is one unit of transformation work for a document.
// Version is bumped on every write and guards conditional updates.
type ProcessingJob struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	DocumentID     uint   `gorm:"not null;uniqueIndex:idx_document_job_type"`
	JobType        string `gorm:"size:16;not null;uniqueIndex:idx_document_job_type"`
	Status         string `gorm:"size:16;default:queued;index"`
	ExternalTaskID string `gorm:"size:64;index"`
	Progress       int    `gorm:"default:0"`
	ErrorMessage   string `gorm:"type:text"`
	Version        int    `gorm:"not null;default:1"`
	CreatedAt      time.Time
	StartedAt      *time.Time `gorm:"index"`
	CompletedAt    *time.Time
	UpdatedAt      time.Time `gorm:"index"`
}

// Terminal reports whether the job has reached completed or failed.
func (j *ProcessingJob) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}
