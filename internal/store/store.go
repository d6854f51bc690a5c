// Package store is the job record store: the single source of truth for
// processing jobs and the document status they roll up into.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/docyard/internal/jobtype"
	"github.com/zulandar/docyard/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a job row does not exist.
	ErrNotFound = errors.New("store: job not found")
	// ErrStaleJob is returned when a conditional update lost a race: the
	// row's version no longer matches the one the caller read.
	ErrStaleJob = errors.New("store: job was modified concurrently")
	// ErrDocumentNotFound is returned when a document row does not exist.
	ErrDocumentNotFound = errors.New("store: document not found")
	// ErrJobsExist is returned when a job set already exists for a document.
	ErrJobsExist = errors.New("store: jobs already exist for document")
)

// Fields is a set of column updates applied to a job row.
type Fields map[string]interface{}

// Store reads and writes job and document rows.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create inserts a single queued job of type t for documentID.
func (s *Store) Create(ctx context.Context, documentID uint, t jobtype.Type) (*models.ProcessingJob, error) {
	if documentID == 0 {
		return nil, fmt.Errorf("store: documentID is required")
	}
	if !t.Valid() {
		return nil, fmt.Errorf("store: invalid job type %q", t)
	}
	job := newJob(documentID, t)
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, fmt.Errorf("store: create %s job for document %d: %w", t, documentID, err)
	}
	return &job, nil
}

// CreateSet inserts one queued job per type for documentID in a single
// transaction. It fails with ErrJobsExist if the document already has jobs.
func (s *Store) CreateSet(ctx context.Context, documentID uint, types []jobtype.Type) ([]models.ProcessingJob, error) {
	if documentID == 0 {
		return nil, fmt.Errorf("store: documentID is required")
	}
	var jobs []models.ProcessingJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.ProcessingJob{}).Where("document_id = ?", documentID).Count(&existing).Error; err != nil {
			return fmt.Errorf("store: count jobs for document %d: %w", documentID, err)
		}
		if existing > 0 {
			return fmt.Errorf("%w: document %d has %d", ErrJobsExist, documentID, existing)
		}
		created, err := insertSet(tx, documentID, types)
		if err != nil {
			return err
		}
		jobs = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// ReplaceSet deletes every job of documentID, inserts a fresh queued set and
// resets the document status to new, all in one transaction. It returns the
// deleted jobs alongside the new ones.
func (s *Store) ReplaceSet(ctx context.Context, documentID uint, types []jobtype.Type) (old, created []models.ProcessingJob, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Order("id ASC").Find(&old).Error; err != nil {
			return fmt.Errorf("store: list jobs for document %d: %w", documentID, err)
		}
		if err := tx.Where("document_id = ?", documentID).Delete(&models.ProcessingJob{}).Error; err != nil {
			return fmt.Errorf("store: delete jobs for document %d: %w", documentID, err)
		}
		result := tx.Model(&models.Document{}).Where("id = ?", documentID).Update("status", models.DocNew)
		if result.Error != nil {
			return fmt.Errorf("store: reset document %d: %w", documentID, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %d", ErrDocumentNotFound, documentID)
		}
		jobs, err := insertSet(tx, documentID, types)
		if err != nil {
			return err
		}
		created = jobs
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return old, created, nil
}

func insertSet(tx *gorm.DB, documentID uint, types []jobtype.Type) ([]models.ProcessingJob, error) {
	jobs := make([]models.ProcessingJob, 0, len(types))
	for _, t := range types {
		if !t.Valid() {
			return nil, fmt.Errorf("store: invalid job type %q", t)
		}
		job := newJob(documentID, t)
		if err := tx.Create(&job).Error; err != nil {
			return nil, fmt.Errorf("store: create %s job for document %d: %w", t, documentID, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func newJob(documentID uint, t jobtype.Type) models.ProcessingJob {
	return models.ProcessingJob{
		DocumentID: documentID,
		JobType:    string(t),
		Status:     models.JobQueued,
		Version:    1,
	}
}

// Get returns the job with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id uint) (*models.ProcessingJob, error) {
	var job models.ProcessingJob
	result := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&job)
	if result.Error != nil {
		return nil, fmt.Errorf("store: get job %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return &job, nil
}

// Update applies fields to job conditionally on the version job was read at.
// On success job is refreshed from the row. A lost race returns ErrStaleJob
// and a deleted row returns ErrNotFound; job is left untouched in both cases.
func (s *Store) Update(ctx context.Context, job *models.ProcessingJob, fields Fields) error {
	if job == nil {
		return fmt.Errorf("store: job is required")
	}
	updates := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		updates[k] = v
	}
	updates["version"] = gorm.Expr("version + 1")
	updates["updated_at"] = time.Now()

	db := s.db.WithContext(ctx)
	result := db.Model(&models.ProcessingJob{}).
		Where("id = ? AND version = ?", job.ID, job.Version).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("store: update job %d: %w", job.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := db.Model(&models.ProcessingJob{}).Where("id = ?", job.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("store: update job %d: %w", job.ID, err)
		}
		if count == 0 {
			return fmt.Errorf("%w: %d", ErrNotFound, job.ID)
		}
		return fmt.Errorf("%w: %d (version %d)", ErrStaleJob, job.ID, job.Version)
	}

	var fresh models.ProcessingJob
	if err := db.Where("id = ?", job.ID).First(&fresh).Error; err != nil {
		return fmt.Errorf("store: reload job %d: %w", job.ID, err)
	}
	*job = fresh
	return nil
}

// ListByDocument returns every job of documentID ordered by id.
func (s *Store) ListByDocument(ctx context.Context, documentID uint) ([]models.ProcessingJob, error) {
	var jobs []models.ProcessingJob
	if err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Order("id ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("store: list jobs for document %d: %w", documentID, err)
	}
	return jobs, nil
}

// ListByStatus returns every job in status, ordered by id.
func (s *Store) ListByStatus(ctx context.Context, status string) ([]models.ProcessingJob, error) {
	var jobs []models.ProcessingJob
	if err := s.db.WithContext(ctx).Where("status = ?", status).Order("id ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("store: list %s jobs: %w", status, err)
	}
	return jobs, nil
}

// ListByStatusOlderThan returns jobs in status whose age exceeds cutoff.
// Running jobs are aged by started_at, everything else by updated_at.
func (s *Store) ListByStatusOlderThan(ctx context.Context, status string, cutoff time.Time) ([]models.ProcessingJob, error) {
	column := "updated_at"
	if status == models.JobRunning {
		column = "started_at"
	}
	var jobs []models.ProcessingJob
	err := s.db.WithContext(ctx).
		Where("status = ? AND "+column+" < ?", status, cutoff).
		Order("id ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("store: list %s jobs older than %s: %w", status, cutoff.Format(time.RFC3339), err)
	}
	return jobs, nil
}

// DeleteByDocument removes every job of documentID and returns the count.
func (s *Store) DeleteByDocument(ctx context.Context, documentID uint) (int64, error) {
	result := s.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&models.ProcessingJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("store: delete jobs for document %d: %w", documentID, result.Error)
	}
	return result.RowsAffected, nil
}
