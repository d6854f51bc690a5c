// Package monitor sweeps the job table for work that stopped making progress
// and recovers or fails it.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zulandar/docyard/internal/artifact"
	"github.com/zulandar/docyard/internal/config"
	"github.com/zulandar/docyard/internal/dispatch"
	"github.com/zulandar/docyard/internal/handlers"
	"github.com/zulandar/docyard/internal/jobtype"
	"github.com/zulandar/docyard/internal/metrics"
	"github.com/zulandar/docyard/internal/models"
	"github.com/zulandar/docyard/internal/queue"
	"github.com/zulandar/docyard/internal/storage"
	"github.com/zulandar/docyard/internal/store"
)

// Recovery annotations written to error_message.
const (
	RetryMarker      = "Retry"
	MonitorRetry     = "Retry (monitor): "
	AutoRecoveredOCR = "Auto-recovered: OCR output already present"
)

const (
	defaultRuntimeCeiling = 20 * time.Minute
	defaultQueuedCeiling  = 30 * time.Minute
)

// JobStore is the data access the monitor needs.
type JobStore interface {
	ListByStatus(ctx context.Context, status string) ([]models.ProcessingJob, error)
	ListByStatusOlderThan(ctx context.Context, status string, cutoff time.Time) ([]models.ProcessingJob, error)
	ListByDocument(ctx context.Context, documentID uint) ([]models.ProcessingJob, error)
	Update(ctx context.Context, job *models.ProcessingJob, fields store.Fields) error
}

// TaskQueue reports live claims, looks up tasks and withdraws superseded
// ones.
type TaskQueue interface {
	IntrospectActive(ctx context.Context) (map[string]struct{}, error)
	Get(ctx context.Context, taskID string) (*models.QueueTask, error)
	Cancel(ctx context.Context, taskID string) error
}

// Resubmitter puts a queued job back on the queue.
type Resubmitter interface {
	Resubmit(ctx context.Context, job *models.ProcessingJob, delay time.Duration) error
}

// Artifacts reads stored job output. Get returns storage.ErrNotFound for a
// missing object.
type Artifacts interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// Observer is told about every job the monitor changes.
type Observer interface {
	Observe(ctx context.Context, job models.ProcessingJob)
}

// Opts holds the monitor's collaborators.
type Opts struct {
	Store       JobStore
	Queue       TaskQueue
	Resubmitter Resubmitter
	Artifacts   Artifacts
	OCRBucket   string
	Observer    Observer
	Config      config.MonitorConfig
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// SweepResult counts what one sweep found and did.
type SweepResult struct {
	StuckFound    int `json:"stuck_jobs_found"`
	OrphanedFound int `json:"orphaned_jobs_found"`
	QueuedFound   int `json:"queued_jobs_found"`
	Recovered     int `json:"jobs_recovered"`
	Failed        int `json:"jobs_failed"`
}

// Monitor finds and recovers stuck jobs.
type Monitor struct {
	opts Opts
	now  func() time.Time
}

// New validates opts and returns a Monitor.
func New(opts Opts) (*Monitor, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("monitor: store is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("monitor: queue is required")
	}
	if opts.Resubmitter == nil {
		return nil, fmt.Errorf("monitor: resubmitter is required")
	}
	if opts.Config.RuntimeCeiling <= 0 {
		opts.Config.RuntimeCeiling = defaultRuntimeCeiling
	}
	if opts.Config.QueuedCeiling <= 0 {
		opts.Config.QueuedCeiling = defaultQueuedCeiling
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Monitor{opts: opts, now: time.Now}, nil
}

type flagged struct {
	job    models.ProcessingJob
	reason string
}

// Sweep runs one detection and recovery pass. It never fails; errors on a
// single job are logged and counted in Failed.
func (m *Monitor) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	log := m.opts.Logger
	now := m.now()

	var running []flagged
	seen := make(map[uint]bool)

	stuck, err := m.opts.Store.ListByStatusOlderThan(ctx, models.JobRunning, now.Add(-m.opts.Config.RuntimeCeiling))
	if err != nil {
		log.Error("list long-running jobs failed", "error", err)
	}
	res.StuckFound = len(stuck)
	for _, j := range stuck {
		seen[j.ID] = true
		running = append(running, flagged{j, fmt.Sprintf("running longer than %s", m.opts.Config.RuntimeCeiling)})
	}

	active, err := m.opts.Queue.IntrospectActive(ctx)
	if err != nil {
		log.Error("introspect active tasks failed", "error", err)
	}
	orphans, err := m.orphaned(ctx, active, err != nil)
	if err != nil {
		log.Error("orphan detection failed", "error", err)
	}
	res.OrphanedFound = len(orphans)
	for _, j := range orphans {
		if seen[j.ID] {
			continue
		}
		seen[j.ID] = true
		running = append(running, flagged{j, "no active worker claim"})
	}

	for _, f := range running {
		if m.recover(ctx, f.job, f.reason) {
			res.Recovered++
		} else {
			res.Failed++
		}
	}

	queued, err := m.opts.Store.ListByStatusOlderThan(ctx, models.JobQueued, now.Add(-m.opts.Config.QueuedCeiling))
	if err != nil {
		log.Error("list stale queued jobs failed", "error", err)
	}
	for _, j := range queued {
		recovered, acted := m.recoverQueued(ctx, j, active)
		if !acted {
			continue
		}
		res.QueuedFound++
		if recovered {
			res.Recovered++
		} else {
			res.Failed++
		}
	}

	m.opts.Metrics.Sweep(res.StuckFound, res.OrphanedFound, res.QueuedFound, res.Recovered, res.Failed)
	log.Info("stuck-job sweep completed",
		"stuck", res.StuckFound,
		"orphaned", res.OrphanedFound,
		"queued", res.QueuedFound,
		"recovered", res.Recovered,
		"failed", res.Failed,
	)
	return res
}

// orphaned returns running jobs whose task is not in active. When the queue
// could not report active tasks (unknown), or reported none, every running
// job is returned.
func (m *Monitor) orphaned(ctx context.Context, active map[string]struct{}, unknown bool) ([]models.ProcessingJob, error) {
	running, err := m.opts.Store.ListByStatus(ctx, models.JobRunning)
	if err != nil {
		return nil, err
	}
	if unknown || len(active) == 0 {
		return running, nil
	}
	var out []models.ProcessingJob
	for _, j := range running {
		if _, ok := active[j.ExternalTaskID]; !ok {
			out = append(out, j)
		}
	}
	return out, nil
}

// recover applies the recovery ladder to a running job: completed from an
// existing OCR artifact, requeued once, or failed. It reports whether the job
// was recovered.
func (m *Monitor) recover(ctx context.Context, job models.ProcessingJob, reason string) bool {
	log := m.opts.Logger.With("job_id", job.ID, "document_id", job.DocumentID, "type", job.JobType)
	log.Info("recovering job", "reason", reason)

	if done, err := m.completeFromArtifact(ctx, &job); err != nil {
		log.Warn("artifact check failed", "error", err)
	} else if done {
		return true
	}

	if !strings.Contains(job.ErrorMessage, RetryMarker) {
		ok, err := m.requeue(ctx, &job, MonitorRetry+reason, 0)
		if err == nil {
			return ok
		}
		log.Error("requeue failed", "error", err)
		if errors.Is(err, store.ErrStaleJob) || errors.Is(err, store.ErrNotFound) {
			return false
		}
	}

	prior := job.ErrorMessage
	if prior == "" {
		prior = "Unknown"
	}
	if err := m.fail(ctx, &job, fmt.Sprintf("Auto-failed: %s. Original error: %s", reason, prior)); err != nil {
		log.Error("fail job failed", "error", err)
	}
	return false
}

// recoverQueued handles a queued job that has not moved for the queued
// ceiling. Jobs whose dependency failed are failed. Jobs still waiting on an
// unfinished dependency, or whose task is still pending or live-claimed, are
// left alone (acted is false). Only jobs without a live task are pushed onto
// the queue again, keeping the run_at of the lost task.
func (m *Monitor) recoverQueued(ctx context.Context, job models.ProcessingJob, active map[string]struct{}) (recovered, acted bool) {
	log := m.opts.Logger.With("job_id", job.ID, "document_id", job.DocumentID, "type", job.JobType)

	siblings, err := m.opts.Store.ListByDocument(ctx, job.DocumentID)
	if err != nil {
		log.Error("list siblings failed", "error", err)
		return false, true
	}
	if dep := dispatch.FailedDependency(job, siblings); dep != "" {
		if err := m.fail(ctx, &job, fmt.Sprintf("Blocked: dependency %s failed", dep)); err != nil {
			log.Error("fail blocked job failed", "error", err)
		}
		return false, true
	}
	if !dispatch.DependenciesMet(job, siblings) {
		return false, false
	}

	if done, err := m.completeFromArtifact(ctx, &job); err != nil {
		log.Warn("artifact check failed", "error", err)
	} else if done {
		return true, true
	}

	lost, runAt, err := m.taskLost(ctx, job.ExternalTaskID, active)
	if err != nil {
		log.Warn("task lookup failed", "task_id", job.ExternalTaskID, "error", err)
		return false, false
	}
	if !lost {
		return false, false
	}
	var delay time.Duration
	if !runAt.IsZero() {
		delay = runAt.Sub(m.now())
	}

	log.Info("re-enqueueing queued job with no live task", "task_id", job.ExternalTaskID)
	ok, err := m.requeue(ctx, &job, "", delay)
	if err != nil {
		log.Error("re-enqueue failed", "error", err)
		if !errors.Is(err, store.ErrStaleJob) && !errors.Is(err, store.ErrNotFound) {
			if ferr := m.fail(ctx, &job, "Failed to dispatch task: "+err.Error()); ferr != nil {
				log.Error("fail job failed", "error", ferr)
			}
		}
		return false, true
	}
	return ok, true
}

// taskLost reports whether taskID no longer drives its job: there is none,
// it is missing, finished or cancelled, or it is claimed without a live
// heartbeat. runAt is the lost task's run_at when it is known.
func (m *Monitor) taskLost(ctx context.Context, taskID string, active map[string]struct{}) (lost bool, runAt time.Time, err error) {
	if taskID == "" {
		return true, time.Time{}, nil
	}
	task, err := m.opts.Queue.Get(ctx, taskID)
	if errors.Is(err, queue.ErrTaskNotFound) {
		return true, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, err
	}
	switch task.Status {
	case models.TaskPending:
		return false, task.RunAt, nil
	case models.TaskClaimed:
		if _, ok := active[taskID]; ok {
			return false, task.RunAt, nil
		}
	}
	return true, task.RunAt, nil
}

// completeFromArtifact marks an OCR job completed when the stored OCR output
// was written by this job. Output left by an earlier job set of the document
// does not count.
func (m *Monitor) completeFromArtifact(ctx context.Context, job *models.ProcessingJob) (bool, error) {
	if jobtype.Type(job.JobType) != jobtype.OCR || m.opts.Artifacts == nil {
		return false, nil
	}
	key := artifact.OCRText(job.DocumentID)
	data, err := m.opts.Artifacts.Get(ctx, m.opts.OCRBucket, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var res handlers.OCRResult
	if err := json.Unmarshal(data, &res); err != nil {
		return false, fmt.Errorf("monitor: decode %s: %w", key, err)
	}
	if res.JobID != job.ID {
		m.opts.Logger.Info("ignoring ocr output of another job",
			"job_id", job.ID, "document_id", job.DocumentID, "output_job_id", res.JobID)
		return false, nil
	}
	err = m.opts.Store.Update(ctx, job, store.Fields{
		"status":        models.JobCompleted,
		"progress":      100,
		"completed_at":  m.now(),
		"error_message": AutoRecoveredOCR,
	})
	if err != nil {
		return false, err
	}
	m.cancel(ctx, job.ExternalTaskID)
	m.observe(ctx, *job)
	return true, nil
}

// requeue resets job to queued, withdraws its old task and submits a new one
// after delay. An empty note keeps the current error message.
func (m *Monitor) requeue(ctx context.Context, job *models.ProcessingJob, note string, delay time.Duration) (bool, error) {
	oldTask := job.ExternalTaskID
	fields := store.Fields{
		"status":           models.JobQueued,
		"started_at":       nil,
		"completed_at":     nil,
		"external_task_id": "",
		"progress":         0,
	}
	if note != "" {
		fields["error_message"] = note
	}
	if err := m.opts.Store.Update(ctx, job, fields); err != nil {
		return false, err
	}
	m.cancel(ctx, oldTask)
	if err := m.opts.Resubmitter.Resubmit(ctx, job, delay); err != nil {
		if ferr := m.fail(ctx, job, "Failed to dispatch task: "+err.Error()); ferr != nil {
			return false, ferr
		}
		return false, nil
	}
	m.observe(ctx, *job)
	return true, nil
}

func (m *Monitor) fail(ctx context.Context, job *models.ProcessingJob, message string) error {
	err := m.opts.Store.Update(ctx, job, store.Fields{
		"status":        models.JobFailed,
		"completed_at":  m.now(),
		"error_message": message,
	})
	if err != nil {
		return err
	}
	m.cancel(ctx, job.ExternalTaskID)
	m.observe(ctx, *job)
	return nil
}

func (m *Monitor) cancel(ctx context.Context, taskID string) {
	if taskID == "" {
		return
	}
	if err := m.opts.Queue.Cancel(ctx, taskID); err != nil {
		m.opts.Logger.Warn("cancel task failed", "task_id", taskID, "error", err)
	}
}

func (m *Monitor) observe(ctx context.Context, job models.ProcessingJob) {
	if m.opts.Observer != nil {
		m.opts.Observer.Observe(ctx, job)
	}
}
