// Package dispatch creates a document's job set and submits it to the work
// queue in dependency order.
//
// Two ordering modes exist. In delay mode dependents are submitted at once
// with a delay long enough that conversion has usually finished. In graph
// mode dependents are held until the aggregator reports that every job they
// depend on has resolved.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zulandar/docyard/internal/artifact"
	"github.com/zulandar/docyard/internal/config"
	"github.com/zulandar/docyard/internal/jobtype"
	"github.com/zulandar/docyard/internal/metrics"
	"github.com/zulandar/docyard/internal/models"
	"github.com/zulandar/docyard/internal/queue"
	"github.com/zulandar/docyard/internal/store"
)

// SkippedPDF is recorded on a convert job whose source already is a PDF.
const SkippedPDF = "Skipped: already PDF"

// JobStore is the data access the dispatcher needs.
type JobStore interface {
	CreateSet(ctx context.Context, documentID uint, types []jobtype.Type) ([]models.ProcessingJob, error)
	ReplaceSet(ctx context.Context, documentID uint, types []jobtype.Type) (old, created []models.ProcessingJob, err error)
	GetDocument(ctx context.Context, id uint) (*models.Document, error)
	ListByDocument(ctx context.Context, documentID uint) ([]models.ProcessingJob, error)
	Update(ctx context.Context, job *models.ProcessingJob, fields store.Fields) error
}

// Queue is the producer side of the work queue.
type Queue interface {
	Submit(ctx context.Context, handler string, args queue.Args, delay time.Duration) (string, error)
	Cancel(ctx context.Context, taskID string) error
}

// Observer is told about job states the dispatcher writes.
type Observer interface {
	Observe(ctx context.Context, job models.ProcessingJob)
}

// Opts holds the dispatcher's collaborators.
type Opts struct {
	Store    JobStore
	Queue    Queue
	Observer Observer
	Config   config.DispatchConfig
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Dispatcher creates and submits jobs.
type Dispatcher struct {
	store    JobStore
	queue    Queue
	observer Observer
	cfg      config.DispatchConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New returns a Dispatcher. An empty mode means delay mode.
func New(opts Opts) (*Dispatcher, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("dispatch: store is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("dispatch: queue is required")
	}
	if opts.Config.Mode == "" {
		opts.Config.Mode = config.ModeDelay
	}
	if opts.Config.Mode != config.ModeDelay && opts.Config.Mode != config.ModeGraph {
		return nil, fmt.Errorf("dispatch: unknown mode %q", opts.Config.Mode)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		store:    opts.Store,
		queue:    opts.Queue,
		observer: opts.Observer,
		cfg:      opts.Config,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      time.Now,
	}, nil
}

// Step is the planned dispatch of one job type.
type Step struct {
	Type  jobtype.Type
	Delay time.Duration
	// Skip marks the job completed without running it.
	Skip bool
	// Hold leaves the job queued until its dependencies resolve.
	Hold bool
}

// Plan returns the dispatch steps for doc in job type order. Delays are
// relative to the moment of dispatch.
func (d *Dispatcher) Plan(doc models.Document) []Step {
	isPDF := artifact.IsPDF(doc.Title)
	base := d.cfg.ConvertBaseDelay
	if isPDF {
		base = d.cfg.PDFBaseDelay
	}

	var steps []Step
	i := 0
	for _, t := range jobtype.All() {
		if jobtype.IsRoot(t) {
			steps = append(steps, Step{Type: t, Skip: t == jobtype.Convert && isPDF})
			continue
		}
		step := Step{Type: t}
		if d.cfg.Mode == config.ModeGraph {
			step.Hold = true
		} else {
			step.Delay = base + time.Duration(i)*d.cfg.Stagger
		}
		steps = append(steps, step)
		i++
	}
	return steps
}

// EnqueueProcessing creates the job set of documentID and dispatches it. A
// job that cannot be submitted is failed in place; that does not fail the
// call.
func (d *Dispatcher) EnqueueProcessing(ctx context.Context, documentID uint) ([]models.ProcessingJob, error) {
	return d.enqueue(ctx, documentID, 0)
}

// EnqueueMany dispatches several documents, offsetting document i by
// i*bulk_stagger. It returns the number of documents enqueued and the joined
// errors of the rest.
func (d *Dispatcher) EnqueueMany(ctx context.Context, documentIDs []uint) (int, error) {
	var errs []error
	n := 0
	for i, id := range documentIDs {
		if _, err := d.enqueue(ctx, id, time.Duration(i)*d.cfg.BulkStagger); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func (d *Dispatcher) enqueue(ctx context.Context, documentID uint, offset time.Duration) ([]models.ProcessingJob, error) {
	doc, err := d.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	jobs, err := d.store.CreateSet(ctx, doc.ID, jobtype.All())
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	d.logger.Info("dispatching document", "document_id", doc.ID, "title", doc.Title, "mode", d.cfg.Mode)
	d.submitPlan(ctx, *doc, jobs, offset)
	return d.store.ListByDocument(ctx, doc.ID)
}

// Reprocess clears documentID's jobs, resets the document to new and
// dispatches a fresh job set. Queue tasks of the old jobs are cancelled.
func (d *Dispatcher) Reprocess(ctx context.Context, documentID uint) ([]models.ProcessingJob, error) {
	doc, err := d.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	old, jobs, err := d.store.ReplaceSet(ctx, doc.ID, jobtype.All())
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	for _, j := range old {
		if j.Terminal() || j.ExternalTaskID == "" {
			continue
		}
		if err := d.queue.Cancel(ctx, j.ExternalTaskID); err != nil {
			d.logger.Warn("cancel old task failed", "job_id", j.ID, "task_id", j.ExternalTaskID, "error", err)
		}
	}
	d.logger.Info("reprocessing document", "document_id", doc.ID, "replaced", len(old))
	d.submitPlan(ctx, *doc, jobs, 0)
	return d.store.ListByDocument(ctx, doc.ID)
}

func (d *Dispatcher) submitPlan(ctx context.Context, doc models.Document, jobs []models.ProcessingJob, offset time.Duration) {
	byType := make(map[jobtype.Type]*models.ProcessingJob, len(jobs))
	for i := range jobs {
		byType[jobtype.Type(jobs[i].JobType)] = &jobs[i]
	}
	skipped := false
	failed := 0
	for _, step := range d.Plan(doc) {
		job := byType[step.Type]
		if job == nil {
			continue
		}
		switch {
		case step.Skip:
			d.skip(ctx, job)
			skipped = true
		case step.Hold:
			d.logger.Debug("holding job for dependencies", "job_id", job.ID, "type", job.JobType)
		default:
			if err := d.submit(ctx, job, step.Delay+offset); err != nil {
				failed++
			}
		}
	}
	if failed > 0 {
		d.logger.Warn("document dispatched with failed jobs", "document_id", doc.ID, "failed", failed)
	}
	if skipped && d.cfg.Mode == config.ModeGraph {
		if _, err := d.ReleaseHeld(ctx, doc.ID); err != nil {
			d.logger.Error("release held jobs failed", "document_id", doc.ID, "error", err)
		}
	}
}

func (d *Dispatcher) skip(ctx context.Context, job *models.ProcessingJob) {
	now := d.now()
	err := d.store.Update(ctx, job, store.Fields{
		"status":        models.JobCompleted,
		"progress":      100,
		"started_at":    now,
		"completed_at":  now,
		"error_message": SkippedPDF,
	})
	if err != nil {
		d.logger.Error("skip job failed", "job_id", job.ID, "error", err)
		return
	}
	d.observe(ctx, *job)
}

// submit sends job to the queue and records the task id. A submission
// failure fails the job and is returned.
func (d *Dispatcher) submit(ctx context.Context, job *models.ProcessingJob, delay time.Duration) error {
	taskID, err := d.queue.Submit(ctx, job.JobType, queue.Args{DocumentID: job.DocumentID, JobID: job.ID}, delay)
	if err != nil {
		d.metrics.DispatchFailed(job.JobType)
		d.logger.Error("dispatch failed", "job_id", job.ID, "type", job.JobType, "error", err)
		ferr := d.store.Update(ctx, job, store.Fields{
			"status":        models.JobFailed,
			"completed_at":  d.now(),
			"error_message": "Failed to dispatch task: " + err.Error(),
		})
		if ferr != nil {
			d.logger.Error("mark dispatch failure", "job_id", job.ID, "error", ferr)
		} else {
			d.observe(ctx, *job)
		}
		return fmt.Errorf("dispatch: submit %s job %d: %w", job.JobType, job.ID, err)
	}
	d.metrics.Dispatched(job.JobType)
	d.logger.Debug("job submitted", "job_id", job.ID, "type", job.JobType, "task_id", taskID, "delay", delay)
	return d.recordTask(ctx, job, taskID)
}

// Resubmit puts an already queued job back on the queue after delay. Unlike
// the initial dispatch it leaves the job untouched when submission fails.
func (d *Dispatcher) Resubmit(ctx context.Context, job *models.ProcessingJob, delay time.Duration) error {
	taskID, err := d.queue.Submit(ctx, job.JobType, queue.Args{DocumentID: job.DocumentID, JobID: job.ID}, delay)
	if err != nil {
		d.metrics.DispatchFailed(job.JobType)
		return fmt.Errorf("dispatch: resubmit %s job %d: %w", job.JobType, job.ID, err)
	}
	d.metrics.Dispatched(job.JobType)
	return d.recordTask(ctx, job, taskID)
}

func (d *Dispatcher) recordTask(ctx context.Context, job *models.ProcessingJob, taskID string) error {
	err := d.store.Update(ctx, job, store.Fields{"external_task_id": taskID})
	if errors.Is(err, store.ErrStaleJob) {
		// A worker claimed the task and recorded the id itself.
		return nil
	}
	if err != nil {
		return fmt.Errorf("dispatch: record task %s on job %d: %w", taskID, job.ID, err)
	}
	return nil
}

// JobResolved releases or blocks held dependents of job. It only acts in
// graph mode.
func (d *Dispatcher) JobResolved(ctx context.Context, job models.ProcessingJob) {
	if d.cfg.Mode != config.ModeGraph {
		return
	}
	dependents := jobtype.Dependents(jobtype.Type(job.JobType))
	if len(dependents) == 0 {
		return
	}
	siblings, err := d.store.ListByDocument(ctx, job.DocumentID)
	if err != nil {
		d.logger.Error("list dependents failed", "document_id", job.DocumentID, "error", err)
		return
	}

	released := 0
	for i := range siblings {
		sib := &siblings[i]
		if !Held(*sib) || !contains(dependents, jobtype.Type(sib.JobType)) {
			continue
		}
		if failed := FailedDependency(*sib, siblings); failed != "" {
			d.block(ctx, sib, failed)
			continue
		}
		if !DependenciesMet(*sib, siblings) {
			continue
		}
		if err := d.submit(ctx, sib, time.Duration(released)*d.cfg.Stagger); err != nil {
			continue
		}
		released++
	}
	if released > 0 {
		d.logger.Debug("released held jobs", "document_id", job.DocumentID, "after", job.JobType, "released", released)
	}
}

// ReleaseHeld submits or blocks the held jobs of documentID whose
// dependencies have resolved. It returns how many jobs changed.
func (d *Dispatcher) ReleaseHeld(ctx context.Context, documentID uint) (int, error) {
	jobs, err := d.store.ListByDocument(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("dispatch: %w", err)
	}
	n := 0
	for i := range jobs {
		job := &jobs[i]
		if !Held(*job) {
			continue
		}
		if failed := FailedDependency(*job, jobs); failed != "" {
			d.block(ctx, job, failed)
			n++
			continue
		}
		if DependenciesMet(*job, jobs) {
			if err := d.submit(ctx, job, 0); err == nil {
				n++
			}
		}
	}
	return n, nil
}

func (d *Dispatcher) block(ctx context.Context, job *models.ProcessingJob, dependency jobtype.Type) {
	err := d.store.Update(ctx, job, store.Fields{
		"status":        models.JobFailed,
		"completed_at":  d.now(),
		"error_message": fmt.Sprintf("Blocked: dependency %s failed", dependency),
	})
	if err != nil {
		d.logger.Error("block job failed", "job_id", job.ID, "error", err)
		return
	}
	d.observe(ctx, *job)
}

func (d *Dispatcher) observe(ctx context.Context, job models.ProcessingJob) {
	if d.observer != nil {
		d.observer.Observe(ctx, job)
	}
}

// Held reports whether job is queued without a queue task.
func Held(job models.ProcessingJob) bool {
	return job.Status == models.JobQueued && job.ExternalTaskID == ""
}

// DependenciesMet reports whether every dependency of job is completed
// among siblings.
func DependenciesMet(job models.ProcessingJob, siblings []models.ProcessingJob) bool {
	for _, dep := range jobtype.Dependencies(jobtype.Type(job.JobType)) {
		if statusOf(dep, siblings) != models.JobCompleted {
			return false
		}
	}
	return true
}

// FailedDependency returns the first dependency of job that failed, or "".
func FailedDependency(job models.ProcessingJob, siblings []models.ProcessingJob) jobtype.Type {
	for _, dep := range jobtype.Dependencies(jobtype.Type(job.JobType)) {
		if statusOf(dep, siblings) == models.JobFailed {
			return dep
		}
	}
	return ""
}

// statusOf returns the status of the sibling of type t. A missing sibling
// counts as completed so a partial set never deadlocks.
func statusOf(t jobtype.Type, siblings []models.ProcessingJob) string {
	for _, s := range siblings {
		if s.JobType == string(t) {
			return s.Status
		}
	}
	return models.JobCompleted
}

func contains(types []jobtype.Type, t jobtype.Type) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
