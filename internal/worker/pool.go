// Package worker claims queued tasks, runs the matching handler under soft
// and hard time limits, and turns the handler's Outcome into a job state
// transition.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zulandar/docyard/internal/config"
	"github.com/zulandar/docyard/internal/jobtype"
	"github.com/zulandar/docyard/internal/metrics"
	"github.com/zulandar/docyard/internal/models"
	"github.com/zulandar/docyard/internal/queue"
	"github.com/zulandar/docyard/internal/store"
)

const (
	defaultConcurrency  = 4
	defaultPollInterval = time.Second
)

var (
	errSoftLimit = errors.New("soft time limit exceeded")
	errHardLimit = errors.New("hard time limit exceeded")
)

var retryPattern = regexp.MustCompile(`^Retry (\d+)/\d+:`)

// RetryCount returns the retry counter encoded in a job's error message.
func RetryCount(errorMessage string) int {
	m := retryPattern.FindStringSubmatch(errorMessage)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// JobStore is the subset of store.Store the pool needs.
type JobStore interface {
	Get(ctx context.Context, id uint) (*models.ProcessingJob, error)
	Update(ctx context.Context, job *models.ProcessingJob, fields store.Fields) error
	GetDocument(ctx context.Context, id uint) (*models.Document, error)
}

// TaskQueue is the consumer side of the work queue.
type TaskQueue interface {
	Claim(ctx context.Context, workerID string, handlers []string) (*models.QueueTask, error)
	StartHeartbeat(ctx context.Context, taskID, workerID string, interval time.Duration) <-chan error
	Finish(ctx context.Context, taskID string) error
}

// Resubmitter puts a queued job back on the work queue after delay and
// records the new task id on the job.
type Resubmitter interface {
	Resubmit(ctx context.Context, job *models.ProcessingJob, delay time.Duration) error
}

// Observer is told about every job state the pool writes.
type Observer interface {
	Observe(ctx context.Context, job models.ProcessingJob)
}

// Opts holds the pool's collaborators.
type Opts struct {
	Store       JobStore
	Queue       TaskQueue
	Registry    *Registry
	Resubmitter Resubmitter
	Observer    Observer
	Config      config.WorkerConfig
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Pool executes tasks with a fixed number of concurrent slots.
type Pool struct {
	opts Opts
	id   string
	now  func() time.Time
}

// New validates opts and returns a Pool. An empty Config.ID gets a generated
// worker id.
func New(opts Opts) (*Pool, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("worker: store is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("worker: queue is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("worker: registry is required")
	}
	if opts.Resubmitter == nil {
		return nil, fmt.Errorf("worker: resubmitter is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	id := opts.Config.ID
	if id == "" {
		var err error
		if id, err = GenerateID(); err != nil {
			return nil, err
		}
	}
	return &Pool{opts: opts, id: id, now: time.Now}, nil
}

// ID returns the worker id used to claim tasks.
func (p *Pool) ID() string { return p.id }

// Run claims and executes tasks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	n := p.opts.Config.Concurrency
	if n <= 0 {
		n = defaultConcurrency
	}
	p.opts.Logger.Info("worker pool started", "worker_id", p.id, "concurrency", n)

	g, gctx := errgroup.WithContext(ctx)
	for slot := 0; slot < n; slot++ {
		g.Go(func() error {
			p.loop(gctx, slot)
			return nil
		})
	}
	err := g.Wait()
	p.opts.Logger.Info("worker pool stopped", "worker_id", p.id)
	return err
}

func (p *Pool) loop(ctx context.Context, slot int) {
	poll := p.opts.Config.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	for ctx.Err() == nil {
		task, err := p.opts.Queue.Claim(ctx, p.id, p.opts.Registry.Names())
		if errors.Is(err, queue.ErrNoTask) {
			sleepWithContext(ctx, poll)
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				p.opts.Logger.Error("claim failed", "slot", slot, "error", err)
			}
			sleepWithContext(ctx, poll)
			continue
		}
		p.Execute(ctx, task)
	}
}

// Execute runs one claimed task to completion and marks it finished in the
// queue. Missing or already resolved jobs are skipped without error.
func (p *Pool) Execute(ctx context.Context, task *models.QueueTask) {
	log := p.opts.Logger.With("task_id", task.ID, "job_id", task.JobID, "type", task.Handler)
	defer func() {
		if err := p.opts.Queue.Finish(context.WithoutCancel(ctx), task.ID); err != nil {
			log.Warn("finish task failed", "error", err)
		}
	}()

	t, err := jobtype.Parse(task.Handler)
	if err != nil {
		log.Error("unroutable task", "error", err)
		return
	}
	h, ok := p.opts.Registry.Lookup(t)
	if !ok {
		log.Error("no handler registered")
		return
	}

	job, err := p.opts.Store.Get(ctx, task.JobID)
	if errors.Is(err, store.ErrNotFound) {
		log.Info("job not found, skipping")
		return
	}
	if err != nil {
		log.Error("load job failed", "error", err)
		return
	}
	if job.Terminal() {
		log.Info("job already resolved, skipping", "status", job.Status)
		return
	}
	if job.ExternalTaskID != "" && job.ExternalTaskID != task.ID {
		log.Info("task superseded, skipping", "current_task", job.ExternalTaskID)
		return
	}

	doc, err := p.opts.Store.GetDocument(ctx, job.DocumentID)
	if errors.Is(err, store.ErrDocumentNotFound) {
		log.Info("document not found, skipping", "document_id", job.DocumentID)
		return
	}
	if err != nil {
		log.Error("load document failed", "error", err)
		return
	}

	fields := store.Fields{
		"status":           models.JobRunning,
		"external_task_id": task.ID,
	}
	if job.StartedAt == nil {
		fields["started_at"] = p.now()
	}
	if err := p.opts.Store.Update(ctx, job, fields); err != nil {
		if errors.Is(err, store.ErrStaleJob) || errors.Is(err, store.ErrNotFound) {
			log.Info("job changed before start, skipping", "error", err)
			return
		}
		log.Error("mark running failed", "error", err)
		return
	}
	p.observe(ctx, *job)

	out, label, ok := p.run(ctx, log, t, h, task, job, doc)
	if !ok {
		return
	}
	p.apply(context.WithoutCancel(ctx), log, job, out, label)
}

// run executes h and waits for its outcome, the hard limit, loss of the task
// claim, or shutdown. ok is false when no outcome should be recorded.
func (p *Pool) run(ctx context.Context, log *slog.Logger, t jobtype.Type, h Handler,
	task *models.QueueTask, job *models.ProcessingJob, doc *models.Document) (out Outcome, label string, ok bool) {

	limits := p.opts.Config.LimitsFor(t)
	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	handlerCtx := runCtx
	if limits.Soft > 0 {
		var cancelSoft context.CancelFunc
		handlerCtx, cancelSoft = context.WithTimeoutCause(runCtx, limits.Soft, errSoftLimit)
		defer cancelSoft()
	}
	var hard <-chan time.Time
	if limits.Hard > 0 {
		timer := time.NewTimer(limits.Hard)
		defer timer.Stop()
		hard = timer.C
	}

	hbErr := p.opts.Queue.StartHeartbeat(runCtx, task.ID, p.id, p.opts.Config.HeartbeatInterval)
	tracker := &progressTracker{store: p.opts.Store, job: job, log: log}

	p.opts.Metrics.JobStarted()
	defer p.opts.Metrics.JobDone()
	start := time.Now()

	done := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("handler panicked", "panic", r, "stack", string(debug.Stack()))
				done <- Retryf("panic: %v", r)
			}
		}()
		done <- h.Handle(handlerCtx, Task{
			Job:      *job,
			Document: *doc,
			Progress: func(pct int) { tracker.report(runCtx, pct) },
		})
	}()

	select {
	case out = <-done:
		if out.Kind != Success && errors.Is(context.Cause(handlerCtx), errSoftLimit) {
			out = timeout(t, "soft", limits.Soft)
			label = "timeout"
		}
	case <-hard:
		cancelRun(errHardLimit)
		out = timeout(t, "hard", limits.Hard)
		label = "timeout"
	case err := <-hbErr:
		cancelRun(err)
		tracker.close()
		log.Warn("task claim lost, abandoning job", "error", err)
		return Outcome{}, "", false
	case <-ctx.Done():
		cancelRun(ctx.Err())
		tracker.close()
		log.Info("shutting down, leaving job for recovery")
		return Outcome{}, "", false
	}

	*job = tracker.close()
	if label == "" {
		label = out.Kind.String()
	}
	p.opts.Metrics.JobFinished(t.String(), label, time.Since(start))
	return out, label, true
}

// apply records out on job following the retry policy.
func (p *Pool) apply(ctx context.Context, log *slog.Logger, job *models.ProcessingJob, out Outcome, label string) {
	now := p.now()
	maxRetries := p.opts.Config.RetriesFor(jobtype.Type(job.JobType))

	var fields store.Fields
	requeue := false
	switch out.Kind {
	case Success:
		fields = store.Fields{
			"status":       models.JobCompleted,
			"progress":     100,
			"completed_at": now,
		}
		if out.Reason != "" {
			fields["error_message"] = out.Reason
		}
	case Retryable:
		n := RetryCount(job.ErrorMessage)
		if n >= maxRetries {
			fields = failedFields(now, fmt.Sprintf("Final failure after %d retries: %s", n, out.Reason))
			break
		}
		requeue = true
		fields = store.Fields{
			"status":           models.JobQueued,
			"started_at":       nil,
			"completed_at":     nil,
			"external_task_id": "",
			"progress":         0,
			"error_message":    fmt.Sprintf("Retry %d/%d: %s", n+1, maxRetries, out.Reason),
		}
	default:
		fields = failedFields(now, out.Reason)
	}

	if err := p.opts.Store.Update(ctx, job, fields); err != nil {
		if errors.Is(err, store.ErrStaleJob) || errors.Is(err, store.ErrNotFound) {
			log.Info("job changed during execution, outcome dropped", "outcome", label, "error", err)
			return
		}
		log.Error("record outcome failed", "outcome", label, "error", err)
		return
	}
	log.Info("job finished", "outcome", label, "status", job.Status, "message", job.ErrorMessage)

	if requeue {
		if err := p.opts.Resubmitter.Resubmit(ctx, job, p.opts.Config.RetryBackoff); err != nil {
			log.Error("resubmit failed", "error", err)
			if uerr := p.opts.Store.Update(ctx, job, failedFields(p.now(), "Failed to dispatch task: "+err.Error())); uerr != nil {
				log.Error("mark dispatch failure", "error", uerr)
				return
			}
		}
	}
	p.observe(ctx, *job)
}

func (p *Pool) observe(ctx context.Context, job models.ProcessingJob) {
	if p.opts.Observer != nil {
		p.opts.Observer.Observe(ctx, job)
	}
}

func failedFields(now time.Time, reason string) store.Fields {
	return store.Fields{
		"status":        models.JobFailed,
		"completed_at":  now,
		"error_message": reason,
	}
}

func timeout(t jobtype.Type, which string, limit time.Duration) Outcome {
	return Failf("%s timeout: %s time limit (%s) exceeded", t, which, limit)
}

// progressTracker serializes progress writes from the handler goroutine with
// the pool's final write.
type progressTracker struct {
	mu     sync.Mutex
	store  JobStore
	job    *models.ProcessingJob
	log    *slog.Logger
	closed bool
}

func (t *progressTracker) report(ctx context.Context, pct int) {
	if pct > 100 {
		pct = 100
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || pct <= t.job.Progress {
		return
	}
	if err := t.store.Update(ctx, t.job, store.Fields{"progress": pct}); err != nil {
		t.log.Debug("progress update dropped", "progress", pct, "error", err)
	}
}

// close stops further progress writes and returns the latest job row.
func (t *progressTracker) close() models.ProcessingJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return *t.job
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
