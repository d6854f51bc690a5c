// Package queue is a durable, table-backed work queue shared by every worker
// process. Task ids double as the external task ids recorded on jobs.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/docyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoTask is returned by Claim when nothing is ready to run.
var ErrNoTask = errors.New("queue: no ready task")

// ErrTaskLost is returned when a claimed task was cancelled or taken over.
var ErrTaskLost = errors.New("queue: task no longer claimed")

// ErrTaskNotFound is returned by Get for an unknown or pruned task.
var ErrTaskNotFound = errors.New("queue: task not found")

// DefaultActiveWindow is how recent a heartbeat must be for a claimed task to
// count as active.
const DefaultActiveWindow = 30 * time.Second

// Args identifies the job a task drives.
type Args struct {
	DocumentID uint
	JobID      uint
}

// Queue submits and claims tasks stored in the queue_tasks table.
type Queue struct {
	db           *gorm.DB
	activeWindow time.Duration
	now          func() time.Time
}

// New returns a Queue on db. A non-positive activeWindow selects
// DefaultActiveWindow.
func New(db *gorm.DB, activeWindow time.Duration) *Queue {
	if activeWindow <= 0 {
		activeWindow = DefaultActiveWindow
	}
	return &Queue{db: db, activeWindow: activeWindow, now: time.Now}
}

// Submit enqueues a task for handler that becomes claimable after delay.
// A negative delay backdates run_at, which keeps a replacement task in the
// claim order of the task it replaces. It returns the new task id.
func (q *Queue) Submit(ctx context.Context, handler string, args Args, delay time.Duration) (string, error) {
	if handler == "" {
		return "", fmt.Errorf("queue: handler is required")
	}
	now := q.now()
	task := models.QueueTask{
		ID:         uuid.NewString(),
		Handler:    handler,
		DocumentID: args.DocumentID,
		JobID:      args.JobID,
		RunAt:      now.Add(delay),
		Status:     models.TaskPending,
	}
	if err := q.db.WithContext(ctx).Create(&task).Error; err != nil {
		return "", fmt.Errorf("queue: submit %s for job %d: %w", handler, args.JobID, err)
	}
	return task.ID, nil
}

// Claim atomically takes the oldest ready task for workerID. handlers limits
// the task kinds considered; empty means all. It returns ErrNoTask when
// nothing is ready.
//
// The candidate row is locked with SELECT ... FOR UPDATE SKIP LOCKED where
// the dialect supports it, and the claim itself is a conditional update on
// status so two workers can never both win the same task.
func (q *Queue) Claim(ctx context.Context, workerID string, handlers []string) (*models.QueueTask, error) {
	if workerID == "" {
		return nil, fmt.Errorf("queue: workerID is required")
	}

	var claimed models.QueueTask
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := q.now()
		sel := tx.Where("status = ? AND run_at <= ?", models.TaskPending, now)
		if len(handlers) > 0 {
			sel = sel.Where("handler IN ?", handlers)
		}
		if tx.Dialector.Name() != "sqlite" {
			sel = sel.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		result := sel.Order("run_at ASC, created_at ASC").Limit(1).Find(&claimed)
		if result.Error != nil {
			return fmt.Errorf("queue: find ready task: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNoTask
		}

		upd := tx.Model(&models.QueueTask{}).
			Where("id = ? AND status = ?", claimed.ID, models.TaskPending).
			Updates(map[string]interface{}{
				"status":       models.TaskClaimed,
				"claimed_by":   workerID,
				"claimed_at":   now,
				"heartbeat_at": now,
			})
		if upd.Error != nil {
			return fmt.Errorf("queue: claim task %s: %w", claimed.ID, upd.Error)
		}
		if upd.RowsAffected == 0 {
			return ErrNoTask
		}
		claimed.Status = models.TaskClaimed
		claimed.ClaimedBy = workerID
		claimed.ClaimedAt = &now
		claimed.HeartbeatAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// Heartbeat refreshes a claimed task's heartbeat. It returns ErrTaskLost if
// the task is no longer claimed by workerID.
func (q *Queue) Heartbeat(ctx context.Context, taskID, workerID string) error {
	result := q.db.WithContext(ctx).Model(&models.QueueTask{}).
		Where("id = ? AND status = ? AND claimed_by = ?", taskID, models.TaskClaimed, workerID).
		Update("heartbeat_at", q.now())
	if result.Error != nil {
		return fmt.Errorf("queue: heartbeat %s: %w", taskID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrTaskLost, taskID)
	}
	return nil
}

// Finish marks a claimed task done.
func (q *Queue) Finish(ctx context.Context, taskID string) error {
	result := q.db.WithContext(ctx).Model(&models.QueueTask{}).
		Where("id = ? AND status = ?", taskID, models.TaskClaimed).
		Update("status", models.TaskDone)
	if result.Error != nil {
		return fmt.Errorf("queue: finish %s: %w", taskID, result.Error)
	}
	return nil
}

// Cancel withdraws a pending or claimed task. Cancelling an unknown or
// already finished task is not an error.
func (q *Queue) Cancel(ctx context.Context, taskID string) error {
	if taskID == "" {
		return nil
	}
	result := q.db.WithContext(ctx).Model(&models.QueueTask{}).
		Where("id = ? AND status IN ?", taskID, []string{models.TaskPending, models.TaskClaimed}).
		Update("status", models.TaskCancelled)
	if result.Error != nil {
		return fmt.Errorf("queue: cancel %s: %w", taskID, result.Error)
	}
	return nil
}

// IntrospectActive returns the ids of claimed tasks whose heartbeat is within
// the active window.
func (q *Queue) IntrospectActive(ctx context.Context) (map[string]struct{}, error) {
	cutoff := q.now().Add(-q.activeWindow)
	var ids []string
	err := q.db.WithContext(ctx).Model(&models.QueueTask{}).
		Where("status = ? AND heartbeat_at >= ?", models.TaskClaimed, cutoff).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("queue: introspect active: %w", err)
	}
	active := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		active[id] = struct{}{}
	}
	return active, nil
}

// Get returns a task by id.
func (q *Queue) Get(ctx context.Context, taskID string) (*models.QueueTask, error) {
	var task models.QueueTask
	err := q.db.WithContext(ctx).Where("id = ?", taskID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("queue: get %s: %w", taskID, err)
	}
	return &task, nil
}

// Prune deletes done and cancelled tasks last touched before cutoff.
func (q *Queue) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result := q.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []string{models.TaskDone, models.TaskCancelled}, cutoff).
		Delete(&models.QueueTask{})
	if result.Error != nil {
		return 0, fmt.Errorf("queue: prune: %w", result.Error)
	}
	return result.RowsAffected, nil
}
