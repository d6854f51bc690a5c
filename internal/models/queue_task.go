package models

import "time"

// Queue task statuses.
const (
	TaskPending   = "pending"
	TaskClaimed   = "claimed"
	TaskDone      = "done"
	TaskCancelled = "cancelled"
)

// QueueTask is a durable work queue entry. Its ID is the external task id
// recorded on the processing job it drives.
type QueueTask struct {
	ID          string    `gorm:"primaryKey;size:36"`
	Handler     string    `gorm:"size:16;not null;index"`
	DocumentID  uint      `gorm:"index"`
	JobID       uint      `gorm:"index"`
	RunAt       time.Time `gorm:"index"`
	Status      string    `gorm:"size:16;default:pending;index"`
	ClaimedBy   string    `gorm:"size:64"`
	ClaimedAt   *time.Time
	HeartbeatAt *time.Time `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
