package queue

import (
	"context"
	"time"
)

// DefaultHeartbeatInterval is the default interval between task heartbeats.
const DefaultHeartbeatInterval = 10 * time.Second

// StartHeartbeat launches a goroutine that periodically refreshes the
// heartbeat of a claimed task. It returns a channel that receives an error if
// the task is lost or the update fails. The goroutine exits when ctx is done.
func (q *Queue) StartHeartbeat(ctx context.Context, taskID, workerID string, interval time.Duration) <-chan error {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	errCh := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := q.Heartbeat(ctx, taskID, workerID); err != nil {
					if ctx.Err() != nil {
						return
					}
					errCh <- err
					return
				}
			}
		}
	}()

	return errCh
}
