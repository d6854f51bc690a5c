package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep every five minutes.
const DefaultSchedule = "@every 5m"

// cronParser accepts 5-field cron expressions and descriptors like @every.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a sweep schedule.
func ParseSchedule(expr string) (cron.Schedule, error) {
	if expr == "" {
		expr = DefaultSchedule
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("monitor: parse schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Run sweeps on the configured schedule until ctx is cancelled. Each result
// is passed to report if it is non-nil.
func (m *Monitor) Run(ctx context.Context, report func(SweepResult)) error {
	sched, err := ParseSchedule(m.opts.Config.Schedule)
	if err != nil {
		return err
	}
	m.opts.Logger.Info("stuck-job monitor started", "schedule", m.opts.Config.Schedule)
	for {
		wait := time.Until(sched.Next(m.now()))
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			m.opts.Logger.Info("stuck-job monitor stopped")
			return nil
		case <-time.After(wait):
		}
		res := m.Sweep(ctx)
		if report != nil {
			report(res)
		}
	}
}
