package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-cli/internal/model"
	"github.com/sells-group/dialer-cli/internal/store"
)

// Snapshot holds a point-in-time view of one task date's dialer tasks.
type Snapshot struct {
	TaskDate       time.Time `json:"task_date"`
	Total          int       `json:"total"`
	Sent           int       `json:"sent"`
	PartialFailure int       `json:"partial_failure"`
	Failed         int       `json:"failed"`
	InProgress     int       `json:"in_progress"`
	DeadLetters    int       `json:"dead_letters"`
	CollectedAt    time.Time `json:"collected_at"`
}

// TaskSource is the subset of the store the collector reads.
type TaskSource interface {
	ListDialerTasks(ctx context.Context, filter store.TaskFilter) ([]model.DialerTask, error)
	CountDeadLetters(ctx context.Context) (int, error)
}

// Collector gathers task status counts from the store.
type Collector struct {
	store TaskSource
}

// NewCollector creates a new collector.
func NewCollector(st TaskSource) *Collector {
	return &Collector{store: st}
}

// Collect counts the tasks for date by status and reads the dead-letter depth.
func (c *Collector) Collect(ctx context.Context, date time.Time) (*Snapshot, error) {
	snap := &Snapshot{TaskDate: date, CollectedAt: time.Now().UTC()}

	tasks, err := c.store.ListDialerTasks(ctx, store.TaskFilter{Date: &date, Limit: 1000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list tasks")
	}
	snap.Total = len(tasks)
	for _, t := range tasks {
		switch t.Status {
		case model.TaskStatusSent, model.TaskStatusSuccess:
			snap.Sent++
		case model.TaskStatusPartialFailure:
			snap.PartialFailure++
		case model.TaskStatusFailure, model.TaskStatusConstructFailed:
			snap.Failed++
		default:
			snap.InProgress++
		}
	}

	depth, err := c.store.CountDeadLetters(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dead letters")
	}
	snap.DeadLetters = depth

	return snap, nil
}
