package dialer

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-cli/internal/model"
	"github.com/sells-group/dialer-cli/internal/monitoring"
	"github.com/sells-group/dialer-cli/internal/resilience"
	"github.com/sells-group/dialer-cli/internal/scratch"
)

// RetrySummary reports a dead-letter retry pass.
type RetrySummary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
}

// RetryDeadLetters re-submits due dead-lettered chunks once each. A
// success removes the entry and refreshes the task status; a failure
// pushes the next attempt out with backoff.
func (p *Pipeline) RetryDeadLetters(ctx context.Context, limit int) (*RetrySummary, error) {
	entries, err := p.store.DequeueDeadLetters(ctx, model.DeadLetterFilter{Limit: limit})
	if err != nil {
		return nil, eris.Wrap(err, "dialer: dequeue dead letters")
	}

	sum := &RetrySummary{}
	touched := make(map[string]bool)
	for _, dl := range entries {
		if ctx.Err() != nil {
			break
		}
		sum.Attempted++
		log := zap.L().With(zap.String("dead_letter_id", dl.ID), zap.Int("chunk", dl.Chunk.ChunkIndex))

		vt, err := resilience.ExecuteVal(ctx, p.breakers.Get(EndpointCreateTask), func(ctx context.Context) (*model.VendorTask, error) {
			return p.SubmitChunk(ctx, dl.Chunk)
		})
		if err == nil {
			sum.Succeeded++
			touched[dl.DialerTaskID] = true
			data := map[string]any{"chunk": dl.Chunk.ChunkIndex, "dead_letter_id": dl.ID}
			if vt != nil {
				data["vendor_task_id"] = vt.VendorTaskID
			}
			if err := p.store.RecordTaskEvent(ctx, dl.DialerTaskID, model.EventDeadLetterRetried, data); err != nil {
				log.Warn("dialer: record dead letter retried", zap.Error(err))
			}
			if err := p.store.RemoveDeadLetter(ctx, dl.ID); err != nil {
				return sum, eris.Wrap(err, "dialer: remove dead letter")
			}
			log.Info("dialer: dead letter resent")
			continue
		}

		sum.Failed++
		next := p.now().UTC().Add(resilience.DeadLetterBackoff(dl.RetryCount+1, 0, 0))
		if err := p.store.IncrementDeadLetterRetry(ctx, dl.ID, next, err.Error()); err != nil {
			return sum, eris.Wrap(err, "dialer: increment dead letter retry")
		}
		log.Warn("dialer: dead letter retry failed", zap.Error(err), zap.Time("next_retry_at", next))

		if dl.RetryCount+1 >= dl.MaxRetries {
			sum.Exhausted++
			p.notify(ctx, monitoring.Alert{
				Type:     monitoring.AlertDeadLetter,
				Severity: "critical",
				Message: fmt.Sprintf("rank %d chunk %d exhausted %d dead-letter retries: %s",
					dl.Chunk.Rank, dl.Chunk.ChunkIndex, dl.MaxRetries, err.Error()),
				Details: map[string]any{"task_id": dl.DialerTaskID, "dead_letter_id": dl.ID},
			})
		}
	}

	for taskID := range touched {
		if err := p.refreshSendStatus(ctx, taskID); err != nil {
			zap.L().Warn("dialer: refresh send status", zap.String("task_id", taskID), zap.Error(err))
		}
	}
	return sum, nil
}

// refreshSendStatus marks a task sent once none of its chunks remain
// dead-lettered.
func (p *Pipeline) refreshSendStatus(ctx context.Context, taskID string) error {
	remaining, err := p.store.DequeueDeadLetters(ctx, model.DeadLetterFilter{
		DialerTaskID:  taskID,
		IncludeNotDue: true,
		Limit:         1,
	})
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		return nil
	}
	return p.store.UpdateDialerTaskStatus(ctx, taskID, model.TaskStatusSent, "")
}

// CleanupSummary reports what Cleanup removed.
type CleanupSummary struct {
	ConstructedPurged int64 `json:"constructed_purged"`
	ScratchDeleted    int   `json:"scratch_deleted"`
}

// Cleanup deletes the scratch keys of date and purges constructed records
// older than the retention window.
func (p *Pipeline) Cleanup(ctx context.Context, date time.Time) (*CleanupSummary, error) {
	sum := &CleanupSummary{}

	keys, err := p.scratch.Keys(ctx, scratch.DatePrefix(date))
	if err != nil {
		return nil, eris.Wrap(err, "dialer: list scratch keys")
	}
	if len(keys) > 0 {
		if err := p.scratch.Delete(ctx, keys...); err != nil {
			return nil, eris.Wrap(err, "dialer: delete scratch keys")
		}
	}
	sum.ScratchDeleted = len(keys)

	retention := p.cfg.RetentionDays
	if retention <= 0 {
		retention = 7
	}
	cutoff := date.AddDate(0, 0, -retention)
	n, err := p.store.PurgeConstructed(ctx, cutoff)
	if err != nil {
		return sum, eris.Wrap(err, "dialer: purge constructed")
	}
	sum.ConstructedPurged = n

	zap.L().Info("dialer: cleanup complete",
		zap.String("date", date.Format(dateLayout)),
		zap.Int("scratch_deleted", sum.ScratchDeleted),
		zap.Int64("constructed_purged", n),
		zap.Time("cutoff", cutoff),
	)
	return sum, nil
}
