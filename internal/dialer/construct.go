package dialer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dialer-cli/internal/model"
	"github.com/sells-group/dialer-cli/internal/monitoring"
	"github.com/sells-group/dialer-cli/internal/scratch"
)

// ConstructBatch turns one populated batch into constructed records. It
// returns the number of records written; a batch that already has a
// construct_processed event writes nothing.
func (p *Pipeline) ConstructBatch(ctx context.Context, ref model.BatchRef) (int, error) {
	log := zap.L().With(
		zap.Int("rank", ref.Rank),
		zap.String("task_id", ref.DialerTaskID),
		zap.Int("batch", ref.BatchNumber),
	)

	processed, err := p.store.ProcessedBatches(ctx, ref.DialerTaskID)
	if err != nil {
		return 0, eris.Wrap(err, "dialer: processed batches")
	}
	if slices.Contains(processed, ref.BatchNumber) {
		log.Debug("dialer: batch already constructed")
		return 0, nil
	}

	ids, err := p.scratch.GetIDs(ctx, ref.Key)
	if errors.Is(err, scratch.ErrNotFound) {
		p.recordConstructFailure(ctx, ref, "scratch key expired")
		return 0, eris.Errorf("dialer: batch %s expired before construction", ref.Key)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "dialer: read batch %s", ref.Key)
	}

	details, err := p.store.GetAccountDetails(ctx, ids)
	if err != nil {
		p.recordConstructFailure(ctx, ref, err.Error())
		return 0, eris.Wrapf(err, "dialer: account details batch %d", ref.BatchNumber)
	}

	records := make([]model.ConstructedRecord, 0, len(details))
	for _, d := range details {
		records = append(records, BuildRecord(d, ref))
	}
	records = DedupeRecords(records)

	n, err := p.store.UpsertConstructed(ctx, records)
	if err != nil {
		p.recordConstructFailure(ctx, ref, err.Error())
		return 0, eris.Wrapf(err, "dialer: upsert batch %d", ref.BatchNumber)
	}

	if err := p.store.RecordTaskEvent(ctx, ref.DialerTaskID, model.EventConstructProcessed, map[string]any{
		"batch":   ref.BatchNumber,
		"ids":     len(ids),
		"records": len(records),
	}); err != nil {
		return int(n), eris.Wrap(err, "dialer: record construct_processed")
	}

	p.metrics.RecordsConstructed.WithLabelValues(strconv.Itoa(ref.Rank)).Add(float64(len(records)))
	log.Info("dialer: batch constructed", zap.Int("ids", len(ids)), zap.Int("records", len(records)))
	return len(records), nil
}

func (p *Pipeline) recordConstructFailure(ctx context.Context, ref model.BatchRef, msg string) {
	if err := p.store.RecordTaskEvent(ctx, ref.DialerTaskID, model.TaskStatusConstructFailed, map[string]any{
		"batch": ref.BatchNumber,
		"error": msg,
	}); err != nil {
		zap.L().Warn("dialer: record construct failure", zap.Error(err))
	}
}

// Construct builds every batch concurrently, bounded by the configured
// worker count. A failed batch does not stop the others; task statuses
// are updated once all batches have finished.
func (p *Pipeline) Construct(ctx context.Context, refs []model.BatchRef) error {
	if len(refs) == 0 {
		return nil
	}
	defer p.observe("construct", time.Now())

	workers := p.cfg.ConstructWorkers
	if workers <= 0 {
		workers = 4
	}

	type taskState struct {
		rank   int
		total  int
		failed int
	}
	var mu sync.Mutex
	tasks := make(map[string]*taskState)
	order := make([]string, 0)
	for _, ref := range refs {
		ts, ok := tasks[ref.DialerTaskID]
		if !ok {
			ts = &taskState{rank: ref.Rank}
			tasks[ref.DialerTaskID] = ts
			order = append(order, ref.DialerTaskID)
		}
		ts.total++
	}

	for _, id := range order {
		if err := p.store.UpdateDialerTaskStatus(ctx, id, model.TaskStatusConstructing, ""); err != nil {
			return eris.Wrap(err, "dialer: mark constructing")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, ref := range refs {
		g.Go(func() error {
			if _, err := p.ConstructBatch(gctx, ref); err != nil {
				zap.L().Error("dialer: construct batch failed",
					zap.Int("rank", ref.Rank),
					zap.Int("batch", ref.BatchNumber),
					zap.Error(err),
				)
				mu.Lock()
				tasks[ref.DialerTaskID].failed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "dialer: construct cancelled")
	}

	failedBatches := 0
	for _, id := range order {
		ts := tasks[id]
		if ts.failed == 0 {
			if err := p.store.UpdateDialerTaskStatus(ctx, id, model.TaskStatusConstructed, ""); err != nil {
				return eris.Wrap(err, "dialer: mark constructed")
			}
			continue
		}
		failedBatches += ts.failed
		msg := fmt.Sprintf("%d of %d batches failed", ts.failed, ts.total)
		if err := p.store.UpdateDialerTaskStatus(ctx, id, model.TaskStatusConstructFailed, msg); err != nil {
			return eris.Wrap(err, "dialer: mark construct_failed")
		}
		p.notify(ctx, monitoring.Alert{
			Type:     monitoring.AlertConstructTimeout,
			Severity: "high",
			Message:  fmt.Sprintf("rank %d construction incomplete: %s", ts.rank, msg),
			Details:  map[string]any{"task_id": id, "rank": ts.rank},
		})
	}

	if failedBatches > 0 {
		return eris.Errorf("dialer: %d of %d batches failed to construct", failedBatches, len(refs))
	}
	return nil
}
