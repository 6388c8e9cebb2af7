package dialer

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-cli/internal/model"
	"github.com/sells-group/dialer-cli/internal/scratch"
)

// Populate selects the eligible accounts of every enabled rank for date,
// writes them to scratch in batches and returns the batch refs. A rank
// that already logged batching_processed for date is not queried again;
// its recorded batches are returned instead.
func (p *Pipeline) Populate(ctx context.Context, date time.Time) ([]model.BatchRef, error) {
	defer p.observe("populate", time.Now())

	settings, err := p.Settings(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.Active {
		zap.L().Info("dialer: populate skipped, feature inactive")
		return nil, nil
	}

	var refs []model.BatchRef
	for _, rank := range p.Ranks() {
		rankRefs, err := p.populateRank(ctx, rank, date, settings.BatchSize)
		if err != nil {
			return refs, err
		}
		refs = append(refs, rankRefs...)
	}
	return refs, nil
}

func (p *Pipeline) populateRank(ctx context.Context, rank model.Rank, date time.Time, batchSize int) ([]model.BatchRef, error) {
	log := zap.L().With(zap.Int("rank", rank.ID), zap.String("date", date.Format(dateLayout)))

	task, err := p.store.CreateDialerTask(ctx, rank.TaskType(), rank.ID, date)
	if err != nil {
		return nil, eris.Wrapf(err, "dialer: create task rank %d", rank.ID)
	}
	log = log.With(zap.String("task_id", task.ID))

	done, err := p.store.LatestTaskEvent(ctx, task.ID, model.TaskStatusBatchingProcessed)
	if err != nil {
		return nil, eris.Wrapf(err, "dialer: check populate rank %d", rank.ID)
	}
	if done != nil {
		total, _ := done.IntData("total_batch")
		log.Info("dialer: rank already populated", zap.Int("total_batch", total))
		return batchRefs(task, date, total), nil
	}

	if err := p.store.UpdateDialerTaskStatus(ctx, task.ID, model.TaskStatusBatching, ""); err != nil {
		return nil, eris.Wrap(err, "dialer: mark batching")
	}
	if err := p.store.RecordTaskEvent(ctx, task.ID, model.TaskStatusBatching, nil); err != nil {
		return nil, eris.Wrap(err, "dialer: record batching")
	}

	accounts, err := p.store.ListEligibleAccounts(ctx, rank, date)
	if err != nil {
		p.failTask(ctx, task.ID, model.TaskStatusFailure, err)
		return nil, eris.Wrapf(err, "dialer: eligible accounts rank %d", rank.ID)
	}

	ids := make([]int64, len(accounts))
	for i, a := range accounts {
		ids[i] = a.AccountPaymentID
	}

	batches := Chunk(ids, batchSize)
	ttl := p.cfg.ScratchTTL()
	for i, batch := range batches {
		key := scratch.BatchKey(date, rank.ID, i+1)
		if err := p.scratch.SetIDs(ctx, key, batch, ttl); err != nil {
			p.failTask(ctx, task.ID, model.TaskStatusFailure, err)
			return nil, eris.Wrapf(err, "dialer: store batch %s", key)
		}
	}

	if err := p.store.RecordTaskEvent(ctx, task.ID, model.TaskStatusBatchingProcessed, map[string]any{
		"total_batch":    len(batches),
		"total_accounts": len(ids),
		"batch_size":     batchSize,
	}); err != nil {
		return nil, eris.Wrap(err, "dialer: record batching_processed")
	}
	if err := p.store.UpdateDialerTaskStatus(ctx, task.ID, model.TaskStatusBatchingProcessed, ""); err != nil {
		return nil, eris.Wrap(err, "dialer: mark batching_processed")
	}

	label := strconv.Itoa(rank.ID)
	p.metrics.BatchesPopulated.WithLabelValues(label).Add(float64(len(batches)))
	p.metrics.AccountsPopulated.WithLabelValues(label).Add(float64(len(ids)))
	log.Info("dialer: rank populated", zap.Int("accounts", len(ids)), zap.Int("batches", len(batches)))

	return batchRefs(task, date, len(batches)), nil
}

func batchRefs(task *model.DialerTask, date time.Time, total int) []model.BatchRef {
	refs := make([]model.BatchRef, 0, total)
	for n := 1; n <= total; n++ {
		refs = append(refs, model.BatchRef{
			DialerTaskID: task.ID,
			Rank:         task.Rank,
			TaskDate:     date,
			BatchNumber:  n,
			Key:          scratch.BatchKey(date, task.Rank, n),
		})
	}
	return refs
}

func (p *Pipeline) failTask(ctx context.Context, taskID string, status model.TaskStatus, cause error) {
	if err := p.store.UpdateDialerTaskStatus(ctx, taskID, status, cause.Error()); err != nil {
		zap.L().Warn("dialer: mark task failed", zap.String("task_id", taskID), zap.Error(err))
	}
}
