package dialer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-cli/internal/model"
	"github.com/sells-group/dialer-cli/internal/monitoring"
	"github.com/sells-group/dialer-cli/internal/resilience"
	"github.com/sells-group/dialer-cli/internal/store"
	"github.com/sells-group/dialer-cli/pkg/airudder"
)

// ErrConstructionPending is matched by errors.Is when a send is attempted
// before every batch of every rank has been constructed.
var ErrConstructionPending = errors.New("dialer: construction pending")

// ErrChunkRecordsMissing is returned when none of a chunk's constructed
// records exist any more, typically after retention cleanup.
var ErrChunkRecordsMissing = errors.New("dialer: chunk records missing")

// PendingError reports the first rank whose construction is incomplete.
type PendingError struct {
	Rank      int
	Processed int
	Expected  int // -1 when the rank has not been populated
}

func (e *PendingError) Error() string {
	if e.Expected < 0 {
		return fmt.Sprintf("dialer: construction pending: rank %d not populated", e.Rank)
	}
	return fmt.Sprintf("dialer: construction pending: rank %d has %d/%d batches", e.Rank, e.Processed, e.Expected)
}

// Is makes errors.Is(err, ErrConstructionPending) match.
func (e *PendingError) Is(target error) bool {
	return target == ErrConstructionPending
}

// SendSummary reports the outcome of a send run.
type SendSummary struct {
	TaskDate time.Time        `json:"task_date"`
	Ranks    []DispatchResult `json:"ranks"`
}

// Totals sums sent and failed chunks across ranks.
func (s *SendSummary) Totals() (sent, failed int) {
	for _, r := range s.Ranks {
		sent += r.Sent
		failed += r.Failed
	}
	return sent, failed
}

// PlanSend checks that construction is complete for date and returns one
// plan per rank. Records are chunked by send batch size in DPD-descending
// order; chunks that already have a vendor task are left out.
func (p *Pipeline) PlanSend(ctx context.Context, date time.Time) ([]model.SendPlan, error) {
	settings, err := p.Settings(ctx)
	if err != nil {
		return nil, err
	}
	ranks := p.Ranks()

	tasks := make([]*model.DialerTask, len(ranks))
	for i, rank := range ranks {
		task, err := p.store.GetDialerTask(ctx, rank.TaskType(), date)
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, &PendingError{Rank: rank.ID, Expected: -1}
		}
		if err != nil {
			return nil, eris.Wrapf(err, "dialer: load task rank %d", rank.ID)
		}

		ev, err := p.store.LatestTaskEvent(ctx, task.ID, model.TaskStatusBatchingProcessed)
		if err != nil {
			return nil, eris.Wrapf(err, "dialer: populate event rank %d", rank.ID)
		}
		if ev == nil {
			return nil, &PendingError{Rank: rank.ID, Expected: -1}
		}
		expected, _ := ev.IntData("total_batch")

		processed, err := p.store.ProcessedBatches(ctx, task.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "dialer: processed batches rank %d", rank.ID)
		}
		if len(processed) < expected {
			return nil, &PendingError{Rank: rank.ID, Processed: len(processed), Expected: expected}
		}
		tasks[i] = task
	}

	plans := make([]model.SendPlan, 0, len(ranks))
	for i, rank := range ranks {
		ids, err := p.store.ListConstructedIDs(ctx, date, rank.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "dialer: constructed ids rank %d", rank.ID)
		}

		plan := model.SendPlan{DialerTaskID: tasks[i].ID, Rank: rank.ID}
		for idx, chunk := range Chunk(ids, settings.SendBatchSize) {
			vt, err := p.store.GetVendorTaskByChunk(ctx, tasks[i].ID, idx)
			if err != nil && !errors.Is(err, store.ErrVendorTaskNotFound) {
				return nil, eris.Wrap(err, "dialer: check chunk sent")
			}
			if vt != nil {
				continue
			}
			plan.Chunks = append(plan.Chunks, model.ChunkRef{
				DialerTaskID: tasks[i].ID,
				Rank:         rank.ID,
				GroupName:    rank.GroupName,
				TaskDate:     date,
				ChunkIndex:   idx,
				RecordIDs:    chunk,
			})
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// SubmitChunk sends one chunk to the vendor as a single task. It makes one
// attempt; retries belong to the dispatcher. A chunk that was already
// submitted returns its existing vendor task. A chunk with no dialable
// contact returns nil without calling the vendor; one whose records are
// gone returns ErrChunkRecordsMissing.
func (p *Pipeline) SubmitChunk(ctx context.Context, ref model.ChunkRef) (*model.VendorTask, error) {
	log := zap.L().With(
		zap.Int("rank", ref.Rank),
		zap.String("task_id", ref.DialerTaskID),
		zap.Int("chunk", ref.ChunkIndex),
	)

	existing, err := p.store.GetVendorTaskByChunk(ctx, ref.DialerTaskID, ref.ChunkIndex)
	if err != nil && !errors.Is(err, store.ErrVendorTaskNotFound) {
		return nil, eris.Wrap(err, "dialer: check chunk sent")
	}
	if existing != nil {
		log.Info("dialer: chunk already sent", zap.String("vendor_task_id", existing.VendorTaskID))
		return existing, nil
	}

	records, err := p.store.GetConstructedByIDs(ctx, ref.RecordIDs)
	if err != nil {
		return nil, eris.Wrapf(err, "dialer: load chunk %d", ref.ChunkIndex)
	}
	if len(records) == 0 && len(ref.RecordIDs) > 0 {
		return nil, fmt.Errorf("%w: chunk %d of %s", ErrChunkRecordsMissing, ref.ChunkIndex, ref.DialerTaskID)
	}

	contacts := make([]airudder.Contact, 0, len(records))
	for _, r := range records {
		c, ok := ToContact(r)
		if !ok {
			p.metrics.ContactsDropped.WithLabelValues("invalid_phone").Inc()
			continue
		}
		contacts = append(contacts, c)
	}
	rank := strconv.Itoa(ref.Rank)
	if len(contacts) == 0 {
		log.Warn("dialer: chunk has no dialable contacts", zap.Int("records", len(records)))
		return nil, p.store.RecordTaskEvent(ctx, ref.DialerTaskID, model.TaskStatusSent, map[string]any{
			"chunk":    ref.ChunkIndex,
			"contacts": 0,
			"skipped":  true,
		})
	}

	start := p.now().UTC()
	end := start.Add(time.Duration(p.cfg.CallWindowHours) * time.Hour)
	resp, err := p.client.CreateTask(ctx, airudder.CreateTaskRequest{
		TaskName:    fmt.Sprintf("%s-%s-%d", ref.GroupName, ref.TaskDate.Format("20060102"), ref.ChunkIndex),
		GroupName:   ref.GroupName,
		StartTime:   start,
		EndTime:     end,
		CallbackURL: p.vendor.CallbackURL,
		ContactList: contacts,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dialer: create vendor task chunk %d", ref.ChunkIndex)
	}

	vt := model.VendorTask{
		VendorTaskID: resp.TaskID,
		DialerTaskID: ref.DialerTaskID,
		Rank:         ref.Rank,
		ChunkIndex:   ref.ChunkIndex,
		GroupName:    ref.GroupName,
		Contacts:     len(contacts),
		StartTime:    start,
		EndTime:      end,
		CreatedAt:    start,
	}
	if err := p.store.SaveVendorTask(ctx, vt); err != nil {
		return nil, eris.Wrapf(err, "dialer: save vendor task %s", resp.TaskID)
	}
	if err := p.store.RecordTaskEvent(ctx, ref.DialerTaskID, model.TaskStatusSent, map[string]any{
		"chunk":          ref.ChunkIndex,
		"vendor_task_id": resp.TaskID,
		"contacts":       len(contacts),
	}); err != nil {
		return &vt, eris.Wrap(err, "dialer: record sent")
	}

	p.metrics.ContactsSent.WithLabelValues(rank).Add(float64(len(contacts)))
	p.metrics.ChunksSent.WithLabelValues(rank).Inc()
	log.Info("dialer: chunk sent",
		zap.String("vendor_task_id", resp.TaskID),
		zap.Int("contacts", len(contacts)),
		zap.Int("dropped", len(records)-len(contacts)),
	)
	return &vt, nil
}

// DeadLetterChunk records a chunk whose retries are exhausted: a
// sent_failure event, a dead-letter row and a Slack alert.
func (p *Pipeline) DeadLetterChunk(ctx context.Context, ref model.ChunkRef, cause error) error {
	now := p.now().UTC()
	errType := resilience.ClassifyError(cause)

	if err := p.store.RecordTaskEvent(ctx, ref.DialerTaskID, model.TaskStatusSentFailure, map[string]any{
		"chunk": ref.ChunkIndex,
		"error": cause.Error(),
	}); err != nil {
		return eris.Wrap(err, "dialer: record sent_failure")
	}

	maxRetries := p.cfg.DeadLetterRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	dl := model.DeadLetter{
		ID:           uuid.NewString(),
		DialerTaskID: ref.DialerTaskID,
		Phase:        "send",
		Chunk:        ref,
		Error:        cause.Error(),
		ErrorType:    errType,
		MaxRetries:   maxRetries,
		NextRetryAt:  now.Add(resilience.DeadLetterBackoff(0, 0, 0)),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := p.store.EnqueueDeadLetter(ctx, dl); err != nil {
		return eris.Wrap(err, "dialer: enqueue dead letter")
	}

	p.metrics.SendFailures.WithLabelValues(strconv.Itoa(ref.Rank), errType).Inc()
	zap.L().Error("dialer: chunk dead-lettered",
		zap.Int("rank", ref.Rank),
		zap.String("task_id", ref.DialerTaskID),
		zap.Int("chunk", ref.ChunkIndex),
		zap.String("error_type", errType),
		zap.Error(cause),
	)
	p.notify(ctx, monitoring.Alert{
		Type:     monitoring.AlertDeadLetter,
		Severity: "high",
		Message: fmt.Sprintf("AI Rudder send failed for rank %d chunk %d (%d records): %s",
			ref.Rank, ref.ChunkIndex, len(ref.RecordIDs), cause.Error()),
		Details: map[string]any{
			"task_id":        ref.DialerTaskID,
			"dead_letter_id": dl.ID,
			"error_type":     errType,
		},
	})
	return nil
}

// Send waits for construction to finish, plans the chunks of every rank
// and hands each plan to the dispatcher.
func (p *Pipeline) Send(ctx context.Context, date time.Time) (*SendSummary, error) {
	defer p.observe("send", time.Now())

	settings, err := p.Settings(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.Active {
		zap.L().Info("dialer: send skipped, feature inactive")
		return &SendSummary{TaskDate: date}, nil
	}

	plans, err := p.waitForPlans(ctx, date)
	if err != nil {
		return nil, err
	}

	summary := &SendSummary{TaskDate: date}
	for _, plan := range plans {
		if err := p.MarkSending(ctx, plan); err != nil {
			return summary, err
		}
		res, err := p.dispatch.Dispatch(ctx, plan)
		if err != nil {
			return summary, eris.Wrapf(err, "dialer: dispatch rank %d", plan.Rank)
		}
		summary.Ranks = append(summary.Ranks, *res)
	}
	return summary, nil
}

func (p *Pipeline) waitForPlans(ctx context.Context, date time.Time) ([]model.SendPlan, error) {
	polls := p.cfg.ConstructPolls
	for attempt := 0; ; attempt++ {
		plans, err := p.PlanSend(ctx, date)
		if err == nil {
			return plans, nil
		}
		if !errors.Is(err, ErrConstructionPending) {
			return nil, err
		}
		if attempt >= polls {
			p.AlertConstructTimeout(ctx, date, err.Error())
			return nil, err
		}
		zap.L().Info("dialer: waiting for construction", zap.Error(err), zap.Int("attempt", attempt+1))
		if err := p.sleep(ctx, p.pollInterval); err != nil {
			return nil, eris.Wrap(err, "dialer: wait for construction")
		}
	}
}

// MarkSending moves a rank's task to sending ahead of its send chain.
func (p *Pipeline) MarkSending(ctx context.Context, plan model.SendPlan) error {
	if err := p.store.UpdateDialerTaskStatus(ctx, plan.DialerTaskID, model.TaskStatusSending, ""); err != nil {
		return eris.Wrap(err, "dialer: mark sending")
	}
	if err := p.store.RecordTaskEvent(ctx, plan.DialerTaskID, model.TaskStatusSending, map[string]any{
		"chunks": len(plan.Chunks),
	}); err != nil {
		return eris.Wrap(err, "dialer: record sending")
	}
	return nil
}

// AlertConstructTimeout raises the alert for a send that gave up waiting
// on construction.
func (p *Pipeline) AlertConstructTimeout(ctx context.Context, date time.Time, cause string) {
	p.notify(ctx, monitoring.Alert{
		Type:     monitoring.AlertConstructTimeout,
		Severity: "high",
		Message:  fmt.Sprintf("send for %s gave up waiting for construction: %s", date.Format(dateLayout), cause),
	})
}

// FinishSend sets the final status of a rank's task from its chunk counts.
func (p *Pipeline) FinishSend(ctx context.Context, taskID string, sent, failed int) error {
	status := model.TaskStatusSent
	msg := ""
	switch {
	case failed > 0 && sent > 0:
		status = model.TaskStatusPartialFailure
		msg = fmt.Sprintf("%d of %d chunks dead-lettered", failed, sent+failed)
	case failed > 0:
		status = model.TaskStatusFailure
		msg = fmt.Sprintf("all %d chunks dead-lettered", failed)
	}
	if err := p.store.UpdateDialerTaskStatus(ctx, taskID, status, msg); err != nil {
		return eris.Wrapf(err, "dialer: finish send %s", taskID)
	}
	return nil
}
