// Package jobs runs the dialer's scheduled jobs and send chains as
// Temporal workflows. Activities are thin wrappers over dialer.Pipeline;
// ordering, retries and the dead-letter hand-off live in the workflows.
package jobs

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/sells-group/dialer-cli/internal/dialer"
	"github.com/sells-group/dialer-cli/internal/model"
	"github.com/sells-group/dialer-cli/internal/resilience"
)

// Application error types crossing the activity boundary.
const (
	errTypeConstructionPending = "ConstructionPending"
	errTypeTransient           = "Transient"
	errTypePermanent           = "Permanent"
)

// SendSettings tells the job workflow whether to send and how long to
// wait for construction.
type SendSettings struct {
	Active       bool
	Polls        int
	PollInterval time.Duration
}

// DeadLetterInput carries a failed chunk to the dead-letter activity.
type DeadLetterInput struct {
	Chunk     model.ChunkRef
	Error     string
	Transient bool
}

// FinishInput carries a rank's chunk counts to FinishSend.
type FinishInput struct {
	DialerTaskID string
	Sent         int
	Failed       int
}

// Activities exposes the pipeline steps to Temporal.
type Activities struct {
	Pipeline *dialer.Pipeline
}

// SendSettings resolves the runtime settings relevant to a send job.
func (a *Activities) SendSettings(ctx context.Context) (*SendSettings, error) {
	s, err := a.Pipeline.Settings(ctx)
	if err != nil {
		return nil, err
	}
	polls, interval := a.Pipeline.ConstructWait()
	return &SendSettings{Active: s.Active, Polls: polls, PollInterval: interval}, nil
}

// Populate runs the populate phase for date.
func (a *Activities) Populate(ctx context.Context, date time.Time) ([]model.BatchRef, error) {
	return a.Pipeline.Populate(ctx, date)
}

// Construct builds every populated batch.
func (a *Activities) Construct(ctx context.Context, refs []model.BatchRef) error {
	return a.Pipeline.Construct(ctx, refs)
}

// PlanSend returns the send plans for date. Incomplete construction is
// reported as a non-retryable ConstructionPending error so the workflow
// can decide how long to wait.
func (a *Activities) PlanSend(ctx context.Context, date time.Time) ([]model.SendPlan, error) {
	plans, err := a.Pipeline.PlanSend(ctx, date)
	if errors.Is(err, dialer.ErrConstructionPending) {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), errTypeConstructionPending, err)
	}
	return plans, err
}

// AlertConstructTimeout raises the construct-timeout alert.
func (a *Activities) AlertConstructTimeout(ctx context.Context, date time.Time, cause string) error {
	a.Pipeline.AlertConstructTimeout(ctx, date, cause)
	return nil
}

// MarkSending moves a rank's task to sending.
func (a *Activities) MarkSending(ctx context.Context, plan model.SendPlan) error {
	return a.Pipeline.MarkSending(ctx, plan)
}

// SubmitChunk makes one vendor attempt for a chunk. Transient failures
// are left to the activity retry policy; anything else fails fast.
func (a *Activities) SubmitChunk(ctx context.Context, ref model.ChunkRef) (*model.VendorTask, error) {
	vt, err := a.Pipeline.SubmitChunk(ctx, ref)
	if err == nil {
		return vt, nil
	}
	if resilience.IsTransient(err) {
		return nil, temporal.NewApplicationError(err.Error(), errTypeTransient)
	}
	return nil, temporal.NewNonRetryableApplicationError(err.Error(), errTypePermanent, err)
}

// DeadLetterChunk records a chunk whose attempts are exhausted.
func (a *Activities) DeadLetterChunk(ctx context.Context, in DeadLetterInput) error {
	var cause error = errors.New(in.Error)
	if in.Transient {
		cause = resilience.NewTransientError(cause, 0)
	}
	return a.Pipeline.DeadLetterChunk(ctx, in.Chunk, cause)
}

// FinishSend sets a rank's final send status.
func (a *Activities) FinishSend(ctx context.Context, in FinishInput) error {
	return a.Pipeline.FinishSend(ctx, in.DialerTaskID, in.Sent, in.Failed)
}
