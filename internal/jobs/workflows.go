package jobs

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/dialer-cli/internal/dialer"
	"github.com/sells-group/dialer-cli/internal/model"
)

// Activity timeouts.
const (
	bookkeepingTimeout = 30 * time.Second
	populateTimeout    = 30 * time.Minute
	constructTimeout   = 2 * time.Hour
	submitTimeout      = 2 * time.Minute
)

// JobResult summarizes a finished job workflow.
type JobResult struct {
	Kind    dialer.JobKind          `json:"kind"`
	Batches int                     `json:"batches,omitempty"`
	Ranks   []dialer.DispatchResult `json:"ranks,omitempty"`
	Skipped bool                    `json:"skipped,omitempty"`
}

// ChainWorkflowID is the workflow id of a rank's send chain.
func ChainWorkflowID(dialerTaskID string) string {
	return "dialer-chain-" + dialerTaskID
}

func bookkeepingOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: bookkeepingTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    500 * time.Millisecond,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    5,
		},
	})
}

// JobWorkflow runs one scheduled job. Populate is followed by
// construction of every batch; send waits for construction, then runs one
// send chain per rank, in rank order.
func JobWorkflow(ctx workflow.Context, job dialer.Job) (*JobResult, error) {
	var a *Activities
	logger := workflow.GetLogger(ctx)
	logger.Info("dialer job started", "kind", job.Kind, "task_date", job.TaskDate)

	switch job.Kind {
	case dialer.JobPopulate:
		popCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: populateTimeout,
			RetryPolicy: &temporal.RetryPolicy{
				InitialInterval:    5 * time.Second,
				BackoffCoefficient: 2.0,
				MaximumInterval:    time.Minute,
				MaximumAttempts:    3,
			},
		})
		var refs []model.BatchRef
		if err := workflow.ExecuteActivity(popCtx, a.Populate, job.TaskDate).Get(ctx, &refs); err != nil {
			return nil, fmt.Errorf("populate: %w", err)
		}

		conCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: constructTimeout,
			RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
		})
		if err := workflow.ExecuteActivity(conCtx, a.Construct, refs).Get(ctx, nil); err != nil {
			return nil, fmt.Errorf("construct: %w", err)
		}
		return &JobResult{Kind: job.Kind, Batches: len(refs)}, nil

	case dialer.JobSend:
		return sendJob(ctx, job)

	default:
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("unknown job kind %q", job.Kind), "UnknownJobKind", nil)
	}
}

func sendJob(ctx workflow.Context, job dialer.Job) (*JobResult, error) {
	var a *Activities
	logger := workflow.GetLogger(ctx)
	bookCtx := bookkeepingOptions(ctx)
	result := &JobResult{Kind: job.Kind}

	var settings SendSettings
	if err := workflow.ExecuteActivity(bookCtx, a.SendSettings).Get(ctx, &settings); err != nil {
		return nil, fmt.Errorf("send settings: %w", err)
	}
	if !settings.Active {
		logger.Info("dialer send skipped, feature inactive")
		result.Skipped = true
		return result, nil
	}

	var plans []model.SendPlan
	for attempt := 0; ; attempt++ {
		err := workflow.ExecuteActivity(bookCtx, a.PlanSend, job.TaskDate).Get(ctx, &plans)
		if err == nil {
			break
		}
		var appErr *temporal.ApplicationError
		if !errors.As(err, &appErr) || appErr.Type() != errTypeConstructionPending {
			return nil, fmt.Errorf("plan send: %w", err)
		}
		if attempt >= settings.Polls {
			_ = workflow.ExecuteActivity(bookCtx, a.AlertConstructTimeout, job.TaskDate, appErr.Error()).Get(ctx, nil)
			return nil, fmt.Errorf("plan send: %w", err)
		}
		logger.Info("waiting for construction", "attempt", attempt+1, "error", appErr.Error())
		if err := workflow.Sleep(ctx, settings.PollInterval); err != nil {
			return nil, err
		}
	}

	for _, plan := range plans {
		if err := workflow.ExecuteActivity(bookCtx, a.MarkSending, plan).Get(ctx, nil); err != nil {
			return result, fmt.Errorf("mark sending rank %d: %w", plan.Rank, err)
		}
		childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID: ChainWorkflowID(plan.DialerTaskID),
		})
		var res dialer.DispatchResult
		if err := workflow.ExecuteChildWorkflow(childCtx, SendChainWorkflow, plan).Get(ctx, &res); err != nil {
			return result, fmt.Errorf("send chain rank %d: %w", plan.Rank, err)
		}
		result.Ranks = append(result.Ranks, res)
	}
	return result, nil
}

// SendChainWorkflow submits a rank's chunks one after another. Each chunk
// gets up to three attempts with exponential backoff; a chunk that still
// fails is dead-lettered and the chain moves on to the next one.
func SendChainWorkflow(ctx workflow.Context, plan model.SendPlan) (*dialer.DispatchResult, error) {
	var a *Activities
	logger := workflow.GetLogger(ctx)
	bookCtx := bookkeepingOptions(ctx)
	sendCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: submitTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        2 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{errTypePermanent},
		},
	})

	res := &dialer.DispatchResult{DialerTaskID: plan.DialerTaskID, Rank: plan.Rank, Chunks: len(plan.Chunks)}
	for _, ref := range plan.Chunks {
		var vt *model.VendorTask
		err := workflow.ExecuteActivity(sendCtx, a.SubmitChunk, ref).Get(ctx, &vt)
		if err == nil {
			res.Sent++
			continue
		}

		res.Failed++
		in := DeadLetterInput{Chunk: ref, Error: err.Error()}
		var appErr *temporal.ApplicationError
		if errors.As(err, &appErr) {
			in.Error = appErr.Error()
			in.Transient = appErr.Type() == errTypeTransient
		}
		logger.Error("chunk failed, dead-lettering", "rank", ref.Rank, "chunk", ref.ChunkIndex, "error", in.Error)
		if dlErr := workflow.ExecuteActivity(bookCtx, a.DeadLetterChunk, in).Get(ctx, nil); dlErr != nil {
			logger.Error("dead-letter chunk failed", "chunk", ref.ChunkIndex, "error", dlErr)
		}
	}

	if err := workflow.ExecuteActivity(bookCtx, a.FinishSend, FinishInput{
		DialerTaskID: plan.DialerTaskID,
		Sent:         res.Sent,
		Failed:       res.Failed,
	}).Get(ctx, nil); err != nil {
		return res, fmt.Errorf("finish send: %w", err)
	}
	return res, nil
}
