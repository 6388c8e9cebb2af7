package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-cli/internal/config"
	"github.com/sells-group/dialer-cli/internal/dialer"
	"github.com/sells-group/dialer-cli/internal/model"
)

const defaultTaskQueue = "dialer"

// Dial connects to the Temporal frontend described by cfg.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    newZapLogger(zap.L().Named("temporal")),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "jobs: dial temporal %s", cfg.HostPort)
	}
	return c, nil
}

// TaskQueue returns the configured task queue or the default.
func TaskQueue(cfg config.TemporalConfig) string {
	if cfg.TaskQueue == "" {
		return defaultTaskQueue
	}
	return cfg.TaskQueue
}

// NewWorker registers the dialer workflows and activities on taskQueue.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(JobWorkflow)
	w.RegisterWorkflow(SendChainWorkflow)
	w.RegisterActivity(acts)
	return w
}

// Starter is the subset of client.Client used to start workflows.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow any, args ...any) (client.WorkflowRun, error)
}

// Scheduler starts one JobWorkflow per job, delayed until the job's run
// time. The job id doubles as the workflow id, so a job scheduled twice
// for the same day starts once.
type Scheduler struct {
	client    Starter
	taskQueue string
	now       func() time.Time
}

var _ dialer.Scheduler = (*Scheduler)(nil)

// NewScheduler creates a Scheduler.
func NewScheduler(c Starter, taskQueue string) *Scheduler {
	return &Scheduler{client: c, taskQueue: taskQueue, now: time.Now}
}

// Schedule implements dialer.Scheduler.
func (s *Scheduler) Schedule(ctx context.Context, job dialer.Job) error {
	delay := max(job.RunAt.Sub(s.now()), 0)
	run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    job.ID(),
		TaskQueue:             s.taskQueue,
		StartDelay:            delay,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, JobWorkflow, job)
	if isAlreadyStarted(err) {
		zap.L().Info("jobs: job already scheduled", zap.String("workflow_id", job.ID()))
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "jobs: start %s", job.ID())
	}
	zap.L().Info("jobs: job scheduled",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
		zap.Duration("start_delay", delay),
	)
	return nil
}

// Dispatcher hands each send plan to a SendChainWorkflow and returns
// without waiting for it.
type Dispatcher struct {
	client    Starter
	taskQueue string
}

var _ dialer.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher.
func NewDispatcher(c Starter, taskQueue string) *Dispatcher {
	return &Dispatcher{client: c, taskQueue: taskQueue}
}

// Dispatch implements dialer.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, plan model.SendPlan) (*dialer.DispatchResult, error) {
	res := &dialer.DispatchResult{
		DialerTaskID: plan.DialerTaskID,
		Rank:         plan.Rank,
		Chunks:       len(plan.Chunks),
		Started:      true,
	}
	_, err := d.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        ChainWorkflowID(plan.DialerTaskID),
		TaskQueue: d.taskQueue,
	}, SendChainWorkflow, plan)
	if isAlreadyStarted(err) {
		return res, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "jobs: start send chain rank %d", plan.Rank)
	}
	return res, nil
}

func isAlreadyStarted(err error) bool {
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	return errors.As(err, &started)
}

// zapLogger adapts zap to the Temporal SDK logger.
type zapLogger struct {
	l *zap.SugaredLogger
}

func newZapLogger(l *zap.Logger) *zapLogger {
	return &zapLogger{l: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (z *zapLogger) Debug(msg string, keyvals ...any) { z.l.Debugw(msg, fixKeyvals(keyvals)...) }
func (z *zapLogger) Info(msg string, keyvals ...any)  { z.l.Infow(msg, fixKeyvals(keyvals)...) }
func (z *zapLogger) Warn(msg string, keyvals ...any)  { z.l.Warnw(msg, fixKeyvals(keyvals)...) }
func (z *zapLogger) Error(msg string, keyvals ...any) { z.l.Errorw(msg, fixKeyvals(keyvals)...) }

// fixKeyvals stringifies non-string keys, which zap rejects.
func fixKeyvals(keyvals []any) []any {
	out := make([]any, len(keyvals))
	for i, kv := range keyvals {
		if i%2 == 0 {
			if _, ok := kv.(string); !ok {
				kv = fmt.Sprint(kv)
			}
		}
		out[i] = kv
	}
	return out
}
