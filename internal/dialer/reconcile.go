package dialer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dialer-cli/internal/config"
	"github.com/sells-group/dialer-cli/internal/model"
	"github.com/sells-group/dialer-cli/internal/monitoring"
	"github.com/sells-group/dialer-cli/internal/resilience"
	"github.com/sells-group/dialer-cli/internal/store"
	"github.com/sells-group/dialer-cli/pkg/airudder"
)

// ErrUnknownTask is returned for callbacks that reference a vendor task
// this system did not create.
var ErrUnknownTask = errors.New("dialer: unknown vendor task")

// ErrInvalidCallback is returned for CallStatus callbacks whose body does
// not identify a call.
var ErrInvalidCallback = errors.New("dialer: invalid callback")

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// SplitWindow cuts [start, end) into consecutive sub-windows of step,
// aligned to step boundaries. The first and last may be shorter.
func SplitWindow(start, end time.Time, step time.Duration) []Window {
	if step <= 0 || !end.After(start) {
		return nil
	}
	var out []Window
	cur := start
	for cur.Before(end) {
		next := cur.Truncate(step).Add(step)
		if next.After(end) {
			next = end
		}
		out = append(out, Window{Start: cur, End: next})
		cur = next
	}
	return out
}

// Reconciler writes vendor call results into call history, from callbacks
// as they arrive and from periodic sweeps of the call-detail API.
type Reconciler struct {
	store    store.Store
	client   airudder.Client
	alerter  monitoring.Notifier
	metrics  *monitoring.Metrics
	retry    resilience.RetryConfig
	breakers *resilience.EndpointBreakers
	step     time.Duration
	pageSize int
	workers  int
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithCallBreakers shares a per-endpoint breaker registry with the send
// pipeline. The call-detail API gets its own task_calls breaker.
func WithCallBreakers(b *resilience.EndpointBreakers) ReconcilerOption {
	return func(r *Reconciler) {
		r.breakers = b
	}
}

// NewReconciler creates a Reconciler. metrics may be nil.
func NewReconciler(cfg *config.Config, st store.Store, client airudder.Client, alerter monitoring.Notifier, metrics *monitoring.Metrics, opts ...ReconcilerOption) *Reconciler {
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	step := time.Duration(cfg.Dialer.SweepWindowMins) * time.Minute
	if step <= 0 {
		step = 10 * time.Minute
	}
	pageSize := cfg.AIRudder.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	retry := resilience.FromRetryConfig(cfg.Retry)
	retry.ShouldRetry = func(error) bool { return true }
	retry.OnRetry = resilience.RetryLogger("airudder", "sweep")
	r := &Reconciler{
		store:    st,
		client:   client,
		alerter:  alerter,
		metrics:  metrics,
		retry:    retry,
		step:     step,
		pageSize: pageSize,
		workers:  4,
	}
	for _, o := range opts {
		o(r)
	}
	if r.breakers == nil {
		r.breakers = resilience.NewEndpointBreakers(resilience.FromCircuitConfig(cfg.Circuit))
	}
	return r
}

// HandleCallback stores the call carried by a CallStatus callback. Other
// callback types are ignored.
func (r *Reconciler) HandleCallback(ctx context.Context, ev *airudder.CallbackEvent) error {
	if ev.Type != airudder.CallbackCallStatus {
		r.metrics.Callbacks.WithLabelValues("ignored").Inc()
		return nil
	}

	call, err := ev.Call()
	if err != nil {
		r.metrics.Callbacks.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: %w", ErrInvalidCallback, err)
	}

	vt, err := r.store.GetVendorTask(ctx, call.TaskID)
	if errors.Is(err, store.ErrVendorTaskNotFound) {
		r.metrics.Callbacks.WithLabelValues("unknown_task").Inc()
		zap.L().Warn("dialer: callback for unknown task",
			zap.String("vendor_task_id", call.TaskID),
			zap.String("call_id", call.CallID),
		)
		return ErrUnknownTask
	}
	if err != nil {
		r.metrics.Callbacks.WithLabelValues("error").Inc()
		return eris.Wrapf(err, "dialer: load vendor task %s", call.TaskID)
	}

	if _, err := r.store.UpsertCallResults(ctx, []model.CallResult{
		toCallResult(call, vt, model.CallSourceCallback),
	}); err != nil {
		r.metrics.Callbacks.WithLabelValues("error").Inc()
		return eris.Wrapf(err, "dialer: store call %s", call.CallID)
	}

	r.metrics.Callbacks.WithLabelValues("stored").Inc()
	zap.L().Debug("dialer: callback stored",
		zap.String("call_id", call.CallID),
		zap.String("state", call.State),
	)
	return nil
}

// SweepReport summarizes a sweep.
type SweepReport struct {
	Windows int      `json:"windows"`
	Tasks   int      `json:"tasks"`
	Calls   int      `json:"calls"`
	Failed  []Window `json:"failed,omitempty"`
}

// Sweep pulls call details for [start, end) in sub-windows. Each sub-window
// is retried on failure; one that exhausts its retries raises an alert and
// the sweep carries on with the next.
func (r *Reconciler) Sweep(ctx context.Context, start, end time.Time) (*SweepReport, error) {
	defer func(t time.Time) {
		r.metrics.PhaseDuration.WithLabelValues("sweep").Observe(time.Since(t).Seconds())
	}(time.Now())

	windows := SplitWindow(start, end, r.step)
	report := &SweepReport{Windows: len(windows)}

	for _, w := range windows {
		if ctx.Err() != nil {
			return report, eris.Wrap(ctx.Err(), "dialer: sweep cancelled")
		}
		var tasks, calls int
		err := resilience.Do(ctx, r.retry, func(ctx context.Context) error {
			var err error
			tasks, calls, err = r.sweepWindow(ctx, w)
			return err
		})
		if err != nil {
			report.Failed = append(report.Failed, w)
			r.sweepExhausted(ctx, w, err)
			continue
		}
		report.Tasks += tasks
		report.Calls += calls
	}

	zap.L().Info("dialer: sweep complete",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("windows", report.Windows),
		zap.Int("calls", report.Calls),
		zap.Int("failed", len(report.Failed)),
	)
	if len(report.Failed) > 0 {
		return report, eris.Errorf("dialer: sweep: %d of %d windows failed", len(report.Failed), len(windows))
	}
	return report, nil
}

// SweepPreviousHour sweeps the last full clock hour before now.
func (r *Reconciler) SweepPreviousHour(ctx context.Context, now time.Time) (*SweepReport, error) {
	end := now.Truncate(time.Hour)
	return r.Sweep(ctx, end.Add(-time.Hour), end)
}

func (r *Reconciler) sweepWindow(ctx context.Context, w Window) (int, int, error) {
	tasks, err := r.store.ListVendorTasksBetween(ctx, w.Start, w.End)
	if err != nil {
		return 0, 0, eris.Wrap(err, "dialer: vendor tasks in window")
	}

	var mu sync.Mutex
	total := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range tasks {
		vt := &tasks[i]
		g.Go(func() error {
			results, err := r.pullCalls(gctx, vt, w)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				return nil
			}
			if _, err := r.store.UpsertCallResults(gctx, results); err != nil {
				return eris.Wrapf(err, "dialer: store sweep calls %s", vt.VendorTaskID)
			}
			mu.Lock()
			total += len(results)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	r.metrics.SweepCalls.Add(float64(total))
	return len(tasks), total, nil
}

func (r *Reconciler) pullCalls(ctx context.Context, vt *model.VendorTask, w Window) ([]model.CallResult, error) {
	cb := r.breakers.Get(EndpointTaskCalls)
	var out []model.CallResult
	offset := 0
	for {
		req := airudder.ListCallsRequest{
			TaskID: vt.VendorTaskID,
			Start:  w.Start,
			End:    w.End,
			Offset: offset,
			Limit:  r.pageSize,
		}
		page, err := resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (*airudder.ListCallsResponse, error) {
			return r.client.ListTaskCalls(ctx, req)
		})
		if err != nil {
			return nil, eris.Wrapf(err, "dialer: list calls %s", vt.VendorTaskID)
		}
		for i := range page.List {
			out = append(out, toCallResult(&page.List[i], vt, model.CallSourceSweep))
		}
		offset += len(page.List)
		if len(page.List) == 0 || offset >= page.Total {
			return out, nil
		}
	}
}

func (r *Reconciler) sweepExhausted(ctx context.Context, w Window, cause error) {
	r.metrics.SweepFailures.Inc()
	zap.L().Error("dialer: sweep window exhausted retries", zap.Stringer("window", w), zap.Error(cause))

	if tasks, err := r.store.ListVendorTasksBetween(ctx, w.Start, w.End); err == nil {
		seen := make(map[string]bool)
		for _, vt := range tasks {
			if seen[vt.DialerTaskID] {
				continue
			}
			seen[vt.DialerTaskID] = true
			if err := r.store.RecordTaskEvent(ctx, vt.DialerTaskID, model.EventSweepFailure, map[string]any{
				"window_start": w.Start.Format(time.RFC3339),
				"window_end":   w.End.Format(time.RFC3339),
				"error":        cause.Error(),
			}); err != nil {
				zap.L().Warn("dialer: record sweep failure", zap.Error(err))
			}
		}
	}

	if r.alerter == nil {
		return
	}
	if err := r.alerter.Notify(ctx, monitoring.Alert{
		Type:     monitoring.AlertSweepExhausted,
		Severity: "high",
		Message:  fmt.Sprintf("call-detail sweep failed for %s: %s", w, cause.Error()),
		Details:  map[string]any{"window_start": w.Start, "window_end": w.End},
	}); err != nil {
		zap.L().Warn("dialer: sweep alert failed", zap.Error(err))
	}
}

func toCallResult(c *airudder.CallDetail, vt *model.VendorTask, source model.CallSource) model.CallResult {
	return model.CallResult{
		CallID:           c.CallID,
		VendorTaskID:     vt.VendorTaskID,
		DialerTaskID:     vt.DialerTaskID,
		AccountPaymentID: infoInt(c.CustomerInfo, "account_payment_id"),
		CustomerID:       infoInt(c.CustomerInfo, "customer_id"),
		PhoneNumber:      c.PhoneNumber,
		State:            c.State,
		HangupReason:     c.HangupReason,
		CallResult:       c.Disposition(),
		AgentName:        c.AgentName,
		RingDuration:     c.RingDuration,
		TalkDuration:     c.TalkDuration,
		StartTime:        c.StartTime,
		EndTime:          c.EndTime,
		RecordingURL:     c.RecordingURL,
		Source:           source,
		UpdatedAt:        time.Now().UTC(),
	}
}

func infoInt(info map[string]string, key string) int64 {
	n, err := strconv.ParseInt(info[key], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
