package dialer

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-cli/internal/config"
	"github.com/sells-group/dialer-cli/internal/model"
	"github.com/sells-group/dialer-cli/internal/monitoring"
	"github.com/sells-group/dialer-cli/internal/resilience"
	"github.com/sells-group/dialer-cli/internal/scratch"
	"github.com/sells-group/dialer-cli/internal/store"
	"github.com/sells-group/dialer-cli/pkg/airudder"
)

// Pipeline runs the populate, construct and send phases.
type Pipeline struct {
	cfg      config.DialerConfig
	vendor   config.AIRudderConfig
	store    store.Store
	scratch  scratch.Store
	client   airudder.Client
	alerter  monitoring.Notifier
	metrics  *monitoring.Metrics
	retry    resilience.RetryConfig
	breakers *resilience.EndpointBreakers
	dispatch Dispatcher

	loc          *time.Location
	now          func() time.Time
	sleep        func(context.Context, time.Duration) error
	pollInterval time.Duration
}

// Vendor endpoints with their own circuit breaker.
const (
	EndpointCreateTask = "create_task"
	EndpointTaskCalls  = "task_calls"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records pipeline metrics on m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithPollInterval sets the wait between construction completeness checks
// before sending.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		p.pollInterval = d
	}
}

// WithRetry overrides the retry policy for vendor calls.
func WithRetry(r resilience.RetryConfig) Option {
	return func(p *Pipeline) {
		p.retry = r
	}
}

// WithBreakers shares a per-endpoint breaker registry, typically with the
// reconciler.
func WithBreakers(b *resilience.EndpointBreakers) Option {
	return func(p *Pipeline) {
		p.breakers = b
	}
}

// WithSleep overrides the wait used between construction polls and while
// the vendor circuit is open.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(p *Pipeline) {
		p.sleep = sleep
	}
}

// WithDispatcher replaces the in-process send chain.
func WithDispatcher(d Dispatcher) Option {
	return func(p *Pipeline) {
		p.dispatch = d
	}
}

// New creates a Pipeline. The default dispatcher submits chunks in-process.
func New(cfg *config.Config, st store.Store, sc scratch.Store, client airudder.Client, alerter monitoring.Notifier, opts ...Option) (*Pipeline, error) {
	loc, err := cfg.Dialer.Location()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:     cfg.Dialer,
		vendor:  cfg.AIRudder,
		store:   st,
		scratch: sc,
		client:  client,
		alerter: alerter,
		retry:   resilience.FromRetryConfig(cfg.Retry),
		loc:     loc,
		now:     time.Now,
		sleep:   sleepCtx,
	}
	p.pollInterval = time.Duration(cfg.Dialer.ConstructWaitMins) * time.Minute
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = monitoring.NewMetrics()
	}
	if p.breakers == nil {
		circuit := resilience.FromCircuitConfig(cfg.Circuit)
		circuit.Now = p.now
		p.breakers = resilience.NewEndpointBreakers(circuit)
	}
	if p.dispatch == nil {
		p.dispatch = &InlineDispatcher{Pipeline: p}
	}
	return p, nil
}

// Location is the timezone task dates are computed in.
func (p *Pipeline) Location() *time.Location { return p.loc }

// Today is the current task date.
func (p *Pipeline) Today() time.Time { return startOfDay(p.now().In(p.loc)) }

// Settings loads the effective runtime parameters.
func (p *Pipeline) Settings(ctx context.Context) (Settings, error) {
	return LoadSettings(ctx, p.store, p.cfg)
}

// ConstructWait returns how many times a send re-checks construction
// and the pause between checks.
func (p *Pipeline) ConstructWait() (polls int, interval time.Duration) {
	return p.cfg.ConstructPolls, p.pollInterval
}

// Ranks returns the enabled ranks in priority order.
func (p *Pipeline) Ranks() []model.Rank {
	return model.EnabledRanks(p.cfg.RankList())
}

// RunJob executes a scheduled job: populate is followed directly by
// construction of every batch it produced.
func (p *Pipeline) RunJob(ctx context.Context, job Job) error {
	switch job.Kind {
	case JobPopulate:
		refs, err := p.Populate(ctx, job.TaskDate)
		if err != nil {
			return err
		}
		return p.Construct(ctx, refs)
	case JobSend:
		_, err := p.Send(ctx, job.TaskDate)
		return err
	default:
		return eris.Errorf("dialer: unknown job kind %q", job.Kind)
	}
}

func (p *Pipeline) observe(phase string, start time.Time) {
	p.metrics.PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

func (p *Pipeline) notify(ctx context.Context, alert monitoring.Alert) {
	if p.alerter == nil {
		return
	}
	if err := p.alerter.Notify(ctx, alert); err != nil {
		zap.L().Warn("dialer: alert failed", zap.String("type", string(alert.Type)), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
