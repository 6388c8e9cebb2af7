package dialer

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Runner drives the recurring entry points on cron schedules: the daily
// trigger, the hourly call-detail sweep, dead-letter retries and cleanup.
type Runner struct {
	cron     *cron.Cron
	trigger  *Trigger
	pipeline *Pipeline
	rec      *Reconciler
}

// RunnerSpecs are the cron expressions the Runner registers. Empty specs
// are skipped.
type RunnerSpecs struct {
	Trigger string
	Sweep   string
	Retry   string
	Cleanup string
}

// NewRunner registers every job on a cron in the pipeline's timezone.
func NewRunner(specs RunnerSpecs, trigger *Trigger, p *Pipeline, rec *Reconciler) (*Runner, error) {
	logger := cron.PrintfLogger(zap.NewStdLog(zap.L().Named("cron")))
	c := cron.New(
		cron.WithLocation(p.Location()),
		cron.WithParser(cronParser),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	r := &Runner{cron: c, trigger: trigger, pipeline: p, rec: rec}

	entries := []struct {
		name string
		spec string
		fn   func(ctx context.Context) error
	}{
		{"trigger", specs.Trigger, r.fireTrigger},
		{"sweep", specs.Sweep, r.sweep},
		{"retry", specs.Retry, r.retryDeadLetters},
		{"cleanup", specs.Cleanup, r.cleanup},
	}
	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		name, fn := e.name, e.fn
		if _, err := c.AddFunc(e.spec, func() { r.run(name, fn) }); err != nil {
			return nil, eris.Wrapf(err, "dialer: register %s cron %q", name, e.spec)
		}
	}
	return r, nil
}

// Run fires the trigger once, starts the cron and blocks until ctx is
// cancelled, then waits for running jobs.
func (r *Runner) Run(ctx context.Context) error {
	if _, err := r.trigger.Fire(ctx); err != nil {
		zap.L().Error("dialer: initial trigger failed", zap.Error(err))
	}

	r.cron.Start()
	zap.L().Info("dialer: scheduler running", zap.Int("entries", len(r.cron.Entries())))
	<-ctx.Done()

	stopped := r.cron.Stop()
	<-stopped.Done()
	zap.L().Info("dialer: scheduler stopped")
	return nil
}

func (r *Runner) run(name string, fn func(ctx context.Context) error) {
	ctx := context.Background()
	start := time.Now()
	if err := fn(ctx); err != nil {
		zap.L().Error("dialer: cron job failed", zap.String("job", name), zap.Error(err))
		return
	}
	zap.L().Debug("dialer: cron job done", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
}

func (r *Runner) fireTrigger(ctx context.Context) error {
	_, err := r.trigger.Fire(ctx)
	return err
}

// sweep re-reads the feature setting on every tick so deactivating the
// dialer stops reconciliation without a restart.
func (r *Runner) sweep(ctx context.Context) error {
	settings, err := r.pipeline.Settings(ctx)
	if err != nil {
		return err
	}
	if !settings.Active {
		zap.L().Debug("dialer: feature inactive, skipping sweep")
		return nil
	}
	_, err = r.rec.SweepPreviousHour(ctx, r.pipeline.now().In(r.pipeline.Location()))
	return err
}

func (r *Runner) retryDeadLetters(ctx context.Context) error {
	_, err := r.pipeline.RetryDeadLetters(ctx, 50)
	return err
}

func (r *Runner) cleanup(ctx context.Context) error {
	_, err := r.pipeline.Cleanup(ctx, r.pipeline.Today())
	return err
}
