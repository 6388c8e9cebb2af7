package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-cli/internal/dialer"
	"github.com/sells-group/dialer-cli/internal/jobs"
	"github.com/sells-group/dialer-cli/internal/monitoring"
	"github.com/sells-group/dialer-cli/internal/resilience"
	"github.com/sells-group/dialer-cli/internal/scratch"
	"github.com/sells-group/dialer-cli/internal/store"
	"github.com/sells-group/dialer-cli/pkg/airudder"
)

// dialerEnv holds the initialized store, clients and pipeline needed by
// the pipeline, serve, schedule and worker commands.
type dialerEnv struct {
	Store      *store.PostgresStore
	Scratch    scratch.Store
	Vendor     airudder.Client
	Alerter    *monitoring.Alerter
	Metrics    *monitoring.Metrics
	Breakers   *resilience.EndpointBreakers
	Pipeline   *dialer.Pipeline
	Reconciler *dialer.Reconciler
	Temporal   client.Client // nil unless temporal.host_port is set
}

// Close releases resources held by the environment.
func (e *dialerEnv) Close() {
	if e.Temporal != nil {
		e.Temporal.Close()
	}
	if e.Scratch != nil {
		_ = e.Scratch.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore connects to Postgres and applies the dialer migrations.
func initStore(ctx context.Context) (*store.PostgresStore, error) {
	st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "connect store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func newVendorClient() airudder.Client {
	timeout := time.Duration(cfg.AIRudder.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts := []airudder.Option{airudder.WithHTTPClient(&http.Client{Timeout: timeout})}
	if cfg.AIRudder.BaseURL != "" {
		opts = append(opts, airudder.WithBaseURL(cfg.AIRudder.BaseURL))
	}
	if cfg.AIRudder.RatePerSec > 0 {
		opts = append(opts, airudder.WithRateLimit(cfg.AIRudder.RatePerSec))
	}
	return airudder.NewClient(cfg.AIRudder.AppKey, cfg.AIRudder.AppSecret, opts...)
}

// initDialer validates cfg for mode and builds the full environment.
// When Temporal is configured, send chains are dispatched as workflows
// instead of running in-process. Callers should defer env.Close().
func initDialer(ctx context.Context, mode string) (*dialerEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &dialerEnv{}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Store = st

	env.Scratch, err = scratch.New(ctx, cfg)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "open scratch store")
	}

	env.Vendor = newVendorClient()
	env.Alerter = monitoring.NewAlerter(cfg.Slack)
	env.Metrics = monitoring.NewMetrics()
	env.Breakers = resilience.NewEndpointBreakers(resilience.FromCircuitConfig(cfg.Circuit))

	opts := []dialer.Option{dialer.WithMetrics(env.Metrics), dialer.WithBreakers(env.Breakers)}
	if cfg.Temporal.HostPort != "" {
		env.Temporal, err = jobs.Dial(cfg.Temporal)
		if err != nil {
			env.Close()
			return nil, err
		}
		opts = append(opts, dialer.WithDispatcher(jobs.NewDispatcher(env.Temporal, jobs.TaskQueue(cfg.Temporal))))
		zap.L().Info("temporal dispatch enabled", zap.String("host", cfg.Temporal.HostPort))
	}

	env.Pipeline, err = dialer.New(cfg, env.Store, env.Scratch, env.Vendor, env.Alerter, opts...)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Reconciler = dialer.NewReconciler(cfg, env.Store, env.Vendor, env.Alerter, env.Metrics,
		dialer.WithCallBreakers(env.Breakers))
	return env, nil
}
