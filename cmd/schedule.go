package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-cli/internal/dialer"
	"github.com/sells-group/dialer-cli/internal/jobs"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the daily trigger, sweep, retry and cleanup crons",
	Long: "Fires the daily trigger, which schedules today's populate and send jobs, then runs the hourly " +
		"call-detail sweep, dead-letter retries and cleanup on their cron schedules. Jobs run in-process " +
		"unless Temporal is configured, in which case they are started as delayed workflows.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initDialer(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		var sched dialer.Scheduler
		if env.Temporal != nil {
			sched = jobs.NewScheduler(env.Temporal, jobs.TaskQueue(cfg.Temporal))
		} else {
			local := dialer.NewLocalScheduler(ctx, env.Pipeline.RunJob)
			defer local.Stop()
			sched = local
		}

		trigger, err := dialer.NewTrigger(env.Store, cfg.Dialer, sched)
		if err != nil {
			return err
		}

		settings, err := env.Pipeline.Settings(ctx)
		if err != nil {
			return err
		}

		runner, err := dialer.NewRunner(dialer.RunnerSpecs{
			Trigger: cfg.Dialer.TriggerCron,
			Sweep:   settings.SweepCron,
			Retry:   cfg.Dialer.RetryCron,
			Cleanup: cfg.Dialer.CleanupCron,
		}, trigger, env.Pipeline, env.Reconciler)
		if err != nil {
			return err
		}

		zap.L().Info("starting scheduler",
			zap.Bool("temporal", env.Temporal != nil),
			zap.String("trigger_cron", cfg.Dialer.TriggerCron),
			zap.String("sweep_cron", settings.SweepCron),
			zap.Bool("active", settings.Active),
		)
		return runner.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
