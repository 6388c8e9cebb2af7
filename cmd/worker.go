package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-cli/internal/jobs"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker for dialer job and send-chain workflows",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initDialer(cmd.Context(), "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		queue := jobs.TaskQueue(cfg.Temporal)
		w := jobs.NewWorker(env.Temporal, queue, &jobs.Activities{Pipeline: env.Pipeline})

		zap.L().Info("starting temporal worker", zap.String("task_queue", queue))
		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "temporal worker")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
