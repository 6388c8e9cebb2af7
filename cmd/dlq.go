package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dialer-cli/internal/model"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and retry dead-lettered send chunks",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered chunks",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		errType, _ := cmd.Flags().GetString("type")
		taskID, _ := cmd.Flags().GetString("task")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := st.DequeueDeadLetters(ctx, model.DeadLetterFilter{
			DialerTaskID:  taskID,
			ErrorType:     errType,
			Limit:         limit,
			IncludeNotDue: true,
		})
		if err != nil {
			return eris.Wrap(err, "dlq list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dead letter queue is empty.")
			return nil
		}
		formatDeadLetters(os.Stdout, entries, time.Now())
		return nil
	},
}

var dlqRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-submit due dead-lettered chunks once each",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initDialer(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		sum, err := env.Pipeline.RetryDeadLetters(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "dlq retry")
		}
		return printJSON(os.Stdout, sum)
	},
}

func init() {
	dlqListCmd.Flags().String("type", "", "filter by error type (transient, permanent)")
	dlqListCmd.Flags().String("task", "", "filter by dialer task id")
	dlqListCmd.Flags().Int("limit", 100, "max number of entries to display")
	dlqRetryCmd.Flags().Int("limit", 100, "max number of entries to retry")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRetryCmd)
	rootCmd.AddCommand(dlqCmd)
}
