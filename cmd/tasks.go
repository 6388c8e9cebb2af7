package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dialer-cli/internal/model"
	"github.com/sells-group/dialer-cli/internal/store"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect dialer tasks",
}

// -- tasks list --

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dialer tasks for a date",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		loc, err := cfg.Dialer.Location()
		if err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		date, err := dateFlag(cmd, loc)
		if err != nil {
			return err
		}
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		tasks, err := st.ListDialerTasks(ctx, store.TaskFilter{
			Date:   &date,
			Status: model.TaskStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "tasks list")
		}
		if len(tasks) == 0 {
			fmt.Fprintln(os.Stderr, "No tasks found.")
			return nil
		}
		formatTasks(os.Stdout, tasks, time.Now())
		return nil
	},
}

// -- tasks show --

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a dialer task with its events and vendor tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		task, err := st.GetDialerTaskByID(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "tasks show")
		}
		events, err := st.ListTaskEvents(ctx, task.ID)
		if err != nil {
			return eris.Wrap(err, "tasks show: events")
		}
		vts, err := st.ListVendorTasks(ctx, task.ID)
		if err != nil {
			return eris.Wrap(err, "tasks show: vendor tasks")
		}

		return printJSON(os.Stdout, struct {
			Task        *model.DialerTask       `json:"task"`
			Events      []model.DialerTaskEvent `json:"events"`
			VendorTasks []model.VendorTask      `json:"vendor_tasks"`
		}{task, events, vts})
	},
}

func init() {
	tasksListCmd.Flags().String("date", "", "task date YYYY-MM-DD (default today)")
	tasksListCmd.Flags().String("status", "", "filter by status (batching, constructed, sent, partial_failure, ...)")
	tasksListCmd.Flags().Int("limit", 50, "max number of tasks to display")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksShowCmd)
	rootCmd.AddCommand(tasksCmd)
}
