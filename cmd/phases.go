package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// -- populate --

var populateCmd = &cobra.Command{
	Use:   "populate",
	Short: "Select eligible accounts per rank and write them to scratch in batches",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initDialer(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		date, err := dateFlag(cmd, env.Pipeline.Location())
		if err != nil {
			return err
		}

		refs, err := env.Pipeline.Populate(ctx, date)
		if err != nil {
			return eris.Wrap(err, "populate")
		}
		fmt.Fprintf(os.Stdout, "populated %s batches for %s\n", humanize.Comma(int64(len(refs))), date.Format(dateLayout))

		if construct, _ := cmd.Flags().GetBool("construct"); construct {
			if err := env.Pipeline.Construct(ctx, refs); err != nil {
				return eris.Wrap(err, "construct")
			}
			fmt.Fprintln(os.Stdout, "constructed all batches")
		}
		return nil
	},
}

// -- construct --

var constructCmd = &cobra.Command{
	Use:   "construct",
	Short: "Build dialer records from the populated batches of a date",
	Long:  "Re-reads the batches recorded by populate (without re-querying accounts) and constructs any batch not yet processed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initDialer(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		date, err := dateFlag(cmd, env.Pipeline.Location())
		if err != nil {
			return err
		}

		refs, err := env.Pipeline.Populate(ctx, date)
		if err != nil {
			return eris.Wrap(err, "load batches")
		}
		if err := env.Pipeline.Construct(ctx, refs); err != nil {
			return eris.Wrap(err, "construct")
		}
		fmt.Fprintf(os.Stdout, "constructed %s batches for %s\n", humanize.Comma(int64(len(refs))), date.Format(dateLayout))
		return nil
	},
}

// -- send --

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Submit constructed records to AI Rudder, one task per chunk",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initDialer(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		date, err := dateFlag(cmd, env.Pipeline.Location())
		if err != nil {
			return err
		}

		sum, err := env.Pipeline.Send(ctx, date)
		if sum != nil {
			sent, failed := sum.Totals()
			zap.L().Info("send finished", zap.Int("sent", sent), zap.Int("failed", failed))
			_ = printJSON(os.Stdout, sum)
		}
		if err != nil {
			return eris.Wrap(err, "send")
		}
		return nil
	},
}

// -- sweep --

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Pull call details from AI Rudder for a time range",
	Long:  "Sweeps [--from, --to) in sub-windows. Without flags the previous full clock hour is swept.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initDialer(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		loc := env.Pipeline.Location()
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")

		var start, end time.Time
		if from == "" && to == "" {
			end = time.Now().In(loc).Truncate(time.Hour)
			start = end.Add(-time.Hour)
		} else {
			if start, err = parseHour(from, loc); err != nil {
				return err
			}
			if end, err = parseHour(to, loc); err != nil {
				return err
			}
		}

		report, err := env.Reconciler.Sweep(ctx, start, end)
		if report != nil {
			_ = printJSON(os.Stdout, report)
		}
		if err != nil {
			return eris.Wrap(err, "sweep")
		}
		return nil
	},
}

// -- cleanup --

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete scratch batches of a date and purge expired constructed records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initDialer(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		date, err := dateFlag(cmd, env.Pipeline.Location())
		if err != nil {
			return err
		}

		sum, err := env.Pipeline.Cleanup(ctx, date)
		if err != nil {
			return eris.Wrap(err, "cleanup")
		}
		fmt.Fprintf(os.Stdout, "deleted %d scratch keys, purged %s constructed records\n",
			sum.ScratchDeleted, humanize.Comma(sum.ConstructedPurged))
		return nil
	},
}

func dateFlag(cmd *cobra.Command, loc *time.Location) (time.Time, error) {
	s, _ := cmd.Flags().GetString("date")
	return parseDate(s, loc, time.Now())
}

func init() {
	for _, c := range []*cobra.Command{populateCmd, constructCmd, sendCmd, cleanupCmd} {
		c.Flags().String("date", "", "task date YYYY-MM-DD (default today)")
		rootCmd.AddCommand(c)
	}
	populateCmd.Flags().Bool("construct", true, "construct the batches after populating")

	sweepCmd.Flags().String("from", "", "sweep start (RFC 3339 or YYYY-MM-DD HH:MM)")
	sweepCmd.Flags().String("to", "", "sweep end (RFC 3339 or YYYY-MM-DD HH:MM)")
	sweepCmd.MarkFlagsRequiredTogether("from", "to")
	rootCmd.AddCommand(sweepCmd)
}
