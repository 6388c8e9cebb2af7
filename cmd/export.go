package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-cli/internal/export"
	"github.com/sells-group/dialer-cli/internal/model"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export constructed records of a date to an xlsx workbook, one sheet per rank",
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
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = fmt.Sprintf("dialer-%s.xlsx", date.Format(dateLayout))
		}
		skip, _ := cmd.Flags().GetBool("skip-undialable")

		ranks := cfg.Dialer.RankList()
		names := make(map[int]string, len(ranks))
		var records []model.ConstructedRecord
		for _, r := range ranks {
			names[r.ID] = r.Name
			recs, err := st.ListConstructed(ctx, date, r.ID)
			if err != nil {
				return eris.Wrapf(err, "export: list rank %d", r.ID)
			}
			records = append(records, recs...)
		}

		f, err := os.Create(filepath.Clean(out))
		if err != nil {
			return eris.Wrap(err, "export: create file")
		}
		defer f.Close() //nolint:errcheck

		sum, err := export.WriteXLSX(f, records, export.Options{
			SkipUndialable: skip,
			SheetName: func(rank int) string {
				if n := names[rank]; n != "" {
					return n
				}
				return fmt.Sprintf("rank_%d", rank)
			},
		})
		if err != nil {
			return err
		}

		zap.L().Info("export written", zap.String("file", out), zap.Int("rows", sum.Rows))
		fmt.Fprintf(os.Stdout, "wrote %s rows in %d sheets to %s (%s skipped)\n",
			humanize.Comma(int64(sum.Rows)), sum.Sheets, out, humanize.Comma(int64(sum.Skipped)))
		return nil
	},
}

func init() {
	exportCmd.Flags().String("date", "", "task date YYYY-MM-DD (default today)")
	exportCmd.Flags().String("out", "", "output path (default dialer-<date>.xlsx)")
	exportCmd.Flags().Bool("skip-undialable", false, "leave out records without a valid phone number")
	rootCmd.AddCommand(exportCmd)
}
