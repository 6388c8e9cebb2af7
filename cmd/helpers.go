package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-cli/internal/model"
)

const dateLayout = "2006-01-02"

// parseDate parses a YYYY-MM-DD flag value in loc. An empty value means
// today in loc.
func parseDate(s string, loc *time.Location, now time.Time) (time.Time, error) {
	if s == "" {
		n := now.In(loc)
		return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc), nil
	}
	d, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "invalid date %q (want YYYY-MM-DD)", s)
	}
	return d, nil
}

// parseHour parses an RFC 3339 or "YYYY-MM-DD HH:MM" value in loc.
func parseHour(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", s, loc)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "invalid time %q (want RFC 3339 or YYYY-MM-DD HH:MM)", s)
	}
	return t, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatTasks writes a tabular list of dialer tasks to out.
func formatTasks(out io.Writer, tasks []model.DialerTask, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tRANK\tDATE\tSTATUS\tUPDATED\tERROR")
	for _, t := range tasks {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.Type,
			t.Rank,
			t.TaskDate.Format(dateLayout),
			t.Status,
			humanize.RelTime(t.UpdatedAt, now, "ago", "from now"),
			truncate(t.Error, 60),
		)
	}
	_ = w.Flush()
}

// formatDeadLetters writes a tabular list of dead-lettered chunks to out.
func formatDeadLetters(out io.Writer, dls []model.DeadLetter, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTASK\tCHUNK\tRECORDS\tTYPE\tRETRIES\tNEXT\tERROR")
	for _, dl := range dls {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d/%d\t%s\t%s\n",
			dl.ID,
			dl.DialerTaskID,
			dl.Chunk.ChunkIndex,
			humanize.Comma(int64(len(dl.Chunk.RecordIDs))),
			dl.ErrorType,
			dl.RetryCount, dl.MaxRetries,
			humanize.RelTime(dl.NextRetryAt, now, "ago", "from now"),
			truncate(dl.Error, 60),
		)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
