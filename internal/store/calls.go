package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-cli/internal/db"
	"github.com/sells-group/dialer-cli/internal/model"
)

var callResultCols = []string{
	"call_id", "vendor_task_id", "dialer_task_id", "account_payment_id", "customer_id",
	"phone_number", "state", "hangup_reason", "call_result", "agent_name",
	"ring_duration", "talk_duration", "start_time", "end_time", "recording_url",
	"source", "updated_at",
}

// UpsertCallResults writes call-history rows keyed by vendor call id. Once a
// call has hangup data (end_time set), a later row without it does not
// overwrite it, so a late "ringing" callback cannot undo a completed call.
func (s *PostgresStore) UpsertCallResults(ctx context.Context, results []model.CallResult) (int64, error) {
	results = dedupeCalls(results)
	now := time.Now().UTC()
	rows := make([][]any, len(results))
	for i, r := range results {
		updated := r.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		rows[i] = []any{
			r.CallID, r.VendorTaskID, r.DialerTaskID, r.AccountPaymentID, r.CustomerID,
			r.PhoneNumber, r.State, r.HangupReason, r.CallResult, r.AgentName,
			r.RingDuration, r.TalkDuration, r.StartTime, r.EndTime, r.RecordingURL,
			string(r.Source), updated,
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "dialer.call_results",
		Columns:      callResultCols,
		ConflictKeys: []string{"call_id"},
		UpdateWhere:  "call_results.end_time IS NULL OR EXCLUDED.end_time IS NOT NULL",
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert call results")
}

// dedupeCalls keeps one row per call id, preferring rows with hangup data and
// otherwise the last one seen.
func dedupeCalls(results []model.CallResult) []model.CallResult {
	idx := make(map[string]int, len(results))
	out := make([]model.CallResult, 0, len(results))
	for _, r := range results {
		i, ok := idx[r.CallID]
		if !ok {
			idx[r.CallID] = len(out)
			out = append(out, r)
			continue
		}
		if out[i].EndTime != nil && r.EndTime == nil {
			continue
		}
		out[i] = r
	}
	return out
}
